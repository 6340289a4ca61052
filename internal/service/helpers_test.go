package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/internal/repository/memory"
	"github.com/diagnosis/vms/pkg/auth"
	"github.com/diagnosis/vms/pkg/lock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Str0ng!Pass"

type recordingBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(_ context.Context, subject string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) Published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subjects...)
}

type fixture struct {
	accounts *memory.Accounts
	passes   *memory.Passes
	tokens   *auth.TokenManager
	bus      *recordingBus
	acctSvc  AccountService
	passSvc  PassService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithLocker(t, lock.NopLocker{})
}

func newFixtureWithLocker(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()

	f := &fixture{
		accounts: memory.NewAccounts(),
		passes:   memory.NewPasses(),
		tokens:   auth.NewTokenManager("test-secret", "vms", 2*time.Hour),
		bus:      &recordingBus{},
	}
	hasher := auth.NewPasswordHasher(auth.AlgoBcrypt, bcrypt.MinCost)
	f.acctSvc = NewAccountService(f.accounts, f.passes, hasher, f.tokens, f.bus)
	f.passSvc = NewPassService(f.passes, f.accounts, locker, f.bus)
	return f
}

func registerRequest(role domain.Role, username, nationalID string) *domain.RegisterRequest {
	req := &domain.RegisterRequest{
		Username:    username,
		Password:    testPassword,
		Name:        "Name " + username,
		PhoneNumber: "+60 12-345 6789",
		NationalID:  nationalID,
	}
	if role != domain.RoleVisitor {
		req.Email = username + "@example.com"
	}
	return req
}

// seed registers an admin, then the given account as that admin, and
// returns the new account's identity as it would appear in a token.
func (f *fixture) seed(t *testing.T, role domain.Role, username, nationalID string) auth.Identity {
	t.Helper()
	ctx := context.Background()

	admin := f.admin(t)
	if role == domain.RoleAdmin && username == admin.Username {
		return admin
	}
	info, err := f.acctSvc.Register(ctx, &admin, role, registerRequest(role, username, nationalID))
	require.NoError(t, err)
	return auth.Identity{
		Username:    info.Username,
		Role:        string(info.Role),
		Name:        info.Name,
		Email:       info.Email,
		PhoneNumber: info.PhoneNumber,
		NationalID:  info.NationalID,
	}
}

// admin returns the bootstrap admin, creating it on first use.
func (f *fixture) admin(t *testing.T) auth.Identity {
	t.Helper()
	ctx := context.Background()

	acc, err := f.accounts.FindByUsername(ctx, domain.RoleAdmin, "root")
	if err == nil {
		return identityOf(acc)
	}
	info, err := f.acctSvc.Register(ctx, nil, domain.RoleAdmin, registerRequest(domain.RoleAdmin, "root", ""))
	require.NoError(t, err)
	return auth.Identity{Username: info.Username, Role: string(info.Role), Name: info.Name}
}
