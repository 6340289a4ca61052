package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/internal/repository"
	"github.com/diagnosis/vms/pkg/auth"
	"github.com/diagnosis/vms/pkg/events"
	"github.com/diagnosis/vms/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type AccountService interface {
	// Register creates an account in the role partition. caller is nil only
	// for the first-admin bootstrap.
	Register(ctx context.Context, caller *auth.Identity, role domain.Role, req *domain.RegisterRequest) (*domain.AccountInfo, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
	IsUsernameTaken(ctx context.Context, username string) (bool, error)
	ReadProfile(ctx context.Context, caller auth.Identity) (*domain.Profile, error)
	ChangePassword(ctx context.Context, caller auth.Identity, req *domain.ChangePasswordRequest) error
	DeleteAccount(ctx context.Context, caller auth.Identity, req *domain.DeleteAccountRequest) (*domain.AccountInfo, error)
}

type accountService struct {
	accounts repository.AccountRepository
	passes   repository.PassRepository
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenManager
	eventBus events.Publisher

	// dummyHash is verified against when a username is unknown so that a
	// failed login costs the same either way.
	dummyOnce sync.Once
	dummyHash string
}

func NewAccountService(
	accounts repository.AccountRepository,
	passes repository.PassRepository,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenManager,
	eventBus events.Publisher,
) AccountService {
	return &accountService{
		accounts: accounts,
		passes:   passes,
		hasher:   hasher,
		tokens:   tokens,
		eventBus: eventBus,
	}
}

func (s *accountService) Register(ctx context.Context, caller *auth.Identity, role domain.Role, req *domain.RegisterRequest) (*domain.AccountInfo, error) {
	var (
		bootstrap bool
		linkOwner string
		by        string
	)
	if caller == nil {
		if role != domain.RoleAdmin {
			return nil, domain.ErrForbidden
		}
		bootstrap = true
	} else {
		byRole, err := callerRole(*caller)
		if err != nil {
			return nil, err
		}
		if !domain.CanRegister(byRole, role) {
			return nil, domain.ErrForbidden
		}
		by = caller.Username
		if byRole == domain.RoleSecurity && role == domain.RoleVisitor {
			linkOwner = caller.Username
		}
	}

	req.Normalize()
	if err := req.Validate(role); err != nil {
		return nil, err
	}

	taken, err := s.IsUsernameTaken(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return nil, domain.ErrUsernameTaken
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acc := &domain.Account{
		Username:      req.Username,
		Role:          role,
		PasswordHash:  hash,
		Name:          req.Name,
		Email:         req.Email,
		PhoneNumber:   req.PhoneNumber,
		NationalID:    req.NationalID,
		Company:       req.Company,
		VehicleNumber: req.VehicleNumber,
	}

	var created *domain.Account
	if bootstrap {
		created, err = s.accounts.CreateFirstAdmin(ctx, acc)
	} else {
		created, err = s.accounts.Create(ctx, acc, linkOwner)
	}
	if err != nil {
		if errors.Is(err, domain.ErrUsernameTaken) || errors.Is(err, domain.ErrForbidden) {
			return nil, err
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	logger.InfoContext(ctx, "Account registered", "username", created.Username, "role", created.Role, "registered_by", by)
	publish(ctx, s.eventBus, events.AccountRegistered, events.AccountRegisteredEvent{
		Username:     created.Username,
		Role:         string(created.Role),
		RegisteredBy: by,
		CreatedAt:    created.CreatedAt,
	})

	info := created.ToInfo()
	return &info, nil
}

func (s *accountService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	roles := domain.LoginPrecedence
	if req.Role != "" {
		role, _ := domain.ParseRole(req.Role)
		roles = []domain.Role{role}
	}

	var acc *domain.Account
	for _, role := range roles {
		found, err := s.accounts.FindByUsername(ctx, role, req.Username)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find account: %w", err)
		}
		acc = found
		break
	}

	if acc == nil {
		s.hasher.Verify(req.Password, s.fallbackHash())
		return nil, domain.ErrInvalidCredentials
	}
	if !s.hasher.Verify(req.Password, acc.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(identityOf(acc))
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	logger.InfoContext(ctx, "Login succeeded", "username", acc.Username, "role", acc.Role)
	return &domain.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ExpiresIn: int64(s.tokens.TTL() / time.Second),
		Account:   acc.ToInfo(),
	}, nil
}

func (s *accountService) fallbackHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("unused-Pa55word!")
		if err != nil {
			logger.Warn("Failed to prepare fallback hash", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// IsUsernameTaken checks every partition. The primary key on accounts
// still rejects a duplicate that slips between this check and the insert.
func (s *accountService) IsUsernameTaken(ctx context.Context, username string) (bool, error) {
	return s.accounts.UsernameExists(ctx, username)
}

type profileView func(ctx context.Context, s *accountService, acc *domain.Account, p *domain.Profile) error

var profileViews = map[domain.Role]profileView{
	domain.RoleAdmin:    adminView,
	domain.RoleSecurity: securityView,
	domain.RoleHost:     hostView,
	domain.RoleVisitor:  visitorView,
}

var profilePage = domain.Page{Limit: domain.ProfilePageLimit}

func (s *accountService) ReadProfile(ctx context.Context, caller auth.Identity) (*domain.Profile, error) {
	role, err := callerRole(caller)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.FindByUsername(ctx, role, caller.Username)
	if err != nil {
		return nil, err
	}

	profile := domain.NewProfile(acc)
	if err := profileViews[role](ctx, s, acc, profile); err != nil {
		return nil, fmt.Errorf("load %s profile: %w", role, err)
	}
	return profile, nil
}

func adminView(ctx context.Context, s *accountService, _ *domain.Account, p *domain.Profile) error {
	partitions := make([][]domain.Account, len(domain.LoginPrecedence))

	g, gctx := errgroup.WithContext(ctx)
	for i, role := range domain.LoginPrecedence {
		g.Go(func() error {
			accounts, err := s.accounts.ListByRole(gctx, role)
			if err != nil {
				return err
			}
			partitions[i] = accounts
			return nil
		})
	}
	g.Go(func() error {
		passes, err := s.passes.List(gctx, profilePage)
		if err != nil {
			return err
		}
		if passes != nil {
			p.Passes = passes
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	p.Accounts = make(map[domain.Role][]domain.AccountInfo, len(partitions))
	for i, role := range domain.LoginPrecedence {
		p.Accounts[role] = domain.AccountInfos(partitions[i])
	}
	return nil
}

func securityView(ctx context.Context, s *accountService, acc *domain.Account, p *domain.Profile) error {
	visitors, err := s.accounts.ListLinked(ctx, acc.Username)
	if err != nil {
		return err
	}
	p.RegisteredVisitors = domain.AccountInfos(visitors)

	passes, err := s.passes.List(ctx, profilePage)
	if err != nil {
		return err
	}
	if passes != nil {
		p.Passes = passes
	}
	return nil
}

func hostView(ctx context.Context, s *accountService, acc *domain.Account, p *domain.Profile) error {
	passes, err := s.passes.ListByIssuer(ctx, acc.Username, profilePage)
	if err != nil {
		return err
	}
	if passes != nil {
		p.Passes = passes
	}
	return nil
}

func visitorView(ctx context.Context, s *accountService, acc *domain.Account, p *domain.Profile) error {
	if acc.NationalID == "" {
		return nil
	}
	passes, err := s.passes.ListByNationalID(ctx, acc.NationalID, profilePage)
	if err != nil {
		return err
	}
	if passes != nil {
		p.Passes = passes
	}
	return nil
}

func (s *accountService) ChangePassword(ctx context.Context, caller auth.Identity, req *domain.ChangePasswordRequest) error {
	role, err := callerRole(caller)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	acc, err := s.accounts.FindByUsername(ctx, role, caller.Username)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(req.CurrentPassword, acc.PasswordHash) {
		return domain.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, role, acc.Username, hash); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Password changed", "username", acc.Username, "role", role)
	return nil
}

// DeleteAccount lets an admin delete any account and anyone else delete
// only their own. Non-admins cannot learn whether another account exists.
func (s *accountService) DeleteAccount(ctx context.Context, caller auth.Identity, req *domain.DeleteAccountRequest) (*domain.AccountInfo, error) {
	byRole, err := callerRole(caller)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	isAdmin := byRole == domain.RoleAdmin
	if !isAdmin && req.Role != byRole {
		return nil, domain.ErrForbidden
	}

	var target *domain.Account
	if req.Username != "" {
		target, err = s.accounts.FindByUsername(ctx, req.Role, req.Username)
	} else {
		target, err = s.accounts.FindByNationalID(ctx, req.Role, req.NationalID)
	}
	if err != nil {
		if !isAdmin && errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrForbidden
		}
		return nil, err
	}
	if !isAdmin && target.Username != caller.Username {
		return nil, domain.ErrForbidden
	}

	deleted, err := s.accounts.Delete(ctx, req.Role, target.Username)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Account deleted", "username", deleted.Username, "role", deleted.Role, "deleted_by", caller.Username)
	publish(ctx, s.eventBus, events.AccountDeleted, events.AccountDeletedEvent{
		Username:  deleted.Username,
		Role:      string(deleted.Role),
		DeletedBy: caller.Username,
		DeletedAt: time.Now().UTC(),
	})

	info := deleted.ToInfo()
	return &info, nil
}

func identityOf(acc *domain.Account) auth.Identity {
	return auth.Identity{
		Username:    acc.Username,
		Role:        string(acc.Role),
		Name:        acc.Name,
		Email:       acc.Email,
		PhoneNumber: acc.PhoneNumber,
		NationalID:  acc.NationalID,
	}
}
