// Package memory holds in-process repositories with the same constraint
// behaviour as the Postgres schema: globally unique usernames and at most
// one active pass per visitor. Tests use them in place of a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/internal/repository"
)

var (
	_ repository.AccountRepository = (*Accounts)(nil)
	_ repository.PassRepository    = (*Passes)(nil)
)

type Accounts struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	links    map[string]map[string]bool // owner -> members

	// Err, when set, is returned by every call.
	Err error
}

func NewAccounts() *Accounts {
	return &Accounts{
		accounts: make(map[string]domain.Account),
		links:    make(map[string]map[string]bool),
	}
}

func (m *Accounts) Create(_ context.Context, acc *domain.Account, linkOwner string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.insert(acc, linkOwner)
}

func (m *Accounts) CreateFirstAdmin(_ context.Context, acc *domain.Account) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, a := range m.accounts {
		if a.Role == domain.RoleAdmin {
			return nil, domain.ErrForbidden
		}
	}
	return m.insert(acc, "")
}

func (m *Accounts) insert(acc *domain.Account, linkOwner string) (*domain.Account, error) {
	if _, exists := m.accounts[acc.Username]; exists {
		return nil, domain.ErrUsernameTaken
	}
	now := time.Now().UTC()
	a := *acc
	a.CreatedAt, a.UpdatedAt = now, now
	m.accounts[a.Username] = a
	if linkOwner != "" {
		if m.links[linkOwner] == nil {
			m.links[linkOwner] = make(map[string]bool)
		}
		m.links[linkOwner][a.Username] = true
	}
	return &a, nil
}

func (m *Accounts) FindByUsername(_ context.Context, role domain.Role, username string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	a, ok := m.accounts[username]
	if !ok || a.Role != role {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *Accounts) FindByNationalID(_ context.Context, role domain.Role, nationalID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var found *domain.Account
	for _, a := range m.accounts {
		if a.Role == role && a.NationalID == nationalID {
			if found == nil || a.CreatedAt.Before(found.CreatedAt) {
				a := a
				found = &a
			}
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (m *Accounts) UsernameExists(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	_, ok := m.accounts[username]
	return ok, nil
}

func (m *Accounts) CountByRole(_ context.Context, role domain.Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	n := 0
	for _, a := range m.accounts {
		if a.Role == role {
			n++
		}
	}
	return n, nil
}

func (m *Accounts) ListByRole(_ context.Context, role domain.Role) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []domain.Account
	for _, a := range m.accounts {
		if a.Role == role {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (m *Accounts) ListLinked(_ context.Context, owner string) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []domain.Account
	for member := range m.links[owner] {
		if a, ok := m.accounts[member]; ok {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (m *Accounts) UpdatePasswordHash(_ context.Context, role domain.Role, username, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	a, ok := m.accounts[username]
	if !ok || a.Role != role {
		return domain.ErrNotFound
	}
	a.PasswordHash = hash
	a.UpdatedAt = time.Now().UTC()
	m.accounts[username] = a
	return nil
}

func (m *Accounts) Delete(_ context.Context, role domain.Role, username string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	a, ok := m.accounts[username]
	if !ok || a.Role != role {
		return nil, domain.ErrNotFound
	}
	delete(m.accounts, username)
	delete(m.links, username)
	for _, members := range m.links {
		delete(members, username)
	}
	return &a, nil
}

// Linked reports whether owner holds a back-reference to member.
func (m *Accounts) Linked(owner, member string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[owner][member]
}

func sortAccounts(accounts []domain.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].Username < accounts[j].Username
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}

type Passes struct {
	mu     sync.Mutex
	passes map[string]domain.VisitorPass
	active map[string]string // national id -> pass id

	// Err, when set, is returned by every call.
	Err error
}

func NewPasses() *Passes {
	return &Passes{
		passes: make(map[string]domain.VisitorPass),
		active: make(map[string]string),
	}
}

func (m *Passes) Create(_ context.Context, p *domain.VisitorPass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.active[p.VisitorNationalID]; ok {
		return domain.ErrAlreadyActive
	}
	m.passes[p.PassIdentifier] = clonePass(*p)
	m.active[p.VisitorNationalID] = p.PassIdentifier
	return nil
}

func (m *Passes) FindByID(_ context.Context, passID string) (*domain.VisitorPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.passes[passID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := clonePass(p)
	return &out, nil
}

func (m *Passes) FindActiveByNationalID(_ context.Context, nationalID string) (*domain.VisitorPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	id, ok := m.active[nationalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := clonePass(m.passes[id])
	return &out, nil
}

func (m *Passes) FindLatestByNationalID(ctx context.Context, nationalID string) (*domain.VisitorPass, error) {
	passes, err := m.ListByNationalID(ctx, nationalID, domain.Page{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(passes) == 0 {
		return nil, domain.ErrNotFound
	}
	return &passes[0], nil
}

func (m *Passes) ListByNationalID(_ context.Context, nationalID string, page domain.Page) ([]domain.VisitorPass, error) {
	return m.filter(page, func(p *domain.VisitorPass) bool { return p.VisitorNationalID == nationalID })
}

func (m *Passes) ListByIssuer(_ context.Context, username string, page domain.Page) ([]domain.VisitorPass, error) {
	return m.filter(page, func(p *domain.VisitorPass) bool { return p.IssuedByUsername == username })
}

func (m *Passes) List(_ context.Context, page domain.Page) ([]domain.VisitorPass, error) {
	return m.filter(page, func(*domain.VisitorPass) bool { return true })
}

func (m *Passes) filter(page domain.Page, keep func(*domain.VisitorPass) bool) ([]domain.VisitorPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []domain.VisitorPass
	for _, p := range m.passes {
		if keep(&p) {
			out = append(out, clonePass(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CheckInTime.Equal(out[j].CheckInTime) {
			return out[i].PassIdentifier > out[j].PassIdentifier
		}
		return out[i].CheckInTime.After(out[j].CheckInTime)
	})

	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (m *Passes) CheckOutByNationalID(_ context.Context, nationalID string, at time.Time) (*domain.VisitorPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	id, ok := m.active[nationalID]
	if !ok {
		return nil, domain.ErrNotCheckedIn
	}
	return m.close(id, at), nil
}

func (m *Passes) CheckOutByID(_ context.Context, passID string, at time.Time) (*domain.VisitorPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.passes[passID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !p.Active() {
		return nil, domain.ErrNotCheckedIn
	}
	return m.close(passID, at), nil
}

// close must be called with mu held on an active pass.
func (m *Passes) close(passID string, at time.Time) *domain.VisitorPass {
	p := m.passes[passID]
	if at.Before(p.CheckInTime) {
		at = p.CheckInTime
	}
	at = at.UTC()
	p.CheckOutTime = &at
	m.passes[passID] = p
	delete(m.active, p.VisitorNationalID)

	out := clonePass(p)
	return &out
}

func (m *Passes) Delete(_ context.Context, passID string) (*domain.VisitorPass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.passes[passID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(m.passes, passID)
	if m.active[p.VisitorNationalID] == passID {
		delete(m.active, p.VisitorNationalID)
	}
	return &p, nil
}

// ActiveCount returns how many passes for nationalID have no check-out time.
func (m *Passes) ActiveCount(nationalID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.passes {
		if p.VisitorNationalID == nationalID && p.Active() {
			n++
		}
	}
	return n
}

func clonePass(p domain.VisitorPass) domain.VisitorPass {
	if p.CheckOutTime != nil {
		t := *p.CheckOutTime
		p.CheckOutTime = &t
	}
	return p
}
