package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository interface {
	// Create inserts the account. When linkOwner is set, a back-reference
	// from linkOwner to the new account is written in the same transaction.
	Create(ctx context.Context, acc *domain.Account, linkOwner string) (*domain.Account, error)
	// CreateFirstAdmin inserts acc only if no admin exists yet.
	CreateFirstAdmin(ctx context.Context, acc *domain.Account) (*domain.Account, error)
	FindByUsername(ctx context.Context, role domain.Role, username string) (*domain.Account, error)
	FindByNationalID(ctx context.Context, role domain.Role, nationalID string) (*domain.Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	CountByRole(ctx context.Context, role domain.Role) (int, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.Account, error)
	ListLinked(ctx context.Context, owner string) ([]domain.Account, error)
	UpdatePasswordHash(ctx context.Context, role domain.Role, username, hash string) error
	// Delete removes the account and every back-reference naming it.
	Delete(ctx context.Context, role domain.Role, username string) (*domain.Account, error)
}

type accountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepository{pool: pool}
}

const accountCols = `username, role, password_hash, name, email, phone_number, national_id, company, vehicle_number, created_at, updated_at`

const insertAccount = `
	INSERT INTO accounts (username, role, password_hash, name, email, phone_number, national_id, company, vehicle_number)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING ` + accountCols

// adminBootstrapLock serialises first-admin creation across connections.
const adminBootstrapLock = 7_301_001

func (r *accountRepository) Create(ctx context.Context, acc *domain.Account, linkOwner string) (*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	created, err := scanAccount(tx.QueryRow(ctx, insertAccount, accountArgs(acc)...))
	if err != nil {
		return nil, translateAccountErr(err)
	}

	if linkOwner != "" {
		const q = `INSERT INTO account_links (owner_username, member_username) VALUES ($1, $2) ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, q, linkOwner, created.Username); err != nil {
			return nil, fmt.Errorf("link account: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateAccountErr(err)
	}
	return created, nil
}

func (r *accountRepository) CreateFirstAdmin(ctx context.Context, acc *domain.Account) (*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, adminBootstrapLock); err != nil {
		return nil, fmt.Errorf("bootstrap lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE role = 'admin')`).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrForbidden
	}

	created, err := scanAccount(tx.QueryRow(ctx, insertAccount, accountArgs(acc)...))
	if err != nil {
		return nil, translateAccountErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateAccountErr(err)
	}
	return created, nil
}

func (r *accountRepository) FindByUsername(ctx context.Context, role domain.Role, username string) (*domain.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE role = $1 AND username = $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanAccount(r.pool.QueryRow(ctx, q, role, username))
}

func (r *accountRepository) FindByNationalID(ctx context.Context, role domain.Role, nationalID string) (*domain.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE role = $1 AND national_id = $2 ORDER BY created_at LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanAccount(r.pool.QueryRow(ctx, q, role, nationalID))
}

func (r *accountRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, q, username).Scan(&exists)
	return exists, err
}

func (r *accountRepository) CountByRole(ctx context.Context, role domain.Role) (int, error) {
	const q = `SELECT count(*) FROM accounts WHERE role = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int
	err := r.pool.QueryRow(ctx, q, role).Scan(&n)
	return n, err
}

func (r *accountRepository) ListByRole(ctx context.Context, role domain.Role) ([]domain.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE role = $1 ORDER BY created_at`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, role)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *accountRepository) ListLinked(ctx context.Context, owner string) ([]domain.Account, error) {
	const q = `
		SELECT a.username, a.role, a.password_hash, a.name, a.email, a.phone_number, a.national_id,
		       a.company, a.vehicle_number, a.created_at, a.updated_at
		FROM account_links l
		JOIN accounts a ON a.username = l.member_username
		WHERE l.owner_username = $1
		ORDER BY a.created_at`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *accountRepository) UpdatePasswordHash(ctx context.Context, role domain.Role, username, hash string) error {
	const q = `UPDATE accounts SET password_hash = $3, updated_at = now() WHERE role = $1 AND username = $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, role, username, hash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *accountRepository) Delete(ctx context.Context, role domain.Role, username string) (*domain.Account, error) {
	const q = `DELETE FROM accounts WHERE role = $1 AND username = $2 RETURNING ` + accountCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	deleted, err := scanAccount(tx.QueryRow(ctx, q, role, username))
	if err != nil {
		return nil, err
	}
	const unlink = `DELETE FROM account_links WHERE owner_username = $1 OR member_username = $1`
	if _, err := tx.Exec(ctx, unlink, username); err != nil {
		return nil, fmt.Errorf("remove account links: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return deleted, nil
}

func accountArgs(a *domain.Account) []any {
	return []any{a.Username, a.Role, a.PasswordHash, a.Name, a.Email, a.PhoneNumber, a.NationalID, a.Company, a.VehicleNumber}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.Username, &a.Role, &a.PasswordHash, &a.Name, &a.Email, &a.PhoneNumber,
		&a.NationalID, &a.Company, &a.VehicleNumber, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// translateAccountErr maps a primary key violation to ErrUsernameTaken so a
// lost registration race reads the same as a failed uniqueness check.
func translateAccountErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrUsernameTaken
	}
	return err
}
