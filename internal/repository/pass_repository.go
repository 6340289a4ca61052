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

// oneActivePassIndex is the partial unique index that allows at most one
// pass with no check-out time per visitor national id.
const oneActivePassIndex = "visitor_passes_one_active_idx"

type PassRepository interface {
	// Create inserts an active pass. It returns domain.ErrAlreadyActive if
	// the visitor already holds one.
	Create(ctx context.Context, p *domain.VisitorPass) error
	FindByID(ctx context.Context, passID string) (*domain.VisitorPass, error)
	FindActiveByNationalID(ctx context.Context, nationalID string) (*domain.VisitorPass, error)
	FindLatestByNationalID(ctx context.Context, nationalID string) (*domain.VisitorPass, error)
	ListByNationalID(ctx context.Context, nationalID string, page domain.Page) ([]domain.VisitorPass, error)
	ListByIssuer(ctx context.Context, username string, page domain.Page) ([]domain.VisitorPass, error)
	List(ctx context.Context, page domain.Page) ([]domain.VisitorPass, error)
	// CheckOutByNationalID closes the visitor's active pass. It returns
	// domain.ErrNotCheckedIn when there is none.
	CheckOutByNationalID(ctx context.Context, nationalID string, at time.Time) (*domain.VisitorPass, error)
	// CheckOutByID closes the given pass. It returns domain.ErrNotFound for
	// an unknown id and domain.ErrNotCheckedIn if it is already closed.
	CheckOutByID(ctx context.Context, passID string, at time.Time) (*domain.VisitorPass, error)
	Delete(ctx context.Context, passID string) (*domain.VisitorPass, error)
}

type passRepository struct {
	pool *pgxpool.Pool
}

func NewPassRepository(pool *pgxpool.Pool) PassRepository {
	return &passRepository{pool: pool}
}

const passCols = `pass_identifier, kind, visitor_national_id, visitor_name, company, vehicle_number, purpose,
	check_in_time, check_out_time, issued_by_username, issued_by_role`

func (r *passRepository) Create(ctx context.Context, p *domain.VisitorPass) error {
	const q = `
		INSERT INTO visitor_passes (
			pass_identifier, kind, visitor_national_id, visitor_name, company, vehicle_number, purpose,
			check_in_time, issued_by_username, issued_by_role
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q,
		p.PassIdentifier, p.Kind, p.VisitorNationalID, p.VisitorName, p.Company, p.VehicleNumber,
		p.Purpose, p.CheckInTime, p.IssuedByUsername, p.IssuedByRole,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == oneActivePassIndex {
				return domain.ErrAlreadyActive
			}
			return fmt.Errorf("duplicate pass identifier %s: %w", p.PassIdentifier, err)
		}
		return err
	}
	return nil
}

func (r *passRepository) FindByID(ctx context.Context, passID string) (*domain.VisitorPass, error) {
	const q = `SELECT ` + passCols + ` FROM visitor_passes WHERE pass_identifier = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanPass(r.pool.QueryRow(ctx, q, passID))
}

func (r *passRepository) FindActiveByNationalID(ctx context.Context, nationalID string) (*domain.VisitorPass, error) {
	const q = `SELECT ` + passCols + ` FROM visitor_passes WHERE visitor_national_id = $1 AND check_out_time IS NULL`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanPass(r.pool.QueryRow(ctx, q, nationalID))
}

func (r *passRepository) FindLatestByNationalID(ctx context.Context, nationalID string) (*domain.VisitorPass, error) {
	const q = `SELECT ` + passCols + ` FROM visitor_passes WHERE visitor_national_id = $1
		ORDER BY check_in_time DESC LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanPass(r.pool.QueryRow(ctx, q, nationalID))
}

func (r *passRepository) ListByNationalID(ctx context.Context, nationalID string, page domain.Page) ([]domain.VisitorPass, error) {
	const q = `SELECT ` + passCols + ` FROM visitor_passes WHERE visitor_national_id = $1
		ORDER BY check_in_time DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, q, nationalID, page.Limit, page.Offset)
}

func (r *passRepository) ListByIssuer(ctx context.Context, username string, page domain.Page) ([]domain.VisitorPass, error) {
	const q = `SELECT ` + passCols + ` FROM visitor_passes WHERE issued_by_username = $1
		ORDER BY check_in_time DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, q, username, page.Limit, page.Offset)
}

func (r *passRepository) List(ctx context.Context, page domain.Page) ([]domain.VisitorPass, error) {
	const q = `SELECT ` + passCols + ` FROM visitor_passes ORDER BY check_in_time DESC LIMIT $1 OFFSET $2`
	return r.list(ctx, q, page.Limit, page.Offset)
}

func (r *passRepository) list(ctx context.Context, q string, args ...any) ([]domain.VisitorPass, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []domain.VisitorPass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		passes = append(passes, *p)
	}
	return passes, rows.Err()
}

// GREATEST keeps check-out >= check-in even if this node's clock trails the
// one that issued the pass.
func (r *passRepository) CheckOutByNationalID(ctx context.Context, nationalID string, at time.Time) (*domain.VisitorPass, error) {
	const q = `
		UPDATE visitor_passes
		SET check_out_time = GREATEST($2, check_in_time)
		WHERE visitor_national_id = $1 AND check_out_time IS NULL
		RETURNING ` + passCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	p, err := scanPass(r.pool.QueryRow(ctx, q, nationalID, at))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotCheckedIn
	}
	return p, err
}

func (r *passRepository) CheckOutByID(ctx context.Context, passID string, at time.Time) (*domain.VisitorPass, error) {
	const q = `
		UPDATE visitor_passes
		SET check_out_time = GREATEST($2, check_in_time)
		WHERE pass_identifier = $1 AND check_out_time IS NULL
		RETURNING ` + passCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	p, err := scanPass(r.pool.QueryRow(ctx, q, passID, at))
	if !errors.Is(err, domain.ErrNotFound) {
		return p, err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM visitor_passes WHERE pass_identifier = $1)`, passID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrNotCheckedIn
	}
	return nil, domain.ErrNotFound
}

func (r *passRepository) Delete(ctx context.Context, passID string) (*domain.VisitorPass, error) {
	const q = `DELETE FROM visitor_passes WHERE pass_identifier = $1 RETURNING ` + passCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanPass(r.pool.QueryRow(ctx, q, passID))
}

func scanPass(row pgx.Row) (*domain.VisitorPass, error) {
	var p domain.VisitorPass
	err := row.Scan(
		&p.PassIdentifier, &p.Kind, &p.VisitorNationalID, &p.VisitorName, &p.Company, &p.VehicleNumber,
		&p.Purpose, &p.CheckInTime, &p.CheckOutTime, &p.IssuedByUsername, &p.IssuedByRole,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CheckInTime = p.CheckInTime.UTC()
	if p.CheckOutTime != nil {
		t := p.CheckOutTime.UTC()
		p.CheckOutTime = &t
	}
	return &p, nil
}
