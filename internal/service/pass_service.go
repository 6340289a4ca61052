package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/internal/repository"
	"github.com/diagnosis/vms/pkg/auth"
	"github.com/diagnosis/vms/pkg/events"
	"github.com/diagnosis/vms/pkg/lock"
	"github.com/diagnosis/vms/pkg/logger"
	"github.com/google/uuid"
)

type PassService interface {
	IssuePass(ctx context.Context, issuer auth.Identity, req *domain.IssuePassRequest) (*domain.VisitorPass, error)
	LookupPass(ctx context.Context, nationalID string) (*domain.PublicPass, error)
	GetIssuerContact(ctx context.Context, passID string) (*domain.IssuerContact, error)
	// CheckOutVisitor closes the caller's own active pass.
	CheckOutVisitor(ctx context.Context, visitor auth.Identity) (*domain.VisitorPass, error)
	// CheckOutPass closes a pass by identifier on behalf of security or its host.
	CheckOutPass(ctx context.Context, caller auth.Identity, passID string) (*domain.VisitorPass, error)
	ListPassesForIssuer(ctx context.Context, issuer auth.Identity, page domain.Page) ([]domain.VisitorPass, error)
	DeletePass(ctx context.Context, caller auth.Identity, passID string) (*domain.VisitorPass, error)
}

type passService struct {
	passes   repository.PassRepository
	accounts repository.AccountRepository
	locker   lock.Locker
	eventBus events.Publisher
	now      func() time.Time
}

func NewPassService(
	passes repository.PassRepository,
	accounts repository.AccountRepository,
	locker lock.Locker,
	eventBus events.Publisher,
) PassService {
	if locker == nil {
		locker = lock.NopLocker{}
	}
	return &passService{
		passes:   passes,
		accounts: accounts,
		locker:   locker,
		eventBus: eventBus,
		now:      time.Now,
	}
}

func (s *passService) IssuePass(ctx context.Context, issuer auth.Identity, req *domain.IssuePassRequest) (*domain.VisitorPass, error) {
	role, err := callerRole(issuer)
	if err != nil {
		return nil, err
	}
	kind, ok := role.PassKind()
	if !ok {
		return nil, domain.ErrForbidden
	}

	req.Normalize(kind)
	if err := req.Validate(kind); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, req.NationalID)
	if err != nil {
		// The partial unique index still rejects a second active pass.
		logger.WarnContext(ctx, "Visitor lock unavailable", "national_id", req.NationalID, "error", err)
		release = func() {}
	}
	defer release()

	if _, err := s.passes.FindActiveByNationalID(ctx, req.NationalID); err == nil {
		return nil, domain.ErrAlreadyActive
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check active pass: %w", err)
	}

	pass := &domain.VisitorPass{
		PassIdentifier:    uuid.NewString(),
		Kind:              kind,
		VisitorNationalID: req.NationalID,
		VisitorName:       req.VisitorName,
		Company:           req.Company,
		VehicleNumber:     req.VehicleNumber,
		Purpose:           req.Purpose,
		CheckInTime:       s.now().UTC(),
		IssuedByUsername:  issuer.Username,
		IssuedByRole:      role,
	}
	if err := s.passes.Create(ctx, pass); err != nil {
		if errors.Is(err, domain.ErrAlreadyActive) {
			return nil, err
		}
		return nil, fmt.Errorf("create pass: %w", err)
	}

	logger.InfoContext(ctx, "Pass issued", "pass_id", pass.PassIdentifier, "kind", kind, "issued_by", issuer.Username)
	publish(ctx, s.eventBus, events.PassIssued, events.PassIssuedEvent{
		PassIdentifier:    pass.PassIdentifier,
		Kind:              string(pass.Kind),
		VisitorNationalID: pass.VisitorNationalID,
		IssuedBy:          pass.IssuedByUsername,
		CheckInTime:       pass.CheckInTime,
	})
	return pass, nil
}

func (s *passService) LookupPass(ctx context.Context, nationalID string) (*domain.PublicPass, error) {
	if nationalID == "" {
		return nil, domain.ErrValidation("nationalId is required")
	}
	pass, err := s.passes.FindLatestByNationalID(ctx, nationalID)
	if err != nil {
		return nil, err
	}
	public := pass.ToPublic()
	return &public, nil
}

func (s *passService) GetIssuerContact(ctx context.Context, passID string) (*domain.IssuerContact, error) {
	pass, err := s.passes.FindByID(ctx, passID)
	if err != nil {
		return nil, err
	}
	role, ok := pass.Kind.IssuerRole()
	if !ok {
		return nil, domain.ErrNotFound
	}
	issuer, err := s.accounts.FindByUsername(ctx, role, pass.IssuedByUsername)
	if err != nil {
		return nil, err
	}
	if issuer.PhoneNumber == "" {
		return nil, domain.ErrNotFound
	}

	return &domain.IssuerContact{
		PassIdentifier: pass.PassIdentifier,
		IssuerUsername: issuer.Username,
		IssuerName:     issuer.Name,
		IssuerRole:     role,
		PhoneNumber:    issuer.PhoneNumber,
	}, nil
}

func (s *passService) CheckOutVisitor(ctx context.Context, visitor auth.Identity) (*domain.VisitorPass, error) {
	role, err := callerRole(visitor)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleVisitor {
		return nil, domain.ErrForbidden
	}
	if visitor.NationalID == "" {
		return nil, domain.ErrNotCheckedIn
	}

	pass, err := s.passes.CheckOutByNationalID(ctx, visitor.NationalID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.checkedOut(ctx, pass, visitor.Username)
	return pass, nil
}

func (s *passService) CheckOutPass(ctx context.Context, caller auth.Identity, passID string) (*domain.VisitorPass, error) {
	role, err := callerRole(caller)
	if err != nil {
		return nil, err
	}
	if !role.CanIssuePasses() {
		return nil, domain.ErrForbidden
	}

	// Hosts may only close passes they issued.
	if role == domain.RoleHost {
		pass, err := s.passes.FindByID(ctx, passID)
		if err != nil {
			return nil, err
		}
		if pass.IssuedByUsername != caller.Username {
			return nil, domain.ErrForbidden
		}
	}

	pass, err := s.passes.CheckOutByID(ctx, passID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.checkedOut(ctx, pass, caller.Username)
	return pass, nil
}

func (s *passService) checkedOut(ctx context.Context, pass *domain.VisitorPass, by string) {
	logger.InfoContext(ctx, "Pass checked out", "pass_id", pass.PassIdentifier, "by", by)
	publish(ctx, s.eventBus, events.PassCheckedOut, events.PassCheckedOutEvent{
		PassIdentifier:    pass.PassIdentifier,
		VisitorNationalID: pass.VisitorNationalID,
		CheckInTime:       pass.CheckInTime,
		CheckOutTime:      *pass.CheckOutTime,
	})
}

func (s *passService) ListPassesForIssuer(ctx context.Context, issuer auth.Identity, page domain.Page) ([]domain.VisitorPass, error) {
	role, err := callerRole(issuer)
	if err != nil {
		return nil, err
	}
	if !role.CanIssuePasses() {
		return nil, domain.ErrForbidden
	}

	page.Clamp()
	passes, err := s.passes.ListByIssuer(ctx, issuer.Username, page)
	if err != nil {
		return nil, err
	}
	if passes == nil {
		passes = []domain.VisitorPass{}
	}
	return passes, nil
}

func (s *passService) DeletePass(ctx context.Context, caller auth.Identity, passID string) (*domain.VisitorPass, error) {
	role, err := callerRole(caller)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleAdmin {
		return nil, domain.ErrForbidden
	}

	pass, err := s.passes.Delete(ctx, passID)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Pass deleted", "pass_id", pass.PassIdentifier, "deleted_by", caller.Username)
	publish(ctx, s.eventBus, events.PassDeleted, events.PassDeletedEvent{
		PassIdentifier: pass.PassIdentifier,
		DeletedBy:      caller.Username,
		DeletedAt:      s.now().UTC(),
	})
	return pass, nil
}
