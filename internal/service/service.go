package service

import (
	"context"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/pkg/auth"
	"github.com/diagnosis/vms/pkg/events"
	"github.com/diagnosis/vms/pkg/logger"
)

// callerRole resolves the role claim of an authenticated caller.
func callerRole(id auth.Identity) (domain.Role, error) {
	role, ok := domain.ParseRole(id.Role)
	if !ok || id.Username == "" {
		return "", domain.ErrForbidden
	}
	return role, nil
}

// publish is best effort: the state change has already been committed.
func publish(ctx context.Context, bus events.Publisher, subject string, payload any) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, subject, payload); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
