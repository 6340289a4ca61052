package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/internal/http/handlers"
	"github.com/diagnosis/vms/pkg/config"
	"github.com/diagnosis/vms/pkg/logger"
	mw "github.com/diagnosis/vms/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 30 * time.Second

// RouterOptions carries the optional pieces of the HTTP stack.
type RouterOptions struct {
	CORSOrigins []string
	// Idempotency enables Idempotency-Key replay on pass issuance.
	Idempotency mw.IdempotencyStore
	// Ready backs /healthz; nil means always healthy.
	Ready func(ctx context.Context) error
}

func NewRouter(h *handlers.Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("vms"))
	r.Use(mw.Logging)
	r.Use(middleware.Recoverer)
	r.Use(mw.CORS(opts.CORSOrigins))
	r.Use(mw.Health(opts.Ready))

	issue := http.HandlerFunc(h.IssuePass)
	var issueHandler http.Handler = issue
	if opts.Idempotency != nil {
		issueHandler = mw.IdempotencyMiddleware(opts.Idempotency)(issue)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(h.OptionalToken).Post("/register/{role}", h.Register)
			r.Post("/login", h.Login)
		})

		// Public lookup
		r.Get("/passes/lookup", h.LookupPass)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireToken)

			r.Get("/me", h.Me)
			r.Put("/me/password", h.ChangePassword)
			r.Delete("/accounts/{role}", h.DeleteAccount)
			r.Get("/passes/{passID}/issuer-contact", h.IssuerContact)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireRole(domain.RoleSecurity, domain.RoleHost))
				r.Method(http.MethodPost, "/passes", issueHandler)
				r.Post("/passes/{passID}/checkout", h.CheckOutPass)
			})

			r.With(h.RequireRole(domain.RoleVisitor)).Post("/visitor/checkout", h.VisitorCheckOut)
			r.With(h.RequireRole(domain.RoleHost)).Get("/host/passes", h.ListMyPasses)
			r.With(h.RequireRole(domain.RoleSecurity)).Get("/security/passes", h.ListMyPasses)
			r.With(h.RequireRole(domain.RoleAdmin)).Delete("/admin/passes/{passID}", h.DeletePass)
		})
	})

	return r
}

func New(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func Run(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting vms", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down vms...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
