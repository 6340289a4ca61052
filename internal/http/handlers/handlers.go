package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/internal/http/response"
	"github.com/diagnosis/vms/internal/service"
	"github.com/diagnosis/vms/pkg/auth"
	"github.com/diagnosis/vms/pkg/logger"
)

const maxBodyBytes = 1 << 20

type ctxKey int

const identityKey ctxKey = iota

type Handlers struct {
	accounts service.AccountService
	passes   service.PassService
	tokens   *auth.TokenManager
}

func New(accounts service.AccountService, passes service.PassService, tokens *auth.TokenManager) *Handlers {
	return &Handlers{
		accounts: accounts,
		passes:   passes,
		tokens:   tokens,
	}
}

// RequireToken rejects requests without a valid bearer token. Every failure
// gets the same generic 401.
func (h *Handlers) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.authenticate(r)
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// OptionalToken attaches the caller's identity when a bearer token is sent.
// A token that is present but invalid is still rejected.
func (h *Handlers) OptionalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, ok := h.authenticate(r)
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// RequireRole must run after RequireToken.
func (h *Handlers) RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identityFrom(r)
			if id == nil {
				response.Unauthorized(w, "unauthorized")
				return
			}
			role, ok := domain.ParseRole(id.Role)
			if !ok || !allowed[role] {
				logger.WarnContext(r.Context(), "Role not allowed", "role", id.Role, "path", r.URL.Path)
				response.Unauthorized(w, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handlers) authenticate(r *http.Request) (auth.Identity, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return auth.Identity{}, false
	}
	claims, err := h.tokens.Verify(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
	if err != nil {
		logger.DebugContext(r.Context(), "Token rejected", "error", err)
		return auth.Identity{}, false
	}
	return claims.Identity, true
}

func withIdentity(ctx context.Context, id auth.Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey, id)
	return context.WithValue(ctx, logger.UsernameKey, id.Username)
}

func identityFrom(r *http.Request) *auth.Identity {
	if id, ok := r.Context().Value(identityKey).(auth.Identity); ok {
		return &id
	}
	return nil
}

// caller is only used behind RequireToken.
func caller(r *http.Request) auth.Identity {
	if id := identityFrom(r); id != nil {
		return *id
	}
	return auth.Identity{}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			response.BadRequest(w, "request body is required")
			return false
		}
		response.BadRequest(w, "invalid JSON format")
		return false
	}
	return true
}

func parsePagination(r *http.Request) (domain.Page, bool) {
	page := domain.DefaultPage()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return page, false
		}
		page.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, false
		}
		page.Offset = n
	}
	page.Clamp()
	return page, true
}
