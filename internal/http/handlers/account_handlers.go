package handlers

import (
	"net/http"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/internal/http/response"
	"github.com/go-chi/chi/v5"
)

// Register handles POST /v1/auth/register/{role}
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	role, ok := domain.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		response.BadRequest(w, "invalid role (allowed: admin, security, host, visitor)")
		return
	}

	var req domain.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	info, err := h.accounts.Register(r.Context(), identityFrom(r), role, &req)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, map[string]any{
		"message": string(role) + " registered successfully",
		"account": info,
	})
}

// Login handles POST /v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.accounts.Login(r.Context(), &req)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, resp)
}

// Me handles GET /v1/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.accounts.ReadProfile(r.Context(), caller(r))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, profile)
}

// ChangePassword handles PUT /v1/me/password
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), caller(r), &req); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// DeleteAccount handles DELETE /v1/accounts/{role}?username=|nationalId=
func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	role, ok := domain.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		response.BadRequest(w, "invalid role (allowed: admin, security, host, visitor)")
		return
	}

	q := r.URL.Query()
	req := domain.DeleteAccountRequest{
		Role:       role,
		Username:   q.Get("username"),
		NationalID: q.Get("nationalId"),
	}

	info, err := h.accounts.DeleteAccount(r.Context(), caller(r), &req)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"message": "account deleted",
		"account": info,
	})
}
