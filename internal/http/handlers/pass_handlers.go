package handlers

import (
	"net/http"
	"strings"

	"github.com/diagnosis/vms/internal/domain"
	"github.com/diagnosis/vms/internal/http/response"
	"github.com/go-chi/chi/v5"
)

// IssuePass handles POST /v1/passes
func (h *Handlers) IssuePass(w http.ResponseWriter, r *http.Request) {
	var req domain.IssuePassRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pass, err := h.passes.IssuePass(r.Context(), caller(r), &req)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, domain.IssuePassResponse{
		Message:        "visitor pass issued",
		PassIdentifier: pass.PassIdentifier,
		Pass:           *pass,
	})
}

// LookupPass handles GET /v1/passes/lookup?nationalId=
func (h *Handlers) LookupPass(w http.ResponseWriter, r *http.Request) {
	nationalID := strings.TrimSpace(r.URL.Query().Get("nationalId"))
	pass, err := h.passes.LookupPass(r.Context(), nationalID)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, pass)
}

// IssuerContact handles GET /v1/passes/{passID}/issuer-contact
func (h *Handlers) IssuerContact(w http.ResponseWriter, r *http.Request) {
	contact, err := h.passes.GetIssuerContact(r.Context(), chi.URLParam(r, "passID"))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, contact)
}

// CheckOutPass handles POST /v1/passes/{passID}/checkout
func (h *Handlers) CheckOutPass(w http.ResponseWriter, r *http.Request) {
	pass, err := h.passes.CheckOutPass(r.Context(), caller(r), chi.URLParam(r, "passID"))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	writeCheckedOut(w, pass)
}

// VisitorCheckOut handles POST /v1/visitor/checkout
func (h *Handlers) VisitorCheckOut(w http.ResponseWriter, r *http.Request) {
	pass, err := h.passes.CheckOutVisitor(r.Context(), caller(r))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	writeCheckedOut(w, pass)
}

func writeCheckedOut(w http.ResponseWriter, pass *domain.VisitorPass) {
	response.JSON(w, http.StatusOK, map[string]any{
		"message":      "checked out",
		"checkOutTime": pass.CheckOutTime,
		"pass":         pass,
	})
}

// ListMyPasses handles GET /v1/host/passes and GET /v1/security/passes.
// Only passes issued by the caller are returned.
func (h *Handlers) ListMyPasses(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePagination(r)
	if !ok {
		response.BadRequest(w, "invalid limit or offset")
		return
	}

	passes, err := h.passes.ListPassesForIssuer(r.Context(), caller(r), page)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"passes": passes,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// DeletePass handles DELETE /v1/admin/passes/{passID}
func (h *Handlers) DeletePass(w http.ResponseWriter, r *http.Request) {
	pass, err := h.passes.DeletePass(r.Context(), caller(r), chi.URLParam(r, "passID"))
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"message": "pass deleted",
		"pass":    pass,
	})
}
