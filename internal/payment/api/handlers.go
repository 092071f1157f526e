package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"creatorpay/internal/common/api"
	"creatorpay/internal/common/database"
	"creatorpay/internal/common/middleware"
	"creatorpay/internal/payment"
)

// Handler handles payment HTTP requests
type Handler struct {
	service *payment.Service
}

// NewHandler creates a new payment handler
func NewHandler(service *payment.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the payment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/earnings/{creatorID}", h.Earnings)

	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/dispute", h.Dispute)
	r.Post("/{id}/process", h.MarkProcessing)
	r.Post("/{id}/retry", h.Retry)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/refund", h.RecordRefund)

	r.Post("/complete-all", h.CompleteAll)

	return r
}

// Create handles POST /payments
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req payment.CreateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	p, err := h.service.Create(r.Context(), middleware.GetActor(r.Context()), req)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, p)
}

// Get handles GET /payments/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payment ID required")
		return
	}

	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// List handles GET /payments?creator_id=|company_id=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	var (
		payments []*payment.Payment
		err      error
	)
	actor := middleware.GetActor(r.Context())
	switch {
	case r.URL.Query().Get("creator_id") != "":
		payments, err = h.service.ListByCreator(r.Context(), actor, r.URL.Query().Get("creator_id"), limit, offset)
	case r.URL.Query().Get("company_id") != "":
		payments, err = h.service.ListByCompany(r.Context(), actor, r.URL.Query().Get("company_id"), limit, offset)
	default:
		api.BadRequest(w, "creator_id or company_id required")
		return
	}
	if err != nil {
		writePaymentError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, payments)
}

// Earnings handles GET /payments/earnings/{creatorID}
func (h *Handler) Earnings(w http.ResponseWriter, r *http.Request) {
	creatorID := chi.URLParam(r, "creatorID")
	if creatorID == "" {
		api.BadRequest(w, "creator ID required")
		return
	}

	total, err := h.service.TotalEarnings(r.Context(), middleware.GetActor(r.Context()), creatorID)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, map[string]any{
		"creator_id": creatorID,
		"total":      total,
	})
}

// Approve handles POST /payments/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

// DisputeRequest is the API request for disputing a payment
type DisputeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Dispute handles POST /payments/{id}/dispute
func (h *Handler) Dispute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payment ID required")
		return
	}

	var req DisputeRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	p, err := h.service.Dispute(r.Context(), middleware.GetActor(r.Context()), id, req.Reason)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// MarkProcessing handles POST /payments/{id}/process
func (h *Handler) MarkProcessing(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkProcessing)
}

// Retry handles POST /payments/{id}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Retry)
}

// Complete handles POST /payments/{id}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Complete)
}

// RecordRefund handles POST /payments/{id}/refund
func (h *Handler) RecordRefund(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.RecordRefund)
}

// CompleteAll handles POST /payments/complete-all
func (h *Handler) CompleteAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.CompleteAllProcessing(r.Context(), middleware.GetActor(r.Context()))
	if err != nil {
		writePaymentError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, results)
}

type transitionFunc func(ctx context.Context, actor middleware.Actor, id string) (*payment.Payment, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "payment ID required")
		return
	}

	p, err := fn(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, p)
}

// writePaymentError maps the payment package's typed errors onto HTTP
// responses.
func writePaymentError(w http.ResponseWriter, err error) {
	var belowMin *payment.BelowMinimumError
	var provErr *payment.ProviderError

	switch {
	case database.IsNotFound(err):
		api.NotFound(w, "payment not found")
	case errors.Is(err, payment.ErrNotAuthorized):
		api.Forbidden(w, err.Error())
	case errors.Is(err, payment.ErrInvalidTransition):
		api.Conflict(w, err.Error())
	case errors.Is(err, payment.ErrStaleState):
		api.WriteError(w, http.StatusConflict, api.ErrCodeStaleState, err.Error())
	case errors.Is(err, payment.ErrInsufficientFunds):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInsufficientFunds, err.Error())
	case errors.Is(err, payment.ErrMethodNotVerified):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errors.As(err, &belowMin):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeBelowMinimumPayout, err.Error())
	case errors.As(err, &provErr):
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeProviderError, err.Error())
	default:
		api.InternalError(w, "internal error")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
