// Package api exposes the admin surface: fee configuration and funding
// account management. Routes are mounted behind an admin role check.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"creatorpay/internal/common/api"
	"creatorpay/internal/common/database"
	"creatorpay/internal/common/events"
	"creatorpay/internal/common/middleware"
	"creatorpay/internal/common/money"
	"creatorpay/internal/feeconfig"
	"creatorpay/internal/funding"
)

// Publisher publishes admin configuration events.
type Publisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Handler handles admin HTTP requests
type Handler struct {
	fees      *feeconfig.Cache
	accounts  *funding.Registry
	publisher Publisher
	logger    *slog.Logger
}

// NewHandler creates a new admin handler
func NewHandler(fees *feeconfig.Cache, accounts *funding.Registry, publisher Publisher, logger *slog.Logger) *Handler {
	return &Handler{fees: fees, accounts: accounts, publisher: publisher, logger: logger}
}

// FeeConfigRoutes returns the fee configuration routes
func (h *Handler) FeeConfigRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetFeeConfig)
	r.Patch("/", h.UpdateFeeConfig)
	return r
}

// FundingRoutes returns the funding account routes
func (h *Handler) FundingRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.AddAccount)
	r.Get("/", h.ListAccounts)
	r.Get("/{id}", h.GetAccount)
	r.Delete("/{id}", h.DeleteAccount)
	r.Post("/{id}/status", h.SetAccountStatus)
	r.Post("/{id}/primary", h.SetPrimaryAccount)
	r.Post("/{id}/deposit", h.Deposit)
	return r
}

// GetFeeConfig handles GET /fee-config
func (h *Handler) GetFeeConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.fees.Get(r.Context())
	if err != nil {
		api.InternalError(w, "failed to load fee config")
		return
	}
	api.WriteData(w, http.StatusOK, cfg)
}

// UpdateFeeConfig handles PATCH /fee-config. Partial updates apply
// all-or-nothing; a bad field leaves every field untouched.
func (h *Handler) UpdateFeeConfig(w http.ResponseWriter, r *http.Request) {
	var patch feeconfig.Patch
	if err := api.DecodeAndValidate(r, &patch); err != nil {
		api.ValidationError(w, err)
		return
	}

	cfg, err := h.fees.Update(r.Context(), patch)
	if err != nil {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
		return
	}

	h.publishFeeConfigUpdated(r.Context(), cfg)
	api.WriteData(w, http.StatusOK, cfg)
}

func (h *Handler) publishFeeConfigUpdated(ctx context.Context, cfg *feeconfig.Config) {
	if h.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.EventFeeConfigUpdated, "fee_config", "1", events.FeeConfigData{
		PlatformFeeBps:     cfg.PlatformFeeBps,
		ProcessingFeeBps:   cfg.ProcessingFeeBps,
		MinimumPayoutMinor: cfg.MinimumPayoutMinor,
		ReserveBps:         cfg.ReserveBps,
	})
	if err != nil {
		h.logger.Error("building event", "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Error("publishing event", "type", events.EventFeeConfigUpdated, "error", err)
	}
}

// AddAccount handles POST /funding-accounts
func (h *Handler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req funding.AddRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	a, err := h.accounts.Add(r.Context(), middleware.GetActor(r.Context()), req)
	if err != nil {
		writeFundingError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, a)
}

// ListAccounts handles GET /funding-accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context(), middleware.GetActor(r.Context()))
	if err != nil {
		writeFundingError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, accounts)
}

// GetAccount handles GET /funding-accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	a, err := h.accounts.Get(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writeFundingError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, a)
}

// DeleteAccount handles DELETE /funding-accounts/{id}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	if err := h.accounts.Delete(r.Context(), middleware.GetActor(r.Context()), id); err != nil {
		writeFundingError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// SetStatusRequest is the API request for changing account status
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active pending disabled"`
}

// SetAccountStatus handles POST /funding-accounts/{id}/status
func (h *Handler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	var req SetStatusRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	a, err := h.accounts.SetStatus(r.Context(), middleware.GetActor(r.Context()), id, funding.Status(req.Status))
	if err != nil {
		writeFundingError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, a)
}

// SetPrimaryAccount handles POST /funding-accounts/{id}/primary
func (h *Handler) SetPrimaryAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	a, err := h.accounts.SetPrimary(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writeFundingError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, a)
}

// DepositRequest is the API request for crediting an account
type DepositRequest struct {
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"omitempty,oneof=CAD USD EUR GBP"`
}

// Deposit handles POST /funding-accounts/{id}/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	var req DepositRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	currency := money.Currency(req.Currency)
	if currency == "" {
		currency = money.DefaultCurrency
	}

	err := h.accounts.Deposit(r.Context(), middleware.GetActor(r.Context()), id, money.New(req.AmountMinor, currency))
	if err != nil {
		writeFundingError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, map[string]string{"status": "credited"})
}

func writeFundingError(w http.ResponseWriter, err error) {
	switch {
	case database.IsNotFound(err):
		api.NotFound(w, "funding account not found")
	case errors.Is(err, funding.ErrAdminRequired):
		api.Forbidden(w, err.Error())
	case errors.Is(err, funding.ErrNoPrimary):
		api.Conflict(w, err.Error())
	case errors.Is(err, funding.ErrInsufficientBalance):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInsufficientFunds, err.Error())
	case errors.Is(err, database.ErrAlreadyExists):
		api.Conflict(w, err.Error())
	default:
		api.InternalError(w, "internal error")
	}
}
