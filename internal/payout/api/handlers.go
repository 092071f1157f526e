package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"creatorpay/internal/common/api"
	"creatorpay/internal/common/database"
	"creatorpay/internal/common/middleware"
	"creatorpay/internal/payout"
)

// Handler handles payout method HTTP requests
type Handler struct {
	registry *payout.Registry
	bank     *payout.BankVerification
	crypto   *payout.CryptoValidator
}

// NewHandler creates a new payout handler
func NewHandler(registry *payout.Registry, bank *payout.BankVerification, crypto *payout.CryptoValidator) *Handler {
	return &Handler{registry: registry, bank: bank, crypto: crypto}
}

// Routes returns the payout method routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.AddMethod)
	r.Get("/", h.ListMethods)
	r.Get("/{id}", h.GetMethod)
	r.Delete("/{id}", h.DeleteMethod)
	r.Post("/{id}/default", h.SetDefault)
	r.Post("/{id}/onboarding", h.EnsureOnboarding)
	r.Post("/{id}/bank-account", h.CreateBankAccount)
	r.Post("/{id}/verify", h.VerifyMicroDeposits)

	r.Get("/crypto/network-fee", h.NetworkFee)
	r.Get("/crypto/exchange-rates", h.ExchangeRates)

	return r
}

// AddMethod handles POST /payout-methods
func (h *Handler) AddMethod(w http.ResponseWriter, r *http.Request) {
	var req payout.AddRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.registry.AddMethod(r.Context(), middleware.GetActor(r.Context()), req)
	if err != nil {
		writePayoutError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, result)
}

// ListMethods handles GET /payout-methods?owner_id=
func (h *Handler) ListMethods(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		ownerID = middleware.GetActor(r.Context()).ID
	}
	if ownerID == "" {
		api.BadRequest(w, "owner_id required")
		return
	}

	methods, err := h.registry.ListMethods(r.Context(), middleware.GetActor(r.Context()), ownerID)
	if err != nil {
		writePayoutError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, methods)
}

// GetMethod handles GET /payout-methods/{id}
func (h *Handler) GetMethod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "method ID required")
		return
	}

	m, err := h.registry.GetMethod(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writePayoutError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, m)
}

// DeleteMethod handles DELETE /payout-methods/{id}
func (h *Handler) DeleteMethod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "method ID required")
		return
	}

	if err := h.registry.DeleteMethod(r.Context(), middleware.GetActor(r.Context()), id); err != nil {
		writePayoutError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// SetDefault handles POST /payout-methods/{id}/default
func (h *Handler) SetDefault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "method ID required")
		return
	}

	m, err := h.registry.SetDefault(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writePayoutError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, m)
}

// EnsureOnboarding handles POST /payout-methods/{id}/onboarding
func (h *Handler) EnsureOnboarding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "method ID required")
		return
	}

	url, err := h.registry.EnsureOnboarding(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writePayoutError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, map[string]string{"onboarding_url": url})
}

// CreateBankAccount handles POST /payout-methods/{id}/bank-account
func (h *Handler) CreateBankAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "method ID required")
		return
	}

	m, err := h.bank.CreateBankAccount(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		writePayoutError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, m)
}

// VerifyRequest is the API request for micro-deposit verification.
// Amounts are in minor units.
type VerifyRequest struct {
	Amount1 int64 `json:"amount_1" validate:"required,gt=0"`
	Amount2 int64 `json:"amount_2" validate:"required,gt=0"`
}

// VerifyMicroDeposits handles POST /payout-methods/{id}/verify
func (h *Handler) VerifyMicroDeposits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "method ID required")
		return
	}

	var req VerifyRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	m, err := h.bank.VerifyMicroDeposits(r.Context(), middleware.GetActor(r.Context()), id, req.Amount1, req.Amount2)
	if err != nil {
		writePayoutError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, m)
}

// NetworkFee handles GET /payout-methods/crypto/network-fee?network=
func (h *Handler) NetworkFee(w http.ResponseWriter, r *http.Request) {
	network := r.URL.Query().Get("network")
	if network == "" {
		api.BadRequest(w, "network required")
		return
	}

	fee := h.crypto.EstimateNetworkFee(r.Context(), network)
	api.WriteData(w, http.StatusOK, map[string]any{
		"network":   network,
		"fee_minor": fee,
	})
}

// ExchangeRates handles GET /payout-methods/crypto/exchange-rates
func (h *Handler) ExchangeRates(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, http.StatusOK, h.crypto.ExchangeRates(r.Context()))
}

// writePayoutError maps the payout package's typed errors onto HTTP
// responses.
func writePayoutError(w http.ResponseWriter, err error) {
	var valErr *payout.ValidationError
	var addrErr *payout.InvalidAddressError

	switch {
	case database.IsNotFound(err):
		api.NotFound(w, "payout method not found")
	case errors.Is(err, payout.ErrNotOwner):
		api.Forbidden(w, err.Error())
	case errors.Is(err, payout.ErrMethodInUse):
		api.Conflict(w, err.Error())
	case errors.Is(err, payout.ErrStaleState):
		api.WriteError(w, http.StatusConflict, api.ErrCodeStaleState, err.Error())
	case errors.Is(err, payout.ErrVerificationMismatch):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeVerificationMismatch, err.Error())
	case errors.Is(err, payout.ErrNotInitialized):
		api.WriteError(w, http.StatusConflict, api.ErrCodeNotInitialized, err.Error())
	case errors.As(err, &valErr):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errors.As(err, &addrErr):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInvalidAddress, err.Error())
	default:
		api.InternalError(w, "internal error")
	}
}
