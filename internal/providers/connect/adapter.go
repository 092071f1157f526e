// Package connect is the payout provider adapter. It drives connected
// account onboarding, external bank account verification, and payout
// submission against the provider's REST API.
package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"creatorpay/internal/common/money"
	"creatorpay/internal/payment"
	"creatorpay/internal/payout"
)

// Config holds provider adapter configuration.
type Config struct {
	BaseURL    string        `envconfig:"CONNECT_BASE_URL" default:"https://api.connect.example"`
	APIKey     string        `envconfig:"CONNECT_API_KEY"`
	Timeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	ReturnURL  string        `envconfig:"CONNECT_RETURN_URL" default:"https://app.creatorpay.example/payouts/return"`
	RefreshURL string        `envconfig:"CONNECT_REFRESH_URL" default:"https://app.creatorpay.example/payouts/refresh"`
}

// Adapter talks to the payout provider. It implements the registry's
// onboarding provider, the bank verification provider and the
// settlement gateway.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAdapter creates a provider adapter.
func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("component", "providers.connect"),
	}
}

type accountRequest struct {
	OwnerID string `json:"owner_id"`
	Email   string `json:"email"`
	Country string `json:"country"`
}

type accountResponse struct {
	AccountID string `json:"account_id"`
}

type linkRequest struct {
	AccountID  string `json:"account_id"`
	ReturnURL  string `json:"return_url"`
	RefreshURL string `json:"refresh_url"`
}

type linkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type bankAccountRequest struct {
	OwnerID       string `json:"owner_id"`
	RoutingNumber string `json:"routing_number"`
	AccountNumber string `json:"account_number"`
	HolderName    string `json:"holder_name"`
	HolderType    string `json:"holder_type,omitempty"`
	AccountType   string `json:"account_type,omitempty"`
	Country       string `json:"country,omitempty"`
}

type bankAccountResponse struct {
	BankAccountID      string `json:"bank_account_id"`
	VerificationMethod string `json:"verification_method"`
	Status             string `json:"status"` // verified, pending_verification
}

type verifyRequest struct {
	Amount1 int64 `json:"amount_1"`
	Amount2 int64 `json:"amount_2"`
}

type payoutRequest struct {
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	MethodKind    string `json:"method_kind"`
	Email         string `json:"email,omitempty"`
	AccountID     string `json:"account_id,omitempty"`
	BankAccountID string `json:"bank_account_id,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	Network       string `json:"network,omitempty"`
	Idempotency   string `json:"idempotency_key"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateConnectedAccount creates a provider sub-account for an owner.
func (a *Adapter) CreateConnectedAccount(ctx context.Context, ownerID, email string) (string, error) {
	var resp accountResponse
	err := a.do(ctx, http.MethodPost, "/v1/accounts", accountRequest{
		OwnerID: ownerID,
		Email:   email,
		Country: "CA",
	}, &resp)
	if err != nil {
		return "", err
	}

	a.logger.Info("connected account created", "owner_id", ownerID, "account_id", resp.AccountID)
	return resp.AccountID, nil
}

// CreateOnboardingLink returns a fresh hosted-onboarding URL for the
// connected account. Links expire; callers re-request as needed.
func (a *Adapter) CreateOnboardingLink(ctx context.Context, accountID string) (string, error) {
	var resp linkResponse
	err := a.do(ctx, http.MethodPost, "/v1/account-links", linkRequest{
		AccountID:  accountID,
		ReturnURL:  a.config.ReturnURL,
		RefreshURL: a.config.RefreshURL,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

// CreateBankAccount registers an external bank account for
// micro-deposit or instant verification.
func (a *Adapter) CreateBankAccount(ctx context.Context, ownerID string, req payout.BankAccountRequest) (*payout.BankAccountResult, error) {
	var resp bankAccountResponse
	err := a.do(ctx, http.MethodPost, "/v1/bank-accounts", bankAccountRequest{
		OwnerID:       ownerID,
		RoutingNumber: req.RoutingNumber,
		AccountNumber: req.AccountNumber,
		HolderName:    req.HolderName,
		HolderType:    req.HolderType,
		AccountType:   req.AccountType,
		Country:       req.Country,
	}, &resp)
	if err != nil {
		return nil, err
	}

	a.logger.Info("bank account registered",
		"owner_id", ownerID,
		"bank_account_id", resp.BankAccountID,
		"status", resp.Status,
	)
	return &payout.BankAccountResult{
		ProviderBankAccountID: resp.BankAccountID,
		VerificationMethod:    resp.VerificationMethod,
		Verified:              resp.Status == "verified",
	}, nil
}

// VerifyMicroDeposits confirms the two deposit amounts against the
// provider's records.
func (a *Adapter) VerifyMicroDeposits(ctx context.Context, providerBankAccountID string, amount1, amount2 int64) error {
	path := "/v1/bank-accounts/" + providerBankAccountID + "/verify"
	err := a.do(ctx, http.MethodPost, path, verifyRequest{Amount1: amount1, Amount2: amount2}, nil)
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.Code == "verification_mismatch" {
			return payout.ErrVerificationMismatch
		}
		return err
	}
	return nil
}

// SendPayout submits a payout to the provider. Provider-declared
// insufficient-funds responses map to the settlement path's typed
// error; other API failures become *ProviderError.
func (a *Adapter) SendPayout(ctx context.Context, dest payment.Destination, amount money.Money) error {
	a.logger.Info("submitting payout",
		"method_id", dest.MethodID,
		"kind", dest.Kind,
		"amount", amount.AmountMinor,
		"currency", amount.Currency,
	)

	err := a.do(ctx, http.MethodPost, "/v1/payouts", payoutRequest{
		AmountMinor:   amount.AmountMinor,
		Currency:      string(amount.Currency),
		MethodKind:    dest.Kind,
		Email:         dest.Email,
		AccountID:     dest.ProviderAccountID,
		BankAccountID: dest.ProviderBankAccountID,
		WalletAddress: dest.WalletAddress,
		Network:       dest.Network,
		Idempotency:   dest.MethodID + ":" + fmt.Sprint(amount.AmountMinor),
	}, nil)
	if err != nil {
		if apiErr, ok := asAPIError(err); ok {
			if apiErr.Code == "insufficient_funds" {
				return payment.ErrInsufficientFunds
			}
			return &payment.ProviderError{Message: apiErr.Message}
		}
		return &payment.ProviderError{Message: err.Error()}
	}
	return nil
}

// requestError carries a decoded provider error body.
type requestError struct {
	StatusCode int
	API        apiError
}

func (e *requestError) Error() string {
	return fmt.Sprintf("provider api error: status=%d code=%s message=%s", e.StatusCode, e.API.Code, e.API.Message)
}

func asAPIError(err error) (apiError, bool) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.API, true
	}
	return apiError{}, false
}

func (a *Adapter) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		var api apiError
		if json.Unmarshal(data, &api) != nil || api.Code == "" {
			api = apiError{Code: "http_error", Message: string(data)}
		}
		return &requestError{StatusCode: httpResp.StatusCode, API: api}
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// ProviderName returns the provider name for this adapter.
func (a *Adapter) ProviderName() string {
	return "connect"
}
