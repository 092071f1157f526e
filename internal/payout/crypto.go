package payout

import (
	"context"
	"log/slog"
	"strings"
)

// Supported crypto networks.
const (
	NetworkEthereum = "ethereum"
	NetworkPolygon  = "polygon"
	NetworkBase     = "base"
	NetworkBitcoin  = "bitcoin"
	NetworkSolana   = "solana"
)

// RateSource provides network fee estimates and fiat exchange rates.
// Implementations are expected to serve from a short-lived cache so
// lookups never block a payout.
type RateSource interface {
	EstimateNetworkFee(ctx context.Context, network string) (feeMinor int64, err error)
	ExchangeRates(ctx context.Context) (map[string]float64, error)
}

// CryptoValidator applies structural, network-specific checks to wallet
// addresses. Checks are offline; no chain lookup is performed.
type CryptoValidator struct {
	rates  RateSource
	logger *slog.Logger
}

// NewCryptoValidator creates a crypto payout validator.
func NewCryptoValidator(rates RateSource, logger *slog.Logger) *CryptoValidator {
	return &CryptoValidator{rates: rates, logger: logger.With("component", "payout.crypto")}
}

// ValidateAddress checks that the address is structurally valid for the
// network. An unknown network is rejected.
func (v *CryptoValidator) ValidateAddress(address, network string) error {
	switch network {
	case NetworkEthereum, NetworkPolygon, NetworkBase:
		return validateEVMAddress(address, network)
	case NetworkBitcoin:
		return validateBitcoinAddress(address)
	case NetworkSolana:
		return validateSolanaAddress(address)
	default:
		return &InvalidAddressError{Network: network, Reason: "unsupported network"}
	}
}

// EstimateNetworkFee returns the current fee estimate for a payout on
// the given network, in minor units. Estimates are advisory; a lookup
// failure returns zero rather than blocking the payout.
func (v *CryptoValidator) EstimateNetworkFee(ctx context.Context, network string) int64 {
	fee, err := v.rates.EstimateNetworkFee(ctx, network)
	if err != nil {
		v.logger.Warn("network fee estimate unavailable", "network", network, "error", err)
		return 0
	}
	return fee
}

// ExchangeRates returns fiat exchange rates for display. A lookup
// failure yields an empty map; rates never gate a payout.
func (v *CryptoValidator) ExchangeRates(ctx context.Context) map[string]float64 {
	rates, err := v.rates.ExchangeRates(ctx)
	if err != nil {
		v.logger.Warn("exchange rates unavailable", "error", err)
		return map[string]float64{}
	}
	return rates
}

func validateEVMAddress(address, network string) error {
	if !strings.HasPrefix(address, "0x") {
		return &InvalidAddressError{Network: network, Reason: "must start with 0x"}
	}
	hexPart := address[2:]
	if len(hexPart) != 40 {
		return &InvalidAddressError{Network: network, Reason: "must be 42 characters"}
	}
	for _, c := range hexPart {
		if !isHexDigit(c) {
			return &InvalidAddressError{Network: network, Reason: "contains non-hex characters"}
		}
	}
	return nil
}

func validateBitcoinAddress(address string) error {
	switch {
	case strings.HasPrefix(address, "bc1"):
		// Bech32 segwit.
		if len(address) < 14 || len(address) > 74 {
			return &InvalidAddressError{Network: NetworkBitcoin, Reason: "bech32 address has invalid length"}
		}
		for _, c := range address[3:] {
			if !isBech32Char(c) {
				return &InvalidAddressError{Network: NetworkBitcoin, Reason: "contains invalid bech32 characters"}
			}
		}
		return nil
	case strings.HasPrefix(address, "1"), strings.HasPrefix(address, "3"):
		// Legacy base58.
		if len(address) < 25 || len(address) > 35 {
			return &InvalidAddressError{Network: NetworkBitcoin, Reason: "base58 address has invalid length"}
		}
		for _, c := range address {
			if !isBase58Char(c) {
				return &InvalidAddressError{Network: NetworkBitcoin, Reason: "contains invalid base58 characters"}
			}
		}
		return nil
	default:
		return &InvalidAddressError{Network: NetworkBitcoin, Reason: "unrecognized address format"}
	}
}

func validateSolanaAddress(address string) error {
	if len(address) < 32 || len(address) > 44 {
		return &InvalidAddressError{Network: NetworkSolana, Reason: "must be 32-44 characters"}
	}
	for _, c := range address {
		if !isBase58Char(c) {
			return &InvalidAddressError{Network: NetworkSolana, Reason: "contains invalid base58 characters"}
		}
	}
	return nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Base58 excludes 0, O, I and l.
func isBase58Char(c rune) bool {
	switch {
	case c >= '1' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return c != 'I' && c != 'O'
	case c >= 'a' && c <= 'z':
		return c != 'l'
	default:
		return false
	}
}

// Bech32 data characters; excludes 1, b, i, o.
func isBech32Char(c rune) bool {
	switch {
	case c >= '0' && c <= '9':
		return c != '1'
	case c >= 'a' && c <= 'z':
		return c != 'b' && c != 'i' && c != 'o'
	default:
		return false
	}
}
