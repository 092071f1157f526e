package payout

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRates struct {
	fee     int64
	feeErr  error
	rates   map[string]float64
	rateErr error
}

func (f *fakeRates) EstimateNetworkFee(_ context.Context, _ string) (int64, error) {
	return f.fee, f.feeErr
}

func (f *fakeRates) ExchangeRates(_ context.Context) (map[string]float64, error) {
	return f.rates, f.rateErr
}

func newCryptoValidator(t *testing.T, rates *fakeRates) *CryptoValidator {
	t.Helper()
	if rates == nil {
		rates = &fakeRates{}
	}
	return NewCryptoValidator(rates, testLogger(t))
}

func TestValidateAddressAccepted(t *testing.T) {
	v := newCryptoValidator(t, nil)

	cases := []struct {
		network string
		address string
	}{
		{NetworkEthereum, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"},
		{NetworkPolygon, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"},
		{NetworkBase, "0x0000000000000000000000000000000000000001"},
		{NetworkBitcoin, "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"},
		{NetworkBitcoin, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"},
		{NetworkBitcoin, "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy"},
		{NetworkSolana, "4Nd1mYQH6sF2gDLYmQCt9sSkbTfikWGsYWDRbWHQ4mvz"},
	}

	for _, tc := range cases {
		assert.NoError(t, v.ValidateAddress(tc.address, tc.network), "%s %s", tc.network, tc.address)
	}
}

func TestValidateAddressRejected(t *testing.T) {
	v := newCryptoValidator(t, nil)

	cases := []struct {
		name    string
		network string
		address string
	}{
		{"evm without prefix", NetworkEthereum, "742d35Cc6634C0532925a3b844Bc454e4438f44e"},
		{"evm too short", NetworkEthereum, "0x742d35Cc"},
		{"evm non-hex", NetworkEthereum, "0x742d35Cc6634C0532925a3b844Bc454e4438fzzz"},
		{"bitcoin wrong prefix", NetworkBitcoin, "2NEWq3X5vYyR7XvPhQ5gLtDzHlrVUqkkfc"},
		{"bitcoin base58 with zero", NetworkBitcoin, "10A1zP1eP5QGefi2DMPTfTL5SLmv7Divf"},
		{"solana too short", NetworkSolana, "abc"},
		{"solana invalid chars", NetworkSolana, strings.Repeat("0", 40)},
		{"unknown network", "dogecoin", "DBXu9QsWcxBEJwZZXhrkXrSbbY1aNfFV5X"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateAddress(tc.address, tc.network)
			var addrErr *InvalidAddressError
			require.ErrorAs(t, err, &addrErr)
			assert.Equal(t, tc.network, addrErr.Network)
		})
	}
}

func TestNetworkFeeFailureIsAdvisory(t *testing.T) {
	v := newCryptoValidator(t, &fakeRates{feeErr: errors.New("rate source down")})
	assert.Zero(t, v.EstimateNetworkFee(context.Background(), NetworkEthereum))
}

func TestNetworkFeePassthrough(t *testing.T) {
	v := newCryptoValidator(t, &fakeRates{fee: 125})
	assert.Equal(t, int64(125), v.EstimateNetworkFee(context.Background(), NetworkEthereum))
}

func TestExchangeRatesFailureYieldsEmptyMap(t *testing.T) {
	v := newCryptoValidator(t, &fakeRates{rateErr: errors.New("rate source down")})
	rates := v.ExchangeRates(context.Background())
	assert.NotNil(t, rates)
	assert.Empty(t, rates)
}
