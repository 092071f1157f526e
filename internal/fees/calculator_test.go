package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creatorpay/internal/common/money"
	"creatorpay/internal/feeconfig"
)

func TestComputeSplitsGross(t *testing.T) {
	// $1000.00 at 4% platform, 3% processing.
	gross := money.New(100000, money.CAD)
	snap := feeconfig.Snapshot{PlatformFeeBps: 400, ProcessingFeeBps: 300}

	b, err := Compute(gross, snap)
	require.NoError(t, err)

	assert.Equal(t, int64(4000), b.PlatformFee.AmountMinor)
	assert.Equal(t, int64(3000), b.ProcessingFee.AmountMinor)
	assert.Equal(t, int64(93000), b.Net.AmountMinor)
	assert.Equal(t, money.CAD, b.Net.Currency)
}

func TestComputeRoundsHalfUpPerComponent(t *testing.T) {
	// $0.15 at 2.9%: 0.435 cents rounds up to 1 cent.
	gross := money.New(15, money.CAD)
	snap := feeconfig.Snapshot{PlatformFeeBps: 290, ProcessingFeeBps: 0}

	b, err := Compute(gross, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.PlatformFee.AmountMinor)

	// 17 cents at 2.9% = 0.493 cents, still rounds down.
	b, err = Compute(money.New(17, money.CAD), snap)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.PlatformFee.AmountMinor)

	// 173 cents at 2.9% = 5.017 cents, rounds to 5.
	b, err = Compute(money.New(173, money.CAD), snap)
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.PlatformFee.AmountMinor)

	// Exactly .5 of a cent rounds up: 250 cents at 1% = 2.5 cents.
	b, err = Compute(money.New(250, money.CAD), feeconfig.Snapshot{PlatformFeeBps: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.PlatformFee.AmountMinor)
}

func TestComputeInvariantHolds(t *testing.T) {
	snaps := []feeconfig.Snapshot{
		{PlatformFeeBps: 0, ProcessingFeeBps: 0},
		{PlatformFeeBps: 400, ProcessingFeeBps: 300},
		{PlatformFeeBps: 290, ProcessingFeeBps: 125},
		{PlatformFeeBps: 9999, ProcessingFeeBps: 1},
		{PlatformFeeBps: 5000, ProcessingFeeBps: 5000},
	}
	amounts := []int64{1, 2, 99, 100, 101, 12345, 100000, 999999999}

	for _, snap := range snaps {
		for _, amt := range amounts {
			b, err := Compute(money.New(amt, money.CAD), snap)
			if err != nil {
				// Only allowed when fees consume the whole gross.
				require.ErrorIs(t, err, ErrInvalidAmount)
				continue
			}
			sum := b.PlatformFee.MustAdd(b.ProcessingFee).MustAdd(b.Net)
			assert.Equal(t, amt, sum.AmountMinor,
				"gross %d at %d/%d bps", amt, snap.PlatformFeeBps, snap.ProcessingFeeBps)
			assert.False(t, b.PlatformFee.IsNegative())
			assert.False(t, b.ProcessingFee.IsNegative())
			assert.False(t, b.Net.IsNegative())
		}
	}
}

func TestComputeRejectsNonPositiveGross(t *testing.T) {
	snap := feeconfig.Snapshot{PlatformFeeBps: 400, ProcessingFeeBps: 300}

	_, err := Compute(money.New(0, money.CAD), snap)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Compute(money.New(-100, money.CAD), snap)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
