// Package feeconfig holds the admin-tunable platform fee configuration.
package feeconfig

import (
	"errors"
	"fmt"
	"time"
)

// Config is the process-wide fee configuration. Percentages are stored
// as basis points (10000 bps = 100%) so fee math stays in integers.
type Config struct {
	PlatformFeeBps     int64     `json:"platform_fee_bps"`
	ProcessingFeeBps   int64     `json:"processing_fee_bps"`
	MinimumPayoutMinor int64     `json:"minimum_payout_minor"`
	ReserveBps         int64     `json:"reserve_bps"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Snapshot is the resolved configuration a payment captures at creation
// time. Fee amounts on a payment never change when admins retune fees.
type Snapshot struct {
	PlatformFeeBps   int64 `json:"platform_fee_bps"`
	ProcessingFeeBps int64 `json:"processing_fee_bps"`
}

// Snapshot returns the fee snapshot for new payments.
func (c *Config) Snapshot() Snapshot {
	return Snapshot{
		PlatformFeeBps:   c.PlatformFeeBps,
		ProcessingFeeBps: c.ProcessingFeeBps,
	}
}

// Default returns the configuration used before any admin write.
func Default() *Config {
	return &Config{
		PlatformFeeBps:     400, // 4%
		ProcessingFeeBps:   300, // 3%
		MinimumPayoutMinor: 5000,
		ReserveBps:         1000, // 10%
	}
}

// Patch is a partial admin update. Nil fields are left untouched; all
// supplied fields are persisted together or not at all.
type Patch struct {
	PlatformFeeBps     *int64 `json:"platform_fee_bps,omitempty"`
	ProcessingFeeBps   *int64 `json:"processing_fee_bps,omitempty"`
	MinimumPayoutMinor *int64 `json:"minimum_payout_minor,omitempty"`
	ReserveBps         *int64 `json:"reserve_bps,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p Patch) IsEmpty() bool {
	return p.PlatformFeeBps == nil && p.ProcessingFeeBps == nil &&
		p.MinimumPayoutMinor == nil && p.ReserveBps == nil
}

// Validate checks every supplied field before anything is persisted.
func (p Patch) Validate() error {
	if p.IsEmpty() {
		return errors.New("no fields supplied")
	}
	for name, v := range map[string]*int64{
		"platform_fee_bps":   p.PlatformFeeBps,
		"processing_fee_bps": p.ProcessingFeeBps,
		"reserve_bps":        p.ReserveBps,
	} {
		if v != nil && (*v < 0 || *v > 10000) {
			return fmt.Errorf("%s must be between 0 and 10000", name)
		}
	}
	if p.MinimumPayoutMinor != nil && *p.MinimumPayoutMinor < 0 {
		return errors.New("minimum_payout_minor must not be negative")
	}
	return nil
}

// Apply returns a copy of cfg with the patch fields applied.
func (p Patch) Apply(cfg Config) Config {
	if p.PlatformFeeBps != nil {
		cfg.PlatformFeeBps = *p.PlatformFeeBps
	}
	if p.ProcessingFeeBps != nil {
		cfg.ProcessingFeeBps = *p.ProcessingFeeBps
	}
	if p.MinimumPayoutMinor != nil {
		cfg.MinimumPayoutMinor = *p.MinimumPayoutMinor
	}
	if p.ReserveBps != nil {
		cfg.ReserveBps = *p.ReserveBps
	}
	return cfg
}
