package feeconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	cfg   Config
	loads int
}

func (m *memStore) Get(ctx context.Context) (*Config, error) {
	m.loads++
	cfg := m.cfg
	return &cfg, nil
}

func (m *memStore) Update(ctx context.Context, patch Patch) (*Config, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	m.cfg = patch.Apply(m.cfg)
	cfg := m.cfg
	return &cfg, nil
}

func TestCacheReadThrough(t *testing.T) {
	store := &memStore{cfg: *Default()}
	cache := NewCache(store)
	ctx := context.Background()

	cfg, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(400), cfg.PlatformFeeBps)
	require.Equal(t, 1, store.loads)

	// Cached: no second load.
	_, err = cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, store.loads)
}

func TestCacheInvalidatedByUpdate(t *testing.T) {
	store := &memStore{cfg: *Default()}
	cache := NewCache(store)
	ctx := context.Background()

	_, err := cache.Get(ctx)
	require.NoError(t, err)

	newBps := int64(500)
	updated, err := cache.Update(ctx, Patch{PlatformFeeBps: &newBps})
	require.NoError(t, err)
	require.Equal(t, int64(500), updated.PlatformFeeBps)

	cfg, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(500), cfg.PlatformFeeBps)
	require.Equal(t, 2, store.loads)
}

func TestPatchAllOrNothingValidation(t *testing.T) {
	store := &memStore{cfg: *Default()}
	cache := NewCache(store)
	ctx := context.Background()

	bad := int64(20000)
	good := int64(100)
	_, err := cache.Update(ctx, Patch{PlatformFeeBps: &good, ReserveBps: &bad})
	require.Error(t, err)

	// Nothing was persisted, including the valid key.
	cfg, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(400), cfg.PlatformFeeBps)
	require.Equal(t, int64(1000), cfg.ReserveBps)
}

func TestPatchEmpty(t *testing.T) {
	require.Error(t, Patch{}.Validate())
}
