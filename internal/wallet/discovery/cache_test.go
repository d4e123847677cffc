package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/config"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/storage"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/discovery"
	"github.com/dropbox/godropbox/time2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, capacity int) (*discovery.Cache, storage.KV, *time2.MockClock) {
	t.Helper()

	store, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := time2.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cache := discovery.NewCache(store, clock, nil, config.Discovery{
		Capacity:         capacity,
		AdvertisementTTL: 30 * time.Minute,
		FlushDebounce:    5 * time.Millisecond,
	})
	t.Cleanup(func() { cache.Close(context.Background()) })

	return cache, store, clock
}

func advertisement(publicKey, nickname string, expiresAt time.Time) discovery.SignerAdvertisement {
	return discovery.SignerAdvertisement{
		PublicKey:    publicKey,
		PeerID:       "peer-" + publicKey,
		Nickname:     nickname,
		Capabilities: discovery.NewCapabilitySet(discovery.CapabilityCoSign),
		ExpiresAt:    expiresAt,
	}
}

func TestCache_UpsertIdempotence(t *testing.T) {
	cache, _, clock := newTestCache(t, 10)
	ctx := context.Background()

	first, err := cache.Upsert(ctx, advertisement("pk1", "alice", clock.Now().Add(time.Hour)), discovery.SourceGossip)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AccessCount)

	later := clock.Now().Add(2 * time.Hour)
	second, err := cache.Upsert(ctx, advertisement("pk1", "alice-renamed", later), discovery.SourceGossip)
	require.NoError(t, err)

	// Same publicKey merges into the existing entry instead of duplicating.
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.AccessCount)
	assert.Equal(t, "alice-renamed", second.Advertisement.Nickname)
	assert.Equal(t, later, second.Advertisement.ExpiresAt)
}

func TestCache_PeerIDChangeKeepsIdentity(t *testing.T) {
	cache, _, clock := newTestCache(t, 10)
	ctx := context.Background()

	ad := advertisement("pk1", "alice", clock.Now().Add(time.Hour))
	_, err := cache.Upsert(ctx, ad, discovery.SourceGossip)
	require.NoError(t, err)

	// The peer reconnected with a new transport address.
	ad.PeerID = "peer-reconnected"
	entry, err := cache.Upsert(ctx, ad, discovery.SourceGossip)
	require.NoError(t, err)

	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, "peer-reconnected", entry.Advertisement.PeerID)
}

func TestCache_ExpiryExclusion(t *testing.T) {
	cache, _, clock := newTestCache(t, 10)
	ctx := context.Background()

	_, err := cache.Upsert(ctx, advertisement("expired", "old", clock.Now().Add(time.Minute)), discovery.SourceGossip)
	require.NoError(t, err)
	_, err = cache.Upsert(ctx, advertisement("valid", "fresh", clock.Now().Add(time.Hour)), discovery.SourceGossip)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)

	valid := cache.GetValidSigners()
	require.Len(t, valid, 1)
	assert.Equal(t, "valid", valid[0].Advertisement.PublicKey)

	// GetValidSigners must not mutate the store.
	assert.Equal(t, 2, cache.Len())

	removed := cache.CleanupExpired(ctx)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_RoundTrip(t *testing.T) {
	store, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	clock := time2.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Discovery{Capacity: 10, AdvertisementTTL: time.Hour, FlushDebounce: time.Millisecond}

	cache := discovery.NewCache(store, clock, nil, cfg)
	ctx := context.Background()

	_, err = cache.Upsert(ctx, advertisement("pk1", "alice", clock.Now().Add(time.Hour)), discovery.SourceGossip)
	require.NoError(t, err)
	_, err = cache.Upsert(ctx, advertisement("pk2", "bob", clock.Now().Add(2*time.Hour)), discovery.SourceManual)
	require.NoError(t, err)
	require.NoError(t, cache.Close(ctx))

	restored := discovery.NewCache(store, clock, nil, cfg)
	defer restored.Close(ctx)
	require.NoError(t, restored.Load(ctx))

	assert.Equal(t, 2, restored.Len())

	entry, ok := restored.GetByPublicKey("pk1")
	require.True(t, ok)
	assert.Equal(t, "alice", entry.Advertisement.Nickname)
	assert.Equal(t, discovery.SourceRestored, entry.Source)

	_, ok = restored.GetByPublicKey("pk2")
	assert.True(t, ok)
}

func TestCache_LoadDiscardsMalformedBlob(t *testing.T) {
	store, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, discovery.StorageKey, []byte("{not-json")))

	clock := time2.NewMockClock(time.Now())
	cache := discovery.NewCache(store, clock, nil, config.Discovery{Capacity: 10, AdvertisementTTL: time.Hour, FlushDebounce: time.Millisecond})
	defer cache.Close(ctx)

	// Malformed persisted data is treated as an empty cache, not a fatal error.
	require.NoError(t, cache.Load(ctx))
	assert.Zero(t, cache.Len())
}

func TestCache_LoadDiscardsMalformedRecords(t *testing.T) {
	store, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	blob := `[{"id":"","entry":null},{"id":"signer-1","entry":{"advertisement":{"publicKey":"pk1","expiresAt":"2099-01-01T00:00:00Z"}}}]`
	require.NoError(t, store.Set(ctx, discovery.StorageKey, []byte(blob)))

	clock := time2.NewMockClock(time.Now())
	cache := discovery.NewCache(store, clock, nil, config.Discovery{Capacity: 10, AdvertisementTTL: time.Hour, FlushDebounce: time.Millisecond})
	defer cache.Close(ctx)

	require.NoError(t, cache.Load(ctx))
	assert.Equal(t, 1, cache.Len())

	_, ok := cache.GetByPublicKey("pk1")
	assert.True(t, ok)
}

func TestCache_EvictionPrefersNearestExpiry(t *testing.T) {
	cache, _, clock := newTestCache(t, 2)
	ctx := context.Background()

	_, err := cache.Upsert(ctx, advertisement("pk-soon", "a", clock.Now().Add(5*time.Minute)), discovery.SourceGossip)
	require.NoError(t, err)
	_, err = cache.Upsert(ctx, advertisement("pk-later", "b", clock.Now().Add(time.Hour)), discovery.SourceGossip)
	require.NoError(t, err)

	// Third insert exceeds capacity; the entry with the nearest expiry goes.
	_, err = cache.Upsert(ctx, advertisement("pk-new", "c", clock.Now().Add(30*time.Minute)), discovery.SourceGossip)
	require.NoError(t, err)

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.GetByPublicKey("pk-soon")
	assert.False(t, ok)
	_, ok = cache.GetByPublicKey("pk-later")
	assert.True(t, ok)
	_, ok = cache.GetByPublicKey("pk-new")
	assert.True(t, ok)
}

func TestCache_DeleteAndGet(t *testing.T) {
	cache, _, clock := newTestCache(t, 10)
	ctx := context.Background()

	entry, err := cache.Upsert(ctx, advertisement("pk1", "alice", clock.Now().Add(time.Hour)), discovery.SourceManual)
	require.NoError(t, err)

	got, ok := cache.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, "pk1", got.Advertisement.PublicKey)

	cache.Delete(entry.ID)
	cache.Delete(entry.ID) // idempotent

	_, ok = cache.Get(entry.ID)
	assert.False(t, ok)
	_, ok = cache.GetByPublicKey("pk1")
	assert.False(t, ok)
}

func TestCache_FlushOnCloseWithoutDebounce(t *testing.T) {
	store, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	clock := time2.NewMockClock(time.Now())
	// Debounce so long it will never fire within the test.
	cache := discovery.NewCache(store, clock, nil, config.Discovery{Capacity: 10, AdvertisementTTL: time.Hour, FlushDebounce: time.Hour})

	ctx := context.Background()
	_, err = cache.Upsert(ctx, advertisement("pk1", "alice", clock.Now().Add(time.Hour)), discovery.SourceGossip)
	require.NoError(t, err)

	// Teardown must force the write even though the debounce window is open.
	require.NoError(t, cache.Close(ctx))

	raw, err := store.Get(ctx, discovery.StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "pk1")
}

func TestCapabilitySet(t *testing.T) {
	set := discovery.CapabilitySetFromStrings([]string{"cosign", "escrow", "bogus"})
	assert.True(t, set.Has(discovery.CapabilityCoSign))
	assert.True(t, set.Has(discovery.CapabilityEscrow))
	assert.False(t, set.Has(discovery.CapabilityTimelock))
	assert.Equal(t, []string{"cosign", "escrow"}, set.Strings())
}
