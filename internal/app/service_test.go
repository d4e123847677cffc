package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/app"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/chain"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/config"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/crypto"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/storage"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/transport"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/discovery"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/registry"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/session"
	"github.com/dropbox/godropbox/time2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSource mocks the blockchain data collaborator
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Balance(ctx context.Context, address string) (int64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSource) Utxos(ctx context.Context, address string) ([]chain.Utxo, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chain.Utxo), args.Error(1)
}

func (m *MockSource) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	args := m.Called(ctx, rawTxHex)
	return args.String(0), args.Error(1)
}

type testNode struct {
	svc    *app.Service
	store  storage.KV
	source *MockSource
}

func testConfig(nickname string) config.Service {
	return config.Service{
		Node: config.Node{Nickname: nickname, Network: "mainnet"},
		Discovery: config.Discovery{
			Capacity:         16,
			AdvertisementTTL: 30 * time.Minute,
			FlushDebounce:    time.Hour, // never fires within a test
			CleanupInterval:  5 * time.Minute,
		},
		Session: config.Session{
			SessionTimeout: 5 * time.Minute,
			RequestExpiry:  5 * time.Minute,
			SweepInterval:  time.Hour,
		},
	}
}

func newTestNode(t *testing.T, hub *transport.LoopbackHub, clock time2.Clock, nickname string) *testNode {
	t.Helper()

	store, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine, err := crypto.NewMuSig2Engine("", nil)
	require.NoError(t, err)

	source := new(MockSource)
	svc, err := app.NewService(testConfig(nickname), store, engine, hub.Endpoint(), source, clock)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown(context.Background()) })

	return &testNode{svc: svc, store: store, source: source}
}

// mirrorWallet syncs one wallet record onto every node through the import
// path, the way peers mirror a creator's record.
func mirrorWallet(t *testing.T, balance int64, nodes ...*testNode) (walletID, address string) {
	t.Helper()
	ctx := context.Background()

	participants := make([]registry.Participant, len(nodes))
	for i, n := range nodes {
		participants[i] = registry.Participant{PublicKey: n.svc.PublicKeyHex()}
	}

	for _, n := range nodes {
		imported, err := n.svc.ImportWallet(ctx, &registry.SharedWallet{
			ID:                "wallet-app-test",
			Name:              "household",
			Participants:      participants,
			BalanceMinorUnits: balance,
		})
		require.NoError(t, err)
		require.NotEmpty(t, imported.DerivedAddress)
		address = imported.DerivedAddress
	}
	return "wallet-app-test", address
}

func TestService_AdvertisementExchange(t *testing.T) {
	hub := transport.NewLoopbackHub()
	clock := time2.NewMockClock(time.Now())
	ctx := context.Background()

	a := newTestNode(t, hub, clock, "alice")
	b := newTestNode(t, hub, clock, "bob")
	require.NoError(t, a.svc.Start(ctx))
	require.NoError(t, b.svc.Start(ctx))

	// b started after a, so a saw b's startup advertisement.
	entry, ok := a.svc.Cache.GetByPublicKey(b.svc.PublicKeyHex())
	require.True(t, ok)
	assert.Equal(t, "bob", entry.Advertisement.Nickname)
	assert.True(t, entry.Advertisement.Capabilities.Has(discovery.CapabilityCoSign))

	// A discovery request makes peers re-advertise.
	require.NoError(t, b.svc.RequestSigners(ctx, discovery.CapabilityCoSign))
	entry, ok = b.svc.Cache.GetByPublicKey(a.svc.PublicKeyHex())
	require.True(t, ok)
	assert.Equal(t, "alice", entry.Advertisement.Nickname)

	signers := a.svc.ListSigners()
	require.Len(t, signers, 1)
	assert.Equal(t, b.svc.PublicKeyHex(), signers[0].Advertisement.PublicKey)
}

func TestService_EndToEndSpend(t *testing.T) {
	hub := transport.NewLoopbackHub()
	clock := time2.NewMockClock(time.Now())
	ctx := context.Background()

	a := newTestNode(t, hub, clock, "alice")
	b := newTestNode(t, hub, clock, "bob")
	require.NoError(t, a.svc.Start(ctx))
	require.NoError(t, b.svc.Start(ctx))

	walletID, address := mirrorWallet(t, 5000, a, b)
	a.source.On("Broadcast", mock.Anything, mock.Anything).Return("txid-app", nil)
	b.source.On("Broadcast", mock.Anything, mock.Anything).Return("txid-app", nil)

	// Recipient must be valid for mainnet; the derived taproot address is.
	sessionID, err := a.svc.Coordinator.ProposeSpend(ctx, walletID, address, 1000, 100, "rent")
	require.NoError(t, err)

	pending := b.svc.Ledger.PendingForWallet(walletID)
	require.Len(t, pending, 1)

	_, err = b.svc.Coordinator.AcceptRequest(ctx, pending[0].ID)
	require.NoError(t, err)

	for _, n := range []*testNode{a, b} {
		s, err := n.svc.Coordinator.GetSession(sessionID)
		require.NoError(t, err)
		assert.Equal(t, session.StateCompleted, s.State)
		assert.Equal(t, "txid-app", s.ResultTxID)
	}
}

func TestService_ImportWalletNormalizesSelf(t *testing.T) {
	hub := transport.NewLoopbackHub()
	clock := time2.NewMockClock(time.Now())
	ctx := context.Background()

	a := newTestNode(t, hub, clock, "alice")
	b := newTestNode(t, hub, clock, "bob")

	// The record arrives carrying the sender's own IsSelf flags.
	record := &registry.SharedWallet{
		ID:   "wallet-sync-test",
		Name: "household",
		Participants: []registry.Participant{
			{PublicKey: a.svc.PublicKeyHex(), IsSelf: true},
			{PublicKey: b.svc.PublicKeyHex()},
		},
	}
	imported, err := b.svc.ImportWallet(ctx, record)
	require.NoError(t, err)

	for _, p := range imported.Participants {
		assert.Equal(t, p.PublicKey == b.svc.PublicKeyHex(), p.IsSelf)
	}

	// Both sides derive the same address from the same participant set.
	mirroredOnA, err := a.svc.ImportWallet(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, imported.DerivedAddress, mirroredOnA.DerivedAddress)
	assert.Equal(t, imported.ID, mirroredOnA.ID)

	// A record this node is not part of cannot be mirrored here.
	c := newTestNode(t, hub, clock, "carol")
	_, err = c.svc.ImportWallet(ctx, record)
	assert.ErrorIs(t, err, registry.ErrSelfMissing)
}

func TestService_InvalidRecipientRejected(t *testing.T) {
	hub := transport.NewLoopbackHub()
	clock := time2.NewMockClock(time.Now())
	ctx := context.Background()

	a := newTestNode(t, hub, clock, "alice")
	b := newTestNode(t, hub, clock, "bob")
	require.NoError(t, a.svc.Start(ctx))
	require.NoError(t, b.svc.Start(ctx))

	walletID, _ := mirrorWallet(t, 5000, a, b)

	_, err := a.svc.Coordinator.ProposeSpend(ctx, walletID, "not-an-address", 1000, 100, "")
	assert.ErrorIs(t, err, session.ErrInvalidRecipient)
}

func TestService_ShutdownFlushesCache(t *testing.T) {
	hub := transport.NewLoopbackHub()
	clock := time2.NewMockClock(time.Now())
	ctx := context.Background()

	a := newTestNode(t, hub, clock, "alice")
	require.NoError(t, a.svc.Start(ctx))

	_, err := a.svc.AddSignerManually(ctx, discovery.SignerAdvertisement{
		PublicKey: "pk-manual",
		Nickname:  "carol",
		ExpiresAt: clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// The debounce window (1h) has not elapsed; shutdown must flush anyway.
	require.NoError(t, a.svc.Shutdown(ctx))

	raw, err := a.store.Get(ctx, discovery.StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "pk-manual")
}
