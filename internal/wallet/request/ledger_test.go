package request_test

import (
	"testing"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/request"
	"github.com/dropbox/godropbox/time2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() (*request.Ledger, *time2.MockClock) {
	clock := time2.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return request.NewLedger(clock), clock
}

func draft() request.Draft {
	return request.Draft{RecipientAddress: "lotus_recipient", AmountMinorUnits: 1000, FeeMinorUnits: 100}
}

func TestLedger_AddAndGet(t *testing.T) {
	ledger, clock := newTestLedger()

	inbound := ledger.AddInbound("wallet-1", "peer-a", "pk-a", draft(), clock.Now().Add(5*time.Minute))
	assert.Equal(t, request.DirectionInbound, inbound.Direction)
	assert.Equal(t, request.StatusPending, inbound.Status)

	outbound := ledger.AddOutbound("wallet-1", "peer-b", "pk-b", draft(), clock.Now().Add(5*time.Minute))
	assert.Equal(t, request.DirectionOutbound, outbound.Direction)

	got, err := ledger.Get(inbound.ID)
	require.NoError(t, err)
	assert.Equal(t, "wallet-1", got.WalletID)
	assert.Equal(t, int64(1000), got.Draft.AmountMinorUnits)

	_, err = ledger.Get("request-missing")
	assert.ErrorIs(t, err, request.ErrRequestNotFound)

	assert.Len(t, ledger.List(), 2)
	assert.Len(t, ledger.PendingForWallet("wallet-1"), 2)
	assert.Empty(t, ledger.PendingForWallet("wallet-2"))
}

func TestLedger_MarkStatus(t *testing.T) {
	ledger, clock := newTestLedger()

	req := ledger.AddInbound("wallet-1", "peer-a", "pk-a", draft(), clock.Now().Add(5*time.Minute))

	accepted, err := ledger.MarkStatus(req.ID, request.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, request.StatusAccepted, accepted.Status)

	// Settled records do not change status again.
	_, err = ledger.MarkStatus(req.ID, request.StatusRejected)
	assert.ErrorIs(t, err, request.ErrNotPending)

	_, err = ledger.MarkStatus(req.ID, request.Status("bogus"))
	assert.ErrorIs(t, err, request.ErrInvalidStatus)

	_, err = ledger.MarkStatus("request-missing", request.StatusAccepted)
	assert.ErrorIs(t, err, request.ErrRequestNotFound)
}

func TestLedger_CancelOutbound(t *testing.T) {
	ledger, clock := newTestLedger()

	inbound := ledger.AddInbound("wallet-1", "peer-a", "pk-a", draft(), clock.Now().Add(5*time.Minute))
	outbound := ledger.AddOutbound("wallet-1", "peer-b", "pk-b", draft(), clock.Now().Add(5*time.Minute))

	_, err := ledger.CancelOutbound(inbound.ID)
	assert.ErrorIs(t, err, request.ErrNotOutbound)

	cancelled, err := ledger.CancelOutbound(outbound.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusCancelled, cancelled.Status)

	_, err = ledger.CancelOutbound(outbound.ID)
	assert.ErrorIs(t, err, request.ErrNotPending)
}

func TestLedger_ExpireStale(t *testing.T) {
	ledger, clock := newTestLedger()

	stale := ledger.AddInbound("wallet-1", "peer-a", "pk-a", draft(), clock.Now().Add(time.Minute))
	fresh := ledger.AddOutbound("wallet-1", "peer-b", "pk-b", draft(), clock.Now().Add(time.Hour))
	settled := ledger.AddInbound("wallet-2", "peer-c", "pk-c", draft(), clock.Now().Add(time.Minute))
	_, err := ledger.MarkStatus(settled.ID, request.StatusRejected)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)

	// Only pending records past their expiry move to expired.
	assert.Equal(t, 1, ledger.ExpireStale())
	assert.Equal(t, 0, ledger.ExpireStale())

	got, err := ledger.Get(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusExpired, got.Status)

	got, err = ledger.Get(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, got.Status)

	got, err = ledger.Get(settled.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusRejected, got.Status)
}

func TestLedger_AttachSession(t *testing.T) {
	ledger, clock := newTestLedger()

	req := ledger.AddInbound("wallet-1", "peer-a", "pk-a", draft(), clock.Now().Add(5*time.Minute))
	require.NoError(t, ledger.AttachSession(req.ID, "session-1"))

	got, err := ledger.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, "session-1", got.SessionID)

	assert.ErrorIs(t, ledger.AttachSession("request-missing", "session-1"), request.ErrRequestNotFound)
}
