package crypto_test

import (
	"crypto/sha256"
	"testing"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/crypto"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngines(t *testing.T, n int) ([]*crypto.MuSig2Engine, []string) {
	t.Helper()

	engines := make([]*crypto.MuSig2Engine, n)
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		e, err := crypto.NewMuSig2Engine("", &chaincfg.RegressionNetParams)
		require.NoError(t, err)
		engines[i] = e
		keys[i] = e.PublicKeyHex()
	}
	return engines, keys
}

func runFullRound(t *testing.T, engines []*crypto.MuSig2Engine, keys []string, sessionID string, msg [32]byte) string {
	t.Helper()

	// Round 0: every party starts its local session and produces a nonce.
	nonces := make([]string, len(engines))
	for i, e := range engines {
		nonce, err := e.StartSession(sessionID, keys)
		require.NoError(t, err)
		nonces[i] = nonce
	}

	// Round 1: exchange nonces.
	for i, e := range engines {
		haveAll := false
		for j, nonce := range nonces {
			if j == i {
				continue
			}
			var err error
			haveAll, err = e.RegisterNonce(sessionID, nonce)
			require.NoError(t, err)
		}
		assert.True(t, haveAll, "engine %d should have all nonces", i)
	}

	// Round 2: everyone signs and exchanges partial signatures.
	partials := make([]string, len(engines))
	for i, e := range engines {
		partial, err := e.PartialSign(sessionID, msg[:])
		require.NoError(t, err)
		partials[i] = partial
	}

	var finalSig string
	for i, e := range engines {
		haveAll := false
		for j, partial := range partials {
			if j == i {
				continue
			}
			var err error
			haveAll, err = e.CombinePartial(sessionID, partial)
			require.NoError(t, err)
		}
		require.True(t, haveAll, "engine %d should have all partial signatures", i)

		sig, err := e.FinalSignature(sessionID)
		require.NoError(t, err)
		if finalSig == "" {
			finalSig = sig
		} else {
			// Every party must converge on the same aggregate signature.
			assert.Equal(t, finalSig, sig)
		}

		valid, err := e.VerifyFinal(sessionID, msg[:], sig)
		require.NoError(t, err)
		assert.True(t, valid)
	}

	return finalSig
}

func TestMuSig2Engine_TwoOfTwo(t *testing.T) {
	engines, keys := newEngines(t, 2)
	msg := sha256.Sum256([]byte("send 1000 sats to recipientX"))

	sig := runFullRound(t, engines, keys, "session-test-2of2", msg)
	assert.NotEmpty(t, sig)
}

func TestMuSig2Engine_ThreeOfThree(t *testing.T) {
	engines, keys := newEngines(t, 3)
	msg := sha256.Sum256([]byte("multi party draft"))

	sig := runFullRound(t, engines, keys, "session-test-3of3", msg)
	assert.NotEmpty(t, sig)
}

func TestMuSig2Engine_AggregateKeysDeterministic(t *testing.T) {
	engines, keys := newEngines(t, 3)

	first, err := engines[0].AggregateKeys(keys)
	require.NoError(t, err)

	// Key aggregation sorts the set, so ordering must not matter.
	reordered := []string{keys[2], keys[0], keys[1]}
	second, err := engines[1].AggregateKeys(reordered)
	require.NoError(t, err)

	assert.Equal(t, first.PublicKeyHex, second.PublicKeyHex)
	assert.Equal(t, first.Address, second.Address)
	assert.NotEmpty(t, first.Address)
}

func TestMuSig2Engine_SelfNotParticipant(t *testing.T) {
	engines, keys := newEngines(t, 2)

	outsider, err := crypto.NewMuSig2Engine("", &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	_, err = outsider.StartSession("session-outsider", keys)
	assert.ErrorIs(t, err, crypto.ErrSelfNotParticipant)

	// Existing participants are unaffected.
	_, err = engines[0].StartSession("session-outsider", keys)
	assert.NoError(t, err)
}

func TestMuSig2Engine_EndSessionIdempotent(t *testing.T) {
	engines, keys := newEngines(t, 2)

	_, err := engines[0].StartSession("session-drop", keys)
	require.NoError(t, err)

	engines[0].EndSession("session-drop")
	engines[0].EndSession("session-drop")

	_, err = engines[0].PartialSign("session-drop", make([]byte, 32))
	assert.ErrorIs(t, err, crypto.ErrSessionNotFound)
}

func TestValidateAddress(t *testing.T) {
	engine, err := crypto.NewMuSig2Engine("", &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	agg, err := engine.AggregateKeys([]string{engine.PublicKeyHex()})
	require.NoError(t, err)

	assert.NoError(t, crypto.ValidateAddress(agg.Address, &chaincfg.RegressionNetParams))
	assert.Error(t, crypto.ValidateAddress(agg.Address, &chaincfg.MainNetParams))
	assert.Error(t, crypto.ValidateAddress("not-an-address", &chaincfg.RegressionNetParams))
}
