package transport_test

import (
	"context"
	"testing"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopback_PublishReachesAllEndpoints(t *testing.T) {
	hub := transport.NewLoopbackHub()
	a := hub.Endpoint()
	b := hub.Endpoint()
	ctx := context.Background()

	var seenA, seenB []*transport.Envelope
	require.NoError(t, a.Subscribe(ctx, transport.TopicSigning, func(_ context.Context, env *transport.Envelope) {
		seenA = append(seenA, env)
	}))
	require.NoError(t, b.Subscribe(ctx, transport.TopicSigning, func(_ context.Context, env *transport.Envelope) {
		seenB = append(seenB, env)
	}))

	env, err := transport.NewEnvelope(transport.MessageTypeNonce, "pubkey-a", transport.NoncePayload{
		SessionID: "session-1",
		PublicKey: "pubkey-a",
		Data:      "00ff",
	})
	require.NoError(t, err)

	require.NoError(t, a.Publish(ctx, transport.TopicSigning, env))

	// Loopback delivers to every endpoint, including the publisher.
	assert.Len(t, seenA, 1)
	assert.Len(t, seenB, 1)

	var payload transport.NoncePayload
	require.NoError(t, seenB[0].DecodePayload(&payload))
	assert.Equal(t, "session-1", payload.SessionID)
}

func TestLoopback_TopicIsolation(t *testing.T) {
	hub := transport.NewLoopbackHub()
	a := hub.Endpoint()
	b := hub.Endpoint()
	ctx := context.Background()

	count := 0
	require.NoError(t, b.Subscribe(ctx, transport.TopicDiscovery("cosign"), func(_ context.Context, _ *transport.Envelope) {
		count++
	}))

	env, err := transport.NewEnvelope(transport.MessageTypeAdvertisement, "pubkey-a", transport.AdvertisementPayload{PublicKey: "pubkey-a"})
	require.NoError(t, err)

	require.NoError(t, a.Publish(ctx, transport.TopicSigning, env))
	assert.Zero(t, count)

	require.NoError(t, a.Publish(ctx, transport.TopicDiscovery("cosign"), env))
	assert.Equal(t, 1, count)
}

func TestLoopback_ClosedEndpointIgnored(t *testing.T) {
	hub := transport.NewLoopbackHub()
	a := hub.Endpoint()
	b := hub.Endpoint()
	ctx := context.Background()

	count := 0
	require.NoError(t, b.Subscribe(ctx, transport.TopicSigning, func(_ context.Context, _ *transport.Envelope) {
		count++
	}))
	require.NoError(t, b.Close())

	env, err := transport.NewEnvelope(transport.MessageTypeAbort, "pubkey-a", transport.AbortPayload{SessionID: "s", Reason: "user"})
	require.NoError(t, err)
	require.NoError(t, a.Publish(ctx, transport.TopicSigning, env))

	assert.Zero(t, count)

	err = b.Publish(ctx, transport.TopicSigning, env)
	assert.Error(t, err)
}

func TestEnvelope_Validate(t *testing.T) {
	env := &transport.Envelope{}
	assert.Error(t, env.Validate())

	env.Type = transport.MessageTypeNonce
	assert.Error(t, env.Validate())

	env.SenderPublicKey = "pubkey"
	assert.NoError(t, env.Validate())
}
