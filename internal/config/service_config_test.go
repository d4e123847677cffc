package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintServiceEnv(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()
	_, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
}

func TestServiceEnvOverrides(t *testing.T) {
	t.Setenv("WALLET_NETWORK", "testnet")
	t.Setenv("WALLET_SESSION_TIMEOUT", "90s")
	t.Setenv("WALLET_P2P_LISTEN_ADDRS", "/ip4/127.0.0.1/tcp/4010,/ip4/127.0.0.1/tcp/4011")
	t.Setenv("WALLET_API_ENABLE", "false")

	cfg := config.DefaultServiceConfigFromEnv()
	assert.Equal(t, "testnet", cfg.Node.Network)
	assert.Equal(t, 90*time.Second, cfg.Session.SessionTimeout)
	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/4010", "/ip4/127.0.0.1/tcp/4011"}, cfg.Transport.ListenAddrs)
	assert.False(t, cfg.Echo.Enable)
}
