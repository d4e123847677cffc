package chain_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexerClient_Balance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/address/lotus-addr-1/balance", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]int64{"confirmed": 5000, "unconfirmed": 250})
	}))
	defer srv.Close()

	client := chain.NewIndexerClient(srv.URL, time.Second)
	balance, err := client.Balance(context.Background(), "lotus-addr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)
}

func TestIndexerClient_Broadcast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/broadcast-tx", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deadbeef", body["rawTx"])

		json.NewEncoder(w).Encode(map[string]string{"txid": "txid-1"})
	}))
	defer srv.Close()

	client := chain.NewIndexerClient(srv.URL, time.Second)
	txID, err := client.Broadcast(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "txid-1", txID)
}

func TestIndexerClient_BroadcastRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tx-malformed", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := chain.NewIndexerClient(srv.URL, time.Second)
	_, err := client.Broadcast(context.Background(), "00")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broadcast rejected")
}
