package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// IndexerClient Chronik 风格索引器的 REST 客户端
type IndexerClient struct {
	baseURL string
	client  *http.Client
}

var _ Source = (*IndexerClient)(nil)

// NewIndexerClient 创建索引器客户端
func NewIndexerClient(baseURL string, timeout time.Duration) *IndexerClient {
	return &IndexerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type balanceResponse struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

type broadcastRequest struct {
	RawTx string `json:"rawTx"`
}

type broadcastResponse struct {
	TxID string `json:"txid"`
}

// Balance 查询地址余额（已确认部分）
func (c *IndexerClient) Balance(ctx context.Context, address string) (int64, error) {
	var resp balanceResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/address/%s/balance", url.PathEscape(address)), &resp); err != nil {
		return 0, errors.Wrap(err, "failed to fetch balance")
	}
	return resp.Confirmed, nil
}

// Utxos 查询地址未花费输出
func (c *IndexerClient) Utxos(ctx context.Context, address string) ([]Utxo, error) {
	var resp []Utxo
	if err := c.getJSON(ctx, fmt.Sprintf("/address/%s/utxos", url.PathEscape(address)), &resp); err != nil {
		return nil, errors.Wrap(err, "failed to fetch utxos")
	}
	return resp, nil
}

// Broadcast 广播已签名交易
func (c *IndexerClient) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	body, err := json.Marshal(broadcastRequest{RawTx: rawTxHex})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal broadcast request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/broadcast-tx", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build broadcast request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "broadcast request failed")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return "", errors.Errorf("broadcast rejected: status=%d body=%s", httpResp.StatusCode, string(payload))
	}

	var resp broadcastResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", errors.Wrap(err, "failed to decode broadcast response")
	}
	if resp.TxID == "" {
		return "", errors.New("indexer returned empty txid")
	}
	return resp.TxID, nil
}

func (c *IndexerClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
