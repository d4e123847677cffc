package chain

import "context"

// Source 区块链数据协作方边界
//
// 钱包核心只依赖余额查询与交易广播；UTXO 扫描、确认数跟踪等由索引器负责。
type Source interface {
	// Balance 查询地址当前余额（最小单位）
	Balance(ctx context.Context, address string) (int64, error)

	// Utxos 查询地址当前未花费输出
	Utxos(ctx context.Context, address string) ([]Utxo, error)

	// Broadcast 广播已签名交易，返回交易 ID
	Broadcast(ctx context.Context, rawTxHex string) (txID string, err error)
}

// Utxo 未花费输出
type Utxo struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
}
