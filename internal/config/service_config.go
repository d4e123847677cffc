package config

import (
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/util"
)

// Service 钱包守护进程配置（全部来自环境变量）
type Service struct {
	Node      Node
	Discovery Discovery
	Session   Session
	Transport Transport
	Chain     Chain
	Echo      EchoServer
	Logger    Logger
}

// Node 本地节点身份配置
type Node struct {
	Nickname string
	// Network 当前网络（mainnet/testnet/regtest），用于地址校验与派生
	Network string
	// DataDir BadgerDB 数据目录
	DataDir string
	// IdentityKeyHex 本地签名私钥（32字节 hex）。为空时随机生成并仅在进程内使用
	IdentityKeyHex string
}

// Discovery 签名者发现缓存配置
type Discovery struct {
	// Capacity 缓存容量上限，超出时按最近过期优先淘汰
	Capacity int
	// AdvertisementTTL 广告默认有效期
	AdvertisementTTL time.Duration
	// FlushDebounce 脏写合并窗口
	FlushDebounce time.Duration
	// CleanupInterval 过期清扫周期
	CleanupInterval time.Duration
}

// Session 签名会话配置
type Session struct {
	// SessionTimeout 会话有效期
	SessionTimeout time.Duration
	// RequestExpiry 入站/出站签名请求有效期
	RequestExpiry time.Duration
	// SweepInterval 过期清扫周期
	SweepInterval time.Duration
}

// Transport 传输层配置
type Transport struct {
	// ListenAddrs libp2p 监听地址
	ListenAddrs []string
	// BootstrapPeers 启动时连接的中继/引导节点 multiaddr
	BootstrapPeers []string
	// EnableLegacyTopics 迁移窗口内保持订阅旧主题名
	EnableLegacyTopics bool
}

// Chain 区块链数据源配置
type Chain struct {
	// IndexerURL Chronik 风格索引器的基础 URL
	IndexerURL string
	// RequestTimeout 单次索引器请求超时
	RequestTimeout time.Duration
}

// EchoServer 管理 API 配置
type EchoServer struct {
	ListenAddress string
	Enable        bool
}

// Logger 日志配置
type Logger struct {
	Level  string
	Pretty bool
}

// DefaultServiceConfigFromEnv 从环境变量构建默认配置
func DefaultServiceConfigFromEnv() Service {
	return Service{
		Node: Node{
			Nickname:       util.GetEnv("WALLET_NODE_NICKNAME", ""),
			Network:        util.GetEnv("WALLET_NETWORK", "mainnet"),
			DataDir:        util.GetEnv("WALLET_DATA_DIR", "./data/wallet"),
			IdentityKeyHex: util.GetEnv("WALLET_IDENTITY_KEY", ""),
		},
		Discovery: Discovery{
			Capacity:         util.GetEnvAsInt("WALLET_DISCOVERY_CAPACITY", 256),
			AdvertisementTTL: util.GetEnvAsDuration("WALLET_DISCOVERY_TTL", 30*time.Minute),
			FlushDebounce:    util.GetEnvAsDuration("WALLET_DISCOVERY_FLUSH_DEBOUNCE", 500*time.Millisecond),
			CleanupInterval:  util.GetEnvAsDuration("WALLET_DISCOVERY_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Session: Session{
			SessionTimeout: util.GetEnvAsDuration("WALLET_SESSION_TIMEOUT", 5*time.Minute),
			RequestExpiry:  util.GetEnvAsDuration("WALLET_REQUEST_EXPIRY", 5*time.Minute),
			SweepInterval:  util.GetEnvAsDuration("WALLET_SWEEP_INTERVAL", 15*time.Second),
		},
		Transport: Transport{
			ListenAddrs:        util.GetEnvAsStringSlice("WALLET_P2P_LISTEN_ADDRS", []string{"/ip4/0.0.0.0/tcp/0"}),
			BootstrapPeers:     util.GetEnvAsStringSlice("WALLET_P2P_BOOTSTRAP_PEERS", nil),
			EnableLegacyTopics: util.GetEnvAsBool("WALLET_P2P_LEGACY_TOPICS", true),
		},
		Chain: Chain{
			IndexerURL:     util.GetEnv("WALLET_CHAIN_INDEXER_URL", "https://chronik.lotusia.org"),
			RequestTimeout: util.GetEnvAsDuration("WALLET_CHAIN_REQUEST_TIMEOUT", 10*time.Second),
		},
		Echo: EchoServer{
			ListenAddress: util.GetEnv("WALLET_API_LISTEN_ADDRESS", ":8090"),
			Enable:        util.GetEnvAsBool("WALLET_API_ENABLE", true),
		},
		Logger: Logger{
			Level:  util.GetEnv("WALLET_LOG_LEVEL", "info"),
			Pretty: util.GetEnvAsBool("WALLET_LOG_PRETTY", false),
		},
	}
}
