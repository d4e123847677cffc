package relayd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/storage"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/transport"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/util"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/discovery"
	"github.com/libp2p/go-libp2p/core/host"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// 中继节点不参与签名，只维持 gossip 网格并周期性广播已连接节点列表，
// 便于钱包节点互相发现。已知节点地址落盘，重启后主动回连。

const knownPeersKey = "relay/known-peers"

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "relayd",
		Short: "Run a gossip relay node",
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
}

func run() {
	zerolog.SetGlobalLevel(util.LogLevelFromString(util.GetEnv("RELAY_LOG_LEVEL", "info")))

	identityKeyHex := util.GetEnv("RELAY_IDENTITY_KEY", "")
	listenAddrs := util.GetEnvAsStringSlice("RELAY_LISTEN_ADDRS", []string{"/ip4/0.0.0.0/tcp/4001"})
	announceInterval := util.GetEnvAsDuration("RELAY_ANNOUNCE_INTERVAL", time.Minute)
	dataDir := util.GetEnv("RELAY_DATA_DIR", "./data/relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewBadgerStore(dataDir)
	if err != nil {
		log.Fatal().Err(err).Str("data_dir", dataDir).Msg("Failed to open peer store")
	}

	h, err := transport.NewHost(listenAddrs, identityKeyHex)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create relay host")
	}
	transport.ConnectBootstrapPeers(ctx, h, loadKnownPeers(ctx, store))

	tp, err := transport.NewGossipTransport(ctx, h, util.GetEnvAsBool("RELAY_LEGACY_TOPICS", true))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start gossip transport")
	}

	// 订阅核心主题以参与网格转发；中继自身不处理消息内容
	for _, topic := range relayedTopics() {
		if err := tp.Subscribe(ctx, topic, func(ctx context.Context, env *transport.Envelope) {}); err != nil {
			log.Fatal().Err(err).Str("topic", topic).Msg("Failed to join relay topic")
		}
	}

	// 打印可直接填入 WALLET_P2P_BOOTSTRAP_PEERS 的完整地址
	p2pSuffix, err := ma.NewMultiaddr("/p2p/" + h.ID().String())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build p2p address suffix")
	}
	dialable := make([]string, 0, len(h.Addrs()))
	for _, addr := range h.Addrs() {
		dialable = append(dialable, addr.Encapsulate(p2pSuffix).String())
	}

	log.Info().
		Str("peer_id", h.ID().String()).
		Strs("addrs", dialable).
		Msg("Relay node started")

	go announceLoop(ctx, h, tp, store, announceInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")

	cancel()
	if err := tp.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close transport")
	}
	if err := h.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close host")
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close peer store")
	}
}

func relayedTopics() []string {
	topics := []string{transport.TopicSigning, transport.TopicPeerExchange}
	for _, capability := range discovery.AllCapabilities() {
		topics = append(topics,
			transport.TopicDiscovery(string(capability)),
			transport.TopicDiscoveryRequest(string(capability)),
		)
	}
	return topics
}

func announceLoop(ctx context.Context, h host.Host, tp transport.Transport, store storage.KV, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers := h.Network().Peers()
			ids := make([]string, 0, len(peers))
			addrs := make([]string, 0, len(peers))
			for _, p := range peers {
				ids = append(ids, p.String())
				for _, addr := range h.Peerstore().Addrs(p) {
					addrs = append(addrs, addr.String()+"/p2p/"+p.String())
				}
			}

			env, err := transport.NewEnvelope(transport.MessageTypePeerExchange, h.ID().String(), transport.PeerExchangePayload{
				RelayID: h.ID().String(),
				Peers:   ids,
			})
			if err != nil {
				log.Error().Err(err).Msg("Failed to build peer exchange message")
				continue
			}
			if err := tp.Publish(ctx, transport.TopicPeerExchange, env); err != nil {
				log.Warn().Err(err).Msg("Failed to broadcast peer list")
			}

			saveKnownPeers(ctx, store, addrs)
			log.Info().Int("connected_peers", len(ids)).Msg("Relay status")
		}
	}
}

func loadKnownPeers(ctx context.Context, store storage.KV) []string {
	raw, err := store.Get(ctx, knownPeersKey)
	if err != nil {
		return nil
	}
	var addrs []string
	if err := json.Unmarshal(raw, &addrs); err != nil {
		log.Warn().Err(err).Msg("Discarding malformed known peer list")
		return nil
	}
	return addrs
}

func saveKnownPeers(ctx context.Context, store storage.KV, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	raw, err := json.Marshal(addrs)
	if err != nil {
		return
	}
	if err := store.Set(ctx, knownPeersKey, raw); err != nil {
		log.Warn().Err(err).Msg("Failed to persist known peer list")
	}
}
