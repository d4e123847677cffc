package transport

import (
	"context"
	"encoding/hex"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NewHost 创建 libp2p 宿主
//
// identityKeyHex 为空时使用随机身份（peer ID 随进程变化）。
func NewHost(listenAddrs []string, identityKeyHex string) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(listenAddrs...),
	}

	if identityKeyHex != "" {
		raw, err := hex.DecodeString(identityKeyHex)
		if err != nil || len(raw) != 32 {
			return nil, errors.New("identity key must be 32 bytes hex")
		}
		priv, err := libp2pcrypto.UnmarshalSecp256k1PrivateKey(raw)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse identity key")
		}
		opts = append(opts, libp2p.Identity(priv))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create libp2p host")
	}
	return h, nil
}

// ConnectBootstrapPeers 连接引导/中继节点；单个失败不阻塞其余
func ConnectBootstrapPeers(ctx context.Context, h host.Host, addrs []string) {
	for _, addr := range addrs {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("Skipping malformed bootstrap address")
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			log.Warn().Err(err).Str("peer_id", info.ID.String()).Msg("Failed to connect bootstrap peer")
			continue
		}
		log.Info().Str("peer_id", info.ID.String()).Msg("Connected to bootstrap peer")
	}
}
