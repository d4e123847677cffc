package app

import (
	"context"
	"sync"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/chain"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/config"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/crypto"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/event"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/storage"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/transport"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/discovery"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/registry"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/request"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/session"
	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Service 共享钱包守护进程的组合根
//
// 唯一的发现缓存实例由这里构造并注入各消费方；进程内不允许出现第二个
// 实例。Shutdown 保证缓存的最后一次强制落盘。
type Service struct {
	Config      config.Service
	Bus         *event.Bus
	Cache       *discovery.Cache
	Registry    *registry.Registry
	Ledger      *request.Ledger
	Coordinator *session.Coordinator

	clock  time2.Clock
	store  storage.KV
	engine crypto.Engine
	tp     transport.Transport
	source chain.Source

	mu            sync.Mutex
	started       bool
	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
}

// NewService 组装全部钱包组件
func NewService(cfg config.Service, store storage.KV, engine crypto.Engine, tp transport.Transport, source chain.Source, clock time2.Clock) (*Service, error) {
	params, err := crypto.NetworkParams(cfg.Node.Network)
	if err != nil {
		return nil, err
	}
	validate := func(address string) error {
		return crypto.ValidateAddress(address, params)
	}

	bus := event.NewBus()
	cache := discovery.NewCache(store, clock, bus, cfg.Discovery)
	reg := registry.NewRegistry(store, clock, engine, source)
	ledger := request.NewLedger(clock)
	coord := session.NewCoordinator(cfg.Session, reg, ledger, engine, tp, source, bus, clock, validate)

	return &Service{
		Config:      cfg,
		Bus:         bus,
		Cache:       cache,
		Registry:    reg,
		Ledger:      ledger,
		Coordinator: coord,
		clock:       clock,
		store:       store,
		engine:      engine,
		tp:          tp,
		source:      source,
	}, nil
}

// PublicKeyHex 本地签名公钥
func (s *Service) PublicKeyHex() string {
	return s.engine.PublicKeyHex()
}

// Start 恢复持久化状态、挂接传输分发并启动后台清扫
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Cache.Load(ctx); err != nil {
		return errors.Wrap(err, "failed to load signer cache")
	}
	if err := s.Registry.Load(ctx); err != nil {
		return errors.Wrap(err, "failed to load wallet registry")
	}

	if err := s.tp.Subscribe(ctx, transport.TopicSigning, s.dispatchSigning); err != nil {
		return errors.Wrap(err, "failed to subscribe to signing topic")
	}
	for _, capability := range discovery.AllCapabilities() {
		if err := s.tp.Subscribe(ctx, transport.TopicDiscovery(string(capability)), s.handleAdvertisement); err != nil {
			return errors.Wrapf(err, "failed to subscribe to discovery topic %s", capability)
		}
		if err := s.tp.Subscribe(ctx, transport.TopicDiscoveryRequest(string(capability)), s.handleDiscoveryRequest); err != nil {
			return errors.Wrapf(err, "failed to subscribe to discovery request topic %s", capability)
		}
	}

	janitorCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.janitorCancel = cancel
	s.janitorDone = make(chan struct{})
	s.mu.Unlock()
	go s.janitor(janitorCtx)

	s.Advertise(ctx)
	log.Info().
		Str("public_key", s.engine.PublicKeyHex()).
		Str("network", s.Config.Node.Network).
		Msg("Shared wallet service started")
	return nil
}

// Shutdown 停止后台任务并强制缓存落盘
//
// 即使缓存的去抖窗口尚未到期，这里也必须完成最后一次同步写。
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.janitorCancel
	done := s.janitorDone
	s.janitorCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	flushErr := s.Cache.Close(ctx)
	if err := s.tp.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close transport")
	}
	log.Info().Msg("Shared wallet service stopped")
	return flushErr
}

// Advertise 向各能力主题广播本节点的签名者广告
func (s *Service) Advertise(ctx context.Context) {
	ttl := s.Config.Discovery.AdvertisementTTL
	payload := transport.AdvertisementPayload{
		PublicKey:    s.engine.PublicKeyHex(),
		Nickname:     s.Config.Node.Nickname,
		Capabilities: discovery.NewCapabilitySet(discovery.AllCapabilities()...).Strings(),
		TTLSeconds:   int64(ttl / time.Second),
	}
	env, err := transport.NewEnvelope(transport.MessageTypeAdvertisement, s.engine.PublicKeyHex(), payload)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build advertisement")
		return
	}
	for _, capability := range discovery.AllCapabilities() {
		if err := s.tp.Publish(ctx, transport.TopicDiscovery(string(capability)), env); err != nil {
			log.Warn().Err(err).Str("capability", string(capability)).Msg("Failed to publish advertisement")
		}
	}
}

// RequestSigners 广播签名者发现请求，促使在线节点重新广告
func (s *Service) RequestSigners(ctx context.Context, capability discovery.Capability) error {
	env, err := transport.NewEnvelope(transport.MessageTypeDiscoveryRequest, s.engine.PublicKeyHex(), struct{}{})
	if err != nil {
		return err
	}
	return s.tp.Publish(ctx, transport.TopicDiscoveryRequest(string(capability)), env)
}

// ListSigners 当前未过期的签名者
func (s *Service) ListSigners() []*discovery.CachedSignerEntry {
	return s.Cache.GetValidSigners()
}

// AddSignerManually 手工登记一个签名者
func (s *Service) AddSignerManually(ctx context.Context, ad discovery.SignerAdvertisement) (*discovery.CachedSignerEntry, error) {
	return s.Cache.Upsert(ctx, ad, discovery.SourceManual)
}

// ImportWallet 登记对端同步来的共享钱包镜像
//
// 对端记录里的 IsSelf 标记指向对端自己，这里按本地签名公钥重算；
// 聚合密钥与派生地址由注册表本地重新派生。
func (s *Service) ImportWallet(ctx context.Context, wallet *registry.SharedWallet) (*registry.SharedWallet, error) {
	self := s.engine.PublicKeyHex()
	mirrored := *wallet
	mirrored.Participants = append([]registry.Participant(nil), wallet.Participants...)
	for i := range mirrored.Participants {
		mirrored.Participants[i].IsSelf = mirrored.Participants[i].PublicKey == self
	}

	if err := s.Registry.Import(ctx, &mirrored); err != nil {
		return nil, err
	}
	return s.Registry.Get(mirrored.ID)
}

// dispatchSigning 签名主题消息分发
func (s *Service) dispatchSigning(ctx context.Context, env *transport.Envelope) {
	var err error
	switch env.Type {
	case transport.MessageTypeProposal:
		_, err = s.Coordinator.HandleIncomingProposal(ctx, env)
	case transport.MessageTypeNonce:
		err = s.Coordinator.HandleIncomingNonce(ctx, env)
	case transport.MessageTypePartialSignature:
		err = s.Coordinator.HandleIncomingSignature(ctx, env)
	case transport.MessageTypeAbort:
		err = s.Coordinator.HandleIncomingAbort(ctx, env)
	case transport.MessageTypeReject:
		err = s.Coordinator.HandleIncomingReject(ctx, env)
	default:
		log.Debug().Str("type", string(env.Type)).Msg("Ignoring unexpected signing message")
	}
	if err != nil {
		log.Debug().Err(err).Str("type", string(env.Type)).Msg("Signing message dropped")
	}
}

// handleAdvertisement 收录入站签名者广告
func (s *Service) handleAdvertisement(ctx context.Context, env *transport.Envelope) {
	if env.Type != transport.MessageTypeAdvertisement || env.SenderPublicKey == s.engine.PublicKeyHex() {
		return
	}
	var p transport.AdvertisementPayload
	if err := env.DecodePayload(&p); err != nil {
		log.Debug().Err(err).Msg("Dropping malformed advertisement")
		return
	}
	if p.PublicKey == "" {
		p.PublicKey = env.SenderPublicKey
	}

	now := s.clock.Now()
	ttl := s.Config.Discovery.AdvertisementTTL
	if p.TTLSeconds > 0 {
		ttl = time.Duration(p.TTLSeconds) * time.Second
	}
	ad := discovery.SignerAdvertisement{
		PublicKey:            p.PublicKey,
		PeerID:               p.PeerID,
		Nickname:             p.Nickname,
		Capabilities:         discovery.CapabilitySetFromStrings(p.Capabilities),
		FeeHint:              p.FeeHint,
		ResponseTimeEstimate: time.Duration(p.ResponseTimeEstimate) * time.Millisecond,
		LastSeen:             now,
		ExpiresAt:            now.Add(ttl),
	}
	if _, err := s.Cache.Upsert(ctx, ad, discovery.SourceGossip); err != nil {
		log.Debug().Err(err).Msg("Failed to cache signer advertisement")
	}
}

// handleDiscoveryRequest 响应签名者发现请求
func (s *Service) handleDiscoveryRequest(ctx context.Context, env *transport.Envelope) {
	if env.Type != transport.MessageTypeDiscoveryRequest || env.SenderPublicKey == s.engine.PublicKeyHex() {
		return
	}
	s.Advertise(ctx)
}

// janitor 中心化后台清扫：会话/请求过期、缓存清理、周期性广告
func (s *Service) janitor(ctx context.Context) {
	defer close(s.janitorDone)

	sweepInterval := s.Config.Session.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 15 * time.Second
	}
	cleanupInterval := s.Config.Discovery.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	advertiseInterval := s.Config.Discovery.AdvertisementTTL / 2
	if advertiseInterval <= 0 {
		advertiseInterval = 15 * time.Minute
	}

	sweep := time.NewTicker(sweepInterval)
	cleanup := time.NewTicker(cleanupInterval)
	advertise := time.NewTicker(advertiseInterval)
	defer sweep.Stop()
	defer cleanup.Stop()
	defer advertise.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			s.Coordinator.SweepExpired(ctx)
		case <-cleanup.C:
			if removed := s.Cache.CleanupExpired(ctx); removed > 0 {
				log.Debug().Int("removed", removed).Msg("Cleaned up expired signer entries")
			}
		case <-advertise.C:
			s.Advertise(ctx)
		}
	}
}
