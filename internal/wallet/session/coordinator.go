package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/chain"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/config"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/crypto"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/event"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/transport"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/registry"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/wallet/request"
	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	sessionMetricsOnce       sync.Once
	sessionsStartedCounter   prometheus.Counter
	sessionsCompletedCounter prometheus.Counter
	sessionsFailedCounter    prometheus.Counter
	sessionsSweptCounter     prometheus.Counter
	messagesDroppedCounter   prometheus.Counter
)

func ensureSessionMetrics() {
	sessionMetricsOnce.Do(func() {
		sessionsStartedCounter = promauto.NewCounter(prometheus.CounterOpts{
			Name: "lotus_session_started_total",
			Help: "Number of signing sessions started locally or by accepting a request.",
		})
		sessionsCompletedCounter = promauto.NewCounter(prometheus.CounterOpts{
			Name: "lotus_session_completed_total",
			Help: "Number of signing sessions that produced a final signature.",
		})
		sessionsFailedCounter = promauto.NewCounter(prometheus.CounterOpts{
			Name: "lotus_session_failed_total",
			Help: "Number of signing sessions that ended in failed or aborted.",
		})
		sessionsSweptCounter = promauto.NewCounter(prometheus.CounterOpts{
			Name: "lotus_session_swept_total",
			Help: "Number of signing sessions failed by the expiry sweep.",
		})
		messagesDroppedCounter = promauto.NewCounter(prometheus.CounterOpts{
			Name: "lotus_session_messages_dropped_total",
			Help: "Number of protocol messages dropped by session guards.",
		})
	})
}

// AddressValidator 收款地址校验函数（按当前网络）
type AddressValidator func(address string) error

// earlyMessage 会话创建前到达并被缓存的协议消息
type earlyMessage struct {
	msgType transport.MessageType
	sender  string
	data    string
	addedAt time.Time
}

const (
	maxEarlySessions           = 32
	maxEarlyMessagesPerSession = 16
)

// outboundMsg 在释放锁之后才真正发布的出站消息
type outboundMsg struct {
	topic string
	env   *transport.Envelope
}

// Coordinator 签名会话协调器
//
// 每次签名尝试对应一个 SigningSession。所有状态迁移都经过 canTransition
// 守卫；消息处理器对重复投递幂等，对乱序投递缓存或丢弃。出站发布一律在
// 释放内部锁之后进行，避免同步传输实现造成回环死锁。
type Coordinator struct {
	cfg             config.Session
	registry        *registry.Registry
	ledger          *request.Ledger
	engine          crypto.Engine
	tp              transport.Transport
	source          chain.Source
	bus             *event.Bus
	clock           time2.Clock
	validateAddress AddressValidator

	mu       sync.Mutex
	sessions map[string]*SigningSession
	byWallet map[string]string
	early    map[string][]earlyMessage
}

// NewCoordinator 创建会话协调器
func NewCoordinator(
	cfg config.Session,
	reg *registry.Registry,
	ledger *request.Ledger,
	engine crypto.Engine,
	tp transport.Transport,
	source chain.Source,
	bus *event.Bus,
	clock time2.Clock,
	validateAddress AddressValidator,
) *Coordinator {
	ensureSessionMetrics()
	if validateAddress == nil {
		validateAddress = func(string) error { return nil }
	}
	return &Coordinator{
		cfg:             cfg,
		registry:        reg,
		ledger:          ledger,
		engine:          engine,
		tp:              tp,
		source:          source,
		bus:             bus,
		clock:           clock,
		validateAddress: validateAddress,
		sessions:        make(map[string]*SigningSession),
		byWallet:        make(map[string]string),
		early:           make(map[string][]earlyMessage),
	}
}

// ProposeSpend 从共享钱包发起一次共同花费
//
// 校验失败（余额不足、收款地址非法）在任何会话或请求创建之前同步返回。
// 成功时本地完成密钥聚合并向其余参与者广播签名提案与本地 nonce。
func (c *Coordinator) ProposeSpend(ctx context.Context, walletID, recipient string, amount, fee int64, purpose string) (string, error) {
	wallet, err := c.registry.Get(walletID)
	if err != nil {
		return "", err
	}
	if amount <= 0 || fee < 0 {
		return "", ErrInvalidAmount
	}
	if err := c.validateAddress(recipient); err != nil {
		return "", errors.Wrap(ErrInvalidRecipient, err.Error())
	}
	if amount+fee > wallet.BalanceMinorUnits {
		return "", ErrInsufficientFunds
	}
	if _, ok := c.activeSessionID(walletID); ok {
		return "", ErrSessionInProgress
	}

	draft := Draft{RecipientAddress: recipient, AmountMinorUnits: amount, FeeMinorUnits: fee, Purpose: purpose}
	now := c.clock.Now()
	req := c.ledger.AddOutbound(walletID, "", "", request.Draft(draft), now.Add(c.cfg.RequestExpiry))

	sessionID, outs, events, err := c.launchSession(wallet, draft, true, req.ID)
	if err != nil {
		return "", err
	}
	if err := c.ledger.AttachSession(req.ID, sessionID); err != nil {
		log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to attach session to outbound request")
	}

	c.publishAll(ctx, outs)
	c.emitAll(events)
	log.Info().
		Str("session_id", sessionID).
		Str("wallet_id", walletID).
		Int64("amount", amount).
		Msg("Proposed shared wallet spend")
	return sessionID, nil
}

// HandleIncomingProposal 处理入站签名提案
//
// 仅登记 pending 入站请求；会话在请求被接受之前不创建。提案者必须是
// 对应钱包的参与者，否则消息被丢弃。
func (c *Coordinator) HandleIncomingProposal(ctx context.Context, env *transport.Envelope) (*request.SigningRequest, error) {
	var p transport.ProposalPayload
	if err := env.DecodePayload(&p); err != nil {
		messagesDroppedCounter.Inc()
		return nil, err
	}
	if env.SenderPublicKey == c.engine.PublicKeyHex() {
		return nil, nil
	}

	wallet, err := c.registry.Get(p.WalletID)
	if err != nil {
		messagesDroppedCounter.Inc()
		return nil, errors.Wrapf(err, "proposal for unknown wallet %s", p.WalletID)
	}
	if !wallet.HasParticipant(env.SenderPublicKey) {
		messagesDroppedCounter.Inc()
		return nil, ErrProposerNotParticipant
	}

	// 过期时间以本地配置为上限，不信任提案方给出的更长窗口
	expiresAt := c.clock.Now().Add(c.cfg.RequestExpiry)
	if !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(expiresAt) {
		expiresAt = p.ExpiresAt
	}
	req := c.ledger.AddInbound(p.WalletID, "", env.SenderPublicKey, request.Draft{
		RecipientAddress: p.Recipient,
		AmountMinorUnits: p.Amount,
		FeeMinorUnits:    p.Fee,
		Purpose:          p.Purpose,
	}, expiresAt)
	if env.SessionID != "" {
		if err := c.ledger.AttachSession(req.ID, env.SessionID); err != nil {
			log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to attach proposed session")
		}
	}

	if c.bus != nil {
		c.bus.PublishRequestReceived(event.RequestReceived{
			RequestID:          req.ID,
			WalletID:           p.WalletID,
			CounterpartyPeerID: env.SenderPublicKey,
			Amount:             p.Amount,
			Fee:                p.Fee,
			Recipient:          p.Recipient,
		})
	}
	log.Info().
		Str("request_id", req.ID).
		Str("wallet_id", p.WalletID).
		Str("proposer", env.SenderPublicKey).
		Msg("Received signing proposal")
	return req, nil
}

// AcceptRequest 接受入站请求并创建镜像会话
//
// 会话沿用提案方生成的会话 ID，使 nonce/签名消息在各参与方之间正确路由。
func (c *Coordinator) AcceptRequest(ctx context.Context, requestID string) (string, error) {
	req, err := c.ledger.Get(requestID)
	if err != nil {
		return "", err
	}
	if req.Direction != request.DirectionInbound {
		return "", ErrRequestNotInbound
	}
	if req.Status != request.StatusPending {
		return "", request.ErrNotPending
	}
	// 清扫周期之间到期的请求不可再接受
	if c.clock.Now().After(req.ExpiresAt) {
		if _, err := c.ledger.MarkStatus(requestID, request.StatusExpired); err != nil {
			log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to expire stale request")
		}
		return "", request.ErrNotPending
	}
	if req.SessionID == "" {
		return "", errors.New("inbound request carries no session id")
	}

	wallet, err := c.registry.Get(req.WalletID)
	if err != nil {
		return "", err
	}
	if _, ok := c.activeSessionID(req.WalletID); ok {
		return "", ErrSessionInProgress
	}

	if _, err := c.ledger.MarkStatus(requestID, request.StatusAccepted); err != nil {
		return "", err
	}

	draft := Draft{
		RecipientAddress: req.Draft.RecipientAddress,
		AmountMinorUnits: req.Draft.AmountMinorUnits,
		FeeMinorUnits:    req.Draft.FeeMinorUnits,
		Purpose:          req.Draft.Purpose,
	}
	sessionID, outs, events, err := c.launchMirrorSession(ctx, wallet, draft, req.SessionID, requestID)
	if err != nil {
		return "", err
	}

	c.publishAll(ctx, outs)
	c.emitAll(events)
	log.Info().
		Str("session_id", sessionID).
		Str("request_id", requestID).
		Msg("Accepted signing request")
	return sessionID, nil
}

// RejectRequest 拒绝入站请求并广播拒绝通知
func (c *Coordinator) RejectRequest(ctx context.Context, requestID, reason string) error {
	req, err := c.ledger.Get(requestID)
	if err != nil {
		return err
	}
	if req.Direction != request.DirectionInbound {
		return ErrRequestNotInbound
	}
	if _, err := c.ledger.MarkStatus(requestID, request.StatusRejected); err != nil {
		return err
	}

	env, err := transport.NewEnvelope(transport.MessageTypeReject, c.engine.PublicKeyHex(), transport.RejectPayload{
		WalletID: req.WalletID,
		Reason:   reason,
	})
	if err != nil {
		return err
	}
	env.SessionID = req.SessionID
	env.RequestID = requestID
	c.publishAll(ctx, []outboundMsg{{topic: transport.TopicSigning, env: env}})
	log.Info().Str("request_id", requestID).Str("reason", reason).Msg("Rejected signing request")
	return nil
}

// HandleIncomingNonce 处理参与者 nonce 消息
//
// 对重复 nonce 幂等；未知会话的消息被缓存一小段时间，等待本地请求被接受。
func (c *Coordinator) HandleIncomingNonce(ctx context.Context, env *transport.Envelope) error {
	var p transport.NoncePayload
	if err := env.DecodePayload(&p); err != nil {
		messagesDroppedCounter.Inc()
		return err
	}
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = env.SessionID
	}
	sender := p.PublicKey
	if sender == "" {
		sender = env.SenderPublicKey
	}
	if sender == c.engine.PublicKeyHex() {
		return nil
	}

	var outs []outboundMsg
	var events []event.SessionStateChanged

	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.bufferEarlyLocked(sessionID, transport.MessageTypeNonce, sender, p.Data)
		c.mu.Unlock()
		return nil
	}
	err := c.recordNonceLocked(ctx, s, sender, p.Data, &events, &outs)
	c.mu.Unlock()

	c.publishAll(ctx, outs)
	c.emitAll(events)
	if err != nil {
		messagesDroppedCounter.Inc()
		log.Debug().Err(err).Str("session_id", sessionID).Str("sender", sender).Msg("Dropped nonce message")
	}
	return err
}

// HandleIncomingSignature 处理参与者分片签名消息
//
// 严格要求该参与者已有 nonce 记录；nonce 在而会话尚未进入 signing 时
// 缓存，待进入 signing 后统一应用。
func (c *Coordinator) HandleIncomingSignature(ctx context.Context, env *transport.Envelope) error {
	var p transport.SignaturePayload
	if err := env.DecodePayload(&p); err != nil {
		messagesDroppedCounter.Inc()
		return err
	}
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = env.SessionID
	}
	sender := p.PublicKey
	if sender == "" {
		sender = env.SenderPublicKey
	}
	if sender == c.engine.PublicKeyHex() {
		return nil
	}

	var outs []outboundMsg
	var events []event.SessionStateChanged

	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.bufferEarlyLocked(sessionID, transport.MessageTypePartialSignature, sender, p.Data)
		c.mu.Unlock()
		return nil
	}
	err := c.recordSignatureLocked(ctx, s, sender, p.Data, &events, &outs)
	c.mu.Unlock()

	c.publishAll(ctx, outs)
	c.emitAll(events)
	if err != nil {
		messagesDroppedCounter.Inc()
		log.Debug().Err(err).Str("session_id", sessionID).Str("sender", sender).Msg("Dropped signature message")
	}
	return err
}

// HandleIncomingAbort 处理远端中止通知
func (c *Coordinator) HandleIncomingAbort(ctx context.Context, env *transport.Envelope) error {
	var p transport.AbortPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = env.SessionID
	}
	if env.SenderPublicKey == c.engine.PublicKeyHex() {
		return nil
	}

	var events []event.SessionStateChanged

	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok || s.State.IsTerminal() {
		c.mu.Unlock()
		return nil
	}
	if s.participant(env.SenderPublicKey) == nil {
		c.mu.Unlock()
		messagesDroppedCounter.Inc()
		return ErrUnknownParticipant
	}
	reason := "aborted by " + env.SenderPublicKey
	if p.Reason != "" {
		reason += ": " + p.Reason
	}
	_ = c.transitionLocked(s, StateAborted, reason, &events)
	c.engine.EndSession(s.ID)
	c.mu.Unlock()

	c.emitAll(events)
	sessionsFailedCounter.Inc()
	return nil
}

// HandleIncomingReject 处理远端对本地提案的拒绝
//
// n-of-n 协议下任一参与者拒绝即无法完成，对应会话直接中止。
func (c *Coordinator) HandleIncomingReject(ctx context.Context, env *transport.Envelope) error {
	var p transport.RejectPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	if env.SenderPublicKey == c.engine.PublicKeyHex() {
		return nil
	}

	var events []event.SessionStateChanged

	c.mu.Lock()
	sessionID := env.SessionID
	if sessionID == "" {
		sessionID = c.byWallet[p.WalletID]
	}
	s, ok := c.sessions[sessionID]
	if !ok || s.State.IsTerminal() {
		c.mu.Unlock()
		return nil
	}
	if s.participant(env.SenderPublicKey) == nil {
		c.mu.Unlock()
		messagesDroppedCounter.Inc()
		return ErrUnknownParticipant
	}
	requestID := s.RequestID
	reason := "rejected by " + env.SenderPublicKey
	if p.Reason != "" {
		reason += ": " + p.Reason
	}
	_ = c.transitionLocked(s, StateAborted, reason, &events)
	c.engine.EndSession(s.ID)
	c.mu.Unlock()

	if requestID != "" {
		if _, err := c.ledger.MarkStatus(requestID, request.StatusRejected); err != nil && !errors.Is(err, request.ErrNotPending) {
			log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to mark rejected request")
		}
	}
	c.emitAll(events)
	sessionsFailedCounter.Inc()
	return nil
}

// AbortSession 本地中止会话并广播中止通知
func (c *Coordinator) AbortSession(ctx context.Context, sessionID, reason string) error {
	var events []event.SessionStateChanged

	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.State.IsTerminal() {
		c.mu.Unlock()
		return ErrTerminalSession
	}
	_ = c.transitionLocked(s, StateAborted, reason, &events)
	c.engine.EndSession(sessionID)
	c.mu.Unlock()

	env, err := transport.NewEnvelope(transport.MessageTypeAbort, c.engine.PublicKeyHex(), transport.AbortPayload{
		SessionID: sessionID,
		Reason:    reason,
	})
	if err == nil {
		env.SessionID = sessionID
		c.publishAll(ctx, []outboundMsg{{topic: transport.TopicSigning, env: env}})
	}
	c.emitAll(events)
	sessionsFailedCounter.Inc()
	log.Info().Str("session_id", sessionID).Str("reason", reason).Msg("Aborted signing session")
	return nil
}

// RetrySession 基于 failed/aborted 会话重新发起一次签名尝试
//
// 新会话沿用钱包与交易草案，参与者进度清零；本地参与者随会话创建即
// 完成 nonce 准备。
func (c *Coordinator) RetrySession(ctx context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	prev, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return "", ErrSessionNotFound
	}
	if prev.State != StateFailed && prev.State != StateAborted {
		c.mu.Unlock()
		return "", ErrRetryNotAllowed
	}
	walletID := prev.WalletID
	draft := prev.Draft
	isInitiator := prev.IsInitiator
	c.mu.Unlock()

	wallet, err := c.registry.Get(walletID)
	if err != nil {
		return "", err
	}
	if _, ok := c.activeSessionID(walletID); ok {
		return "", ErrSessionInProgress
	}

	requestID := ""
	if isInitiator {
		req := c.ledger.AddOutbound(walletID, "", "", request.Draft(draft), c.clock.Now().Add(c.cfg.RequestExpiry))
		requestID = req.ID
	}

	newID, outs, events, err := c.launchSession(wallet, draft, isInitiator, requestID)
	if err != nil {
		return "", err
	}
	if requestID != "" {
		if err := c.ledger.AttachSession(requestID, newID); err != nil {
			log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to attach session to retry request")
		}
	}

	c.publishAll(ctx, outs)
	c.emitAll(events)
	log.Info().Str("previous", sessionID).Str("session_id", newID).Msg("Retried signing session")
	return newID, nil
}

// SweepExpired 中心化过期清扫
//
// 将所有超过 expiresAt 的非终止会话置为 failed("timeout")，清理久置的
// 终止会话与早到消息缓存，并顺带清扫请求账本。
func (c *Coordinator) SweepExpired(ctx context.Context) int {
	now := c.clock.Now()
	var events []event.SessionStateChanged

	c.mu.Lock()
	swept := 0
	for id, s := range c.sessions {
		if !s.State.IsTerminal() && !s.ExpiresAt.After(now) {
			_ = c.transitionLocked(s, StateFailed, "timeout", &events)
			c.engine.EndSession(id)
			swept++
			continue
		}
		if s.State.IsTerminal() && !s.ExpiresAt.Add(c.cfg.SessionTimeout).After(now) {
			delete(c.sessions, id)
		}
	}
	for id, msgs := range c.early {
		kept := msgs[:0]
		for _, m := range msgs {
			if now.Sub(m.addedAt) < c.cfg.RequestExpiry {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(c.early, id)
		} else {
			c.early[id] = kept
		}
	}
	c.mu.Unlock()

	expired := c.ledger.ExpireStale()
	c.emitAll(events)
	if swept > 0 || expired > 0 {
		sessionsSweptCounter.Add(float64(swept))
		sessionsFailedCounter.Add(float64(swept))
		log.Info().Int("sessions", swept).Int("requests", expired).Msg("Swept expired sessions and requests")
	}
	return swept
}

// GetSession 按 ID 查询会话快照
func (c *Coordinator) GetSession(sessionID string) (*SigningSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return snapshotSession(s), nil
}

// ListSessions 列出全部会话快照
func (c *Coordinator) ListSessions() []*SigningSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*SigningSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, snapshotSession(s))
	}
	return out
}

// ActiveSessionForWallet 钱包当前的非终止会话
func (c *Coordinator) ActiveSessionForWallet(walletID string) (*SigningSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.byWallet[walletID]
	if !ok {
		return nil, false
	}
	s, ok := c.sessions[id]
	if !ok || s.State.IsTerminal() {
		return nil, false
	}
	return snapshotSession(s), true
}

// launchSession 创建并启动一个本地发起的会话（ProposeSpend / Retry 共用）
func (c *Coordinator) launchSession(wallet *registry.SharedWallet, draft Draft, isInitiator bool, requestID string) (string, []outboundMsg, []event.SessionStateChanged, error) {
	sessionID := "session-" + uuid.New().String()
	pubNonce, err := c.engine.StartSession(sessionID, wallet.ParticipantKeys())
	if err != nil {
		return "", nil, nil, errors.Wrap(err, "failed to start cryptographic session")
	}
	return c.installSession(wallet, draft, sessionID, requestID, isInitiator, pubNonce, true)
}

// launchMirrorSession 创建接受提案后的镜像会话（沿用对方的会话 ID）
func (c *Coordinator) launchMirrorSession(ctx context.Context, wallet *registry.SharedWallet, draft Draft, sessionID, requestID string) (string, []outboundMsg, []event.SessionStateChanged, error) {
	pubNonce, err := c.engine.StartSession(sessionID, wallet.ParticipantKeys())
	if err != nil {
		return "", nil, nil, errors.Wrap(err, "failed to start cryptographic session")
	}
	return c.installSession(wallet, draft, sessionID, requestID, false, pubNonce, false)
}

func (c *Coordinator) installSession(wallet *registry.SharedWallet, draft Draft, sessionID, requestID string, isInitiator bool, pubNonce string, publishProposal bool) (string, []outboundMsg, []event.SessionStateChanged, error) {
	now := c.clock.Now()
	s := &SigningSession{
		ID:                sessionID,
		WalletID:          wallet.ID,
		RequestID:         requestID,
		IsInitiator:       isInitiator,
		State:             StateCreated,
		Draft:             draft,
		CreatedAt:         now,
		ExpiresAt:         now.Add(c.cfg.SessionTimeout),
		pendingSignatures: make(map[string]string),
	}
	for _, p := range wallet.Participants {
		s.Participants = append(s.Participants, &Participant{
			PublicKey: p.PublicKey,
			PeerID:    p.PeerID,
			Nickname:  p.Nickname,
			IsSelf:    p.IsSelf,
		})
	}

	var outs []outboundMsg
	var events []event.SessionStateChanged

	c.mu.Lock()
	if id, ok := c.byWallet[wallet.ID]; ok {
		if existing, found := c.sessions[id]; found && !existing.State.IsTerminal() {
			c.mu.Unlock()
			c.engine.EndSession(sessionID)
			return "", nil, nil, ErrSessionInProgress
		}
	}
	c.sessions[sessionID] = s
	c.byWallet[wallet.ID] = sessionID

	_ = c.transitionLocked(s, StateKeyAggregation, "", &events)
	_ = c.transitionLocked(s, StateKeysAggregated, "", &events)
	if self := s.self(); self != nil {
		self.HasNonce = true
	}
	_ = c.transitionLocked(s, StateNonceExchange, "", &events)

	if publishProposal && isInitiator {
		if env, err := transport.NewEnvelope(transport.MessageTypeProposal, c.engine.PublicKeyHex(), transport.ProposalPayload{
			WalletID:  wallet.ID,
			Recipient: draft.RecipientAddress,
			Amount:    draft.AmountMinorUnits,
			Fee:       draft.FeeMinorUnits,
			Purpose:   draft.Purpose,
			ExpiresAt: now.Add(c.cfg.RequestExpiry),
		}); err == nil {
			env.SessionID = sessionID
			env.RequestID = requestID
			outs = append(outs, outboundMsg{topic: transport.TopicSigning, env: env})
		}
	}
	if env, err := transport.NewEnvelope(transport.MessageTypeNonce, c.engine.PublicKeyHex(), transport.NoncePayload{
		SessionID: sessionID,
		PublicKey: c.engine.PublicKeyHex(),
		Data:      pubNonce,
	}); err == nil {
		env.SessionID = sessionID
		outs = append(outs, outboundMsg{topic: transport.TopicSigning, env: env})
	}

	// 被接受的镜像会话可能已有早到的 nonce/签名在等待
	c.applyEarlyLocked(context.Background(), s, &events, &outs)
	c.mu.Unlock()

	sessionsStartedCounter.Inc()
	return sessionID, outs, events, nil
}

// recordNonceLocked 登记参与者 nonce；集齐后推进到 signing 并产出本地分片签名
func (c *Coordinator) recordNonceLocked(ctx context.Context, s *SigningSession, sender, data string, events *[]event.SessionStateChanged, outs *[]outboundMsg) error {
	if s.State.IsTerminal() {
		return ErrTerminalSession
	}
	p := s.participant(sender)
	if p == nil {
		return ErrUnknownParticipant
	}
	if p.HasNonce {
		log.Debug().Str("session_id", s.ID).Str("sender", sender).Msg("Duplicate nonce ignored")
		return nil
	}

	if _, err := c.engine.RegisterNonce(s.ID, data); err != nil {
		return errors.Wrap(err, "failed to register nonce")
	}
	p.HasNonce = true

	if !s.allNonces() {
		return nil
	}
	if err := c.transitionLocked(s, StateNoncesExchanged, "", events); err != nil {
		return err
	}
	if err := c.transitionLocked(s, StateSigning, "", events); err != nil {
		return err
	}

	hash := s.MessageHash()
	partial, err := c.engine.PartialSign(s.ID, hash[:])
	if err != nil {
		_ = c.transitionLocked(s, StateFailed, "partial signing failed", events)
		c.engine.EndSession(s.ID)
		sessionsFailedCounter.Inc()
		return errors.Wrap(err, "failed to produce partial signature")
	}
	if self := s.self(); self != nil {
		self.HasSignature = true
	}
	if env, err := transport.NewEnvelope(transport.MessageTypePartialSignature, c.engine.PublicKeyHex(), transport.SignaturePayload{
		SessionID: s.ID,
		PublicKey: c.engine.PublicKeyHex(),
		Data:      partial,
	}); err == nil {
		env.SessionID = s.ID
		*outs = append(*outs, outboundMsg{topic: transport.TopicSigning, env: env})
	}

	// 应用在 signing 之前到达并被缓存的分片签名
	for key, sig := range s.pendingSignatures {
		delete(s.pendingSignatures, key)
		if err := c.recordSignatureLocked(ctx, s, key, sig, events, outs); err != nil {
			log.Debug().Err(err).Str("session_id", s.ID).Str("sender", key).Msg("Dropped buffered signature")
		}
		if s.State.IsTerminal() {
			break
		}
	}
	return nil
}

// recordSignatureLocked 登记参与者分片签名；集齐后聚合、广播并完成会话
func (c *Coordinator) recordSignatureLocked(ctx context.Context, s *SigningSession, sender, data string, events *[]event.SessionStateChanged, outs *[]outboundMsg) error {
	if s.State.IsTerminal() {
		return ErrTerminalSession
	}
	p := s.participant(sender)
	if p == nil {
		return ErrUnknownParticipant
	}
	if p.HasSignature {
		log.Debug().Str("session_id", s.ID).Str("sender", sender).Msg("Duplicate signature ignored")
		return nil
	}
	if !p.HasNonce {
		return errors.New("signature received before nonce")
	}
	if s.State != StateSigning {
		s.pendingSignatures[sender] = data
		log.Debug().Str("session_id", s.ID).Str("sender", sender).Msg("Buffered early signature")
		return nil
	}

	if _, err := c.engine.CombinePartial(s.ID, data); err != nil {
		return errors.Wrap(err, "failed to combine partial signature")
	}
	p.HasSignature = true

	if !s.allSignatures() {
		return nil
	}
	return c.finalizeLocked(ctx, s, events)
}

// finalizeLocked 聚合最终签名、组装交易并广播
func (c *Coordinator) finalizeLocked(ctx context.Context, s *SigningSession, events *[]event.SessionStateChanged) error {
	hash := s.MessageHash()
	sigHex, err := c.engine.FinalSignature(s.ID)
	if err != nil {
		_ = c.transitionLocked(s, StateFailed, "signature aggregation failed", events)
		c.engine.EndSession(s.ID)
		sessionsFailedCounter.Inc()
		return errors.Wrap(err, "failed to aggregate final signature")
	}
	if ok, err := c.engine.VerifyFinal(s.ID, hash[:], sigHex); err != nil || !ok {
		_ = c.transitionLocked(s, StateFailed, "aggregate signature verification failed", events)
		c.engine.EndSession(s.ID)
		sessionsFailedCounter.Inc()
		return errors.New("aggregate signature does not verify")
	}

	rawTx, err := encodeSignedTransaction(s, sigHex)
	if err != nil {
		_ = c.transitionLocked(s, StateFailed, "transaction assembly failed", events)
		c.engine.EndSession(s.ID)
		sessionsFailedCounter.Inc()
		return err
	}
	txID, err := c.source.Broadcast(ctx, rawTx)
	if err != nil {
		_ = c.transitionLocked(s, StateFailed, "broadcast failed: "+err.Error(), events)
		c.engine.EndSession(s.ID)
		sessionsFailedCounter.Inc()
		return errors.Wrap(err, "failed to broadcast signed transaction")
	}

	now := c.clock.Now()
	s.ResultTxID = txID
	s.CompletedAt = &now
	_ = c.transitionLocked(s, StateCompleted, "", events)
	c.engine.EndSession(s.ID)
	sessionsCompletedCounter.Inc()

	if s.RequestID != "" {
		if _, err := c.ledger.MarkStatus(s.RequestID, request.StatusAccepted); err != nil && !errors.Is(err, request.ErrNotPending) {
			log.Warn().Err(err).Str("request_id", s.RequestID).Msg("Failed to settle originating request")
		}
	}
	log.Info().Str("session_id", s.ID).Str("tx_id", txID).Msg("Signing session completed")
	return nil
}

// transitionLocked 应用一次状态迁移并收集对应事件
func (c *Coordinator) transitionLocked(s *SigningSession, to State, reason string, events *[]event.SessionStateChanged) error {
	if !canTransition(s.State, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", s.State, to)
	}
	from := s.State
	s.State = to
	if to.IsTerminal() {
		if to != StateCompleted {
			s.ErrorReason = reason
		}
		if c.byWallet[s.WalletID] == s.ID {
			delete(c.byWallet, s.WalletID)
		}
		s.pendingSignatures = nil
	}
	*events = append(*events, event.SessionStateChanged{
		SessionID: s.ID,
		WalletID:  s.WalletID,
		From:      string(from),
		To:        string(to),
		Reason:    reason,
		TxID:      s.ResultTxID,
	})
	return nil
}

// bufferEarlyLocked 缓存会话创建之前到达的协议消息
func (c *Coordinator) bufferEarlyLocked(sessionID string, msgType transport.MessageType, sender, data string) {
	if len(c.early) >= maxEarlySessions {
		if _, ok := c.early[sessionID]; !ok {
			messagesDroppedCounter.Inc()
			return
		}
	}
	msgs := c.early[sessionID]
	if len(msgs) >= maxEarlyMessagesPerSession {
		messagesDroppedCounter.Inc()
		return
	}
	c.early[sessionID] = append(msgs, earlyMessage{
		msgType: msgType,
		sender:  sender,
		data:    data,
		addedAt: c.clock.Now(),
	})
	log.Debug().Str("session_id", sessionID).Str("type", string(msgType)).Msg("Buffered early protocol message")
}

// applyEarlyLocked 将缓存的早到消息重放进新建会话
func (c *Coordinator) applyEarlyLocked(ctx context.Context, s *SigningSession, events *[]event.SessionStateChanged, outs *[]outboundMsg) {
	msgs, ok := c.early[s.ID]
	if !ok {
		return
	}
	delete(c.early, s.ID)

	for _, m := range msgs {
		var err error
		switch m.msgType {
		case transport.MessageTypeNonce:
			err = c.recordNonceLocked(ctx, s, m.sender, m.data, events, outs)
		case transport.MessageTypePartialSignature:
			err = c.recordSignatureLocked(ctx, s, m.sender, m.data, events, outs)
		}
		if err != nil {
			log.Debug().Err(err).Str("session_id", s.ID).Str("sender", m.sender).Msg("Dropped buffered message")
		}
		if s.State.IsTerminal() {
			return
		}
	}
}

func (c *Coordinator) activeSessionID(walletID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.byWallet[walletID]
	if !ok {
		return "", false
	}
	s, ok := c.sessions[id]
	if !ok || s.State.IsTerminal() {
		return "", false
	}
	return id, true
}

func (c *Coordinator) publishAll(ctx context.Context, outs []outboundMsg) {
	for _, out := range outs {
		if err := c.tp.Publish(ctx, out.topic, out.env); err != nil {
			// 发布失败按瞬态处理：会话等待超时而不是立即失败
			log.Warn().Err(err).Str("topic", out.topic).Str("type", string(out.env.Type)).Msg("Failed to publish session message")
		}
	}
}

func (c *Coordinator) emitAll(events []event.SessionStateChanged) {
	if c.bus == nil {
		return
	}
	for _, e := range events {
		c.bus.PublishSessionState(e)
	}
}

// encodeSignedTransaction 组装最终交易的线格式
func encodeSignedTransaction(s *SigningSession, sigHex string) (string, error) {
	raw, err := json.Marshal(struct {
		SessionID string `json:"sessionId"`
		WalletID  string `json:"walletId"`
		Draft     Draft  `json:"draft"`
		Signature string `json:"signature"`
	}{
		SessionID: s.ID,
		WalletID:  s.WalletID,
		Draft:     s.Draft,
		Signature: sigHex,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode signed transaction")
	}
	return hex.EncodeToString(raw), nil
}

func snapshotSession(s *SigningSession) *SigningSession {
	copied := *s
	copied.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		participant := *p
		copied.Participants[i] = &participant
	}
	copied.pendingSignatures = nil
	return &copied
}
