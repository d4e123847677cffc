package request

import (
	"sort"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Ledger 签名请求账本
//
// 记录仅存活于进程生命周期内；过期由中心化清扫驱动，没有每条记录的
// 独立定时器。
type Ledger struct {
	clock time2.Clock

	mu       sync.Mutex
	requests map[string]*SigningRequest
}

// NewLedger 创建请求账本
func NewLedger(clock time2.Clock) *Ledger {
	return &Ledger{
		clock:    clock,
		requests: make(map[string]*SigningRequest),
	}
}

// AddInbound 登记入站请求（pending，带固定过期窗口）
func (l *Ledger) AddInbound(walletID, counterpartyPeerID, counterpartyKey string, draft Draft, expiresAt time.Time) *SigningRequest {
	return l.add(DirectionInbound, walletID, counterpartyPeerID, counterpartyKey, draft, expiresAt)
}

// AddOutbound 登记出站请求
func (l *Ledger) AddOutbound(walletID, counterpartyPeerID, counterpartyKey string, draft Draft, expiresAt time.Time) *SigningRequest {
	return l.add(DirectionOutbound, walletID, counterpartyPeerID, counterpartyKey, draft, expiresAt)
}

// MarkStatus 更新请求状态；pending 之外的记录不再变更
func (l *Ledger) MarkStatus(requestID string, status Status) (*SigningRequest, error) {
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, ErrInvalidStatus
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}
	req.Status = status
	snapshot := *req
	return &snapshot, nil
}

// AttachSession 在请求被接受并创建会话后回填 sessionId
func (l *Ledger) AttachSession(requestID, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	req.SessionID = sessionID
	return nil
}

// CancelOutbound 取消出站请求；仅 pending 时有效
func (l *Ledger) CancelOutbound(requestID string) (*SigningRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Direction != DirectionOutbound {
		return nil, ErrNotOutbound
	}
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}
	req.Status = StatusCancelled
	snapshot := *req
	return &snapshot, nil
}

// ExpireStale 将所有已过期的 pending 记录移至 expired，返回处理数量
func (l *Ledger) ExpireStale() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	expired := 0
	for _, req := range l.requests {
		if req.Status == StatusPending && !req.ExpiresAt.After(now) {
			req.Status = StatusExpired
			expired++
			log.Debug().
				Str("request_id", req.ID).
				Str("wallet_id", req.WalletID).
				Msg("Expired stale signing request")
		}
	}
	return expired
}

// Get 按 ID 查询请求
func (l *Ledger) Get(requestID string) (*SigningRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	snapshot := *req
	return &snapshot, nil
}

// List 按创建时间降序列出全部请求
func (l *Ledger) List() []*SigningRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*SigningRequest, 0, len(l.requests))
	for _, req := range l.requests {
		snapshot := *req
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// PendingForWallet 钱包当前的 pending 请求
func (l *Ledger) PendingForWallet(walletID string) []*SigningRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*SigningRequest, 0)
	for _, req := range l.requests {
		if req.WalletID == walletID && req.Status == StatusPending {
			snapshot := *req
			out = append(out, &snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (l *Ledger) add(direction Direction, walletID, counterpartyPeerID, counterpartyKey string, draft Draft, expiresAt time.Time) *SigningRequest {
	req := &SigningRequest{
		ID:                 "request-" + uuid.New().String(),
		Direction:          direction,
		WalletID:           walletID,
		CounterpartyPeerID: counterpartyPeerID,
		CounterpartyKey:    counterpartyKey,
		Status:             StatusPending,
		Draft:              draft,
		CreatedAt:          l.clock.Now(),
		ExpiresAt:          expiresAt,
	}

	l.mu.Lock()
	l.requests[req.ID] = req
	snapshot := *req
	l.mu.Unlock()
	return &snapshot
}
