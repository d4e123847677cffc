package session

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrSessionNotFound        = errors.New("signing session not found")
	ErrSessionInProgress      = errors.New("wallet already has a signing session in progress")
	ErrInsufficientFunds      = errors.New("insufficient funds for amount plus fee")
	ErrInvalidRecipient       = errors.New("recipient address is not valid for the active network")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidTransition      = errors.New("invalid session state transition")
	ErrTerminalSession        = errors.New("session is in a terminal state")
	ErrUnknownParticipant     = errors.New("participant is not part of this session")
	ErrRetryNotAllowed        = errors.New("only failed or aborted sessions can be retried")
	ErrProposerNotParticipant = errors.New("proposer is not a participant of the wallet")
	ErrRequestNotInbound      = errors.New("only inbound requests can be accepted or rejected")
)

// State 签名会话状态
type State string

const (
	StateCreated         State = "created"
	StateKeyAggregation  State = "key_aggregation"
	StateKeysAggregated  State = "keys_aggregated"
	StateNonceExchange   State = "nonce_exchange"
	StateNoncesExchanged State = "nonces_exchanged"
	StateSigning         State = "signing"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
	StateAborted         State = "aborted"
)

// IsTerminal 是否为终止状态
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateAborted:
		return true
	}
	return false
}

// forwardOrder 非终止状态的前进序
var forwardOrder = map[State]int{
	StateCreated:         0,
	StateKeyAggregation:  1,
	StateKeysAggregated:  2,
	StateNonceExchange:   3,
	StateNoncesExchanged: 4,
	StateSigning:         5,
}

// canTransition 状态机守卫：非终止状态只能前进一格，或跳入任一终止状态；
// 终止状态不接受任何迁移
func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	fromOrder, ok := forwardOrder[from]
	if !ok {
		return false
	}
	toOrder, ok := forwardOrder[to]
	if !ok {
		return false
	}
	return toOrder == fromOrder+1
}

// Participant 会话参与者及其贡献进度
//
// 不变量：HasSignature 为真时 HasNonce 必为真。
type Participant struct {
	PublicKey    string `json:"publicKey"`
	PeerID       string `json:"peerId,omitempty"`
	Nickname     string `json:"nickname,omitempty"`
	IsSelf       bool   `json:"isSelf"`
	HasNonce     bool   `json:"hasNonce"`
	HasSignature bool   `json:"hasSignature"`
}

// Draft 待签名交易草案
type Draft struct {
	RecipientAddress string `json:"recipientAddress"`
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	FeeMinorUnits    int64  `json:"feeMinorUnits"`
	Purpose          string `json:"purpose,omitempty"`
}

// SigningSession 一次进行中的 n-of-n 签名尝试
type SigningSession struct {
	ID           string         `json:"id"`
	WalletID     string         `json:"walletId"`
	RequestID    string         `json:"requestId,omitempty"`
	IsInitiator  bool           `json:"isInitiator"`
	State        State          `json:"state"`
	Participants []*Participant `json:"participants"`
	Draft        Draft          `json:"draft"`
	CreatedAt    time.Time      `json:"createdAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	ResultTxID   string         `json:"resultTxId,omitempty"`
	ErrorReason  string         `json:"errorReason,omitempty"`

	// pendingSignatures nonce 已登记但会话尚未进入 signing 时缓存的分片签名
	pendingSignatures map[string]string
}

// participant 按公钥查找参与者
func (s *SigningSession) participant(publicKey string) *Participant {
	for _, p := range s.Participants {
		if p.PublicKey == publicKey {
			return p
		}
	}
	return nil
}

// self 本地参与者
func (s *SigningSession) self() *Participant {
	for _, p := range s.Participants {
		if p.IsSelf {
			return p
		}
	}
	return nil
}

// allNonces 全部参与者是否均已贡献 nonce
func (s *SigningSession) allNonces() bool {
	for _, p := range s.Participants {
		if !p.HasNonce {
			return false
		}
	}
	return true
}

// allSignatures 全部参与者是否均已贡献分片签名
func (s *SigningSession) allSignatures() bool {
	for _, p := range s.Participants {
		if !p.HasSignature {
			return false
		}
	}
	return true
}

// signedPayload 会话各方一致的待签名载荷
//
// 字段顺序固定，序列化结果在所有参与方上逐字节一致。
type signedPayload struct {
	SessionID string `json:"sessionId"`
	WalletID  string `json:"walletId"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Fee       int64  `json:"fee"`
	Purpose   string `json:"purpose"`
}

// MessageHash 会话待签名消息哈希
func (s *SigningSession) MessageHash() [32]byte {
	raw, _ := json.Marshal(signedPayload{
		SessionID: s.ID,
		WalletID:  s.WalletID,
		Recipient: s.Draft.RecipientAddress,
		Amount:    s.Draft.AmountMinorUnits,
		Fee:       s.Draft.FeeMinorUnits,
		Purpose:   s.Draft.Purpose,
	})
	return sha256.Sum256(raw)
}
