package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// MessageType 消息类型
type MessageType string

const (
	MessageTypeAdvertisement    MessageType = "signer_advertisement"
	MessageTypeDiscoveryRequest MessageType = "signer_discovery_request"
	MessageTypeProposal         MessageType = "signing_proposal"
	MessageTypeReject           MessageType = "signing_reject"
	MessageTypeNonce            MessageType = "signing_nonce"
	MessageTypePartialSignature MessageType = "signing_signature"
	MessageTypeAbort            MessageType = "signing_abort"
	MessageTypePeerExchange     MessageType = "peer_exchange"
)

// Envelope 传输层统一消息信封
type Envelope struct {
	Type            MessageType     `json:"type"`
	SenderPublicKey string          `json:"senderPublicKey"`
	SessionID       string          `json:"sessionId,omitempty"`
	RequestID       string          `json:"requestId,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	Timestamp       time.Time       `json:"timestamp"`
}

// NewEnvelope 构造消息信封并序列化负载
func NewEnvelope(msgType MessageType, senderPublicKey string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}
	return &Envelope{
		Type:            msgType,
		SenderPublicKey: senderPublicKey,
		Payload:         raw,
		Timestamp:       time.Now().UTC(),
	}, nil
}

// DecodePayload 反序列化信封负载
func (e *Envelope) DecodePayload(out interface{}) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return errors.Wrapf(err, "failed to decode %s payload", e.Type)
	}
	return nil
}

// Validate 基础信封校验；不合法的信封直接丢弃
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return errors.New("envelope missing type")
	}
	if e.SenderPublicKey == "" {
		return errors.New("envelope missing sender public key")
	}
	return nil
}

// Handler 订阅回调。实现方必须自行过滤来自本节点的消息
type Handler func(ctx context.Context, env *Envelope)

// Transport 传输协作方边界：主题发布/订阅原语
//
// 不假设任何送达顺序或次数；消息可能乱序、重复或丢失。
type Transport interface {
	// Publish 向主题发布消息
	Publish(ctx context.Context, topic string, env *Envelope) error

	// Subscribe 订阅主题；同一主题可重复订阅，回调按注册顺序触发
	Subscribe(ctx context.Context, topic string, h Handler) error

	// Close 释放订阅与底层资源
	Close() error
}

// AdvertisementPayload 签名者广告负载
type AdvertisementPayload struct {
	PublicKey            string   `json:"publicKey"`
	PeerID               string   `json:"peerId,omitempty"`
	Nickname             string   `json:"nickname,omitempty"`
	Capabilities         []string `json:"capabilities"`
	FeeHint              int64    `json:"feeHint,omitempty"`
	ResponseTimeEstimate int64    `json:"responseTimeEstimate,omitempty"`
	TTLSeconds           int64    `json:"ttlSeconds,omitempty"`
}

// ProposalPayload 签名提案负载
type ProposalPayload struct {
	WalletID  string    `json:"walletId"`
	Recipient string    `json:"recipient"`
	Amount    int64     `json:"amount"`
	Fee       int64     `json:"fee"`
	Purpose   string    `json:"purpose,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RejectPayload 提案拒绝负载
type RejectPayload struct {
	WalletID string `json:"walletId"`
	Reason   string `json:"reason,omitempty"`
}

// NoncePayload nonce 交换负载
type NoncePayload struct {
	SessionID string `json:"sessionId"`
	PublicKey string `json:"publicKey"`
	Data      string `json:"data"`
}

// SignaturePayload 分片签名交换负载
type SignaturePayload struct {
	SessionID string `json:"sessionId"`
	PublicKey string `json:"publicKey"`
	Data      string `json:"data"`
}

// AbortPayload 会话中止负载
type AbortPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// PeerExchangePayload 中继节点广播的已连接节点列表
type PeerExchangePayload struct {
	RelayID string   `json:"relayId"`
	Peers   []string `json:"peers"`
}
