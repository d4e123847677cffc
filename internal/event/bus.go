package event

import (
	evbus "github.com/asaskevich/EventBus"
)

// 事件主题。UI、日志等外部协作方通过订阅这些主题获得副作用，
// 协调器自身不直接触发任何 UI 行为。
const (
	TopicSessionState   = "session.state"
	TopicRequestInbound = "request.inbound"
	TopicSignerSeen     = "signer.seen"
)

// SessionStateChanged 会话状态迁移事件
type SessionStateChanged struct {
	SessionID string
	WalletID  string
	From      string
	To        string
	Reason    string
	TxID      string
}

// RequestReceived 入站签名请求事件
type RequestReceived struct {
	RequestID          string
	WalletID           string
	CounterpartyPeerID string
	Amount             int64
	Fee                int64
	Recipient          string
}

// SignerSeen 发现缓存收录/刷新签名者事件
type SignerSeen struct {
	PublicKey string
	Nickname  string
	Source    string
}

// Bus 基于 asaskevich/EventBus 的类型化事件总线
type Bus struct {
	bus evbus.Bus
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

// PublishSessionState 发布会话状态迁移事件
func (b *Bus) PublishSessionState(e SessionStateChanged) {
	b.bus.Publish(TopicSessionState, e)
}

// SubscribeSessionState 订阅会话状态迁移事件
func (b *Bus) SubscribeSessionState(fn func(SessionStateChanged)) error {
	return b.bus.Subscribe(TopicSessionState, fn)
}

// PublishRequestReceived 发布入站请求事件
func (b *Bus) PublishRequestReceived(e RequestReceived) {
	b.bus.Publish(TopicRequestInbound, e)
}

// SubscribeRequestReceived 订阅入站请求事件
func (b *Bus) SubscribeRequestReceived(fn func(RequestReceived)) error {
	return b.bus.Subscribe(TopicRequestInbound, fn)
}

// PublishSignerSeen 发布签名者发现事件
func (b *Bus) PublishSignerSeen(e SignerSeen) {
	b.bus.Publish(TopicSignerSeen, e)
}

// SubscribeSignerSeen 订阅签名者发现事件
func (b *Bus) SubscribeSignerSeen(fn func(SignerSeen)) error {
	return b.bus.Subscribe(TopicSignerSeen, fn)
}
