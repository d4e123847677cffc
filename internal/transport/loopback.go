package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// LoopbackHub 进程内传输总线
//
// 同步派发：Publish 在调用方 goroutine 内依次触发所有端点的订阅回调，
// 与单逻辑线程模型一致，测试因此可确定性地驱动多个对等端。
// 回调内不得持有会在其他回调中再次获取的锁。
type LoopbackHub struct {
	mu        sync.Mutex
	endpoints []*LoopbackTransport
}

// NewLoopbackHub 创建进程内总线
func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{}
}

// Endpoint 创建挂在总线上的传输端点
func (h *LoopbackHub) Endpoint() *LoopbackTransport {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep := &LoopbackTransport{
		hub:      h,
		handlers: make(map[string][]Handler),
	}
	h.endpoints = append(h.endpoints, ep)
	return ep
}

func (h *LoopbackHub) dispatch(ctx context.Context, topic string, env *Envelope) {
	h.mu.Lock()
	endpoints := append([]*LoopbackTransport(nil), h.endpoints...)
	h.mu.Unlock()

	for _, ep := range endpoints {
		ep.deliver(ctx, topic, env)
	}
}

// LoopbackTransport 进程内传输端点
type LoopbackTransport struct {
	hub *LoopbackHub

	mu       sync.Mutex
	closed   bool
	handlers map[string][]Handler
}

var _ Transport = (*LoopbackTransport)(nil)

// Publish 向总线上所有端点（含自身）派发消息
func (t *LoopbackTransport) Publish(ctx context.Context, topic string, env *Envelope) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.New("transport closed")
	}
	if err := env.Validate(); err != nil {
		return err
	}

	t.hub.dispatch(ctx, topic, env)
	return nil
}

// Subscribe 注册主题回调
func (t *LoopbackTransport) Subscribe(_ context.Context, topic string, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.New("transport closed")
	}
	t.handlers[topic] = append(t.handlers[topic], h)
	return nil
}

// Close 关闭端点；后续派发被忽略
func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.handlers = make(map[string][]Handler)
	return nil
}

func (t *LoopbackTransport) deliver(ctx context.Context, topic string, env *Envelope) {
	t.mu.Lock()
	handlers := append([]Handler(nil), t.handlers[topic]...)
	t.mu.Unlock()

	for _, h := range handlers {
		h(ctx, env)
	}
}
