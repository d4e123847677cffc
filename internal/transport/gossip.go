package transport

import (
	"context"
	"encoding/json"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	metricsOnce    sync.Once
	publishedTotal *prometheus.CounterVec
	receivedTotal  *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
)

func ensureTransportMetrics() {
	metricsOnce.Do(func() {
		publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotus",
			Subsystem: "transport",
			Name:      "published_total",
			Help:      "Messages published per topic",
		}, []string{"topic"})
		receivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotus",
			Subsystem: "transport",
			Name:      "received_total",
			Help:      "Messages received per topic",
		}, []string{"topic"})
		droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotus",
			Subsystem: "transport",
			Name:      "dropped_total",
			Help:      "Messages dropped during decode or validation",
		}, []string{"topic"})
	})
}

// GossipTransport 基于 libp2p GossipSub 的传输实现
type GossipTransport struct {
	host         host.Host
	ps           *pubsub.PubSub
	enableLegacy bool

	mu      sync.Mutex
	topics  map[string]*pubsub.Topic
	cancels []context.CancelFunc
	closed  bool
}

var _ Transport = (*GossipTransport)(nil)

// NewGossipTransport 在给定宿主上启动 GossipSub
func NewGossipTransport(ctx context.Context, h host.Host, enableLegacy bool) (*GossipTransport, error) {
	ensureTransportMetrics()

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gossipsub")
	}

	return &GossipTransport{
		host:         h,
		ps:           ps,
		enableLegacy: enableLegacy,
		topics:       make(map[string]*pubsub.Topic),
	}, nil
}

// Publish 发布消息；迁移窗口内同时发布到旧主题名
func (t *GossipTransport) Publish(ctx context.Context, topic string, env *Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}

	if err := t.publishRaw(ctx, topic, data); err != nil {
		return err
	}

	if legacy := LegacyTopicAlias(topic); t.enableLegacy && legacy != "" {
		if err := t.publishRaw(ctx, legacy, data); err != nil {
			// 旧主题失败不影响新主题的结果
			log.Warn().Err(err).Str("topic", legacy).Msg("Failed to publish to legacy topic")
		}
	}

	publishedTotal.WithLabelValues(topic).Inc()
	return nil
}

// Subscribe 订阅主题；迁移窗口内同时订阅旧主题名
func (t *GossipTransport) Subscribe(ctx context.Context, topic string, h Handler) error {
	if err := t.subscribeRaw(ctx, topic, h); err != nil {
		return err
	}

	if legacy := LegacyTopicAlias(topic); t.enableLegacy && legacy != "" {
		if err := t.subscribeRaw(ctx, legacy, h); err != nil {
			log.Warn().Err(err).Str("topic", legacy).Msg("Failed to subscribe to legacy topic")
		}
	}
	return nil
}

// Close 取消全部订阅循环
func (t *GossipTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for _, cancel := range t.cancels {
		cancel()
	}
	for name, topic := range t.topics {
		if err := topic.Close(); err != nil {
			log.Debug().Err(err).Str("topic", name).Msg("Failed to close topic")
		}
	}
	t.topics = make(map[string]*pubsub.Topic)
	return nil
}

func (t *GossipTransport) publishRaw(ctx context.Context, topic string, data []byte) error {
	th, err := t.joinTopic(topic)
	if err != nil {
		return err
	}
	if err := th.Publish(ctx, data); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", topic)
	}
	return nil
}

func (t *GossipTransport) subscribeRaw(ctx context.Context, topic string, h Handler) error {
	th, err := t.joinTopic(topic)
	if err != nil {
		return err
	}

	sub, err := th.Subscribe()
	if err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", topic)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancels = append(t.cancels, cancel)
	t.mu.Unlock()

	go t.readLoop(loopCtx, topic, sub, h)
	return nil
}

func (t *GossipTransport) readLoop(ctx context.Context, topic string, sub *pubsub.Subscription, h Handler) {
	defer sub.Cancel()

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			// 上下文取消时正常退出
			return
		}

		// 本节点发布的消息由上层按 sender 过滤，这里直接跳过
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			droppedTotal.WithLabelValues(topic).Inc()
			log.Debug().Err(err).Str("topic", topic).Msg("Dropping malformed message")
			continue
		}
		if err := env.Validate(); err != nil {
			droppedTotal.WithLabelValues(topic).Inc()
			log.Debug().Err(err).Str("topic", topic).Msg("Dropping invalid envelope")
			continue
		}

		receivedTotal.WithLabelValues(topic).Inc()
		h(ctx, &env)
	}
}

func (t *GossipTransport) joinTopic(topic string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errors.New("transport closed")
	}
	if th, ok := t.topics[topic]; ok {
		return th, nil
	}

	th, err := t.ps.Join(topic)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join topic %s", topic)
	}
	t.topics[topic] = th
	return th, nil
}
