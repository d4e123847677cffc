package discovery

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/config"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/event"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/storage"
	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// StorageKey 持久化缓存的固定存储键
const StorageKey = "discovery/signers"

// liveInstances 结构性单例防线：缓存通过组合根注入，构造第二个实例
// 属于正确性缺陷，一旦探测到就高声告警。
var liveInstances atomic.Int32

// persistedPair 持久化格式：有序的 (id, entry) 对列表
type persistedPair struct {
	ID    string             `json:"id"`
	Entry *CachedSignerEntry `json:"entry"`
}

// Cache 签名者发现缓存
//
// 进程级唯一实例；写入经脏标记 + 去抖定时器合并，进程退出路径必须调用
// Flush 强制同步落盘。
type Cache struct {
	store storage.KV
	clock time2.Clock
	bus   *event.Bus
	cfg   config.Discovery

	mu         sync.Mutex
	entries    map[string]*CachedSignerEntry // 主键：条目 ID
	byPubKey   map[string]string             // 二级索引：publicKey → 条目 ID
	dirty      bool
	flushTimer *time.Timer
	closed     bool
}

// NewCache 创建发现缓存；每个进程应当只构造一次
func NewCache(store storage.KV, clock time2.Clock, bus *event.Bus, cfg config.Discovery) *Cache {
	if n := liveInstances.Add(1); n > 1 {
		log.Warn().
			Int32("live_instances", n).
			Msg("CORRECTNESS: more than one signer discovery cache constructed; writes will silently diverge")
	}

	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if cfg.FlushDebounce <= 0 {
		cfg.FlushDebounce = 500 * time.Millisecond
	}

	return &Cache{
		store:    store,
		clock:    clock,
		bus:      bus,
		cfg:      cfg,
		entries:  make(map[string]*CachedSignerEntry),
		byPubKey: make(map[string]string),
	}
}

// Load 从持久化存储恢复缓存，随后清理已过期条目
//
// 防御性加载：整体或单条数据形状不符时按空缓存处理，不视为致命错误。
func (c *Cache) Load(ctx context.Context) error {
	raw, err := c.store.Get(ctx, StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read persisted cache")
	}

	var pairs []persistedPair
	if err := json.Unmarshal(raw, &pairs); err != nil {
		log.Warn().Err(err).Msg("Persisted signer cache is malformed, starting empty")
		return nil
	}

	c.mu.Lock()
	restored := 0
	for _, pair := range pairs {
		if pair.ID == "" || pair.Entry == nil || pair.Entry.Advertisement.PublicKey == "" {
			log.Debug().Str("id", pair.ID).Msg("Discarding malformed persisted signer entry")
			continue
		}
		entry := pair.Entry
		entry.ID = pair.ID
		entry.Source = SourceRestored
		c.entries[pair.ID] = entry
		c.byPubKey[entry.Advertisement.PublicKey] = pair.ID
		restored++
	}
	c.mu.Unlock()

	removed := c.CleanupExpired(ctx)
	log.Info().
		Int("restored", restored).
		Int("expired_on_load", removed).
		Msg("Restored signer discovery cache")
	return nil
}

// Upsert 插入或合并签名者广告
//
// 以 PublicKey 判重；已存在时合并进既有条目（刷新 lastSeen/expiresAt、
// 递增 accessCount）而不是新建。超出容量时按最近过期优先淘汰。
func (c *Cache) Upsert(ctx context.Context, ad SignerAdvertisement, source EntrySource) (*CachedSignerEntry, error) {
	if ad.PublicKey == "" {
		return nil, errors.New("advertisement missing public key")
	}

	now := c.clock.Now()
	if ad.ExpiresAt.IsZero() {
		ad.ExpiresAt = now.Add(c.cfg.AdvertisementTTL)
	}
	if ad.FirstSeen.IsZero() {
		ad.FirstSeen = now
	}
	if ad.LastSeen.IsZero() {
		ad.LastSeen = now
	}

	c.mu.Lock()
	var entry *CachedSignerEntry
	if id, ok := c.byPubKey[ad.PublicKey]; ok {
		entry = c.entries[id]
		c.mergeLocked(entry, ad, now)
	} else {
		entry = &CachedSignerEntry{
			ID:             "signer-" + uuid.New().String(),
			Advertisement:  ad,
			AddedAt:        now,
			LastAccessedAt: now,
			AccessCount:    1,
			Source:         source,
		}
		c.entries[entry.ID] = entry
		c.byPubKey[ad.PublicKey] = entry.ID
		c.evictOverCapacityLocked()
	}
	c.markDirtyLocked()
	snapshot := *entry
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.PublishSignerSeen(event.SignerSeen{
			PublicKey: snapshot.Advertisement.PublicKey,
			Nickname:  snapshot.Advertisement.Nickname,
			Source:    string(source),
		})
	}
	return &snapshot, nil
}

// GetValidSigners 返回未过期条目；不修改缓存
func (c *Cache) GetValidSigners() []*CachedSignerEntry {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*CachedSignerEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		if entry.Advertisement.ExpiresAt.After(now) {
			snapshot := *entry
			out = append(out, &snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Advertisement.LastSeen.After(out[j].Advertisement.LastSeen)
	})
	return out
}

// CleanupExpired 移除全部已过期条目，返回移除数量
func (c *Cache) CleanupExpired(_ context.Context) int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, entry := range c.entries {
		if !entry.Advertisement.ExpiresAt.After(now) {
			delete(c.entries, id)
			delete(c.byPubKey, entry.Advertisement.PublicKey)
			removed++
		}
	}
	if removed > 0 {
		c.markDirtyLocked()
	}
	return removed
}

// Get 按条目 ID 查询；记录一次访问
func (c *Cache) Get(id string) (*CachedSignerEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.touchLocked(entry)
	snapshot := *entry
	return &snapshot, true
}

// GetByPublicKey 按签名者公钥查询；记录一次访问
func (c *Cache) GetByPublicKey(publicKey string) (*CachedSignerEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.byPubKey[publicKey]
	if !ok {
		return nil, false
	}
	entry := c.entries[id]
	c.touchLocked(entry)
	snapshot := *entry
	return &snapshot, true
}

// Delete 按条目 ID 删除（幂等）
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return
	}
	delete(c.entries, id)
	delete(c.byPubKey, entry.Advertisement.PublicKey)
	c.markDirtyLocked()
}

// Len 当前条目数
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush 立即同步落盘；即使去抖窗口未到也强制执行
//
// 持久化失败仅降低重启后的持久性，内存状态仍然权威，因此只告警。
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}

	pairs := make([]persistedPair, 0, len(c.entries))
	for id, entry := range c.entries {
		snapshot := *entry
		pairs = append(pairs, persistedPair{ID: id, Entry: &snapshot})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Entry.AddedAt.Before(pairs[j].Entry.AddedAt)
	})
	c.dirty = false
	c.mu.Unlock()

	raw, err := json.Marshal(pairs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal signer cache")
	}

	if err := c.store.Set(ctx, StorageKey, raw); err != nil {
		log.Warn().Err(err).Msg("Failed to persist signer cache, in-memory state remains authoritative")
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return err
	}
	if err := c.store.Sync(); err != nil {
		log.Warn().Err(err).Msg("Failed to sync signer cache to durable storage")
		return err
	}
	return nil
}

// Close 终止去抖定时器并强制最后一次落盘
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Flush(ctx)
	liveInstances.Add(-1)
	return err
}

func (c *Cache) mergeLocked(entry *CachedSignerEntry, ad SignerAdvertisement, now time.Time) {
	existing := &entry.Advertisement
	existing.PeerID = ad.PeerID
	if ad.Nickname != "" {
		existing.Nickname = ad.Nickname
	}
	if len(ad.Capabilities) > 0 {
		existing.Capabilities = ad.Capabilities
	}
	if ad.FeeHint != 0 {
		existing.FeeHint = ad.FeeHint
	}
	if ad.ReputationScore != 0 {
		existing.ReputationScore = ad.ReputationScore
	}
	if ad.ResponseTimeEstimate != 0 {
		existing.ResponseTimeEstimate = ad.ResponseTimeEstimate
	}
	existing.LastSeen = ad.LastSeen
	existing.ExpiresAt = ad.ExpiresAt

	entry.AccessCount++
	entry.LastAccessedAt = now
}

func (c *Cache) touchLocked(entry *CachedSignerEntry) {
	entry.AccessCount++
	entry.LastAccessedAt = c.clock.Now()
}

// evictOverCapacityLocked 容量超限时淘汰最近过期的条目；过期时间相同时
// 淘汰最久未访问者
func (c *Cache) evictOverCapacityLocked() {
	for len(c.entries) > c.cfg.Capacity {
		var victim *CachedSignerEntry
		for _, entry := range c.entries {
			if victim == nil {
				victim = entry
				continue
			}
			if entry.Advertisement.ExpiresAt.Before(victim.Advertisement.ExpiresAt) {
				victim = entry
				continue
			}
			if entry.Advertisement.ExpiresAt.Equal(victim.Advertisement.ExpiresAt) &&
				entry.LastAccessedAt.Before(victim.LastAccessedAt) {
				victim = entry
			}
		}
		if victim == nil {
			return
		}
		log.Debug().
			Str("public_key", victim.Advertisement.PublicKey).
			Time("expires_at", victim.Advertisement.ExpiresAt).
			Msg("Evicting signer entry over capacity")
		delete(c.entries, victim.ID)
		delete(c.byPubKey, victim.Advertisement.PublicKey)
	}
}

func (c *Cache) markDirtyLocked() {
	c.dirty = true
	if c.flushTimer != nil || c.closed {
		return
	}
	c.flushTimer = time.AfterFunc(c.cfg.FlushDebounce, func() {
		c.mu.Lock()
		c.flushTimer = nil
		c.mu.Unlock()
		if err := c.Flush(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Debounced signer cache flush failed")
		}
	})
}
