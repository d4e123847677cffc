package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/chain"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/storage"
	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// storagePrefix 钱包记录的存储键前缀
const storagePrefix = "wallet/"

// Registry 共享钱包注册表
//
// 每个钱包单独落盘；内存为权威副本，写入即持久化。
type Registry struct {
	store      storage.KV
	clock      time2.Clock
	aggregator KeyAggregator
	source     chain.Source

	mu      sync.Mutex
	wallets map[string]*SharedWallet
}

// NewRegistry 创建共享钱包注册表
func NewRegistry(store storage.KV, clock time2.Clock, aggregator KeyAggregator, source chain.Source) *Registry {
	return &Registry{
		store:      store,
		clock:      clock,
		aggregator: aggregator,
		source:     source,
		wallets:    make(map[string]*SharedWallet),
	}
}

// Load 从持久化存储恢复全部钱包记录
//
// 单条数据损坏时丢弃该条并告警，不中断整体加载。
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.store.List(ctx, storagePrefix)
	if err != nil {
		return errors.Wrap(err, "failed to list persisted wallets")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, raw := range records {
		var wallet SharedWallet
		if err := json.Unmarshal(raw, &wallet); err != nil || wallet.ID == "" {
			log.Warn().Str("key", key).Msg("Discarding malformed persisted wallet record")
			continue
		}
		r.wallets[wallet.ID] = &wallet
	}
	log.Info().Int("wallets", len(r.wallets)).Msg("Restored shared wallet registry")
	return nil
}

// Create 创建共享钱包；聚合密钥与地址派生委托给密码学协作方
func (r *Registry) Create(ctx context.Context, name, description string, participants []Participant) (*SharedWallet, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if len(participants) < 2 {
		return nil, ErrNoParticipants
	}

	seen := make(map[string]struct{}, len(participants))
	hasSelf := false
	for _, p := range participants {
		if _, dup := seen[p.PublicKey]; dup {
			return nil, ErrDuplicateSigner
		}
		seen[p.PublicKey] = struct{}{}
		if p.IsSelf {
			hasSelf = true
		}
	}
	if !hasSelf {
		return nil, ErrSelfMissing
	}

	keys := make([]string, len(participants))
	for i, p := range participants {
		keys[i] = p.PublicKey
	}
	aggregated, err := r.aggregator.AggregateKeys(keys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate participant keys")
	}

	now := r.clock.Now()
	wallet := &SharedWallet{
		ID:                  "wallet-" + uuid.New().String(),
		Name:                name,
		Description:         description,
		Participants:        append([]Participant(nil), participants...),
		AggregatedPublicKey: aggregated.PublicKeyHex,
		DerivedAddress:      aggregated.Address,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	r.mu.Lock()
	r.wallets[wallet.ID] = wallet
	snapshot := *wallet
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		return nil, err
	}

	log.Info().
		Str("wallet_id", wallet.ID).
		Str("address", wallet.DerivedAddress).
		Int("participants", len(participants)).
		Msg("Created shared wallet")
	return &snapshot, nil
}

// Import 登记由对端同步而来的钱包记录（沿用创建方生成的 ID）
//
// 共享钱包在各参与方本地镜像存储，镜像记录必须保持同一 ID 才能让
// 会话消息正确路由。聚合密钥与派生地址不信任对端记录，一律按参与者
// 集合本地重算。已存在同 ID 记录时覆盖为最新镜像。
func (r *Registry) Import(ctx context.Context, wallet *SharedWallet) error {
	if wallet.ID == "" {
		return errors.New("imported wallet is missing an id")
	}
	if len(wallet.Participants) < 2 {
		return ErrNoParticipants
	}

	seen := make(map[string]struct{}, len(wallet.Participants))
	hasSelf := false
	for _, p := range wallet.Participants {
		if _, dup := seen[p.PublicKey]; dup {
			return ErrDuplicateSigner
		}
		seen[p.PublicKey] = struct{}{}
		if p.IsSelf {
			hasSelf = true
		}
	}
	if !hasSelf {
		return ErrSelfMissing
	}

	aggregated, err := r.aggregator.AggregateKeys(wallet.ParticipantKeys())
	if err != nil {
		return errors.Wrap(err, "failed to aggregate participant keys")
	}

	now := r.clock.Now()
	copied := *wallet
	copied.Participants = append([]Participant(nil), wallet.Participants...)
	copied.AggregatedPublicKey = aggregated.PublicKeyHex
	copied.DerivedAddress = aggregated.Address
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now

	r.mu.Lock()
	r.wallets[copied.ID] = &copied
	snapshot := copied
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		return err
	}
	log.Info().
		Str("wallet_id", snapshot.ID).
		Str("address", snapshot.DerivedAddress).
		Msg("Imported shared wallet mirror")
	return nil
}

// Rename 更新钱包名称与描述；参与者集合不可变更
func (r *Registry) Rename(ctx context.Context, walletID, name, description string) (*SharedWallet, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	r.mu.Lock()
	wallet, ok := r.wallets[walletID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrWalletNotFound
	}
	wallet.Name = name
	wallet.Description = description
	wallet.UpdatedAt = r.clock.Now()
	snapshot := *wallet
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Delete 删除钱包（幂等）
func (r *Registry) Delete(ctx context.Context, walletID string) error {
	r.mu.Lock()
	_, ok := r.wallets[walletID]
	delete(r.wallets, walletID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := r.store.Delete(ctx, storagePrefix+walletID); err != nil {
		return errors.Wrap(err, "failed to delete persisted wallet")
	}
	log.Info().Str("wallet_id", walletID).Msg("Deleted shared wallet")
	return nil
}

// RefreshBalance 从区块链数据协作方刷新余额
func (r *Registry) RefreshBalance(ctx context.Context, walletID string) (*SharedWallet, error) {
	r.mu.Lock()
	wallet, ok := r.wallets[walletID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrWalletNotFound
	}
	address := wallet.DerivedAddress
	r.mu.Unlock()

	balance, err := r.source.Balance(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to refresh wallet balance")
	}

	r.mu.Lock()
	wallet, ok = r.wallets[walletID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrWalletNotFound
	}
	wallet.BalanceMinorUnits = balance
	wallet.UpdatedAt = r.clock.Now()
	snapshot := *wallet
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Get 按 ID 查询钱包
func (r *Registry) Get(walletID string) (*SharedWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wallet, ok := r.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	snapshot := *wallet
	return &snapshot, nil
}

// List 按创建时间升序列出全部钱包
func (r *Registry) List() []*SharedWallet {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*SharedWallet, 0, len(r.wallets))
	for _, wallet := range r.wallets {
		snapshot := *wallet
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) persist(ctx context.Context, wallet *SharedWallet) error {
	raw, err := json.Marshal(wallet)
	if err != nil {
		return errors.Wrap(err, "failed to marshal wallet")
	}
	if err := r.store.Set(ctx, storagePrefix+wallet.ID, raw); err != nil {
		return errors.Wrap(err, "failed to persist wallet")
	}
	return nil
}
