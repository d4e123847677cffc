package registry

import (
	"errors"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/crypto"
)

var (
	ErrWalletNotFound  = errors.New("shared wallet not found")
	ErrNoParticipants  = errors.New("shared wallet requires at least two participants")
	ErrSelfMissing     = errors.New("participant set must include the local signer")
	ErrDuplicateSigner = errors.New("participant set contains a duplicate public key")
	ErrEmptyName       = errors.New("shared wallet name must not be empty")
)

// KeyAggregator 密钥聚合协作方边界（crypto.Engine 的注册表侧子集）
type KeyAggregator interface {
	AggregateKeys(participantKeys []string) (*crypto.AggregatedKey, error)
}

// Participant 共享钱包参与者；集合在创建时固定
type Participant struct {
	PublicKey string `json:"publicKey"`
	PeerID    string `json:"peerId,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	IsSelf    bool   `json:"isSelf"`
}

// SharedWallet 本地已知的 n-of-n 共享钱包
//
// Participants 创建后不可变：变更参与者集合等价于创建新钱包。
type SharedWallet struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Description         string        `json:"description,omitempty"`
	Participants        []Participant `json:"participants"`
	AggregatedPublicKey string        `json:"aggregatedPublicKey"`
	DerivedAddress      string        `json:"derivedAddress"`
	BalanceMinorUnits   int64         `json:"balanceMinorUnits"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// ParticipantKeys 参与者公钥列表（保持创建时顺序）
func (w *SharedWallet) ParticipantKeys() []string {
	keys := make([]string, len(w.Participants))
	for i, p := range w.Participants {
		keys[i] = p.PublicKey
	}
	return keys
}

// HasParticipant 公钥是否属于参与者集合
func (w *SharedWallet) HasParticipant(publicKey string) bool {
	for _, p := range w.Participants {
		if p.PublicKey == publicKey {
			return true
		}
	}
	return false
}
