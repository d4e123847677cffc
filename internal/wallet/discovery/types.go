package discovery

import (
	"encoding/json"
	"sort"
	"time"
)

// Capability 签名者支持的交易类别
type Capability string

const (
	// CapabilityCoSign 普通共同花费
	CapabilityCoSign Capability = "cosign"
	// CapabilityEscrow 托管类交易
	CapabilityEscrow Capability = "escrow"
	// CapabilityTimelock 带时间锁的交易
	CapabilityTimelock Capability = "timelock"
)

// AllCapabilities 全部已知能力
func AllCapabilities() []Capability {
	return []Capability{CapabilityCoSign, CapabilityEscrow, CapabilityTimelock}
}

// ParseCapability 解析能力标签；未知标签返回 false
func ParseCapability(s string) (Capability, bool) {
	switch Capability(s) {
	case CapabilityCoSign, CapabilityEscrow, CapabilityTimelock:
		return Capability(s), true
	}
	return "", false
}

// CapabilitySet 能力集合
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet 构造能力集合
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// CapabilitySetFromStrings 从字符串列表构造集合，未知标签被忽略
func CapabilitySetFromStrings(tags []string) CapabilitySet {
	set := make(CapabilitySet)
	for _, tag := range tags {
		if c, ok := ParseCapability(tag); ok {
			set[c] = struct{}{}
		}
	}
	return set
}

// Has 集合成员判断
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Strings 集合的稳定字符串表示
func (s CapabilitySet) Strings() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// MarshalJSON 集合序列化为稳定的字符串数组
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON 反序列化时丢弃未知标签
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = CapabilitySetFromStrings(tags)
	return nil
}

// EntrySource 缓存条目来源
type EntrySource string

const (
	SourceGossip   EntrySource = "gossip"
	SourceManual   EntrySource = "manual"
	SourceRestored EntrySource = "restored-from-disk"
)

// SignerAdvertisement 签名者广告
//
// 去重身份是 PublicKey 而非 PeerID：节点重连后传输层地址可能变化。
type SignerAdvertisement struct {
	PublicKey            string        `json:"publicKey"`
	PeerID               string        `json:"peerId,omitempty"`
	Nickname             string        `json:"nickname,omitempty"`
	Capabilities         CapabilitySet `json:"capabilities"`
	FeeHint              int64         `json:"feeHint,omitempty"`
	ReputationScore      float64       `json:"reputationScore,omitempty"`
	ResponseTimeEstimate time.Duration `json:"responseTimeEstimate,omitempty"`
	FirstSeen            time.Time     `json:"firstSeen"`
	LastSeen             time.Time     `json:"lastSeen"`
	ExpiresAt            time.Time     `json:"expiresAt"`
}

// CachedSignerEntry 广告加缓存簿记
type CachedSignerEntry struct {
	ID             string              `json:"id"`
	Advertisement  SignerAdvertisement `json:"advertisement"`
	AddedAt        time.Time           `json:"addedAt"`
	LastAccessedAt time.Time           `json:"lastAccessedAt"`
	AccessCount    int                 `json:"accessCount"`
	Source         EntrySource         `json:"source"`
}
