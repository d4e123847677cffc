package crypto

import "errors"

var (
	ErrSessionExists      = errors.New("signing session already exists")
	ErrSessionNotFound    = errors.New("signing session not found")
	ErrSelfNotParticipant = errors.New("local key is not in the participant set")
	ErrInvalidKey         = errors.New("invalid public key encoding")
	ErrInvalidNonce       = errors.New("invalid nonce encoding")
	ErrInvalidSignature   = errors.New("invalid signature encoding")
)

// AggregatedKey 聚合密钥派生结果
type AggregatedKey struct {
	// PublicKeyHex 聚合公钥（压缩格式 hex）
	PublicKeyHex string
	// Address 聚合公钥派生的链上地址
	Address string
}

// Engine 阈值签名引擎（密码学协作方边界）
//
// 会话以 sessionID 为键；所有参与者公钥使用压缩格式 hex 表示。
// n-of-n：StartSession 的参与者集合即为必须全部贡献 nonce 与分片签名的集合。
type Engine interface {
	// PublicKeyHex 本地签名公钥
	PublicKeyHex() string

	// AggregateKeys 聚合参与者公钥并派生地址（不创建会话）
	AggregateKeys(participantKeys []string) (*AggregatedKey, error)

	// StartSession 创建签名会话并生成本地 nonce，返回其公开部分
	StartSession(sessionID string, participantKeys []string) (pubNonceHex string, err error)

	// RegisterNonce 登记远端参与者的公开 nonce；全部集齐时返回 true
	RegisterNonce(sessionID string, pubNonceHex string) (haveAll bool, err error)

	// PartialSign 对消息哈希生成本地分片签名
	PartialSign(sessionID string, msgHash32 []byte) (partialSigHex string, err error)

	// CombinePartial 合并远端分片签名；全部集齐时返回 true
	CombinePartial(sessionID string, partialSigHex string) (haveAll bool, err error)

	// FinalSignature 返回聚合后的最终签名（需全部分片集齐）
	FinalSignature(sessionID string) (sigHex string, err error)

	// VerifyFinal 用聚合公钥校验最终签名
	VerifyFinal(sessionID string, msgHash32 []byte, sigHex string) (bool, error)

	// EndSession 丢弃会话的本地密码学状态（幂等）
	EndSession(sessionID string)
}
