package request

import (
	"errors"
	"time"
)

var (
	ErrRequestNotFound = errors.New("signing request not found")
	ErrNotPending      = errors.New("signing request is no longer pending")
	ErrNotOutbound     = errors.New("signing request is not outbound")
	ErrInvalidStatus   = errors.New("invalid signing request status")
)

// Direction 请求方向
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status 请求状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// ParseStatus 解析状态标签
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusRejected, StatusExpired, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// Draft 请求携带的交易草案
type Draft struct {
	RecipientAddress string `json:"recipientAddress"`
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	FeeMinorUnits    int64  `json:"feeMinorUnits"`
	Purpose          string `json:"purpose,omitempty"`
}

// SigningRequest 签名请求账目记录
//
// 独立于会话存在：入站请求在被接受前没有对应会话。
type SigningRequest struct {
	ID                 string    `json:"id"`
	Direction          Direction `json:"direction"`
	WalletID           string    `json:"walletId"`
	CounterpartyPeerID string    `json:"counterpartyPeerId,omitempty"`
	CounterpartyKey    string    `json:"counterpartyKey,omitempty"`
	SessionID          string    `json:"sessionId,omitempty"`
	Status             Status    `json:"status"`
	Draft              Draft     `json:"draft"`
	CreatedAt          time.Time `json:"createdAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
}
