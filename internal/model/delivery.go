package model

import "time"

// DeliveryStatus は配信レコードの状態を表す。
// PENDING から DELIVERED または FAILED へ一度だけ遷移する。
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// IsTerminal は終端状態かどうかを返す。
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// MessageType は配信メッセージの種別。
type MessageType string

const (
	MessageTypeDailyDevotional MessageType = "DAILY_DEVOTIONAL"
	MessageTypePrayer          MessageType = "PRAYER"
)

// DeliveryRecord は生成されたメッセージ1件ごとの配信ログ。
// MessageContentは作成後に変更しない。
type DeliveryRecord struct {
	ID             string
	UserID         string
	MessageContent string
	MessageType    MessageType
	DeliveryStatus DeliveryStatus
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
