package models

import (
	"encoding/json"
	"time"
)

// Типы записей журнала webhook'ов
const (
	WebhookLogReceived   = "received"
	WebhookLogProcessing = "processing"
	WebhookLogSuccess    = "success"
	WebhookLogWarning    = "warning"
	WebhookLogError      = "error"
)

// WebhookLogEntry представляет запись диагностического журнала webhook'ов
type WebhookLogEntry struct {
	ID         int64           `json:"id" db:"id"`
	DeliveryID string          `json:"delivery_id" db:"delivery_id"`
	Type       string          `json:"type" db:"type"` // received, processing, success, warning, error
	Data       json.RawMessage `json:"data" db:"data"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Attribution представляет одну атрибуцию конверсии, извлеченную из webhook'а
type Attribution struct {
	ReferralCode string `json:"referral_code"`
	ContactID    string `json:"contact_id,omitempty"`
	Email        string `json:"email,omitempty"`
	Method       string `json:"method,omitempty"` // "auto_detected" для эвристической атрибуции
}
