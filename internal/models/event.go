package models

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// EventKind тип события биллинга.
type EventKind string

const (
	EventSubscribed            EventKind = "subscribed"
	EventCharged               EventKind = "charged"
	EventChargeFailed          EventKind = "charge_failed"
	EventSubscriptionFailed    EventKind = "subscription_failed"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventVaultClosed           EventKind = "vault_closed"
)

// Event событие, публикуемое после фиксации операции. Используется
// бэкендами мерчантов как триггер.
type Event struct {
	ID           string           `json:"id"`
	Kind         EventKind        `json:"kind"`
	Subscriber   solana.PublicKey `json:"subscriber"`
	Plan         solana.PublicKey `json:"plan,omitempty"`
	Subscription solana.PublicKey `json:"subscription,omitempty"`
	Amount       uint64           `json:"amount,omitempty"`
	Fee          uint64           `json:"fee,omitempty"`
	FailureCount uint16           `json:"failure_count,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}
