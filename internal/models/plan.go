package models

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// MaxPlanNameLen максимальная длина имени плана в байтах.
const MaxPlanNameLen = 50

// Plan шаблон списаний, принадлежащий мерчанту.
// Interval задаётся в секундах; Schedule — необязательное cron-выражение.
type Plan struct {
	Address         solana.PublicKey `json:"address"`
	Merchant        solana.PublicKey `json:"merchant"`
	Name            string           `json:"name"`
	Mint            solana.PublicKey `json:"mint"`
	MerchantAccount solana.PublicKey `json:"merchant_account"`
	Amount          uint64           `json:"amount"`
	Interval        uint64           `json:"interval"`
	Schedule        string           `json:"schedule,omitempty"`
	MaxFailureCount uint8            `json:"max_failure_count"`
	Active          bool             `json:"active"`
	CreatedAt       time.Time        `json:"created_at"`
}
