package models

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// MaxFeeBasisPoints 100% в базисных пунктах.
const MaxFeeBasisPoints = 10_000

// Registry глобальная конфигурация биллинга. Создаётся один раз при
// начальной загрузке; после этого меняется только комиссия (администратором).
// FeeVault владелец токен-аккаунтов комиссий, по одному на минт.
type Registry struct {
	Address         solana.PublicKey `json:"address"`
	Admin           solana.PublicKey `json:"admin"`
	AutomationQueue string           `json:"automation_queue"`
	QueueAuthority  solana.PublicKey `json:"queue_authority"`
	FeeVault        solana.PublicKey `json:"fee_vault"`
	FeeBasisPoints  uint16           `json:"fee_basis_points"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Fee комиссия протокола с суммы amount.
func (r *Registry) Fee(amount uint64) uint64 {
	if r.FeeBasisPoints == 0 {
		return 0
	}
	// делим до умножения, чтобы amount*bps не переполнил uint64
	return amount/MaxFeeBasisPoints*uint64(r.FeeBasisPoints) +
		amount%MaxFeeBasisPoints*uint64(r.FeeBasisPoints)/MaxFeeBasisPoints
}
