package models

import (
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
)

// MaxAmount верхняя граница суммы и баланса: балансы хранятся в BIGINT.
const MaxAmount uint64 = math.MaxInt64

// Vault escrow-хранилище подписчика. Баланс хранится в токен-аккаунте
// по тому же адресу и общий для всех подписок владельца.
type Vault struct {
	Address   solana.PublicKey `json:"address"`
	Owner     solana.PublicKey `json:"owner"`
	Mint      solana.PublicKey `json:"mint"`
	Balance   uint64           `json:"balance"`
	CreatedAt time.Time        `json:"created_at"`
}

// TokenAccount баланс одного токен-аккаунта в леджере.
type TokenAccount struct {
	Address solana.PublicKey `json:"address"`
	Owner   solana.PublicKey `json:"owner"`
	Mint    solana.PublicKey `json:"mint"`
	Balance uint64           `json:"balance"`
}
