// Package address вычисляет детерминированные адреса записей биллинга.
//
// Каждый адрес — это program derived address (PDA) от набора seed'ов и
// идентификатора программы. Уникальность плана, хранилища и подписки
// обеспечивается самим адресом: повторное создание записи по тому же
// ключу упирается в уже существующий адрес.
package address

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Seed'ы, из которых выводятся адреса.
const (
	GlobalSeed         = "global"
	QueueAuthoritySeed = "queue_authority"
	FeeVaultSeed       = "fees_vault"
	PlanSeed           = "plan"
	VaultSeed          = "subscriber_vault"
	SubscriptionSeed   = "subscription"
)

// DefaultCacheSize размер LRU-кэша выведенных адресов по умолчанию.
const DefaultCacheSize = 4096

// Deriver выводит адреса для заданной программы и кэширует результат:
// поиск bump'а в FindProgramAddress перебирает до 256 хэшей.
type Deriver struct {
	programID solana.PublicKey
	cache     *lru.Cache[string, solana.PublicKey]
}

// NewDeriver создаёт Deriver для программы programID.
func NewDeriver(programID solana.PublicKey, cacheSize int) (*Deriver, error) {
	const op = "address.NewDeriver"
	if programID.IsZero() {
		return nil, fmt.Errorf("%s: program id is empty", op)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, solana.PublicKey](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Deriver{programID: programID, cache: cache}, nil
}

// ProgramID возвращает идентификатор программы, от которой выводятся адреса.
func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// Global адрес единственного глобального реестра.
func (d *Deriver) Global() (solana.PublicKey, error) {
	return d.derive([]byte(GlobalSeed))
}

// QueueAuthority адрес, от имени которого регистрируются задачи в очереди.
func (d *Deriver) QueueAuthority() (solana.PublicKey, error) {
	return d.derive([]byte(QueueAuthoritySeed))
}

// FeeVault адрес владельца токен-аккаунтов протокольных комиссий.
func (d *Deriver) FeeVault() (solana.PublicKey, error) {
	return d.derive([]byte(FeeVaultSeed))
}

// Plan адрес плана: (merchant, sha256(name)). Имя хэшируется, чтобы
// длина seed'а не зависела от длины имени.
func (d *Deriver) Plan(merchant solana.PublicKey, name string) (solana.PublicKey, error) {
	sum := sha256.Sum256([]byte(name))
	return d.derive([]byte(PlanSeed), merchant.Bytes(), sum[:])
}

// Vault адрес escrow-хранилища подписчика.
func (d *Deriver) Vault(subscriber solana.PublicKey) (solana.PublicKey, error) {
	return d.derive([]byte(VaultSeed), subscriber.Bytes())
}

// Subscription адрес подписки (subscriber, plan).
func (d *Deriver) Subscription(subscriber, plan solana.PublicKey) (solana.PublicKey, error) {
	return d.derive([]byte(SubscriptionSeed), subscriber.Bytes(), plan.Bytes())
}

func (d *Deriver) derive(seeds ...[]byte) (solana.PublicKey, error) {
	const op = "address.derive"

	key := cacheKey(seeds)
	if addr, ok := d.cache.Get(key); ok {
		return addr, nil
	}
	addr, _, err := solana.FindProgramAddress(seeds, d.programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s: %w", op, err)
	}
	d.cache.Add(key, addr)
	return addr, nil
}

// TokenAccount адрес associated token account владельца для mint.
func TokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	const op = "address.TokenAccount"
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s: %w", op, err)
	}
	return addr, nil
}

// cacheKey кодирует seed'ы с префиксом длины, чтобы разные наборы
// не склеивались в один ключ.
func cacheKey(seeds [][]byte) string {
	var b strings.Builder
	for _, s := range seeds {
		b.WriteByte(byte(len(s)))
		b.Write(s)
	}
	return b.String()
}
