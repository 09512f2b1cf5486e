// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — единообразно выводить ошибки и адреса аккаунтов в логах.
package sl

import (
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"
)

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to charge subscription", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Key возвращает slog.Attr с адресом аккаунта в base58.
func Key(name string, key solana.PublicKey) slog.Attr {
	return slog.String(name, key.String())
}

// New создаёт логгер для окружения env: текстовый с уровнем debug в local,
// текстовый info в dev и JSON info в prod.
func New(env string, w io.Writer) *slog.Logger {
	switch env {
	case "prod":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	case "dev":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
