// Package remove реализует HTTP-обработчик закрытия хранилища. Остаток
// возвращается на кошелёк владельца.
package remove

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/escrow-billing/internal/http/request"
	"github.com/magabrotheeeer/escrow-billing/internal/http/response"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
)

// Service описывает интерфейс бизнес-логики закрытия хранилища.
type Service interface {
	CloseVault(ctx context.Context, signer, vault solana.PublicKey) (uint64, error)
}

// Handler обрабатывает DELETE /vault/{address}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.vault.remove"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	signer, ok := request.Signer(w, r, log)
	if !ok {
		return
	}
	addr, ok := request.Address(w, r, log)
	if !ok {
		return
	}

	refunded, err := h.service.CloseVault(r.Context(), signer, addr)
	if err != nil {
		log.Error("failed to close vault", sl.Key("vault", addr), sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	log.Info("vault closed", sl.Key("vault", addr), slog.Uint64("refunded", refunded))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"vault":    addr,
		"refunded": refunded,
	}))
}
