// Package cancel реализует HTTP-обработчик отмены подписки. Отменить
// подписку может только её подписчик; запись удаляется, задача снимается
// с очереди.
package cancel

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

// Service описывает интерфейс бизнес-логики отмены подписки.
type Service interface {
	CancelSubscription(ctx context.Context, signer, sub solana.PublicKey) error
}

// Handler обрабатывает DELETE /subscriptions/{address}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.cancel"
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

	if err := h.service.CancelSubscription(r.Context(), signer, addr); err != nil {
		log.Error("failed to cancel subscription", sl.Key("subscription", addr), sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	log.Info("subscription cancelled", sl.Key("subscription", addr))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"cancelled": addr,
	}))
}
