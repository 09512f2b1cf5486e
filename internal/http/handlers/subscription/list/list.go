// Package list реализует HTTP-обработчик списка подписок подписанта.
package list

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
	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

// Service описывает интерфейс бизнес-логики списка подписок.
type Service interface {
	ListSubscriptions(ctx context.Context, subscriber solana.PublicKey) ([]*models.UserSubscription, error)
}

// Handler обрабатывает GET /subscriptions.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	subscriber, ok := request.Signer(w, r, log)
	if !ok {
		return
	}

	subs, err := h.service.ListSubscriptions(r.Context(), subscriber)
	if err != nil {
		log.Error("failed to list subscriptions", sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	if subs == nil {
		subs = []*models.UserSubscription{}
	}
	render.JSON(w, r, response.OKWithData(subs))
}
