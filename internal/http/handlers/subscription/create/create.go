// Package create реализует HTTP-обработчик оформления подписки на план.
//
// Подписчиком становится подписант запроса. Первое списание планируется
// на следующий период плана; средства должны лежать в хранилище к этому
// моменту.
package create

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/escrow-billing/internal/http/request"
	"github.com/magabrotheeeer/escrow-billing/internal/http/response"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

// Request тело запроса на подписку.
type Request struct {
	Plan string `json:"plan" validate:"required,pubkey"`
}

// Service описывает интерфейс бизнес-логики оформления подписки.
type Service interface {
	Subscribe(ctx context.Context, subscriber, plan solana.PublicKey) (*models.UserSubscription, error)
}

// Handler обрабатывает POST /subscriptions.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: request.NewValidator(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	subscriber, ok := request.Signer(w, r, log)
	if !ok {
		return
	}
	var req Request
	if !request.Decode(w, r, log, h.validate, &req) {
		return
	}

	sub, err := h.service.Subscribe(r.Context(), subscriber, request.MustKey(req.Plan))
	if err != nil {
		log.Error("failed to subscribe", slog.String("plan", req.Plan), sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	log.Info("subscribed", sl.Key("subscription", sub.Address), slog.Any("task_id", sub.NextTaskID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(sub))
}
