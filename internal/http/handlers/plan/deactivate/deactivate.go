// Package deactivate реализует HTTP-обработчик деактивации плана.
// Деактивированный план не принимает новых подписок, а плановые
// списания по нему считаются неудачными.
package deactivate

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

// Service описывает интерфейс бизнес-логики деактивации плана.
type Service interface {
	DeactivatePlan(ctx context.Context, merchant, plan solana.PublicKey) (*models.Plan, error)
}

// Handler обрабатывает POST /plans/{address}/deactivate.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.plan.deactivate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	merchant, ok := request.Signer(w, r, log)
	if !ok {
		return
	}
	addr, ok := request.Address(w, r, log)
	if !ok {
		return
	}

	plan, err := h.service.DeactivatePlan(r.Context(), merchant, addr)
	if err != nil {
		log.Error("failed to deactivate plan", sl.Key("plan", addr), sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	log.Info("plan deactivated", sl.Key("plan", addr))
	render.JSON(w, r, response.OKWithData(plan))
}
