// Package read реализует HTTP-обработчик чтения плана по адресу.
package read

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

// Service описывает интерфейс бизнес-логики чтения плана.
type Service interface {
	GetPlan(ctx context.Context, plan solana.PublicKey) (*models.Plan, error)
}

// Handler обрабатывает GET /plans/{address}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.plan.read"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	addr, ok := request.Address(w, r, log)
	if !ok {
		return
	}

	plan, err := h.service.GetPlan(r.Context(), addr)
	if err != nil {
		log.Warn("failed to read plan", sl.Key("plan", addr), sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	render.JSON(w, r, response.OKWithData(plan))
}
