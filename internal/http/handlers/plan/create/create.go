// Package create реализует HTTP-обработчик создания плана мерчанта.
//
// Мерчантом становится подписант запроса; адрес плана выводится из
// мерчанта и имени, поэтому повторное создание с тем же именем даёт 409.
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
	"github.com/magabrotheeeer/escrow-billing/internal/services/billing"
)

// Request тело запроса на создание плана.
type Request struct {
	Name            string `json:"name" validate:"required,max=50"`
	Mint            string `json:"mint" validate:"required,pubkey"`
	Amount          uint64 `json:"amount" validate:"gt=0"`
	Interval        uint64 `json:"interval" validate:"gt=0"`
	Schedule        string `json:"schedule,omitempty"`
	MaxFailureCount uint8  `json:"max_failure_count"`
}

// Service описывает интерфейс бизнес-логики создания плана.
type Service interface {
	CreatePlan(ctx context.Context, merchant solana.PublicKey, params billing.PlanParams) (*models.Plan, error)
}

// Handler обрабатывает POST /plans.
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
	const op = "handlers.plan.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	merchant, ok := request.Signer(w, r, log)
	if !ok {
		return
	}
	var req Request
	if !request.Decode(w, r, log, h.validate, &req) {
		return
	}

	plan, err := h.service.CreatePlan(r.Context(), merchant, billing.PlanParams{
		Name:            req.Name,
		Mint:            request.MustKey(req.Mint),
		Amount:          req.Amount,
		Interval:        req.Interval,
		Schedule:        req.Schedule,
		MaxFailureCount: req.MaxFailureCount,
	})
	if err != nil {
		log.Error("failed to create plan", sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	log.Info("plan created", sl.Key("plan", plan.Address))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(plan))
}
