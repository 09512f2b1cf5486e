// Package fund реализует HTTP-обработчик пополнения кошелька подписанта
// из воздуха. Монтируется только в окружении local.
package fund

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

// Request тело запроса на пополнение кошелька.
type Request struct {
	Mint   string `json:"mint" validate:"required,pubkey"`
	Amount uint64 `json:"amount" validate:"gt=0"`
}

// Service описывает интерфейс пополнения кошелька.
type Service interface {
	FundWallet(ctx context.Context, owner, mint solana.PublicKey, amount uint64) (*models.TokenAccount, error)
}

// Handler обрабатывает POST /wallet/fund.
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
	const op = "handlers.vault.fund"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	owner, ok := request.Signer(w, r, log)
	if !ok {
		return
	}
	var req Request
	if !request.Decode(w, r, log, h.validate, &req) {
		return
	}

	acc, err := h.service.FundWallet(r.Context(), owner, request.MustKey(req.Mint), req.Amount)
	if err != nil {
		log.Error("failed to fund wallet", sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	log.Debug("wallet funded", sl.Key("account", acc.Address), slog.Uint64("amount", req.Amount))
	render.JSON(w, r, response.OKWithData(acc))
}
