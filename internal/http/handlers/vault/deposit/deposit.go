// Package deposit реализует HTTP-обработчик пополнения escrow-хранилища
// подписанта с его кошелька. Хранилище создаётся при первом пополнении.
package deposit

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

// Request тело запроса на пополнение.
type Request struct {
	Mint   string `json:"mint" validate:"required,pubkey"`
	Amount uint64 `json:"amount" validate:"gt=0"`
}

// Service описывает интерфейс бизнес-логики пополнения хранилища.
type Service interface {
	Deposit(ctx context.Context, subscriber, mint solana.PublicKey, amount uint64) (*models.Vault, error)
}

// Handler обрабатывает POST /vault/deposit.
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
	const op = "handlers.vault.deposit"
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

	vault, err := h.service.Deposit(r.Context(), subscriber, request.MustKey(req.Mint), req.Amount)
	if err != nil {
		log.Error("failed to deposit", sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	log.Info("vault funded", sl.Key("vault", vault.Address), slog.Uint64("amount", req.Amount))
	render.JSON(w, r, response.OKWithData(vault))
}
