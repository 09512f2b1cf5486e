// Package read реализует HTTP-обработчик чтения хранилища подписанта.
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

// Service описывает интерфейс бизнес-логики чтения хранилища.
type Service interface {
	VaultOf(ctx context.Context, owner solana.PublicKey) (*models.Vault, error)
}

// Handler обрабатывает GET /vault.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.vault.read"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	owner, ok := request.Signer(w, r, log)
	if !ok {
		return
	}

	vault, err := h.service.VaultOf(r.Context(), owner)
	if err != nil {
		log.Warn("failed to read vault", sl.Key("owner", owner), sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	render.JSON(w, r, response.OKWithData(vault))
}
