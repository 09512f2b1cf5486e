// Package read реализует HTTP-обработчик чтения глобального реестра.
package read

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/escrow-billing/internal/http/response"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

// Service описывает интерфейс чтения реестра.
type Service interface {
	GetRegistry(ctx context.Context) (*models.Registry, error)
}

// Handler обрабатывает GET /registry.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.registry.read"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	reg, err := h.service.GetRegistry(r.Context())
	if err != nil {
		log.Error("failed to read registry", sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	render.JSON(w, r, response.OKWithData(reg))
}
