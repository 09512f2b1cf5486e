// Package request разбирает входные данные HTTP-запроса: подписанта из
// контекста, адреса из URL и JSON-тело с валидацией. При ошибке ответ
// уже записан, обработчику остаётся вернуться.
package request

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/escrow-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/escrow-billing/internal/http/response"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
)

// AddressParam имя URL-параметра с адресом записи.
const AddressParam = "address"

// NewValidator создаёт валидатор с тегом pubkey для base58-ключей.
func NewValidator() *validator.Validate {
	v := validator.New()
	// тег регистрируется один раз на свежем валидаторе
	_ = v.RegisterValidation("pubkey", func(fl validator.FieldLevel) bool {
		_, err := solana.PublicKeyFromBase58(fl.Field().String())
		return err == nil
	})
	return v
}

// Signer возвращает подписанта запроса или отвечает 401.
func Signer(w http.ResponseWriter, r *http.Request, log *slog.Logger) (solana.PublicKey, bool) {
	signer, ok := middlewarectx.SignerFrom(r.Context())
	if !ok {
		log.Error("signer not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return solana.PublicKey{}, false
	}
	return signer, true
}

// Address разбирает адрес из URL или отвечает 400.
func Address(w http.ResponseWriter, r *http.Request, log *slog.Logger) (solana.PublicKey, bool) {
	raw := chi.URLParam(r, AddressParam)
	addr, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		log.Warn("invalid address in url", slog.String("address", raw), sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid address"))
		return solana.PublicKey{}, false
	}
	return addr, true
}

// Decode читает JSON-тело в req и валидирует его. 400 на битый JSON,
// 422 на ошибки валидации.
func Decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, validate *validator.Validate, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		log.Warn("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return false
	}
	if err := validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			render.JSON(w, r, response.ValidationError(verrs))
		} else {
			render.JSON(w, r, response.Error("invalid request"))
		}
		return false
	}
	return true
}

// MustKey разбирает ключ, уже прошедший валидацию тегом pubkey.
func MustKey(s string) solana.PublicKey {
	return solana.MustPublicKeyFromBase58(s)
}
