// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков: успешных ответов, ошибок
// движка биллинга и сообщений валидации.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/escrow-billing/internal/services/billing"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status — статус запроса ("OK" или "Error").
// Поле Error — текст ошибки (опционально, при неуспехе).
// Поле Data — данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

const (
	// StatusOK — значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError — значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// OKWithData возвращает успешный Response с переданными данными.
func OKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

// statuses сопоставляет ошибки движка HTTP-статусам. Порядок важен:
// проверяется первая подходящая ошибка.
var statuses = []struct {
	err    error
	status int
}{
	{billing.ErrInvalidName, http.StatusUnprocessableEntity},
	{billing.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{billing.ErrInvalidInterval, http.StatusUnprocessableEntity},
	{billing.ErrInvalidSchedule, http.StatusUnprocessableEntity},
	{billing.ErrInvalidFee, http.StatusUnprocessableEntity},
	{billing.ErrInvalidQueue, http.StatusUnprocessableEntity},
	{billing.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{billing.ErrBalanceOverflow, http.StatusUnprocessableEntity},
	{billing.ErrUnauthorized, http.StatusForbidden},
	{billing.ErrNotFound, http.StatusNotFound},
	{billing.ErrAlreadyExists, http.StatusConflict},
	{billing.ErrInactivePlan, http.StatusConflict},
	{billing.ErrMintMismatch, http.StatusConflict},
	{billing.ErrVaultInUse, http.StatusConflict},
	{billing.ErrNotInitialized, http.StatusConflict},
	{billing.ErrStaleTask, http.StatusConflict},
	{billing.ErrAccountMismatch, http.StatusConflict},
	{billing.ErrSubscriptionInactive, http.StatusConflict},
}

// StatusOf возвращает HTTP-статус и текст ответа для ошибки движка.
// Неизвестные ошибки скрываются за 500.
func StatusOf(err error) (int, string) {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status, s.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

// Fail пишет ответ с ошибкой движка.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusOf(err)
	render.Status(r, status)
	render.JSON(w, r, Error(msg))
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s exceeds %s", err.Field(), err.Param()))
		case "gt", "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be greater than %s", err.Field(), err.Param()))
		case "pubkey":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid base58 public key", err.Field()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}
