// Package middlewarectx содержит HTTP middleware: проверку JWT токена с
// публичным ключом подписанта и ограничение частоты запросов.
//
// JWTMiddleware проверяет наличие и валидность JWT токена в заголовке
// Authorization и кладёт в контекст публичный ключ подписанта. В случае
// ошибки возвращает HTTP 401 Unauthorized.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/escrow-billing/internal/http/response"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// Signer — ключ публичного ключа подписанта в контексте.
const Signer Key = "signer"

// TokenParser проверяет токен.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.CustomClaims, error)
}

// WithSigner кладёт подписанта в контекст.
func WithSigner(ctx context.Context, signer solana.PublicKey) context.Context {
	return context.WithValue(ctx, Signer, signer)
}

// SignerFrom достаёт подписанта из контекста.
func SignerFrom(ctx context.Context) (solana.PublicKey, bool) {
	signer, ok := ctx.Value(Signer).(solana.PublicKey)
	if !ok || signer.IsZero() {
		return solana.PublicKey{}, false
	}
	return signer, true
}

// JWTMiddleware возвращает HTTP middleware, который проверяет JWT в заголовке Authorization.
func JWTMiddleware(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Warn("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := parser.ParseToken(tokenStr)
			if err != nil {
				log.Warn("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			signer, err := claims.Signer()
			if err != nil {
				log.Warn("token subject is not a public key", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSigner(r.Context(), signer)))
		})
	}
}
