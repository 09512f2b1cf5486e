package middlewarectx

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/render"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/escrow-billing/internal/http/response"
)

// maxTrackedClients число клиентов, для которых хранится свой лимитер.
const maxTrackedClients = 10_000

// RateLimiter ограничивает частоту запросов отдельно для каждого клиента:
// подписанта, если он уже известен, иначе IP-адреса.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter создаёт ограничитель на rps запросов в секунду с запасом burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	// размер положительный, ошибки быть не может
	limiters, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &RateLimiter{limit: rate.Limit(rps), burst: burst, limiters: limiters}
}

func (l *RateLimiter) limiter(client string) *rate.Limiter {
	if lim, ok := l.limiters.Get(client); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if prev, ok, _ := l.limiters.PeekOrAdd(client, lim); ok {
		return prev
	}
	return lim
}

// Allow сообщает, можно ли обслужить очередной запрос клиента.
func (l *RateLimiter) Allow(client string) bool {
	return l.limiter(client).Allow()
}

func clientKey(r *http.Request) string {
	if signer, ok := SignerFrom(r.Context()); ok {
		return signer.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware отвечает 429, когда клиент превысил лимит.
func RateLimitMiddleware(limiter *RateLimiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			if !limiter.Allow(client) {
				log.Warn("too many requests", slog.String("client", client))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
