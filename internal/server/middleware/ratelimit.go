package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter ограничивает частоту запросов по клиентскому IP.
// Каждому IP выдается ведро из limit токенов, пополняемое раз в window
type RateLimiter struct {
	visitors map[string]*visitor
	logger   *slog.Logger
	done     chan struct{}
	limit    int
	window   time.Duration
	mu       sync.Mutex
}

type visitor struct {
	refilled time.Time
	tokens   int
}

// NewRateLimiter создает limiter и запускает фоновую очистку
// неактивных записей
func NewRateLimiter(limit int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictStale()
		case <-rl.done:
			return
		}
	}
}

// evictStale удаляет IP, не появлявшиеся дольше двух окон
func (rl *RateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-2 * rl.window)
	for ip, v := range rl.visitors {
		if v.refilled.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// Stop останавливает фоновую очистку
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// Allow списывает токен для данного IP; false — лимит исчерпан
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{tokens: rl.limit, refilled: now}
		rl.visitors[ip] = v
	}

	if now.Sub(v.refilled) >= rl.window {
		v.tokens = rl.limit
		v.refilled = now
	}

	if v.tokens == 0 {
		return false
	}
	v.tokens--
	return true
}

// RateLimitMiddleware отвечает 429, когда клиент превысил limit запросов
// за window. Auth-маршруты защищаются от перебора паролей жестче,
// чем отправка операций: сервер вешает на них отдельные limiters
func RateLimitMiddleware(limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	rl := NewRateLimiter(limit, window, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.Allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"method", r.Method,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP достает адрес клиента с учетом reverse proxy
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
