package middleware

import (
	"net/http"
	"time"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/storage"
)

const (
	rateLimitWindow  = time.Minute
	rateLimitMaxIP   = 200
	rateLimitMaxUser = 100
)

// RateLimitAPI ограничивает запросы к /api/* по IP и по user_id (если есть в
// контексте). Счётчики живут в EphemeralStore (Redis в проде, memory в -dev),
// так что лимит общий для всех реплик. 429 при превышении; при недоступном
// store запрос пропускается (лимит — защита, не источник отказов).
func RateLimitAPI(store storage.EphemeralStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if x := r.Header.Get("X-Real-Ip"); x != "" {
				ip = x
			} else if x := r.Header.Get("X-Forwarded-For"); x != "" {
				ip = x
			}
			n, err := store.IncrWindow(r.Context(), "rl:ip:"+ip, rateLimitWindow)
			if err != nil {
				logger.Errorf("ratelimit ip=%s: %v", ip, err)
			} else if n > rateLimitMaxIP {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			if userID := GetUserID(r.Context()); userID != "" {
				n, err := store.IncrWindow(r.Context(), "rl:u:"+userID, rateLimitWindow)
				if err != nil {
					logger.Errorf("ratelimit user=%s: %v", userID, err)
				} else if n > rateLimitMaxUser {
					http.Error(w, "too many requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
