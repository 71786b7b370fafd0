package handler

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/observability"
	"github.com/boddenberg/budget-tracker-go/internal/port"
	"github.com/boddenberg/budget-tracker-go/internal/service"

	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "userID"

// AuthCookie carries the session token.
const AuthCookie = "authToken"

// JWTAuthMiddleware accepts the session cookie or an Authorization: Bearer
// header and injects the user id into the request context.
func JWTAuthMiddleware(authSvc *service.AuthService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				logger.Debug("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			claims, err := authSvc.ValidateAccessToken(tokenString)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(AuthCookie); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// UserIDFromContext returns the authenticated user id.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// ============================================================
// Rate limiting
// ============================================================

// RateLimit allows max requests per client IP within each fixed window.
func RateLimit(scope string, limiter port.RateLimiter, max int, window time.Duration, metrics *observability.Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			key := "rate_limit:" + scope + ":" + ip

			count, resetIn, err := limiter.Hit(r.Context(), key, window)
			if err != nil {
				logger.Error("rate limiter unavailable",
					zap.String("scope", scope),
					zap.Error(err),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			remaining := max - int(count)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if count > int64(max) {
				metrics.IncrRateLimited(scope)
				logger.Warn("rate limit exceeded",
					zap.String("scope", scope),
					zap.String("ip", ip),
					zap.Int64("count", count),
				)
				handleServiceError(w, &domain.ErrRateLimited{
					Limit:     max,
					Remaining: 0,
					ResetAt:   time.Now().Add(resetIn).UnixMilli(),
				}, logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the normalized remote address. IPv4-mapped IPv6
// addresses are unmapped and the IPv6 loopback becomes 127.0.0.1.
func ClientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return host
	}
	addr = addr.Unmap()
	if addr == netip.IPv6Loopback() {
		return "127.0.0.1"
	}
	return addr.String()
}
