package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"corkboard/api/internal/identity"
)

const (
	headerRequestID     = "X-Request-ID"
	headerBoardPassword = "X-Board-Password"
	headerDeviceID      = "X-Device-ID"
)

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "PATCH", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", headerRequestID, headerBoardPassword, headerDeviceID},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", headerRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// requestLogger tags each request with an id and logs it when done.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = randomRequestID()
		}
		c.Header(headerRequestID, requestID)
		c.Header("Cache-Control", "no-store")

		started := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(started)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

type clientLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// ipLimiter is a token bucket per client IP. Idle buckets expire.
type ipLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
}

func newIPLimiter(perMinute int) *ipLimiter {
	perMinute = max(perMinute, 1)
	return &ipLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   max(perMinute/2, 1),
		clients: map[string]*clientLimiter{},
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, cl := range l.clients {
		if now.After(cl.expires) {
			delete(l.clients, key)
		}
	}
	cl, ok := l.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = cl
	}
	cl.expires = now.Add(5 * time.Minute)
	return cl.limiter.Allow()
}

func (l *ipLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// tokenAuthenticator turns a bearer token into a user.
type tokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (identity.User, error)
}

// authenticate puts the bearer token's user and any board password into
// the request context. Requests without a token continue as guests.
// WebSocket clients may pass both as query parameters.
func authenticate(auth tokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if pw := firstNonEmpty(c.GetHeader(headerBoardPassword), c.Query("password")); pw != "" {
			ctx = WithBoardPassword(ctx, pw)
		}
		token := firstNonEmpty(bearerToken(c.Request), c.Query("token"))
		if token != "" && auth != nil {
			u, err := auth.Authenticate(ctx, token)
			if err != nil {
				respondError(c, storeError(err, "config"))
				c.Abort()
				return
			}
			ctx = identity.WithUser(ctx, u)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.JSON(status, response)
}

func respondError(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	writeError(c, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	// Batch items carry their own DomainErrors; the batch itself wins.
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return http.StatusMultiStatus, CodePartialFailure, "Some items could not be updated", map[string]any{"failed": batchErr.IDs(), "total": batchErr.Total}
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, identity.ErrInvalidToken), errors.Is(err, identity.ErrExpiredToken):
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	case errors.Is(err, identity.ErrNotWhitelisted):
		return http.StatusForbidden, CodePermissionDenied, "This account is not allowed to sign in", nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeNetworkFailure, "Request cancelled", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
