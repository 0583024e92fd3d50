// Package middleware provides the Gin middleware of the missions data API: API key
// authorization for data routes, admin session authentication, request IDs, request
// logging, metrics, CORS, security headers, method override and audit logging.
//
// Order is set in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → (APIKeyAuth | AdminAuth → Audit) → Handler
//
// Security headers run before auth so they are present on 401 responses too.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/missionsdata/missions-api/internal/auth"
	"github.com/missionsdata/missions-api/internal/config"
	"github.com/missionsdata/missions-api/internal/render"
	"github.com/missionsdata/missions-api/internal/telemetry"
)

// Context keys set by the auth middleware.
const (
	APIKeyKey       = "api_key"
	APIKeyIDKey     = "api_key_id"
	AdminSubjectKey = "admin_subject"
	AuthMethodKey   = "auth_method"
)

const (
	msgKeyRequired = "api key required"
	msgKeyInvalid  = "invalid api key"
)

// KeyAuthorizer is the IsUsable check.
type KeyAuthorizer interface {
	IsUsable(ctx context.Context, rawKey string) (auth.Verdict, error)
}

// UsageRecorder counts an authorized request against a key.
type UsageRecorder interface {
	Record(keyID string)
}

// APIKeyAuth requires a usable API key on every request. The key is read from the
// configured header first, then the query parameter. NOT_FOUND and SUSPENDED produce the
// same 401 body; they differ only in logs and in api_key_authorizations_total.
func APIKeyAuth(cfg config.APIKeyConfig, authorizer KeyAuthorizer, usage UsageRecorder, r *render.Renderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := presentedKey(c, cfg)
		if rawKey == "" {
			telemetry.APIKeyAuthorizationsTotal.WithLabelValues("missing").Inc()
			r.Abort(c, http.StatusUnauthorized, msgKeyRequired)
			return
		}

		verdict, err := authorizer.IsUsable(c.Request.Context(), rawKey)
		if err != nil {
			telemetry.APIKeyAuthorizationsTotal.WithLabelValues("error").Inc()
			slog.ErrorContext(c.Request.Context(), "api key lookup failed",
				"error", err,
				"request_id", c.GetString(RequestIDKey),
			)
			r.Abort(c, http.StatusInternalServerError, "internal server error")
			return
		}

		reason := strings.ToLower(string(verdict.Reason))
		telemetry.APIKeyAuthorizationsTotal.WithLabelValues(reason).Inc()

		if !verdict.Authorized {
			attrs := []any{
				"reason", reason,
				"key_prefix", auth.DisplayPrefix(auth.NormalizeKey(rawKey)),
				"ip", c.ClientIP(),
				"request_id", c.GetString(RequestIDKey),
			}
			if verdict.Key != nil {
				attrs = append(attrs, "api_key_id", verdict.Key.ID)
			}
			slog.WarnContext(c.Request.Context(), "api key rejected", attrs...)
			r.Abort(c, http.StatusUnauthorized, msgKeyInvalid)
			return
		}

		c.Set(APIKeyKey, verdict.Key)
		c.Set(APIKeyIDKey, verdict.Key.ID)
		c.Set(AuthMethodKey, "api_key")
		if usage != nil {
			usage.Record(verdict.Key.ID)
		}

		c.Next()
	}
}

func presentedKey(c *gin.Context, cfg config.APIKeyConfig) string {
	if cfg.Header != "" {
		if v := strings.TrimSpace(c.GetHeader(cfg.Header)); v != "" {
			return v
		}
	}
	if cfg.QueryParam != "" {
		return strings.TrimSpace(c.Query(cfg.QueryParam))
	}
	return ""
}
