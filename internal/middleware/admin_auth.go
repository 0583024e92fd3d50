package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/missionsdata/missions-api/internal/auth"
	"github.com/missionsdata/missions-api/internal/render"
)

// AdminAuth requires a valid admin session token, taken from an "Authorization: Bearer"
// header or, for browser requests, from the named cookie. The token subject is stored
// under AdminSubjectKey.
func AdminAuth(tokens *auth.AdminTokens, cookieName string, r *render.Renderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, method := adminToken(c, cookieName)
		if token == "" {
			r.Abort(c, http.StatusUnauthorized, "admin session required")
			return
		}
		if !verifyAdmin(c, tokens, token, method) {
			r.Abort(c, http.StatusUnauthorized, "invalid admin session")
			return
		}
		c.Next()
	}
}

// AdminPageAuth is AdminAuth for the HTML pages: a missing or invalid session redirects
// to loginPath instead of answering 401.
func AdminPageAuth(tokens *auth.AdminTokens, cookieName, loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, method := adminToken(c, cookieName)
		if token == "" || !verifyAdmin(c, tokens, token, method) {
			c.Redirect(http.StatusSeeOther, loginPath)
			c.Abort()
			return
		}
		c.Next()
	}
}

func adminToken(c *gin.Context, cookieName string) (string, string) {
	if token := bearerToken(c.GetHeader("Authorization")); token != "" {
		return token, "bearer"
	}
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v, "cookie"
		}
	}
	return "", ""
}

func verifyAdmin(c *gin.Context, tokens *auth.AdminTokens, token, method string) bool {
	claims, err := tokens.Verify(token)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "admin token rejected",
			"error", err,
			"method", method,
			"ip", c.ClientIP(),
			"request_id", c.GetString(RequestIDKey),
		)
		return false
	}
	c.Set(AdminSubjectKey, claims.Subject)
	c.Set(AuthMethodKey, "admin_"+method)
	return true
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
