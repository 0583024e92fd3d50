package admin

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/missionsdata/missions-api/internal/auth"
)

// SessionHandlers exchange an admin token for a browser session cookie. The cookie is
// HttpOnly and SameSite=Strict, so cross-site form posts do not carry it.
type SessionHandlers struct {
	tokens     *auth.AdminTokens
	cookieName string
	secure     bool
}

// NewSessionHandlers creates the sign-in handlers. secure marks the cookie Secure and
// should be set whenever the server is reached over TLS.
func NewSessionHandlers(tokens *auth.AdminTokens, cookieName string, secure bool) *SessionHandlers {
	return &SessionHandlers{tokens: tokens, cookieName: cookieName, secure: secure}
}

type loginView struct {
	Error string
}

// LoginPageHandler renders the sign-in form.
// GET /admin/login
func (h *SessionHandlers) LoginPageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "login.html", loginView{})
	}
}

// CreateHandler verifies the submitted token and stores it in the session cookie.
// POST /admin/session
func (h *SessionHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.PostForm("token"))
		claims, err := h.tokens.Verify(token)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "admin sign-in rejected", "error", err, "ip", c.ClientIP())
			c.HTML(http.StatusUnauthorized, "login.html", loginView{Error: "That token is not valid."})
			return
		}

		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(h.cookieName, token, int(h.tokens.TTL().Seconds()), "/", "", h.secure, true)
		slog.InfoContext(c.Request.Context(), "admin signed in", "admin", claims.Subject, "ip", c.ClientIP())
		c.Redirect(http.StatusSeeOther, "/admin/api_keys")
	}
}

// DeleteHandler clears the session cookie.
// POST /admin/logout
func (h *SessionHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(h.cookieName, "", -1, "/", "", h.secure, true)
		c.Redirect(http.StatusSeeOther, "/admin/login")
	}
}
