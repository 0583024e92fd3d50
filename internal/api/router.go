// Package api wires together all HTTP routes of the missions data API.
//
// Route groups:
//   - /health, /ready and /version are unauthenticated.
//   - /v1/ data routes require a usable API key. Each list route answers with or
//     without a .json/.xml extension.
//   - /admin/ serves the server-rendered key administration pages behind an admin
//     session cookie; /api/v1/admin/ is the same surface as JSON/XML behind a bearer
//     token. Admin writes are audit-logged.
//
// The engine is wrapped by middleware.MethodOverride in cmd/server so HTML forms can
// reach the PUT routes.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/missionsdata/missions-api/internal/api/admin"
	"github.com/missionsdata/missions-api/internal/api/peoplegroups"
	"github.com/missionsdata/missions-api/internal/auth"
	"github.com/missionsdata/missions-api/internal/config"
	"github.com/missionsdata/missions-api/internal/db/repositories"
	"github.com/missionsdata/missions-api/internal/middleware"
	"github.com/missionsdata/missions-api/internal/render"
)

// AuditLog is the audit trail: written by the audit middleware, read by the admin API.
type AuditLog interface {
	middleware.AuditWriter
	admin.AuditStore
}

// ReadinessCheck probes one dependency. A non-nil error marks the service not ready.
type ReadinessCheck func(ctx context.Context) error

// Dependencies are the collaborators the router hands to its handlers.
type Dependencies struct {
	DB           *sql.DB
	PeopleGroups repositories.PeopleGroupReader
	Keys         middleware.KeyAuthorizer
	Usage        middleware.UsageRecorder
	APIKeys      admin.APIKeyStore
	AuditLogs    AuditLog
	AdminTokens  *auth.AdminTokens
	// Checks run in /ready after the database ping, keyed by name ("cache").
	Checks  map[string]ReadinessCheck
	Version string
}

var dataExtensions = []string{"", ".json", ".xml"}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.New()
	router.SetHTMLTemplate(admin.Templates())

	tls := cfg.Security.TLS.Enabled
	r := render.New(cfg.XML.CollectionTag, cfg.XML.ItemTag)

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(tls)))

	router.NoRoute(func(c *gin.Context) {
		r.Error(c, http.StatusNotFound, "not found")
	})

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Checks))
	router.GET("/version", versionHandler(deps.Version))

	// Data routes
	groups := peoplegroups.NewHandlers(deps.PeopleGroups, r, cfg.API)
	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(cfg.Auth.APIKeys, deps.Keys, deps.Usage, r))
	{
		for _, ext := range dataExtensions {
			v1.GET("/people_groups"+ext, groups.ListHandler())
			v1.GET("/people_groups/daily_unreached"+ext, groups.DailyUnreachedHandler())
		}
		v1.GET("/people_groups/:id", groups.GetHandler())
	}

	cookie := cfg.Auth.Admin.CookieName
	keys := admin.NewAPIKeyHandlers(deps.APIKeys, r)
	audits := admin.NewAuditHandlers(deps.AuditLogs, r, cfg.API.MaxPageSize)
	sessions := admin.NewSessionHandlers(deps.AdminTokens, cookie, tls)

	// Admin pages
	pages := router.Group("/admin")
	pages.Use(middleware.SecurityHeadersMiddleware(middleware.AdminSecurityHeadersConfig(tls)))
	{
		pages.GET("/login", sessions.LoginPageHandler())
		pages.POST("/session", sessions.CreateHandler())
		pages.POST("/logout", sessions.DeleteHandler())

		signedIn := pages.Group("")
		signedIn.Use(middleware.AdminPageAuth(deps.AdminTokens, cookie, "/admin/login"))
		signedIn.Use(middleware.AuditMiddleware(deps.AuditLogs))
		{
			signedIn.GET("", func(c *gin.Context) { c.Redirect(http.StatusSeeOther, "/admin/api_keys") })
			signedIn.GET("/api_keys", keys.ListPageHandler())
			signedIn.PUT("/api_keys/:id", keys.UpdatePageHandler())
		}
	}

	// Admin API
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.AdminAuth(deps.AdminTokens, cookie, r))
	adminAPI.Use(middleware.AuditMiddleware(deps.AuditLogs))
	{
		for _, ext := range dataExtensions {
			adminAPI.GET("/api_keys"+ext, keys.ListHandler())
			adminAPI.GET("/audit_logs"+ext, audits.ListHandler())
		}
		adminAPI.PUT("/api_keys/:id", keys.UpdateHandler())
	}

	return router
}

// healthCheckHandler is the liveness probe: the process is up and the database answers.
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports whether the service can take traffic. Unlike /health it also
// runs the optional dependency checks, so a readiness gate fails when the cache is down.
func readinessHandler(db *sql.DB, checks map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		results := gin.H{}
		if err := db.PingContext(ctx); err != nil {
			results["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": results,
				"error":  "database not ready",
			})
			return
		}
		results["database"] = "healthy"

		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": results,
					"error":  name + " not ready",
				})
				return
			}
			results[name] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": results,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the build version and the data API version.
func versionHandler(version string) gin.HandlerFunc {
	if version == "" {
		version = "dev"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"api_version": "v1",
		})
	}
}
