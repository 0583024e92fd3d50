package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/missionsdata/missions-api/internal/db/models"
	"github.com/missionsdata/missions-api/internal/safego"
)

// AuditWriter persists audit records.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Context keys a handler may set to describe the resource it changed.
const (
	AuditResourceTypeKey = "audit_resource_type"
	AuditResourceIDKey   = "audit_resource_id"
	AuditActionKey       = "audit_action"
	AuditMetadataKey     = "audit_metadata"
)

// AuditMiddleware records admin write requests after the handler has run. Reads and
// preflights are skipped; failed writes are recorded too, with their status, so rejected
// changes stay visible. Records are written in the background with a 5 second timeout.
func AuditMiddleware(writer AuditWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		entry := auditEntry(c)
		safego.Go("audit log writer", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := writer.CreateAuditLog(ctx, entry); err != nil {
				slog.Error("failed to write audit log", "error", err, "action", entry.Action)
			}
		})
	}
}

func auditEntry(c *gin.Context) *models.AuditLog {
	actor := c.GetString(AdminSubjectKey)
	if actor == "" {
		actor = "anonymous"
	}
	action := c.GetString(AuditActionKey)
	if action == "" {
		action = c.Request.Method + " " + c.FullPath()
	}
	ip := c.ClientIP()

	metadata := map[string]interface{}{
		"status_code": c.Writer.Status(),
		"request_id":  c.GetString(RequestIDKey),
	}
	if method := c.GetString(AuthMethodKey); method != "" {
		metadata["auth_method"] = method
	}
	if extra, ok := c.Get(AuditMetadataKey); ok {
		if m, ok := extra.(map[string]interface{}); ok {
			for k, v := range m {
				metadata[k] = v
			}
		}
	}

	entry := &models.AuditLog{
		Actor:     actor,
		Action:    action,
		Metadata:  metadata,
		IPAddress: &ip,
		CreatedAt: time.Now().UTC(),
	}
	if rt := c.GetString(AuditResourceTypeKey); rt != "" {
		entry.ResourceType = &rt
	}
	if id := c.GetString(AuditResourceIDKey); id != "" {
		entry.ResourceID = &id
	}
	return entry
}
