package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/missionsdata/missions-api/internal/db/models"
	"github.com/missionsdata/missions-api/internal/db/repositories"
	"github.com/missionsdata/missions-api/internal/query"
	"github.com/missionsdata/missions-api/internal/render"
	"github.com/missionsdata/missions-api/internal/serializer"
)

// AuditStore reads audit records.
type AuditStore interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// AuditHandlers serves the audit log.
type AuditHandlers struct {
	logs        AuditStore
	render      *render.Renderer
	maxPageSize int
}

// NewAuditHandlers creates the audit log handlers.
func NewAuditHandlers(logs AuditStore, r *render.Renderer, maxPageSize int) *AuditHandlers {
	return &AuditHandlers{logs: logs, render: r, maxPageSize: maxPageSize}
}

// ListHandler returns audit records, newest first.
// GET /api/v1/admin/audit_logs(.json|.xml)?actor=&action=&resource_type=&resource_id=&limit=&page=
func (h *AuditHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := query.NewPage(c.Query("limit"), c.Query("page"), h.maxPageSize)
		if err != nil {
			h.render.Error(c, http.StatusBadRequest, err.Error())
			return
		}

		filters := repositories.AuditFilters{
			Actor:        optional(c.Query("actor")),
			Action:       optional(c.Query("action")),
			ResourceType: optional(c.Query("resource_type")),
			ResourceID:   optional(c.Query("resource_id")),
		}

		logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filters, page.Limit, page.Offset())
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "failed to list audit logs", "error", err)
			h.render.Error(c, http.StatusInternalServerError, "internal server error")
			return
		}

		entries := make([]serializer.Map, 0, len(logs))
		for _, l := range logs {
			entries = append(entries, auditLogMap(l))
		}
		h.render.Data(c, http.StatusOK, serializer.Map{
			{Key: "total", Value: total},
			{Key: "page", Value: page.Number},
			{Key: "limit", Value: page.Limit},
			{Key: "audit_logs", Value: entries},
		})
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func auditLogMap(l *models.AuditLog) serializer.Map {
	m := serializer.NewMap(8)
	m.Set("id", l.ID)
	m.Set("actor", l.Actor)
	m.Set("action", l.Action)
	if l.ResourceType != nil {
		m.Set("resource_type", *l.ResourceType)
	}
	if l.ResourceID != nil {
		m.Set("resource_id", *l.ResourceID)
	}
	if l.IPAddress != nil {
		m.Set("ip_address", *l.IPAddress)
	}
	if len(l.Metadata) > 0 {
		m.Set("metadata", l.Metadata)
	}
	m.Set("created_at", l.CreatedAt.UTC())
	return m
}
