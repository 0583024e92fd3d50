// Package admin implements the administrative handlers: the API key listing with the
// suspend/reinstate toggle (as HTML pages and as JSON), admin sign-in, and the audit log.
// Every route here sits behind middleware.AdminAuth except the sign-in pages.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/missionsdata/missions-api/internal/db/models"
	"github.com/missionsdata/missions-api/internal/middleware"
	"github.com/missionsdata/missions-api/internal/render"
	"github.com/missionsdata/missions-api/internal/serializer"
)

// APIKeyStore is the persistence the key handlers need.
type APIKeyStore interface {
	List(ctx context.Context) ([]*models.APIKey, error)
	GetByID(ctx context.Context, id string) (*models.APIKey, error)
	SetSuspended(ctx context.Context, id string, suspended bool) (bool, error)
}

// APIKeyRow is one line of the key listing page.
type APIKeyRow struct {
	ID               string
	Name             string
	Email            string
	KeyPrefix        string
	UsageDescription string
	UsageCount       int64
	LastUsedAt       string
	CreatedAt        string
	Suspended        bool
}

// APIKeyListView is the model of the key listing page. Saved and SavingError report the
// outcome of the write that produced the page; both are false on a plain GET.
type APIKeyListView struct {
	Subject     string
	Keys        []APIKeyRow
	Saved       bool
	SavingError bool
	LoadError   bool
	Message     string
}

// APIKeyHandlers serves the API key administration routes.
type APIKeyHandlers struct {
	keys   APIKeyStore
	render *render.Renderer
}

// NewAPIKeyHandlers creates the API key handlers.
func NewAPIKeyHandlers(keys APIKeyStore, r *render.Renderer) *APIKeyHandlers {
	return &APIKeyHandlers{keys: keys, render: r}
}

// ListPageHandler renders the key listing.
// GET /admin/api_keys
func (h *APIKeyHandlers) ListPageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.renderPage(c, http.StatusOK, APIKeyListView{})
	}
}

// UpdatePageHandler applies suspended=0|1 from the form and re-renders the listing with
// the outcome banner. Browsers reach it as a POST carrying _method=PUT.
// PUT /admin/api_keys/:id
func (h *APIKeyHandlers) UpdatePageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := h.apply(c, c.Param("id"), c.PostForm("suspended"))
		view := APIKeyListView{Message: res.message}
		if res.status == http.StatusOK {
			view.Saved = true
		} else {
			view.SavingError = true
		}
		h.renderPage(c, res.status, view)
	}
}

// ListHandler returns all keys as data.
// GET /api/v1/admin/api_keys(.json|.xml)
func (h *APIKeyHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := h.keys.List(c.Request.Context())
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "failed to list api keys", "error", err)
			h.render.Error(c, http.StatusInternalServerError, "internal server error")
			return
		}
		payload := make([]serializer.Map, 0, len(keys))
		for _, k := range keys {
			payload = append(payload, apiKeyMap(k))
		}
		h.render.Data(c, http.StatusOK, payload, serializer.WithWrapperTags("api_keys", "api_key"))
	}
}

type updateRequest struct {
	Suspended *bool `json:"suspended"`
}

// UpdateHandler sets the suspended flag from a JSON body {"suspended": true|false} or a
// form field suspended=0|1 and returns the key with saved/saving_error flags.
// PUT /api/v1/admin/api_keys/:id
func (h *APIKeyHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _, _ := render.SplitExtension(c.Param("id"))

		raw := c.PostForm("suspended")
		if strings.HasPrefix(c.ContentType(), "application/json") {
			var req updateRequest
			if err := c.ShouldBindJSON(&req); err != nil || req.Suspended == nil {
				h.render.Error(c, http.StatusBadRequest, "suspended: must be true or false")
				return
			}
			raw = "0"
			if *req.Suspended {
				raw = "1"
			}
		}

		res := h.apply(c, id, raw)
		if res.status != http.StatusOK {
			h.render.Error(c, res.status, res.message)
			return
		}

		key, err := h.keys.GetByID(c.Request.Context(), id)
		if err != nil || key == nil {
			// The write succeeded; report it without the record.
			slog.WarnContext(c.Request.Context(), "failed to reload api key after update", "api_key_id", id, "error", err)
			h.render.Data(c, http.StatusOK, serializer.Map{
				{Key: "saved", Value: true},
				{Key: "saving_error", Value: false},
			})
			return
		}

		h.render.Data(c, http.StatusOK, serializer.Map{
			{Key: "api_key", Value: apiKeyMap(key)},
			{Key: "saved", Value: true},
			{Key: "saving_error", Value: false},
		})
	}
}

type applyResult struct {
	status  int
	message string
}

// apply performs the suspend/reinstate write and records it for the audit middleware.
// Writing the current value again succeeds.
func (h *APIKeyHandlers) apply(c *gin.Context, id, raw string) applyResult {
	var suspended bool
	switch strings.TrimSpace(raw) {
	case "1":
		suspended = true
	case "0":
		suspended = false
	default:
		return applyResult{http.StatusBadRequest, "suspended must be 0 or 1"}
	}

	action := "api_key.reinstate"
	if suspended {
		action = "api_key.suspend"
	}
	c.Set(middleware.AuditActionKey, action)
	c.Set(middleware.AuditResourceTypeKey, "api_key")
	c.Set(middleware.AuditResourceIDKey, id)
	c.Set(middleware.AuditMetadataKey, map[string]interface{}{"suspended": suspended})

	// Ids are UUIDs; anything else cannot name a stored key.
	if _, err := uuid.Parse(id); err != nil {
		return applyResult{http.StatusNotFound, "api key not found"}
	}

	matched, err := h.keys.SetSuspended(c.Request.Context(), id, suspended)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to save api key state",
			"api_key_id", id,
			"suspended", suspended,
			"error", err,
		)
		return applyResult{http.StatusInternalServerError, "the change could not be saved"}
	}
	if !matched {
		return applyResult{http.StatusNotFound, "api key not found"}
	}

	slog.InfoContext(c.Request.Context(), "api key state changed",
		"api_key_id", id,
		"suspended", suspended,
		"admin", c.GetString(middleware.AdminSubjectKey),
	)
	if suspended {
		return applyResult{http.StatusOK, "API key suspended."}
	}
	return applyResult{http.StatusOK, "API key reinstated."}
}

func (h *APIKeyHandlers) renderPage(c *gin.Context, status int, view APIKeyListView) {
	view.Subject = c.GetString(middleware.AdminSubjectKey)

	keys, err := h.keys.List(c.Request.Context())
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to list api keys", "error", err)
		view.LoadError = true
		if status == http.StatusOK && !view.Saved {
			status = http.StatusInternalServerError
		}
	}
	view.Keys = make([]APIKeyRow, 0, len(keys))
	for _, k := range keys {
		view.Keys = append(view.Keys, apiKeyRow(k))
	}

	c.HTML(status, "api_keys.html", view)
}

func apiKeyRow(k *models.APIKey) APIKeyRow {
	row := APIKeyRow{
		ID:               k.ID,
		Name:             k.Name,
		Email:            k.Email,
		KeyPrefix:        k.KeyPrefix,
		UsageDescription: k.UsageDescription,
		UsageCount:       k.UsageCount,
		CreatedAt:        k.CreatedAt.UTC().Format(time.RFC3339),
		Suspended:        k.Suspended,
	}
	if k.LastUsedAt != nil {
		row.LastUsedAt = k.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return row
}

// apiKeyMap is the data representation of a key. The hash is never exposed.
func apiKeyMap(k *models.APIKey) serializer.Map {
	m := serializer.NewMap(9)
	m.Set("id", k.ID)
	m.Set("name", k.Name)
	m.Set("email", k.Email)
	m.Set("key_prefix", k.KeyPrefix)
	m.Set("usage_description", k.UsageDescription)
	m.Set("suspended", k.Suspended)
	m.Set("usage_count", k.UsageCount)
	if k.LastUsedAt != nil {
		m.Set("last_used_at", k.LastUsedAt.UTC())
	}
	m.Set("created_at", k.CreatedAt.UTC())
	return m
}
