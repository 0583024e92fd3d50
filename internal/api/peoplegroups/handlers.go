// Package peoplegroups implements the people group data endpoints. Responses are built as
// serializer.Map values so the JSON and XML renderings carry the same fields in the same
// order.
package peoplegroups

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/missionsdata/missions-api/internal/config"
	"github.com/missionsdata/missions-api/internal/db/models"
	"github.com/missionsdata/missions-api/internal/db/repositories"
	"github.com/missionsdata/missions-api/internal/query"
	"github.com/missionsdata/missions-api/internal/render"
	"github.com/missionsdata/missions-api/internal/serializer"
)

// Handlers serves /v1/people_groups.
type Handlers struct {
	groups repositories.PeopleGroupReader
	render *render.Renderer
	cfg    config.APIConfig
	now    func() time.Time
}

// NewHandlers creates the people group handlers.
func NewHandlers(groups repositories.PeopleGroupReader, r *render.Renderer, cfg config.APIConfig) *Handlers {
	return &Handlers{groups: groups, render: r, cfg: cfg, now: time.Now}
}

// ListHandler returns people groups matching the request filters.
// GET /v1/people_groups(.json|.xml)?country=&month=&day=&least_reached=&sort_field=&sort_direction=&limit=&page=
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseFilter(c)
		if err != nil {
			h.render.Error(c, http.StatusBadRequest, err.Error())
			return
		}
		h.list(c, filter, c.Query("sort_field"), c.Query("sort_direction"))
	}
}

// DailyUnreachedHandler returns the least-reached people groups scheduled for a calendar
// day, today (UTC) unless month and day are given.
// GET /v1/people_groups/daily_unreached(.json|.xml)?month=&day=
func (h *Handlers) DailyUnreachedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		today := h.now().UTC()
		rawMonth := c.DefaultQuery("month", strconv.Itoa(int(today.Month())))
		rawDay := c.DefaultQuery("day", strconv.Itoa(today.Day()))

		month, err := query.NewMonthFilter(rawMonth)
		if err != nil {
			h.render.Error(c, http.StatusBadRequest, err.Error())
			return
		}
		day, err := query.NewDayFilter(rawDay)
		if err != nil {
			h.render.Error(c, http.StatusBadRequest, err.Error())
			return
		}

		filter := repositories.PeopleGroupFilter{Month: month, Day: day, LeastReached: true}
		h.list(c, filter, c.Query("sort_field"), c.Query("sort_direction"))
	}
}

// GetHandler returns one people group.
// GET /v1/people_groups/:id(.json|.xml)
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawID, _, _ := render.SplitExtension(c.Param("id"))
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			h.render.Error(c, http.StatusBadRequest, "id: must be a positive integer")
			return
		}

		group, err := h.groups.Get(c.Request.Context(), id)
		if err != nil {
			h.internalError(c, "failed to get people group", err)
			return
		}
		if group == nil {
			h.render.Error(c, http.StatusNotFound, "people group not found")
			return
		}

		h.render.Data(c, http.StatusOK, peopleGroupMap(group))
	}
}

func (h *Handlers) list(c *gin.Context, filter repositories.PeopleGroupFilter, sortField, sortDirection string) {
	sortSpec, err := query.ParseSortSpec(sortField, sortDirection, h.cfg.DefaultSortField)
	if err != nil {
		h.render.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	page, err := query.NewPage(c.Query("limit"), c.Query("page"), h.cfg.MaxPageSize)
	if err != nil {
		h.render.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	groups, err := h.groups.List(c.Request.Context(), filter, sortSpec, page)
	if err != nil {
		if errors.Is(err, query.ErrValidation) {
			h.render.Error(c, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(c, "failed to list people groups", err)
		return
	}

	payload := make([]serializer.Map, 0, len(groups))
	for i := range groups {
		payload = append(payload, peopleGroupMap(&groups[i]))
	}
	h.render.Data(c, http.StatusOK, payload)
}

func (h *Handlers) internalError(c *gin.Context, msg string, err error) {
	slog.ErrorContext(c.Request.Context(), msg, "error", err, "request_id", c.GetString("request_id"))
	h.render.Error(c, http.StatusInternalServerError, "internal server error")
}

// parseFilter reads the list filters. country is an ISO 3166 alpha-2 code.
func parseFilter(c *gin.Context) (repositories.PeopleGroupFilter, error) {
	var f repositories.PeopleGroupFilter

	if raw := strings.TrimSpace(c.Query("country")); raw != "" {
		code := strings.ToUpper(raw)
		if !isCountryCode(code) {
			return f, &query.ValidationError{Field: "country", Message: "must be a 2 letter country code"}
		}
		f.CountryCode = code
	}

	month, err := query.NewMonthFilter(c.Query("month"))
	if err != nil {
		return f, err
	}
	f.Month = month

	day, err := query.NewDayFilter(c.Query("day"))
	if err != nil {
		return f, err
	}
	f.Day = day

	if raw := strings.TrimSpace(c.Query("least_reached")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, &query.ValidationError{Field: "least_reached", Message: "must be true or false"}
		}
		f.LeastReached = v
	}
	return f, nil
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// peopleGroupMap is the public representation of a people group. Unset optional fields
// are left out rather than rendered as null or empty elements.
func peopleGroupMap(g *models.PeopleGroup) serializer.Map {
	m := serializer.NewMap(11)
	m.Set("id", g.ID)
	m.Set("name", g.Name)
	m.Set("country_code", g.CountryCode)
	m.Set("country_name", g.CountryName)
	m.Set("population", g.Population)
	if g.PrimaryReligion != nil {
		m.Set("primary_religion", *g.PrimaryReligion)
	}
	if g.PrimaryLanguage != nil {
		m.Set("primary_language", *g.PrimaryLanguage)
	}
	m.Set("least_reached", g.LeastReached)
	if g.Month != nil {
		m.Set("month", *g.Month)
	}
	if g.Day != nil {
		m.Set("day", *g.Day)
	}
	m.Set("updated_at", g.UpdatedAt.UTC())
	return m
}
