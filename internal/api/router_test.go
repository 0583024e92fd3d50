package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/missionsdata/missions-api/internal/auth"
	"github.com/missionsdata/missions-api/internal/config"
	"github.com/missionsdata/missions-api/internal/db/models"
	"github.com/missionsdata/missions-api/internal/db/repositories"
	"github.com/missionsdata/missions-api/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return body
}

func TestHealthCheckHandler_Healthy(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler_Ready(t *testing.T) {
	db := newHealthDB(t, true)
	checks := map[string]ReadinessCheck{
		"cache": func(context.Context) error { return nil },
	}

	r := gin.New()
	r.GET("/ready", readinessHandler(db, checks))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["ready"] != true {
		t.Errorf("ready = %v, want true", body["ready"])
	}
	if results, _ := body["checks"].(map[string]interface{}); results["cache"] != "healthy" {
		t.Errorf("checks = %v, want cache healthy", body["checks"])
	}
}

func TestReadinessHandler_DatabaseDown(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/ready", readinessHandler(db, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body := decodeBody(t, w); body["ready"] != false {
		t.Errorf("ready = %v, want false", body["ready"])
	}
}

func TestReadinessHandler_CacheDown(t *testing.T) {
	db := newHealthDB(t, true)
	checks := map[string]ReadinessCheck{
		"cache": func(context.Context) error { return errors.New("dial tcp: connection refused") },
	}

	r := gin.New()
	r.GET("/ready", readinessHandler(db, checks))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "cache not ready" {
		t.Errorf("error = %v, want cache not ready", body["error"])
	}
	if strings.Contains(w.Body.String(), "refused") {
		t.Error("response leaks the check error")
	}
}

// ---------------------------------------------------------------------------
// versionHandler
// ---------------------------------------------------------------------------

func TestVersionHandler(t *testing.T) {
	for _, tc := range []struct{ in, want string }{{"1.4.0", "1.4.0"}, {"", "dev"}} {
		r := gin.New()
		r.GET("/version", versionHandler(tc.in))

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

		body := decodeBody(t, w)
		if body["version"] != tc.want {
			t.Errorf("version = %v, want %q", body["version"], tc.want)
		}
		if body["api_version"] != "v1" {
			t.Errorf("api_version = %v, want v1", body["api_version"])
		}
	}
}

// ---------------------------------------------------------------------------
// NewRouter, end to end
// ---------------------------------------------------------------------------

const (
	activeKey    = "mda_active_key_0000000000000000"
	suspendedKey = "mda_suspended_key_0000000000000"
	activeKeyID  = "0b5e8f3a-6d2c-4f71-9c4e-8a1d3b7e2f60"
	adminSecret  = "router-test-secret-of-32-chars!!"
)

var peopleGroupCols = []string{
	"id", "name", "country_code", "country_name", "population",
	"primary_religion", "primary_language", "least_reached", "month", "day", "updated_at",
}

// stubKeys answers IsUsable from a fixed table; unlisted keys are NOT_FOUND.
type stubKeys map[string]bool

func (s stubKeys) IsUsable(_ context.Context, raw string) (auth.Verdict, error) {
	suspended, ok := s[auth.NormalizeKey(raw)]
	switch {
	case !ok:
		return auth.Verdict{Reason: auth.ReasonNotFound}, nil
	case suspended:
		return auth.Verdict{Reason: auth.ReasonSuspended, Key: &models.APIKey{ID: "key-suspended", Suspended: true}}, nil
	default:
		return auth.Verdict{Authorized: true, Reason: auth.ReasonOK, Key: &models.APIKey{ID: activeKeyID}}, nil
	}
}

type countingUsage struct {
	mu     sync.Mutex
	counts map[string]int
}

func (u *countingUsage) Record(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[id]++
}

func (u *countingUsage) count(id string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[id]
}

// memKeys is an in-memory admin.APIKeyStore.
type memKeys struct {
	mu   sync.Mutex
	keys []*models.APIKey
}

func (m *memKeys) List(context.Context) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.APIKey, len(m.keys))
	copy(out, m.keys)
	return out, nil
}

func (m *memKeys) GetByID(_ context.Context, id string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			c := *k
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memKeys) SetSuspended(_ context.Context, id string, suspended bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			k.Suspended = suspended
			return true, nil
		}
	}
	return false, nil
}

// memAudit is an in-memory AuditLog.
type memAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (m *memAudit) CreateAuditLog(_ context.Context, l *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

func (m *memAudit) ListAuditLogs(context.Context, repositories.AuditFilters, int, int) ([]*models.AuditLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs, len(m.logs), nil
}

type testServer struct {
	handler http.Handler
	mock    sqlmock.Sqlmock
	usage   *countingUsage
	keys    *memKeys
	tokens  *auth.AdminTokens
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.APIKeys = config.APIKeyConfig{Header: "X-API-Key", QueryParam: "api_key", Prefix: "mda"}
	cfg.Auth.Admin.CookieName = "admin_session"
	cfg.API = config.APIConfig{MaxPageSize: 100, DefaultSortField: "name"}
	cfg.Security.CORS = config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "OPTIONS"}}
	return cfg
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewAdminTokens(adminSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewAdminTokens: %v", err)
	}

	usage := &countingUsage{counts: map[string]int{}}
	keys := &memKeys{keys: []*models.APIKey{
		{ID: activeKeyID, Name: "Prayer app", Email: "dev@example.org", KeyPrefix: "mda_active", CreatedAt: time.Now()},
	}}

	router := NewRouter(testConfig(), Dependencies{
		DB:           db,
		PeopleGroups: repositories.NewPeopleGroupRepository(sqlx.NewDb(db, "postgres")),
		Keys:         stubKeys{activeKey: false, suspendedKey: true},
		Usage:        usage,
		APIKeys:      keys,
		AuditLogs:    &memAudit{},
		AdminTokens:  tokens,
		Version:      "test",
	})

	return &testServer{
		handler: middleware.MethodOverride(router),
		mock:    mock,
		usage:   usage,
		keys:    keys,
		tokens:  tokens,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(target, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	return s.do(req)
}

func mayGroupRows() *sqlmock.Rows {
	updated := time.Date(2026, 4, 30, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(peopleGroupCols).
		AddRow(int64(10208), "Pashtun, Northern", "AF", "Afghanistan", int64(8200000), "Islam", "Pashto", true, 5, 1, updated).
		AddRow(int64(12350), "Hazara", "AF", "Afghanistan", int64(3100000), nil, nil, true, 5, 2, updated)
}

const monthQuery = `SELECT .* FROM people_groups WHERE month = \$1 ORDER BY name ASC, id ASC LIMIT \$2 OFFSET \$3`

type reportGroup struct {
	ID              int64  `json:"id" xml:"id"`
	Name            string `json:"name" xml:"name"`
	CountryCode     string `json:"country_code" xml:"country_code"`
	CountryName     string `json:"country_name" xml:"country_name"`
	Population      int64  `json:"population" xml:"population"`
	PrimaryReligion string `json:"primary_religion" xml:"primary_religion"`
	PrimaryLanguage string `json:"primary_language" xml:"primary_language"`
	LeastReached    bool   `json:"least_reached" xml:"least_reached"`
	Month           int    `json:"month" xml:"month"`
	Day             int    `json:"day" xml:"day"`
	UpdatedAt       string `json:"updated_at" xml:"updated_at"`
}

func TestRouter_MonthReportJSONAndXMLAgree(t *testing.T) {
	s := newTestServer(t)
	s.mock.ExpectQuery(monthQuery).WithArgs(5, 100, 0).WillReturnRows(mayGroupRows())
	s.mock.ExpectQuery(monthQuery).WithArgs(5, 100, 0).WillReturnRows(mayGroupRows())

	jw := s.get("/v1/people_groups.json?month=5", activeKey)
	xw := s.get("/v1/people_groups.xml?month=5", activeKey)

	if jw.Code != http.StatusOK || xw.Code != http.StatusOK {
		t.Fatalf("status json=%d xml=%d, want 200: %s", jw.Code, xw.Code, xw.Body.String())
	}
	if ct := xw.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("xml Content-Type = %q", ct)
	}

	var fromJSON struct {
		Data []reportGroup `json:"data"`
	}
	if err := json.Unmarshal(jw.Body.Bytes(), &fromJSON); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	var fromXML struct {
		XMLName xml.Name      `xml:"api"`
		Items   []reportGroup `xml:"items>item"`
	}
	if err := xml.Unmarshal(xw.Body.Bytes(), &fromXML); err != nil {
		t.Fatalf("invalid XML: %v", err)
	}

	if len(fromJSON.Data) != 2 {
		t.Fatalf("got %d groups, want 2", len(fromJSON.Data))
	}
	if !reflect.DeepEqual(fromJSON.Data, fromXML.Items) {
		t.Errorf("JSON and XML differ:\njson: %+v\nxml:  %+v", fromJSON.Data, fromXML.Items)
	}
	if s.usage.count(activeKeyID) != 2 {
		t.Errorf("usage recorded %d times, want 2", s.usage.count(activeKeyID))
	}
	if err := s.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRouter_SuspendedKeyLooksLikeUnknownKey(t *testing.T) {
	s := newTestServer(t)

	suspended := s.get("/v1/people_groups?month=5", suspendedKey)
	unknown := s.get("/v1/people_groups?month=5", "mda_never_issued_000000000000000")

	if suspended.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("status suspended=%d unknown=%d, want 401", suspended.Code, unknown.Code)
	}
	if suspended.Body.String() != unknown.Body.String() {
		t.Errorf("bodies differ:\nsuspended: %s\nunknown:   %s", suspended.Body.String(), unknown.Body.String())
	}
	if s.usage.count("key-suspended") != 0 {
		t.Error("usage recorded for a suspended key")
	}
}

func TestRouter_KeyFromQueryParameter(t *testing.T) {
	s := newTestServer(t)
	s.mock.ExpectQuery(monthQuery).WithArgs(5, 100, 0).WillReturnRows(mayGroupRows())

	w := s.get("/v1/people_groups?month=5&api_key="+url.QueryEscape(activeKey), "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRouter_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"unknown sort field", "/v1/people_groups?sort_field=religion"},
		{"bad sort direction", "/v1/people_groups?sort_field=name&sort_direction=sideways"},
		{"month out of range", "/v1/people_groups?month=13"},
		{"month not a number", "/v1/people_groups?month=may"},
		{"limit above maximum", "/v1/people_groups?limit=1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			w := s.get(tt.target, activeKey)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			body := decodeBody(t, w)
			data, _ := body["data"].(map[string]interface{})
			apiErr, _ := data["error"].(map[string]interface{})
			if apiErr["code"] != float64(400) || apiErr["message"] == "" {
				t.Errorf("unexpected error envelope: %s", w.Body.String())
			}
			if err := s.mock.ExpectationsWereMet(); err != nil {
				t.Errorf("query ran for an invalid request: %v", err)
			}
		})
	}
}

func TestRouter_UnknownRouteUsesNegotiatedFormat(t *testing.T) {
	s := newTestServer(t)

	jw := s.get("/v2/nothing", "")
	if jw.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", jw.Code)
	}
	if jw.Body.String() != `{"data":{"error":{"code":404,"message":"not found"}}}` {
		t.Errorf("JSON body = %s", jw.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v2/nothing", nil)
	req.Header.Set("Accept", "application/xml")
	xw := s.do(req)
	if xw.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", xw.Code)
	}
	if !strings.Contains(xw.Body.String(), "<api><error><code>404</code><message>not found</message></error></api>") {
		t.Errorf("XML body = %s", xw.Body.String())
	}
	if xw.Header().Get("X-Request-ID") == "" {
		t.Error("404 response has no request ID")
	}
}

func TestRouter_AdminAPIRequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/api_keys", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	token, _ := s.tokens.Issue("ops@example.com")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/api_keys", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = s.do(req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"key_prefix":"mda_active"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouter_AdminPageRedirectsWithoutSession(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/admin/api_keys", nil))

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/admin/login" {
		t.Errorf("status = %d location = %q, want 303 to /admin/login", w.Code, w.Header().Get("Location"))
	}
}

func TestRouter_AdminToggleThroughForm(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.tokens.Issue("ops@example.com")

	toggle := func(value string) *httptest.ResponseRecorder {
		form := url.Values{"_method": {"PUT"}, "suspended": {value}}
		req := httptest.NewRequest(http.MethodPost, "/admin/api_keys/"+activeKeyID, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(&http.Cookie{Name: "admin_session", Value: token})
		return s.do(req)
	}

	for i, value := range []string{"1", "1", "0"} {
		w := toggle(value)
		if w.Code != http.StatusOK {
			t.Fatalf("toggle %d: status = %d, want 200", i+1, w.Code)
		}
		if strings.Contains(w.Body.String(), "Saving failed") {
			t.Fatalf("toggle %d: saving error shown", i+1)
		}
		if w.Header().Get("Cache-Control") != "no-store" {
			t.Errorf("toggle %d: admin page is cacheable", i+1)
		}
	}

	key, _ := s.keys.GetByID(context.Background(), activeKeyID)
	if key.Suspended {
		t.Error("key still suspended after reinstating")
	}
}
