package admin

import (
	"net/http"
	"net/http/httptest"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var akCols = []string{
	"id", "name", "email", "key_hash", "key_prefix", "usage_description",
	"suspended", "usage_count", "last_used_at", "created_at",
}

const (
	keyOneID     = "6f9a2c1e-3b4d-4e8f-a7c2-5d1e9b0f3a24"
	keyTwoID     = "c2d4e6f8-1a3b-4c5d-8e7f-9a0b1c2d3e4f"
	unknownKeyID = "00000000-0000-4000-8000-000000000000"
)

var testCreatedAt = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func akRows(suspended bool) *sqlmock.Rows {
	lastUsed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(akCols).
		AddRow(keyOneID, "Prayer app", "dev@example.org", "$2a$hash", "mda_Ab3dE6", "Daily prayer guide",
			suspended, int64(42), lastUsed, testCreatedAt).
		AddRow(keyTwoID, "Research", "r@example.org", "$2a$hash2", "mda_Zz9yX8", "",
			false, int64(0), nil, testCreatedAt)
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
