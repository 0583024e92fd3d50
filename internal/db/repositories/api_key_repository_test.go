package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/missionsdata/missions-api/internal/db/models"
)

var errDB = errors.New("db error")

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var apiKeyCols = []string{
	"id", "name", "email", "key_hash", "key_prefix", "usage_description",
	"suspended", "usage_count", "last_used_at", "created_at",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleAPIKeyRow(suspended bool) *sqlmock.Rows {
	return sqlmock.NewRows(apiKeyCols).
		AddRow("key-1", "Research Team", "team@example.org", "hashedkey", "mda_abc123",
			"regional prayer guides", suspended, int64(42), nil, time.Now())
}

func newAPIKeyRepo(t *testing.T) (*APIKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAPIKeyRepository(db), mock
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestAPIKeyCreate_Success(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(sqlmock.AnyArg(), "Research Team", "team@example.org", "hash", "mda_test",
			"maps", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	key := &models.APIKey{
		Name:             "Research Team",
		Email:            "team@example.org",
		KeyHash:          "hash",
		KeyPrefix:        "mda_test",
		UsageDescription: "maps",
	}
	if err := repo.Create(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if key.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAPIKeyCreate_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").WillReturnError(errDB)

	if err := repo.Create(context.Background(), &models.APIKey{}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestAPIKeyGetByID_Found(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").
		WithArgs("key-1").
		WillReturnRows(sampleAPIKeyRow(true))

	key, err := repo.GetByID(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key == nil {
		t.Fatal("expected key, got nil")
	}
	if !key.Suspended {
		t.Error("Suspended = false, want true")
	}
	if key.UsageCount != 42 {
		t.Errorf("UsageCount = %d, want 42", key.UsageCount)
	}
}

func TestAPIKeyGetByID_NotFound(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	key, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestAPIKeyGetByID_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").WillReturnError(errDB)

	if _, err := repo.GetByID(context.Background(), "key-1"); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want errDB", err)
	}
}

// ---------------------------------------------------------------------------
// GetByPrefix / List
// ---------------------------------------------------------------------------

func TestAPIKeyGetByPrefix(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE key_prefix").
		WithArgs("mda_abc123").
		WillReturnRows(sampleAPIKeyRow(false))

	keys, err := repo.GetByPrefix(context.Background(), "mda_abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0].KeyPrefix != "mda_abc123" {
		t.Errorf("keys = %+v", keys)
	}
}

func TestAPIKeyList_Empty(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	keys, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keys == nil || len(keys) != 0 {
		t.Errorf("keys = %v, want empty non-nil slice", keys)
	}
}

func TestAPIKeyList_ScanError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("key-1"))

	if _, err := repo.List(context.Background()); err == nil {
		t.Error("expected scan error, got nil")
	}
}

// ---------------------------------------------------------------------------
// SetSuspended
// ---------------------------------------------------------------------------

func TestAPIKeySetSuspended_IsIdempotent(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	for i := 0; i < 2; i++ {
		mock.ExpectExec("UPDATE api_keys SET suspended").
			WithArgs("key-1", true).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	for i := 0; i < 2; i++ {
		found, err := repo.SetSuspended(context.Background(), "key-1", true)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if !found {
			t.Errorf("call %d: found = false, want true", i)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAPIKeySetSuspended_UnknownID(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET suspended").
		WithArgs("missing", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := repo.SetSuspended(context.Background(), "missing", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
}

func TestAPIKeySetSuspended_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET suspended").WillReturnError(errDB)

	if _, err := repo.SetSuspended(context.Background(), "key-1", true); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// AddUsage
// ---------------------------------------------------------------------------

func TestAPIKeyAddUsage(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE api_keys.*usage_count = usage_count \\+ \\$2").
		WithArgs("key-1", int64(7), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AddUsage(context.Background(), "key-1", 7, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
