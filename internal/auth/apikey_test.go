package auth

import (
	"os"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	hashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func TestGenerateAPIKey(t *testing.T) {
	t.Run("returns three non-empty values", func(t *testing.T) {
		key, hash, prefix, err := GenerateAPIKey("mda")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if key == "" {
			t.Error("GenerateAPIKey() returned empty key")
		}
		if hash == "" {
			t.Error("GenerateAPIKey() returned empty hash")
		}
		if prefix == "" {
			t.Error("GenerateAPIKey() returned empty displayPrefix")
		}
	})

	t.Run("key starts with prefix_", func(t *testing.T) {
		key, _, _, err := GenerateAPIKey("mda")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, "mda_") {
			t.Errorf("GenerateAPIKey() key = %q, want prefix %q", key, "mda_")
		}
	})

	t.Run("display prefix is the first DisplayPrefixLength characters", func(t *testing.T) {
		key, _, displayPrefix, err := GenerateAPIKey("mda")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if displayPrefix != key[:DisplayPrefixLength] {
			t.Errorf("displayPrefix = %q, want %q", displayPrefix, key[:DisplayPrefixLength])
		}
	})

	t.Run("two calls produce different keys", func(t *testing.T) {
		key1, _, _, _ := GenerateAPIKey("mda")
		key2, _, _, _ := GenerateAPIKey("mda")
		if key1 == key2 {
			t.Error("GenerateAPIKey() produced identical keys on consecutive calls")
		}
	})

	t.Run("key is url safe", func(t *testing.T) {
		key, _, _, err := GenerateAPIKey("mda")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if strings.ContainsAny(key, "+/=") {
			t.Errorf("GenerateAPIKey() key %q contains characters that need escaping in a query string", key)
		}
	})
}

func TestValidateAPIKey(t *testing.T) {
	t.Run("correct key validates", func(t *testing.T) {
		key, hash, _, err := GenerateAPIKey("mda")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !ValidateAPIKey(key, hash) {
			t.Error("ValidateAPIKey() returned false for correct key")
		}
	})

	t.Run("wrong key does not validate", func(t *testing.T) {
		_, hash, _, err := GenerateAPIKey("mda")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if ValidateAPIKey("mda_wrongkey", hash) {
			t.Error("ValidateAPIKey() returned true for wrong key")
		}
	})

	t.Run("empty hash does not validate", func(t *testing.T) {
		if ValidateAPIKey("some-key", "") {
			t.Error("ValidateAPIKey() returned true for empty hash")
		}
	})
}

func TestDisplayPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"mda_", "mda_"},
		{"mda_abcdefghij", "mda_abcdef"},
	}
	for _, tt := range tests {
		if got := DisplayPrefix(tt.in); got != tt.want {
			t.Errorf("DisplayPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain key", "mda_abc123", "mda_abc123"},
		{"surrounding spaces", "  mda_abc123 ", "mda_abc123"},
		{"bearer scheme", "Bearer mda_abc123", "mda_abc123"},
		{"lowercase bearer", "bearer mda_abc123", "mda_abc123"},
		{"bearer with extra spaces", "Bearer   mda_abc123 ", "mda_abc123"},
		{"empty", "", ""},
		{"bearer only", "Bearer ", "Bearer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeKey(tt.in); got != tt.want {
				t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
