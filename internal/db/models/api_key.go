// Package models defines the database model types for the missions data API.
// Each type corresponds to a database table. Models are pure data types; query logic belongs in
// the repositories package.
package models

import "time"

// APIKey is a caller credential. The raw key is shown once at issuance; only its bcrypt hash
// and a short display prefix are stored.
type APIKey struct {
	ID               string
	Name             string // Holder name
	Email            string // Holder contact address
	KeyHash          string // Bcrypt hash of the full key
	KeyPrefix        string // First chars of the key, used for lookup and display (e.g., "mda_Ab3dE")
	UsageDescription string // What the holder said the key is for
	Suspended        bool
	UsageCount       int64
	LastUsedAt       *time.Time
	CreatedAt        time.Time
}
