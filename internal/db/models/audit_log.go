package models

import "time"

// AuditLog records an administrative write: who did what to which resource.
type AuditLog struct {
	ID           string
	Actor        string                 // Admin token subject
	Action       string                 // "api_key.suspend", "api_key.reinstate"
	ResourceType *string                // "api_key"
	ResourceID   *string
	Metadata     map[string]interface{} // JSONB: additional context
	IPAddress    *string
	CreatedAt    time.Time
}
