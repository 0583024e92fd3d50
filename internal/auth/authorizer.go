package auth

import (
	"context"
	"fmt"

	"github.com/missionsdata/missions-api/internal/db/models"
)

// Reason explains an IsUsable verdict.
type Reason string

const (
	ReasonOK        Reason = "OK"
	ReasonNotFound  Reason = "NOT_FOUND"
	ReasonSuspended Reason = "SUSPENDED"
)

// Verdict is the result of IsUsable. Key is set whenever a record matched the presented key,
// including suspended ones.
type Verdict struct {
	Authorized bool
	Reason     Reason
	Key        *models.APIKey
}

// Err returns nil for an authorized verdict and an *AuthorizationError otherwise.
func (v Verdict) Err() error {
	if v.Authorized {
		return nil
	}
	return &AuthorizationError{Reason: v.Reason}
}

// AuthorizationError is a rejected API key. Callers present every AuthorizationError the same
// way so responses do not reveal which keys exist; Reason is for logs and metrics.
type AuthorizationError struct {
	Reason Reason
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("api key not usable: %s", e.Reason)
}

// KeyStore looks up API key records by display prefix.
type KeyStore interface {
	GetByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
}

// Authorizer decides whether a presented API key may be used.
type Authorizer struct {
	keys KeyStore
}

// NewAuthorizer creates an Authorizer backed by keys.
func NewAuthorizer(keys KeyStore) *Authorizer {
	return &Authorizer{keys: keys}
}

// IsUsable checks rawKey against the stored keys. A key with no matching record is NOT_FOUND;
// a matching record with the suspended flag set is SUSPENDED. Lookup failures are returned as
// errors, never as NOT_FOUND.
func (a *Authorizer) IsUsable(ctx context.Context, rawKey string) (Verdict, error) {
	rawKey = NormalizeKey(rawKey)
	if len(rawKey) <= DisplayPrefixLength {
		return Verdict{Reason: ReasonNotFound}, nil
	}

	candidates, err := a.keys.GetByPrefix(ctx, DisplayPrefix(rawKey))
	if err != nil {
		return Verdict{}, fmt.Errorf("look up api key: %w", err)
	}

	for _, k := range candidates {
		if !ValidateAPIKey(rawKey, k.KeyHash) {
			continue
		}
		if k.Suspended {
			return Verdict{Reason: ReasonSuspended, Key: k}, nil
		}
		return Verdict{Authorized: true, Reason: ReasonOK, Key: k}, nil
	}
	return Verdict{Reason: ReasonNotFound}, nil
}
