// Package credentials stores the Board API key and token.
package credentials

import (
	"context"
	"errors"
)

// ErrMissingCredentials is returned when either secret is empty.
var ErrMissingCredentials = errors.New("API credentials are not configured")

// Credentials are the two secrets every Board API request carries.
type Credentials struct {
	APIKey   string `json:"apiKey"`
	APIToken string `json:"apiToken"`
}

// Valid reports whether both secrets are present.
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.APIToken != ""
}

// Require returns ErrMissingCredentials unless both secrets are present.
func (c Credentials) Require() error {
	if !c.Valid() {
		return ErrMissingCredentials
	}
	return nil
}

// Store persists credentials. Load returns empty credentials, not an error,
// when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Delete(ctx context.Context) error
}
