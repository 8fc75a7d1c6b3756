package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service name credentials are stored under.
const DefaultService = "boardcol"

const (
	apiKeyUser   = "apiKey"
	apiTokenUser = "apiToken"
)

// KeyringStore keeps credentials in the operating system keyring so they
// follow the user's login rather than a project directory.
type KeyringStore struct {
	service string
}

func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Load(ctx context.Context) (Credentials, error) {
	key, err := s.get(apiKeyUser)
	if err != nil {
		return Credentials{}, err
	}
	token, err := s.get(apiTokenUser)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{APIKey: key, APIToken: token}, nil
}

func (s *KeyringStore) Save(ctx context.Context, creds Credentials) error {
	if err := keyring.Set(s.service, apiKeyUser, creds.APIKey); err != nil {
		return fmt.Errorf("saving API key to keyring: %w", err)
	}
	if err := keyring.Set(s.service, apiTokenUser, creds.APIToken); err != nil {
		return fmt.Errorf("saving API token to keyring: %w", err)
	}
	return nil
}

func (s *KeyringStore) Delete(ctx context.Context) error {
	for _, user := range []string{apiKeyUser, apiTokenUser} {
		if err := keyring.Delete(s.service, user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("deleting %s from keyring: %w", user, err)
		}
	}
	return nil
}

func (s *KeyringStore) get(user string) (string, error) {
	v, err := keyring.Get(s.service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s from keyring: %w", user, err)
	}
	return v, nil
}
