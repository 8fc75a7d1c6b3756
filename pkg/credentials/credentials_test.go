package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestCredentialsValid(t *testing.T) {
	tests := []struct {
		creds    Credentials
		expected bool
	}{
		{Credentials{APIKey: "k", APIToken: "t"}, true},
		{Credentials{APIKey: "k"}, false},
		{Credentials{APIToken: "t"}, false},
		{Credentials{}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.creds.Valid())
		if !tt.expected {
			assert.ErrorIs(t, tt.creds.Require(), ErrMissingCredentials)
		}
	}
}

func TestKeyringStore_RoundTrip(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	s := NewKeyringStore("boardcol-test")

	creds, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, creds.Valid(), "nothing saved yet loads as empty")

	require.NoError(t, s.Save(ctx, Credentials{APIKey: "k", APIToken: "t"}))
	creds, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Credentials{APIKey: "k", APIToken: "t"}, creds)

	require.NoError(t, s.Delete(ctx))
	require.NoError(t, s.Delete(ctx), "deleting twice is fine")
	creds, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Credentials{}, creds)
}

func TestKeyringStore_PropagatesBackendErrors(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	t.Cleanup(keyring.MockInit)

	_, err := NewKeyringStore("").Load(context.Background())
	assert.ErrorContains(t, err, "no dbus")
}

type fakeStore struct {
	creds Credentials
	err   error
}

func (f *fakeStore) Load(ctx context.Context) (Credentials, error) { return f.creds, f.err }
func (f *fakeStore) Save(ctx context.Context, c Credentials) error  { f.creds = c; return nil }
func (f *fakeStore) Delete(ctx context.Context) error               { f.creds = Credentials{}; return nil }

func TestEnvOverride(t *testing.T) {
	ctx := context.Background()
	inner := &fakeStore{creds: Credentials{APIKey: "stored-key", APIToken: "stored-token"}}

	creds, err := EnvOverride{Store: inner, Override: Credentials{APIToken: "env-token"}}.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Credentials{APIKey: "stored-key", APIToken: "env-token"}, creds)

	broken := &fakeStore{err: errors.New("locked")}
	creds, err = EnvOverride{Store: broken, Override: Credentials{APIKey: "k", APIToken: "t"}}.Load(ctx)
	require.NoError(t, err, "a complete override masks backend failures")
	assert.True(t, creds.Valid())

	_, err = EnvOverride{Store: broken}.Load(ctx)
	assert.Error(t, err)
}
