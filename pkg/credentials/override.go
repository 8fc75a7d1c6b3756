package credentials

import "context"

// EnvOverride serves credentials supplied through the environment ahead of
// the wrapped store. Each secret is overridden independently. Saves and
// deletes always go to the wrapped store.
type EnvOverride struct {
	Store
	Override Credentials
}

func (e EnvOverride) Load(ctx context.Context) (Credentials, error) {
	creds, err := e.Store.Load(ctx)
	if err != nil && !e.Override.Valid() {
		return Credentials{}, err
	}
	if e.Override.APIKey != "" {
		creds.APIKey = e.Override.APIKey
	}
	if e.Override.APIToken != "" {
		creds.APIToken = e.Override.APIToken
	}
	return creds, nil
}
