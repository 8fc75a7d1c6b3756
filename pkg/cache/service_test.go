package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kernel/boardcol/pkg/board"
	"github.com/kernel/boardcol/pkg/credentials"
	"github.com/kernel/boardcol/pkg/mapping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type FakeFetcher struct {
	FetchClientsFunc  func(ctx context.Context, creds credentials.Credentials) ([]board.ClientRecord, error)
	FetchProjectsFunc func(ctx context.Context, creds credentials.Credentials) ([]board.ProjectRecord, error)
	calls             atomic.Int32
}

func (f *FakeFetcher) FetchClients(ctx context.Context, creds credentials.Credentials) ([]board.ClientRecord, error) {
	f.calls.Add(1)
	if f.FetchClientsFunc != nil {
		return f.FetchClientsFunc(ctx, creds)
	}
	return []board.ClientRecord{{ID: "c1", Name: "Acme"}}, nil
}

func (f *FakeFetcher) FetchProjects(ctx context.Context, creds credentials.Credentials) ([]board.ProjectRecord, error) {
	if f.FetchProjectsFunc != nil {
		return f.FetchProjectsFunc(ctx, creds)
	}
	return []board.ProjectRecord{{ProjectNo: "7", ClientID: "c1"}}, nil
}

// refreshes counts FetchClients calls; every refresh makes exactly one.
func (f *FakeFetcher) refreshes() int { return int(f.calls.Load()) }

type memStore struct {
	mu      sync.Mutex
	entry   *Entry
	loadErr error
	saveErr error
}

func (m *memStore) Load(ctx context.Context) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.entry == nil {
		return nil, nil
	}
	e := *m.entry
	return &e, nil
}

func (m *memStore) Save(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entry = &e
	return nil
}

func (m *memStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry = nil
	return nil
}

type memCreds struct{ creds credentials.Credentials }

func (m *memCreds) Load(ctx context.Context) (credentials.Credentials, error) { return m.creds, nil }
func (m *memCreds) Save(ctx context.Context, c credentials.Credentials) error  { m.creds = c; return nil }
func (m *memCreds) Delete(ctx context.Context) error                           { m.creds = credentials.Credentials{}; return nil }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc     *Service
	fetcher *FakeFetcher
	durable *memStore
	creds   *memCreds
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fetcher: &FakeFetcher{},
		durable: &memStore{},
		creds:   &memCreds{creds: credentials.Credentials{APIKey: "k", APIToken: "t"}},
		clock:   &fakeClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = New(f.fetcher, f.creds, f.durable, WithClock(f.clock.now))
	return f
}

func TestGet_FetchesThenServesFromMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, mapping.Mapping{"7": "Acme"}, res.Mapping)

	f.clock.advance(59 * time.Minute)
	res, err = f.svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceMemory, res.Source)
	assert.Equal(t, mapping.Mapping{"7": "Acme"}, res.Mapping)
	assert.Equal(t, 1, f.fetcher.refreshes())

	require.NotNil(t, f.durable.entry, "refresh writes the durable tier")
	assert.Equal(t, mapping.Mapping{"7": "Acme"}, f.durable.entry.Mapping)
}

func TestGet_ExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx)
	require.NoError(t, err)
	f.clock.advance(time.Hour)

	res, err := f.svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, 2, f.fetcher.refreshes())
}

func TestGet_FreshDurableEntryAvoidsFetch(t *testing.T) {
	f := newFixture(t)
	f.durable.entry = &Entry{Mapping: mapping.Mapping{"7": "Acme"}, FetchedAt: f.clock.t.Add(-10 * time.Minute)}

	res, err := f.svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceDurable, res.Source)
	assert.Equal(t, mapping.Mapping{"7": "Acme"}, res.Mapping)
	assert.Equal(t, 0, f.fetcher.refreshes())
}

func TestGet_StaleDurableEntryMasksAPIError(t *testing.T) {
	f := newFixture(t)
	f.durable.entry = &Entry{Mapping: mapping.Mapping{"7": "Acme"}, FetchedAt: f.clock.t.Add(-48 * time.Hour)}
	f.fetcher.FetchClientsFunc = func(ctx context.Context, creds credentials.Credentials) ([]board.ClientRecord, error) {
		return nil, &board.APIError{Status: 500, Endpoint: "clients", Page: 1}
	}

	res, err := f.svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mapping.Mapping{"7": "Acme"}, res.Mapping)
	assert.Equal(t, SourceStale, res.Source)
	assert.True(t, res.Stale)

	var apiErr *board.APIError
	require.True(t, errors.As(res.RefreshErr, &apiErr))
	assert.Equal(t, 500, apiErr.Status)
}

func TestGet_ErrorWithoutFallbackPropagates(t *testing.T) {
	f := newFixture(t)
	f.fetcher.FetchProjectsFunc = func(ctx context.Context, creds credentials.Credentials) ([]board.ProjectRecord, error) {
		return nil, &board.APIError{Status: 503, Endpoint: "projects", Page: 2}
	}

	_, err := f.svc.Get(context.Background())
	var apiErr *board.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 503, apiErr.Status)
	assert.Nil(t, f.durable.entry, "a failed refresh writes nothing")
}

func TestGet_UnreadableDurableTierStillRefreshes(t *testing.T) {
	f := newFixture(t)
	f.durable.loadErr = errors.New("disk on fire")

	res, err := f.svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
}

func TestRefresh_MissingCredentialsMakesNoCall(t *testing.T) {
	for _, creds := range []credentials.Credentials{{}, {APIKey: "k"}, {APIToken: "t"}} {
		f := newFixture(t)
		f.creds.creds = creds

		_, err := f.svc.Refresh(context.Background())
		assert.ErrorIs(t, err, credentials.ErrMissingCredentials)
		assert.Equal(t, 0, f.fetcher.refreshes())
	}
}

func TestRefresh_PersistFailureStillReturnsMapping(t *testing.T) {
	f := newFixture(t)
	f.durable.saveErr = errors.New("read-only")

	m, err := f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mapping.Mapping{"7": "Acme"}, m)

	res, err := f.svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceMemory, res.Source)
}

func TestGet_OverlappingCallsShareOneRefresh(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once
	f.fetcher.FetchProjectsFunc = func(ctx context.Context, creds credentials.Credentials) ([]board.ProjectRecord, error) {
		once.Do(started.Done)
		<-release
		return []board.ProjectRecord{{ProjectNo: "7", ClientID: "c1"}}, nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.svc.Get(context.Background())
	}()
	started.Wait()
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Get(context.Background())
		}(i)
	}
	// Give the late callers time to reach the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, mapping.Mapping{"7": "Acme"}, results[i].Mapping)
	}
	assert.Equal(t, 1, f.fetcher.refreshes())
}

func TestGet_CancelledCallerDoesNotCancelJoinedCallers(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	f.fetcher.FetchProjectsFunc = func(ctx context.Context, creds credentials.Credentials) ([]board.ProjectRecord, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []board.ProjectRecord{{ProjectNo: "7", ClientID: "c1"}}, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Get(firstCtx)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := f.svc.Get(context.Background())
		second <- outcome{res, err}
	}()
	// Let the second caller reach the in-flight refresh.
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, mapping.Mapping{"7": "Acme"}, got.res.Mapping)
	assert.Equal(t, SourceRemote, got.res.Source)
}

func TestClear_ForcesRefetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.Clear(ctx))
	assert.Nil(t, f.durable.entry)

	res, err := f.svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, 2, f.fetcher.refreshes())
}

func TestClear_DuringRefreshDiscardsResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.FetchProjectsFunc = func(ctx context.Context, creds credentials.Credentials) ([]board.ProjectRecord, error) {
		assert.NoError(t, f.svc.Clear(ctx))
		return []board.ProjectRecord{{ProjectNo: "7", ClientID: "c1"}}, nil
	}

	m, err := f.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, mapping.Mapping{"7": "Acme"}, m)
	assert.Nil(t, f.durable.entry)

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Memory.Present)
}

func TestSetCredentials_SavesAndClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.SetCredentials(ctx, "new-key", "new-token"))
	assert.Equal(t, credentials.Credentials{APIKey: "new-key", APIToken: "new-token"}, f.creds.creds)
	assert.Nil(t, f.durable.entry)

	var seen credentials.Credentials
	f.fetcher.FetchClientsFunc = func(ctx context.Context, creds credentials.Credentials) ([]board.ClientRecord, error) {
		seen = creds
		return nil, nil
	}
	_, err = f.svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-token", seen.APIToken)
}

func TestDeleteCredentials_ClearsBothTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteCredentials(ctx))
	assert.Equal(t, credentials.Credentials{}, f.creds.creds)
	assert.Nil(t, f.durable.entry)

	f.clock.advance(48 * time.Hour)
	_, err = f.svc.Get(ctx)
	assert.ErrorIs(t, err, credentials.ErrMissingCredentials, "no stale mapping from the old account")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Memory.Present)
	assert.False(t, st.Durable.Present)

	_, err = f.svc.Get(ctx)
	require.NoError(t, err)
	f.clock.advance(2 * time.Hour)

	st, err = f.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Memory.Present)
	assert.False(t, st.Memory.Fresh)
	assert.Equal(t, 1, st.Durable.Entries)
	assert.Equal(t, 2*time.Hour, st.Durable.Age)
	assert.Equal(t, DefaultTTL, st.TTL)
}
