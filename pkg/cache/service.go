// Package cache serves the client mapping through a two-tier read-through
// cache: a process-lifetime memory tier in front of a durable tier, both
// expiring after a TTL. An expired durable entry is still served when a
// refresh fails.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kernel/boardcol/pkg/board"
	"github.com/kernel/boardcol/pkg/credentials"
	"github.com/kernel/boardcol/pkg/mapping"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched mapping is considered fresh.
const DefaultTTL = time.Hour

// ErrStorage wraps failures of the durable tier.
var ErrStorage = errors.New("cache storage error")

// Fetcher is the subset of the Board client the cache needs.
type Fetcher interface {
	FetchClients(ctx context.Context, creds credentials.Credentials) ([]board.ClientRecord, error)
	FetchProjects(ctx context.Context, creds credentials.Credentials) ([]board.ProjectRecord, error)
}

// DurableStore persists a single Entry across process restarts. Load returns
// nil, nil when nothing is stored.
type DurableStore interface {
	Load(ctx context.Context) (*Entry, error)
	Save(ctx context.Context, e Entry) error
	Delete(ctx context.Context) error
}

// Entry is a mapping together with the time it was fetched.
type Entry struct {
	Mapping   mapping.Mapping `json:"clientMapping"`
	FetchedAt time.Time       `json:"lastFetched"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return !e.FetchedAt.IsZero() && now.Sub(e.FetchedAt) < ttl
}

// Source says which tier answered a Get.
type Source string

const (
	SourceMemory  Source = "memory"
	SourceDurable Source = "durable"
	SourceRemote  Source = "remote"
	SourceStale   Source = "stale"
)

// Result is the answer to Get. Stale is set when an expired durable entry
// was served because the refresh failed; RefreshErr then holds that failure.
type Result struct {
	Mapping    mapping.Mapping
	Source     Source
	FetchedAt  time.Time
	Stale      bool
	RefreshErr error
}

// memoryEntry keeps the raw records; the join is recomputed on every hit.
type memoryEntry struct {
	clients   []board.ClientRecord
	projects  []board.ProjectRecord
	fetchedAt time.Time
}

// Service owns both cache tiers. It is safe for concurrent use; overlapping
// refreshes are coalesced into a single fetch.
type Service struct {
	fetcher Fetcher
	creds   credentials.Store
	durable DurableStore
	ttl     time.Duration
	now     func() time.Time
	logger  *pterm.Logger

	mu         sync.Mutex
	memory     *memoryEntry
	generation uint64

	refreshes singleflight.Group
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *pterm.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. The memory tier starts empty.
func New(fetcher Fetcher, creds credentials.Store, durable DurableStore, opts ...Option) *Service {
	s := &Service{
		fetcher: fetcher,
		creds:   creds,
		durable: durable,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  &pterm.DefaultLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) TTL() time.Duration { return s.ttl }

// Get returns the mapping from the first fresh tier, refreshing when neither
// is fresh. If the refresh fails and any durable entry exists, that entry is
// returned with Stale set instead of the error.
func (s *Service) Get(ctx context.Context) (Result, error) {
	now := s.now()

	s.mu.Lock()
	mem := s.memory
	s.mu.Unlock()
	if mem != nil && now.Sub(mem.fetchedAt) < s.ttl {
		return Result{
			Mapping:   mapping.Join(mem.clients, mem.projects),
			Source:    SourceMemory,
			FetchedAt: mem.fetchedAt,
		}, nil
	}

	stored, err := s.durable.Load(ctx)
	if err != nil {
		s.logger.Warn("durable cache unreadable", s.logger.Args("error", err))
		stored = nil
	}
	if stored != nil && stored.Fresh(now, s.ttl) {
		return Result{Mapping: stored.Mapping, Source: SourceDurable, FetchedAt: stored.FetchedAt}, nil
	}

	fresh, fetchedAt, err := s.refresh(ctx)
	if err != nil {
		if stored != nil && stored.Mapping != nil {
			s.logger.Warn("refresh failed, serving stale mapping", s.logger.Args(
				"error", err,
				"age", now.Sub(stored.FetchedAt).Round(time.Second).String(),
			))
			return Result{
				Mapping:    stored.Mapping,
				Source:     SourceStale,
				FetchedAt:  stored.FetchedAt,
				Stale:      true,
				RefreshErr: err,
			}, nil
		}
		return Result{}, err
	}
	return Result{Mapping: fresh, Source: SourceRemote, FetchedAt: fetchedAt}, nil
}

// Mapping is Get without the provenance.
func (s *Service) Mapping(ctx context.Context) (mapping.Mapping, error) {
	res, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return res.Mapping, nil
}

// Refresh fetches and joins a new mapping regardless of cache state and
// writes it to both tiers. There is no stale fallback.
func (s *Service) Refresh(ctx context.Context) (mapping.Mapping, error) {
	m, _, err := s.refresh(ctx)
	return m, err
}

type refreshResult struct {
	mapping   mapping.Mapping
	fetchedAt time.Time
}

// refresh joins the in-flight refresh or starts one. The shared fetch is not
// tied to any one caller's cancellation; each caller stops waiting when its
// own ctx is done.
func (s *Service) refresh(ctx context.Context) (mapping.Mapping, time.Time, error) {
	ch := s.refreshes.DoChan("refresh", func() (any, error) {
		return s.doRefresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, time.Time{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, time.Time{}, r.Err
		}
		if r.Shared {
			s.logger.Debug("joined in-flight refresh")
		}
		res := r.Val.(refreshResult)
		return res.mapping.Clone(), res.fetchedAt, nil
	}
}

func (s *Service) doRefresh(ctx context.Context) (refreshResult, error) {
	creds, err := s.creds.Load(ctx)
	if err != nil {
		return refreshResult{}, fmt.Errorf("loading credentials: %w", err)
	}
	if err := creds.Require(); err != nil {
		return refreshResult{}, err
	}

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	var (
		clients  []board.ClientRecord
		projects []board.ProjectRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clients, err = s.fetcher.FetchClients(gctx, creds)
		return err
	})
	g.Go(func() error {
		var err error
		projects, err = s.fetcher.FetchProjects(gctx, creds)
		return err
	})
	if err := g.Wait(); err != nil {
		return refreshResult{}, err
	}

	fetchedAt := s.now()
	m := mapping.Join(clients, projects)

	s.mu.Lock()
	if s.generation != gen {
		// Cleared while fetching; the result may belong to old credentials.
		s.mu.Unlock()
		s.logger.Debug("cache cleared during refresh, not storing result")
		return refreshResult{mapping: m, fetchedAt: fetchedAt}, nil
	}
	s.memory = &memoryEntry{clients: clients, projects: projects, fetchedAt: fetchedAt}
	s.mu.Unlock()

	if err := s.durable.Save(ctx, Entry{Mapping: m, FetchedAt: fetchedAt}); err != nil {
		s.logger.Warn("could not persist mapping", s.logger.Args("error", err))
	}

	s.logger.Info("client mapping refreshed", s.logger.Args(
		"clients", len(clients),
		"projects", len(projects),
	))
	return refreshResult{mapping: m, fetchedAt: fetchedAt}, nil
}

// Clear drops both tiers. A refresh already in flight still returns its
// result to its callers but does not repopulate the cache.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.memory = nil
	s.generation++
	s.mu.Unlock()
	s.refreshes.Forget("refresh")

	if err := s.durable.Delete(ctx); err != nil {
		return err
	}
	s.logger.Debug("cache cleared")
	return nil
}

// SetCredentials stores new credentials and clears the cache. The
// credentials are not checked against the API.
func (s *Service) SetCredentials(ctx context.Context, apiKey, apiToken string) error {
	if err := s.creds.Save(ctx, credentials.Credentials{APIKey: apiKey, APIToken: apiToken}); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return s.Clear(ctx)
}

// DeleteCredentials removes the stored credentials and clears the cache so
// the previous account's mapping is not served, fresh or stale.
func (s *Service) DeleteCredentials(ctx context.Context) error {
	if err := s.creds.Delete(ctx); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return s.Clear(ctx)
}

// Credentials returns the stored credentials.
func (s *Service) Credentials(ctx context.Context) (credentials.Credentials, error) {
	return s.creds.Load(ctx)
}

// TierStatus describes one cache tier.
type TierStatus struct {
	Present   bool          `json:"present"`
	Fresh     bool          `json:"fresh"`
	Entries   int           `json:"entries"`
	FetchedAt time.Time     `json:"fetchedAt,omitzero"`
	Age       time.Duration `json:"age"`
}

// Status reports the state of both tiers without triggering a refresh.
type Status struct {
	TTL     time.Duration `json:"ttl"`
	Memory  TierStatus    `json:"memory"`
	Durable TierStatus    `json:"durable"`
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	now := s.now()
	st := Status{TTL: s.ttl}

	s.mu.Lock()
	if mem := s.memory; mem != nil {
		st.Memory = TierStatus{
			Present:   true,
			Fresh:     now.Sub(mem.fetchedAt) < s.ttl,
			Entries:   len(mem.projects),
			FetchedAt: mem.fetchedAt,
			Age:       now.Sub(mem.fetchedAt),
		}
	}
	s.mu.Unlock()

	stored, err := s.durable.Load(ctx)
	if err != nil {
		return st, err
	}
	if stored != nil {
		st.Durable = TierStatus{
			Present:   true,
			Fresh:     stored.Fresh(now, s.ttl),
			Entries:   stored.Mapping.Len(),
			FetchedAt: stored.FetchedAt,
			Age:       now.Sub(stored.FetchedAt),
		}
	}
	return st, nil
}
