package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kernel/boardcol/pkg/cache"
	"github.com/kernel/boardcol/pkg/mapping"
)

const (
	keyMapping     = "clientMapping"
	keyLastFetched = "lastFetched"
)

// CacheStore implements cache.DurableStore on the kv table. An entry is the
// pair of rows clientMapping and lastFetched (unix milliseconds).
type CacheStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ cache.DurableStore = (*CacheStore)(nil)

func NewCacheStore(db *sql.DB) *CacheStore {
	return &CacheStore{db: db, now: time.Now}
}

// Load returns nil, nil unless both keys are present.
func (s *CacheStore) Load(ctx context.Context) (*cache.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key IN (?, ?)`, keyMapping, keyLastFetched)
	if err != nil {
		return nil, fmt.Errorf("%w: querying cache: %v", cache.ErrStorage, err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%w: scanning cache row: %v", cache.ErrStorage, err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading cache rows: %v", cache.ErrStorage, err)
	}

	rawMapping, okMapping := values[keyMapping]
	rawFetched, okFetched := values[keyLastFetched]
	if !okMapping || !okFetched {
		return nil, nil
	}

	var m mapping.Mapping
	if err := json.Unmarshal([]byte(rawMapping), &m); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", cache.ErrStorage, keyMapping, err)
	}
	ms, err := strconv.ParseInt(rawFetched, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", cache.ErrStorage, keyLastFetched, err)
	}
	return &cache.Entry{Mapping: m, FetchedAt: time.UnixMilli(ms)}, nil
}

// Save replaces both keys in one transaction.
func (s *CacheStore) Save(ctx context.Context, e cache.Entry) error {
	raw, err := json.Marshal(e.Mapping)
	if err != nil {
		return fmt.Errorf("%w: encoding mapping: %v", cache.ErrStorage, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: starting transaction: %v", cache.ErrStorage, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	updated := s.now().UnixMilli()
	const upsert = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, keyMapping, string(raw), updated); err != nil {
		return fmt.Errorf("%w: writing %s: %v", cache.ErrStorage, keyMapping, err)
	}
	fetched := strconv.FormatInt(e.FetchedAt.UnixMilli(), 10)
	if _, err := tx.ExecContext(ctx, upsert, keyLastFetched, fetched, updated); err != nil {
		return fmt.Errorf("%w: writing %s: %v", cache.ErrStorage, keyLastFetched, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing: %v", cache.ErrStorage, err)
	}
	committed = true
	return nil
}

func (s *CacheStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key IN (?, ?)`, keyMapping, keyLastFetched); err != nil {
		return fmt.Errorf("%w: deleting cache: %v", cache.ErrStorage, err)
	}
	return nil
}
