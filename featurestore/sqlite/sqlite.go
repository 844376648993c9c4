// Package sqlite is a SQLite offline store: one table per feature group with
// columns <entity key>, event_timestamp (unix seconds) and one REAL column
// per feature.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

// DefaultPath is where the demo feature repository keeps its offline store.
const DefaultPath = "my_feature_repo/data/offline_store.db"

const backendName = "sqlite"

// Store is a SQLite backed featurestore.Store.
type Store struct {
	*featurestore.HistoricalStore
	fetcher *fetcher
}

type fetcher struct {
	db        *sql.DB
	entityKey string
}

// Open opens an existing offline store file.
func Open(path, entityKey string, opts ...featurestore.StoreOption) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NewFeatureStoreError(backendName, "open "+path, err)
	}
	return open(path, entityKey, opts)
}

// Create opens the offline store file, creating it and its directory if needed.
func Create(path, entityKey string, opts ...featurestore.StoreOption) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.NewFeatureStoreError(backendName, "create "+dir, err)
		}
	}
	return open(path, entityKey, opts)
}

func open(path, entityKey string, opts []featurestore.StoreOption) (*Store, error) {
	if err := featurestore.ValidateIdentifier("entity_key", entityKey); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewFeatureStoreError(backendName, "open db", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.NewFeatureStoreError(backendName, "pragma", err)
	}
	f := &fetcher{db: db, entityKey: entityKey}
	opts = append([]featurestore.StoreOption{featurestore.WithBackendName(backendName)}, opts...)
	return &Store{
		HistoricalStore: featurestore.NewHistoricalStore(f, opts...),
		fetcher:         f,
	}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.fetcher.db
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func (f *fetcher) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := f.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *fetcher) Fetch(ctx context.Context, group string, names []string, keys []int64, upTo time.Time) ([]featurestore.Row, error) {
	ok, err := f.tableExists(ctx, group)
	if err != nil {
		return nil, errors.Wrap(err, "lookup table")
	}
	if !ok {
		return nil, errors.Wrapf(featurestore.ErrUnknownGroup, "table %s", group)
	}
	existing, err := f.columns(ctx, group)
	if err != nil {
		return nil, errors.Wrapf(err, "describe %s", group)
	}
	// 存在しない列を二重引用符で参照すると SQLite は文字列リテラルとして扱うため、先に検査する
	for _, n := range append([]string{f.entityKey, featurestore.EventTimestampColumn}, names...) {
		if !existing[n] {
			return nil, errors.Newf("table %s has no column %s", group, n)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cols := make([]string, 0, len(names)+2)
	cols = append(cols, quote(f.entityKey), quote(featurestore.EventTimestampColumn))
	for _, n := range names {
		cols = append(cols, quote(n))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s <= ? AND %s IN (%s)",
		strings.Join(cols, ", "), quote(group),
		quote(featurestore.EventTimestampColumn), quote(f.entityKey), placeholders)

	args := make([]any, 0, len(keys)+1)
	args = append(args, upTo.Unix())
	for _, k := range keys {
		args = append(args, k)
	}

	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", group)
	}
	defer rows.Close()

	var out []featurestore.Row
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrapf(err, "scan %s", group)
		}
		key, ok := featurestore.AsInt64(raw[0])
		if !ok {
			return nil, errors.Newf("%s: unexpected %s value %v", group, f.entityKey, raw[0])
		}
		ts, ok := featurestore.AsTime(raw[1])
		if !ok {
			return nil, errors.Newf("%s: unexpected %s value %v", group, featurestore.EventTimestampColumn, raw[1])
		}
		values := make(map[string]float64, len(names))
		for j, n := range names {
			values[n] = featurestore.AsFloat64(raw[j+2])
		}
		out = append(out, featurestore.Row{Key: key, Timestamp: ts, Values: values})
	}
	return out, rows.Err()
}

func (f *fetcher) Close() error {
	return f.db.Close()
}

// Push creates the group table if needed and inserts rows in one
// transaction. Feature columns are the union of the rows' value names; NaN is
// stored as NULL. Columns missing from an existing table are added.
func (s *Store) Push(ctx context.Context, group string, rows ...featurestore.Row) error {
	if err := featurestore.ValidateIdentifier("feature.group", group); err != nil {
		return err
	}
	nameSet := make(map[string]struct{})
	for _, r := range rows {
		for n := range r.Values {
			nameSet[n] = struct{}{}
		}
	}
	names := slices.Sorted(maps.Keys(nameSet))
	for _, n := range names {
		if err := featurestore.ValidateIdentifier("feature.name", n); err != nil {
			return err
		}
	}

	if err := s.ensureTable(ctx, group, names); err != nil {
		return errors.NewFeatureStoreError(backendName, "create "+group, err)
	}

	cols := []string{quote(s.fetcher.entityKey), quote(featurestore.EventTimestampColumn)}
	for _, n := range names {
		cols = append(cols, quote(n))
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(group),
		strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?,", len(cols)), ","))

	tx, err := s.fetcher.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewFeatureStoreError(backendName, "begin", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		args := []any{r.Key, r.Timestamp.Unix()}
		for _, n := range names {
			v, ok := r.Values[n]
			args = append(args, sql.NullFloat64{Float64: v, Valid: ok && !math.IsNaN(v)})
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return errors.NewFeatureStoreError(backendName, "insert "+group, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewFeatureStoreError(backendName, "commit", err)
	}
	return nil
}

func (s *Store) ensureTable(ctx context.Context, group string, names []string) error {
	db := s.fetcher.db
	key := quote(s.fetcher.entityKey)
	ts := quote(featurestore.EventTimestampColumn)

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s INTEGER NOT NULL, %s INTEGER NOT NULL)", quote(group), key, ts)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)", quote("idx_"+group+"_key_ts"), quote(group), key, ts)
	if _, err := db.ExecContext(ctx, idx); err != nil {
		return err
	}

	existing, err := s.fetcher.columns(ctx, group)
	if err != nil {
		return err
	}
	for _, n := range names {
		if existing[n] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s REAL", quote(group), quote(n))
		if _, err := db.ExecContext(ctx, alter); err != nil {
			return err
		}
	}
	return nil
}

func (f *fetcher) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := f.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
