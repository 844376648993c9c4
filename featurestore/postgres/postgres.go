// Package postgres is a PostgreSQL offline store accessed through gorm. The
// table layout matches the sqlite backend, with event_timestamp stored as
// timestamptz.
package postgres

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

const backendName = "postgres"

// Store is a PostgreSQL backed featurestore.Store.
type Store struct {
	*featurestore.HistoricalStore
	fetcher *fetcher
}

type fetcher struct {
	db        *gorm.DB
	entityKey string
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn, entityKey string, opts ...featurestore.StoreOption) (*Store, error) {
	if err := featurestore.ValidateIdentifier("entity_key", entityKey); err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.NewFeatureStoreError(backendName, "connect", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.NewFeatureStoreError(backendName, "connect", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, errors.NewFeatureStoreError(backendName, "ping", err)
	}
	return New(db, entityKey, opts...)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, entityKey string, opts ...featurestore.StoreOption) (*Store, error) {
	if err := featurestore.ValidateIdentifier("entity_key", entityKey); err != nil {
		return nil, err
	}
	f := &fetcher{db: db, entityKey: entityKey}
	opts = append([]featurestore.StoreOption{featurestore.WithBackendName(backendName)}, opts...)
	return &Store{
		HistoricalStore: featurestore.NewHistoricalStore(f, opts...),
		fetcher:         f,
	}, nil
}

func quote(ident string) string {
	return `"` + ident + `"`
}

// selectQuery builds the candidate-row query for one group. Identifiers must
// already be validated.
func selectQuery(group, entityKey string, names []string) string {
	cols := make([]string, 0, len(names)+2)
	cols = append(cols, quote(entityKey), quote(featurestore.EventTimestampColumn))
	for _, n := range names {
		cols = append(cols, quote(n))
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s <= ? AND %s IN ?",
		strings.Join(cols, ", "), quote(group),
		quote(featurestore.EventTimestampColumn), quote(entityKey))
}

func (f *fetcher) Fetch(ctx context.Context, group string, names []string, keys []int64, upTo time.Time) ([]featurestore.Row, error) {
	db := f.db.WithContext(ctx)
	if !db.Migrator().HasTable(group) {
		return nil, errors.Wrapf(featurestore.ErrUnknownGroup, "table %s", group)
	}
	for _, n := range names {
		if !db.Migrator().HasColumn(group, n) {
			return nil, errors.Newf("table %s has no column %s", group, n)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	rows, err := db.Raw(selectQuery(group, f.entityKey, names), upTo, keys).Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", group)
	}
	defer rows.Close()

	var out []featurestore.Row
	raw := make([]any, len(names)+2)
	ptrs := make([]any, len(raw))
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
	sqlDB, err := f.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Push creates the group table if needed and inserts rows in one transaction.
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

	key := s.fetcher.entityKey
	err := s.fetcher.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT NOT NULL, %s TIMESTAMPTZ NOT NULL)",
			quote(group), quote(key), quote(featurestore.EventTimestampColumn))
		if err := tx.Exec(ddl).Error; err != nil {
			return err
		}
		for _, n := range names {
			alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s DOUBLE PRECISION", quote(group), quote(n))
			if err := tx.Exec(alter).Error; err != nil {
				return err
			}
		}
		if len(rows) == 0 {
			return nil
		}
		records := make([]map[string]interface{}, 0, len(rows))
		for _, r := range rows {
			rec := map[string]interface{}{
				key:                               r.Key,
				featurestore.EventTimestampColumn: r.Timestamp.UTC(),
			}
			for _, n := range names {
				if v, ok := r.Values[n]; ok && !math.IsNaN(v) {
					rec[n] = v
				} else {
					rec[n] = nil
				}
			}
			records = append(records, rec)
		}
		return tx.Table(group).Create(records).Error
	})
	if err != nil {
		return errors.NewFeatureStoreError(backendName, "push "+group, err)
	}
	return nil
}
