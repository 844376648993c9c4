package featurestore

import (
	"context"
	"time"

	"github.com/YuminosukeSato/rftrainer/pkg/errors"
	"github.com/YuminosukeSato/rftrainer/pkg/log"
)

// Store retrieves historical (point-in-time) feature values.
type Store interface {
	GetHistoricalFeatures(ctx context.Context, entities EntityFrame, refs []FeatureRef) (*Frame, error)
	Close() error
}

// Fetcher is implemented by each backend. Fetch returns every stored row of
// group whose key is in keys and whose timestamp is <= upTo; only the named
// feature values need to be populated.
type Fetcher interface {
	Fetch(ctx context.Context, group string, names []string, keys []int64, upTo time.Time) ([]Row, error)
	Close() error
}

// HistoricalStore turns a Fetcher into a Store.
type HistoricalStore struct {
	fetcher Fetcher
	backend string
	ttl     time.Duration
	logger  log.Logger
}

// StoreOption は設定オプション
type StoreOption func(*HistoricalStore)

// WithTTL limits how old a feature row may be relative to its entity timestamp.
// Zero disables the limit.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *HistoricalStore) {
		s.ttl = ttl
	}
}

// WithBackendName sets the backend name used in errors and logs.
func WithBackendName(name string) StoreOption {
	return func(s *HistoricalStore) {
		s.backend = name
	}
}

// WithLogger overrides the logger.
func WithLogger(logger log.Logger) StoreOption {
	return func(s *HistoricalStore) {
		s.logger = logger
	}
}

// NewHistoricalStore wraps fetcher.
func NewHistoricalStore(fetcher Fetcher, opts ...StoreOption) *HistoricalStore {
	s := &HistoricalStore{
		fetcher: fetcher,
		backend: "unknown",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetLoggerWithName("featurestore")
	}
	s.logger = s.logger.With(log.StoreBackendKey, s.backend)
	return s
}

// Backend returns the backend name.
func (s *HistoricalStore) Backend() string {
	return s.backend
}

// GetHistoricalFeatures fetches each feature group once and joins it onto
// the entity table. An empty entity table yields an empty frame.
func (s *HistoricalStore) GetHistoricalFeatures(ctx context.Context, entities EntityFrame, refs []FeatureRef) (*Frame, error) {
	if len(refs) == 0 {
		return nil, errors.NewValidationError("features", "at least one feature is required", refs)
	}
	if err := ValidateIdentifier("entity_key", entities.Key); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		if err := ValidateIdentifier("feature.group", r.Group); err != nil {
			return nil, err
		}
		if err := ValidateIdentifier("feature.name", r.Name); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, errors.NewValidationError("features", "duplicate short name", r.Name)
		}
		seen[r.Name] = true
	}

	frame := NewFrame(entities)
	if len(entities.Rows) == 0 {
		s.logger.Warn("Entity table is empty, returning empty frame")
		return frame, nil
	}

	keys := entities.Keys()
	upTo := entities.MaxTimestamp()
	groups, names := groupRefs(refs)
	columns := make(map[string][]float64, len(refs))
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewFeatureStoreError(s.backend, "fetch "+group, err)
		}
		start := time.Now()
		rows, err := s.fetcher.Fetch(ctx, group, names[group], keys, upTo)
		if err != nil {
			return nil, errors.NewFeatureStoreError(s.backend, "fetch "+group, err)
		}
		cols := JoinPointInTime(entities, names[group], rows, s.ttl)
		for j, name := range names[group] {
			columns[name] = cols[j]
		}
		s.logger.Debug("Fetched feature group",
			log.FeatureGroupKey, group,
			log.EntitiesKey, len(keys),
			log.AsOfKey, upTo,
			"featurestore.rows", len(rows),
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)
	}

	// 列はリクエスト順に並べる
	for _, r := range refs {
		if err := frame.AddColumn(r.Name, columns[r.Name]); err != nil {
			return nil, err
		}
		if covered := frame.Coverage(r.Name); covered < frame.Len() {
			s.logger.Warn("Feature has missing values",
				log.FeatureGroupKey, r.Group,
				"featurestore.feature", r.Name,
				log.CoverageKey, covered,
				log.EntitiesKey, frame.Len(),
			)
		}
	}
	return frame, nil
}

// Close closes the underlying backend.
func (s *HistoricalStore) Close() error {
	return s.fetcher.Close()
}
