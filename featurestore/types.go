// Package featurestore reads point-in-time correct feature values for a set
// of entities from an offline store.
//
// Backends (sqlite, postgres, mongo, redis, memory) only implement Fetcher:
// they return candidate rows for the requested keys up to a cutoff. The
// point-in-time join is done once, here, by JoinPointInTime.
package featurestore

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

// DefaultEntityKey is the join key column used by the trainer.
const DefaultEntityKey = "user_id"

// EventTimestampColumn is the timestamp column every feature group carries.
const EventTimestampColumn = "event_timestamp"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier returns a ValidationError unless name is safe to use as
// a SQL table/column name or a collection name.
func ValidateIdentifier(param, name string) error {
	if !identRe.MatchString(name) {
		return errors.NewValidationError(param, "must match "+identRe.String(), name)
	}
	return nil
}

// Entity is one row of the entity table: a join key and the time at which
// features are wanted.
type Entity struct {
	ID        int64
	Timestamp time.Time
}

// EntityFrame is the entity table passed to GetHistoricalFeatures.
type EntityFrame struct {
	Key  string
	Rows []Entity
}

// SequentialEntities builds ids 1..n, all stamped with ts.
func SequentialEntities(key string, n int, ts time.Time) EntityFrame {
	rows := make([]Entity, n)
	for i := range rows {
		rows[i] = Entity{ID: int64(i + 1), Timestamp: ts}
	}
	return EntityFrame{Key: key, Rows: rows}
}

// Keys returns the distinct entity ids in first-seen order.
func (f EntityFrame) Keys() []int64 {
	seen := make(map[int64]struct{}, len(f.Rows))
	keys := make([]int64, 0, len(f.Rows))
	for _, e := range f.Rows {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		keys = append(keys, e.ID)
	}
	return keys
}

// MaxTimestamp returns the latest entity timestamp, the upper bound any
// backend needs to read.
func (f EntityFrame) MaxTimestamp() time.Time {
	var upTo time.Time
	for _, e := range f.Rows {
		if e.Timestamp.After(upTo) {
			upTo = e.Timestamp
		}
	}
	return upTo
}

// FeatureRef names one feature as <group>:<name>.
type FeatureRef struct {
	Group string
	Name  string
}

func (r FeatureRef) String() string {
	return r.Group + ":" + r.Name
}

// ParseFeatureRef parses "<group>:<name>".
func ParseFeatureRef(s string) (FeatureRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return FeatureRef{}, errors.NewValidationError("feature", `expected "<group>:<name>"`, s)
	}
	ref := FeatureRef{Group: parts[0], Name: parts[1]}
	if err := ValidateIdentifier("feature.group", ref.Group); err != nil {
		return FeatureRef{}, err
	}
	if err := ValidateIdentifier("feature.name", ref.Name); err != nil {
		return FeatureRef{}, err
	}
	return ref, nil
}

// ParseFeatureRefs parses every reference and rejects duplicate short names,
// since the frame is keyed by short name.
func ParseFeatureRefs(refs []string) ([]FeatureRef, error) {
	out := make([]FeatureRef, 0, len(refs))
	seen := make(map[string]string, len(refs))
	for _, s := range refs {
		ref, err := ParseFeatureRef(s)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[ref.Name]; ok {
			return nil, errors.NewValidationError("features",
				fmt.Sprintf("short name %q requested twice (%s, %s)", ref.Name, prev, s), refs)
		}
		seen[ref.Name] = s
		out = append(out, ref)
	}
	return out, nil
}

// groupRefs groups refs by feature group, keeping first-seen group order.
func groupRefs(refs []FeatureRef) ([]string, map[string][]string) {
	var order []string
	names := make(map[string][]string)
	for _, r := range refs {
		if _, ok := names[r.Group]; !ok {
			order = append(order, r.Group)
		}
		names[r.Group] = append(names[r.Group], r.Name)
	}
	return order, names
}

// Row is one stored feature row of a group.
type Row struct {
	Key       int64
	Timestamp time.Time
	Values    map[string]float64
}

// ErrUnknownGroup is returned by a Fetcher when the feature group does not exist.
var ErrUnknownGroup = errors.New("feature group not found")
