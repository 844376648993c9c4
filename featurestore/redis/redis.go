// Package redis is a Redis feature store. Each <group>:<entity> key is a
// sorted set scored by the row's unix timestamp; members are JSON documents
// carrying a per-group push sequence, so rows with equal timestamps are read
// back in push order and identical rows pushed twice stay distinct.
// Known groups are tracked in the featurestore:groups set.
package redis

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

const (
	backendName = "redis"
	groupsKey   = "featurestore:groups"
	seqPrefix   = "featurestore:seq:"
)

// Store is a Redis backed featurestore.Store.
type Store struct {
	*featurestore.HistoricalStore
	fetcher *fetcher
}

type fetcher struct {
	client *redis.Client
}

// member は ZSET に格納される1行
type member struct {
	Timestamp int64              `json:"event_timestamp"`
	Seq       int64              `json:"seq"`
	Values    map[string]float64 `json:"values"`
}

// seqRow は push 順を保持した1行
type seqRow struct {
	row featurestore.Row
	seq int64
}

// Open connects to addr and pings the server.
func Open(ctx context.Context, addr, password string, db int, opts ...featurestore.StoreOption) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.NewFeatureStoreError(backendName, "ping "+addr, err)
	}
	return New(client, opts...), nil
}

// New wraps an existing client.
func New(client *redis.Client, opts ...featurestore.StoreOption) *Store {
	f := &fetcher{client: client}
	opts = append([]featurestore.StoreOption{featurestore.WithBackendName(backendName)}, opts...)
	return &Store{
		HistoricalStore: featurestore.NewHistoricalStore(f, opts...),
		fetcher:         f,
	}
}

func entityKey(group string, id int64) string {
	return group + ":" + strconv.FormatInt(id, 10)
}

func encodeMember(r featurestore.Row, seq int64) (string, error) {
	m := member{Timestamp: r.Timestamp.Unix(), Seq: seq, Values: make(map[string]float64, len(r.Values))}
	for n, v := range r.Values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			m.Values[n] = v
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMember(id int64, raw string, names []string) (seqRow, error) {
	var m member
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return seqRow{}, err
	}
	values := make(map[string]float64, len(names))
	for _, n := range names {
		if v, ok := m.Values[n]; ok {
			values[n] = v
		} else {
			values[n] = math.NaN()
		}
	}
	row := featurestore.Row{Key: id, Timestamp: time.Unix(m.Timestamp, 0).UTC(), Values: values}
	return seqRow{row: row, seq: m.Seq}, nil
}

// inPushOrder sorts by timestamp, then by push sequence. ZRANGEBYSCORE orders
// equal scores lexicographically, which is not the order rows were pushed.
func inPushOrder(rows []seqRow) []featurestore.Row {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].row.Timestamp.Equal(rows[j].row.Timestamp) {
			return rows[i].row.Timestamp.Before(rows[j].row.Timestamp)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]featurestore.Row, len(rows))
	for i := range rows {
		out[i] = rows[i].row
	}
	return out
}

func (f *fetcher) Fetch(ctx context.Context, group string, names []string, keys []int64, upTo time.Time) ([]featurestore.Row, error) {
	known, err := f.client.SIsMember(ctx, groupsKey, group).Result()
	if err != nil {
		return nil, errors.Wrap(err, "lookup group")
	}
	if !known {
		return nil, errors.Wrapf(featurestore.ErrUnknownGroup, "group %s", group)
	}

	pipe := f.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(keys))
	for i, id := range keys {
		cmds[i] = pipe.ZRangeByScore(ctx, entityKey(group, id), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(upTo.Unix(), 10),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(err, "zrangebyscore %s", group)
	}

	var out []featurestore.Row
	for i, cmd := range cmds {
		members, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, errors.Wrapf(err, "zrangebyscore %s", entityKey(group, keys[i]))
		}
		decoded := make([]seqRow, 0, len(members))
		for _, raw := range members {
			sr, err := decodeMember(keys[i], raw, names)
			if err != nil {
				return nil, errors.Wrapf(err, "decode %s", entityKey(group, keys[i]))
			}
			decoded = append(decoded, sr)
		}
		out = append(out, inPushOrder(decoded)...)
	}
	return out, nil
}

func (f *fetcher) Close() error {
	return f.client.Close()
}

// Push registers group and adds each row to its entity's sorted set.
func (s *Store) Push(ctx context.Context, group string, rows ...featurestore.Row) error {
	if err := featurestore.ValidateIdentifier("feature.group", group); err != nil {
		return err
	}
	// 連番をまとめて予約する
	last, err := s.fetcher.client.IncrBy(ctx, seqPrefix+group, int64(len(rows))).Result()
	if err != nil {
		return errors.NewFeatureStoreError(backendName, "reserve sequence "+group, err)
	}
	first := last - int64(len(rows)) + 1

	pipe := s.fetcher.client.TxPipeline()
	pipe.SAdd(ctx, groupsKey, group)
	for i, r := range rows {
		m, err := encodeMember(r, first+int64(i))
		if err != nil {
			return errors.NewFeatureStoreError(backendName, "encode "+group, err)
		}
		pipe.ZAdd(ctx, entityKey(group, r.Key), redis.Z{Score: float64(r.Timestamp.Unix()), Member: m})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewFeatureStoreError(backendName, "push "+group, err)
	}
	return nil
}
