// Package mongo is a MongoDB offline store: one collection per feature group,
// documents shaped {<entity key>, event_timestamp, <feature>...}.
package mongo

import (
	"context"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

const backendName = "mongo"

// Store is a MongoDB backed featurestore.Store.
type Store struct {
	*featurestore.HistoricalStore
	fetcher *fetcher
}

type fetcher struct {
	client    *mongo.Client
	db        *mongo.Database
	entityKey string
}

// Open connects to uri and pings the primary.
func Open(ctx context.Context, uri, database, entityKey string, opts ...featurestore.StoreOption) (*Store, error) {
	if err := featurestore.ValidateIdentifier("entity_key", entityKey); err != nil {
		return nil, err
	}
	if err := featurestore.ValidateIdentifier("mongo.database", database); err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.NewFeatureStoreError(backendName, "connect", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.NewFeatureStoreError(backendName, "ping", err)
	}

	f := &fetcher{client: client, db: client.Database(database), entityKey: entityKey}
	opts = append([]featurestore.StoreOption{featurestore.WithBackendName(backendName)}, opts...)
	return &Store{
		HistoricalStore: featurestore.NewHistoricalStore(f, opts...),
		fetcher:         f,
	}, nil
}

// fetchFilter selects documents for keys stamped at or before upTo.
func fetchFilter(entityKey string, keys []int64, upTo time.Time) bson.M {
	return bson.M{
		entityKey:                         bson.M{"$in": keys},
		featurestore.EventTimestampColumn: bson.M{"$lte": upTo},
	}
}

func fetchProjection(entityKey string, names []string) bson.M {
	proj := bson.M{"_id": 0, entityKey: 1, featurestore.EventTimestampColumn: 1}
	for _, n := range names {
		proj[n] = 1
	}
	return proj
}

func (f *fetcher) Fetch(ctx context.Context, group string, names []string, keys []int64, upTo time.Time) ([]featurestore.Row, error) {
	existing, err := f.db.ListCollectionNames(ctx, bson.M{"name": group})
	if err != nil {
		return nil, errors.Wrap(err, "list collections")
	}
	if len(existing) == 0 {
		return nil, errors.Wrapf(featurestore.ErrUnknownGroup, "collection %s", group)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cur, err := f.db.Collection(group).Find(ctx,
		fetchFilter(f.entityKey, keys, upTo),
		options.Find().SetProjection(fetchProjection(f.entityKey, names)),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "find %s", group)
	}
	defer cur.Close(ctx)

	var out []featurestore.Row
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, errors.Wrapf(err, "decode %s", group)
		}
		row, err := decodeRow(raw, f.entityKey, names)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", group)
		}
		out = append(out, row)
	}
	return out, cur.Err()
}

func decodeRow(raw bson.M, entityKey string, names []string) (featurestore.Row, error) {
	key, ok := featurestore.AsInt64(raw[entityKey])
	if !ok {
		return featurestore.Row{}, errors.Newf("unexpected %s value %v", entityKey, raw[entityKey])
	}
	tsRaw := raw[featurestore.EventTimestampColumn]
	if dt, ok := tsRaw.(primitive.DateTime); ok {
		tsRaw = dt.Time().UTC()
	}
	ts, ok := featurestore.AsTime(tsRaw)
	if !ok {
		return featurestore.Row{}, errors.Newf("unexpected %s value %v", featurestore.EventTimestampColumn, tsRaw)
	}
	values := make(map[string]float64, len(names))
	for _, n := range names {
		values[n] = featurestore.AsFloat64(raw[n])
	}
	return featurestore.Row{Key: key, Timestamp: ts, Values: values}, nil
}

func (f *fetcher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.client.Disconnect(ctx)
}

// Push inserts rows into the group's collection. NaN values are omitted.
func (s *Store) Push(ctx context.Context, group string, rows ...featurestore.Row) error {
	if err := featurestore.ValidateIdentifier("feature.group", group); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		doc := bson.M{
			s.fetcher.entityKey:               r.Key,
			featurestore.EventTimestampColumn: r.Timestamp.UTC(),
		}
		for n, v := range r.Values {
			if err := featurestore.ValidateIdentifier("feature.name", n); err != nil {
				return err
			}
			if !math.IsNaN(v) {
				doc[n] = v
			}
		}
		docs = append(docs, doc)
	}
	if _, err := s.fetcher.db.Collection(group).InsertMany(ctx, docs); err != nil {
		return errors.NewFeatureStoreError(backendName, "insert "+group, err)
	}
	return nil
}
