// Package store implements C3: the document store that persists every
// GPS/sensor/load reading and every alert (spec.md §4.3), grounded on
// the original's app/db/mongo.py.
package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const databaseName = "Quinta"

// Collection names, spec.md §4.3.
const (
	CollectionTruckRideLog = "TruckRideLog"
	CollectionSensors      = "Sensors"
	CollectionLoads        = "Loads"
	CollectionAlerts       = "Alerts"
)

// Store wraps the four Mongo collections the service writes to and
// reads bootstrap snapshots from.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials Mongo and returns a Store; call CreateIndexes once
// after connecting to provision the indexes mirrored from the
// original's create_indexes.
func Connect(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(databaseName)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// CreateIndexes provisions the compound indexes each collection relies
// on for its query patterns (license-plate/time scans for
// TruckRideLog, latest-per-vehicle scans for Sensors/Loads).
func (s *Store) CreateIndexes(ctx context.Context) error {
	models := map[string][]mongo.IndexModel{
		CollectionTruckRideLog: {
			{Keys: bson.D{
				{Key: "licensePlateNumber", Value: 1},
				{Key: "receiveTime", Value: -1},
			}},
		},
		CollectionSensors: {
			{Keys: bson.D{
				{Key: "vehicleId", Value: 1},
				{Key: "receiveTime", Value: -1},
				{Key: "licensePlateNumber", Value: 1},
				{Key: "realPosition", Value: 1},
			}},
		},
		CollectionLoads: {
			{Keys: bson.D{
				{Key: "vehicleId", Value: 1},
				{Key: "licensePlateNumber", Value: 1},
				{Key: "realPosition", Value: 1},
				{Key: "receiveTime", Value: -1},
			}},
		},
		CollectionAlerts: {
			{Keys: bson.D{
				{Key: "vehicleId", Value: 1},
				{Key: "status", Value: 1},
			}},
		},
	}

	for name, idx := range models {
		if _, err := s.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("store: create indexes for %s: %w", name, err)
		}
	}
	return nil
}

// Upsert applies doc as a $set against filter, creating a new document
// when no match exists. Every write path in this service is an upsert
// keyed by a compound filter (spec.md invariant §3.2), never a plain
// insert, so that replays/retries stay idempotent.
func (s *Store) Upsert(ctx context.Context, collection string, filter, doc map[string]interface{}) error {
	_, err := s.Collection(collection).UpdateOne(
		ctx,
		filter,
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store: upsert into %s: %w", collection, err)
	}
	return nil
}

// CloseOpenAlert sets status=closed on whatever open alert matches
// filter, returning whether a document was actually modified. Used by
// the GPS handler to close a gps_timeout alert on recovery.
func (s *Store) CloseOpenAlert(ctx context.Context, filter map[string]interface{}) (closed bool, err error) {
	res, err := s.Collection(CollectionAlerts).UpdateOne(ctx, filter, bson.M{"$set": bson.M{"status": "closed"}})
	if err != nil {
		return false, fmt.Errorf("store: close alert: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// Find runs a plain filtered find against a collection, sorted and
// limited as given, decoding into out (a pointer to a slice).
func (s *Store) Find(ctx context.Context, collection string, filter map[string]interface{}, sort map[string]interface{}, limit int64, out interface{}) error {
	opts := options.Find()
	if sort != nil {
		opts.SetSort(sort)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cur, err := s.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("store: find in %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	return cur.All(ctx, out)
}

// Aggregate runs a raw aggregation pipeline against a collection.
func (s *Store) Aggregate(ctx context.Context, collection string, pipeline interface{}, out interface{}) error {
	cur, err := s.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("store: aggregate in %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	return cur.All(ctx, out)
}

