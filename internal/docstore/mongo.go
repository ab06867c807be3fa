package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo maps collections one-to-one and uses the document key as _id.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo binds the store to one database.
func NewMongo(client *mongo.Client, dbName string) *Mongo {
	return &Mongo{client: client, db: client.Database(dbName)}
}

// Get decodes the document at key.
func (m *Mongo) Get(ctx context.Context, collection, key string, dst any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	res := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": key})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}
	if dst == nil {
		return nil
	}
	return res.Decode(dst)
}

// Set replaces or inserts the document at key.
func (m *Mongo) Set(ctx context.Context, collection, key string, doc any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	_, err := m.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

// Create inserts with _id = key; the unique _id index rejects duplicates.
func (m *Mongo) Create(ctx context.Context, collection, key string, doc any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	body, err := withID(key, doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, key, err)
	}
	if _, err := m.db.Collection(collection).InsertOne(ctx, body); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Query runs a find. Mongo matches array fields against scalar values, so
// equality and array-contains produce the same filter shape.
func (m *Mongo) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	filter, opts, err := buildMongoQuery(q)
	if err != nil {
		return nil, err
	}
	cur, err := m.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var res []Snapshot
	for cur.Next(ctx) {
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)
		res = append(res, bsonSnapshot{raw: raw})
	}
	return res, cur.Err()
}

// Ping checks the primary.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func buildMongoQuery(q Query) (bson.D, *options.FindOptions, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}
	filter := bson.D{}
	for _, f := range q.Filters {
		filter = append(filter, bson.E{Key: f.Field, Value: f.Value})
	}
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: 1}})
	} else {
		opts.SetSort(bson.D{{Key: "$natural", Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return filter, opts, nil
}

func withID(key string, doc any) (bson.D, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var fields bson.D
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	out := bson.D{{Key: "_id", Value: key}}
	for _, e := range fields {
		if e.Key == "_id" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type bsonSnapshot struct {
	raw bson.Raw
}

func (s bsonSnapshot) Key() string {
	id, ok := s.raw.Lookup("_id").StringValueOK()
	if !ok {
		return ""
	}
	return id
}

func (s bsonSnapshot) DataTo(dst any) error { return bson.Unmarshal(s.raw, dst) }
