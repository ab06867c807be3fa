package docstore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const healthCollection = "_health"

// Firestore talks to Cloud Firestore; document keys are document IDs.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore wraps a connected client.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

// Get decodes the document at key.
func (f *Firestore) Get(ctx context.Context, collection, key string, dst any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	snap, err := f.client.Collection(collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return err
	}
	if dst == nil {
		return nil
	}
	return snap.DataTo(dst)
}

// Set overwrites the document at key.
func (f *Firestore) Set(ctx context.Context, collection, key string, doc any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	_, err := f.client.Collection(collection).Doc(key).Set(ctx, doc)
	return err
}

// Create fails with ErrAlreadyExists when the document is present.
func (f *Firestore) Create(ctx context.Context, collection, key string, doc any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	if _, err := f.client.Collection(collection).Doc(key).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Query runs a structured query. Order-by on a filtered field set may need a
// composite index in Firestore.
func (f *Firestore) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	fq := f.client.Collection(q.Collection).Query
	for _, flt := range q.Filters {
		fq = fq.Where(flt.Field, string(flt.Op), flt.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	iter := fq.Documents(ctx)
	defer iter.Stop()
	var res []Snapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		res = append(res, firestoreSnapshot{doc: doc})
	}
	return res, nil
}

// Ping issues a one-document read against a reserved collection.
func (f *Firestore) Ping(ctx context.Context) error {
	iter := f.client.Collection(healthCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

// Close releases the client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

type firestoreSnapshot struct {
	doc *firestore.DocumentSnapshot
}

func (s firestoreSnapshot) Key() string { return s.doc.Ref.ID }

func (s firestoreSnapshot) DataTo(dst any) error { return s.doc.DataTo(dst) }
