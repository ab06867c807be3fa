package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/firestore"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"google.golang.org/api/option"

	"ledger/internal/config"
	"ledger/internal/docstore"
)

// Document store backends selectable with STORE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendMongo     = "mongo"
	BackendFirestore = "firestore"
)

// NewMongo connects and pings a MongoDB deployment.
func NewMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// NewFirestore creates a client, using an explicit credentials file when set
// and application default credentials otherwise.
func NewFirestore(ctx context.Context, projectID, credsPath string) (*firestore.Client, error) {
	var opts []option.ClientOption
	if credsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	return firestore.NewClient(ctx, projectID, opts...)
}

// OpenDocStore opens the backend named by cfg.StoreBackend.
func OpenDocStore(ctx context.Context, cfg config.App) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case BackendMemory, "":
		log.Println("using in-memory document store; data is lost on exit")
		return docstore.NewMemory(), nil
	case BackendPostgres:
		db, err := NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		pg := docstore.NewPostgres(db.Client)
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return pg, nil
	case BackendMongo:
		client, err := NewMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		return docstore.NewMongo(client, cfg.MongoDatabase), nil
	case BackendFirestore:
		client, err := NewFirestore(ctx, cfg.FirestoreProj, cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("firestore: %w", err)
		}
		return docstore.NewFirestore(client), nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
