package bootstrap

import (
	"context"
	"fmt"

	"cloud.google.com/go/datastore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jnst/event-publication-outbox/internal/config"
	"github.com/jnst/event-publication-outbox/internal/store"
	dsstore "github.com/jnst/event-publication-outbox/internal/store/datastore"
	"github.com/jnst/event-publication-outbox/internal/store/memory"
	mongostore "github.com/jnst/event-publication-outbox/internal/store/mongo"
	pebblestore "github.com/jnst/event-publication-outbox/internal/store/pebble"
	"github.com/jnst/event-publication-outbox/internal/store/postgres"
	redisstore "github.com/jnst/event-publication-outbox/internal/store/redis"
)

func noClose() error { return nil }

// OpenStore connects to the configured backend. The returned function closes the
// underlying client.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Backend() {
	case config.BackendMemory:
		return memory.NewStoreImpl(), noClose, nil
	case config.BackendPostgres:
		return openPostgres(ctx, cfg)
	case config.BackendRedis:
		return openRedis(cfg)
	case config.BackendMongo:
		return openMongo(ctx, cfg)
	case config.BackendDatastore:
		return openDatastore(ctx, cfg)
	case config.BackendPebble:
		s, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.PebbleDir})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open pebble: %w", err)
		}

		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.StoreBackend)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := postgres.NewStoreImpl(pool, cfg.PostgresTable)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return s, func() error {
		pool.Close()
		return nil
	}, nil
}

func openRedis(cfg *config.Config) (store.Store, func() error, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return redisstore.NewStoreImpl(client, cfg.RedisKeyPrefix), func() error {
		client.Close()
		return nil
	}, nil
}

func openMongo(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return mongostore.NewStoreImpl(client, cfg.MongoDatabase, cfg.MongoCollection), func() error {
		return client.Disconnect(context.Background())
	}, nil
}

func openDatastore(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	var (
		client *datastore.Client
		err    error
	)

	if cfg.DatastoreDatabaseID != "" {
		client, err = datastore.NewClientWithDatabase(ctx, cfg.DatastoreProjectID, cfg.DatastoreDatabaseID)
	} else {
		client, err = datastore.NewClient(ctx, cfg.DatastoreProjectID)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
	}

	return dsstore.NewStoreImpl(client, cfg.DatastoreNamespace), client.Close, nil
}
