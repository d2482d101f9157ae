//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
	"github.com/jnst/event-publication-outbox/internal/store/postgres"
	"github.com/jnst/event-publication-outbox/internal/store/storetest"
)

func setupPostgresContainer(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("outbox"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func TestIntegration_StoreImpl_Conformance(t *testing.T) {
	pool := setupPostgresContainer(t)

	var seq atomic.Int64

	storetest.Run(t, func(t *testing.T) store.Store {
		s := postgres.NewStoreImpl(pool, fmt.Sprintf("event_publication_%d", seq.Add(1)))
		require.NoError(t, s.EnsureIndexes(context.Background(), []store.IndexDefinition{{
			Kind: model.Kind,
			Properties: []store.IndexProperty{
				{Name: model.FieldCompletionDate},
				{Name: model.FieldPublicationDate},
			},
		}}))

		return s
	})
}
