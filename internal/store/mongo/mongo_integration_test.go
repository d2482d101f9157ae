//go:build integration

package mongo_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
	mongostore "github.com/jnst/event-publication-outbox/internal/store/mongo"
	"github.com/jnst/event-publication-outbox/internal/store/storetest"
)

// setupMongoContainer starts a single-node replica set, which transactions require.
func setupMongoContainer(t *testing.T) *mongodriver.Client {
	t.Helper()

	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7", tcmongo.WithReplicaSet("rs0"))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(endpoint).SetDirect(true))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, client.Disconnect(ctx))
	})

	return client
}

func TestIntegration_StoreImpl_Conformance(t *testing.T) {
	client := setupMongoContainer(t)

	var seq atomic.Int64

	storetest.Run(t, func(t *testing.T) store.Store {
		s := mongostore.NewStoreImpl(client, "outbox", fmt.Sprintf("event_publication_%d", seq.Add(1)))
		require.NoError(t, s.EnsureIndexes(context.Background(), []store.IndexDefinition{{
			Kind:       model.Kind,
			Properties: []store.IndexProperty{{Name: model.FieldCompletionDate}, {Name: model.FieldPublicationDate}},
		}}))

		return s
	})
}
