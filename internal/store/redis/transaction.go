package redis

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// WithTransaction runs fn on a dedicated connection. Every record fn reads is WATCHed
// and its writes are queued into a single MULTI/EXEC, so a concurrent change to a
// record read inside fn aborts the commit with model.ErrContention.
func (s *StoreImpl) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.client.Dedicated(func(c rueidis.DedicatedClient) error {
		tx := &txImpl{store: s, conn: c}

		if err := fn(ctx, tx); err != nil {
			if tx.watching {
				c.Do(ctx, c.B().Unwatch().Build())
			}

			return err
		}

		if len(tx.writes) == 0 {
			if tx.watching {
				c.Do(ctx, c.B().Unwatch().Build())
			}

			return nil
		}

		cmds := make(rueidis.Commands, 0, len(tx.writes)+2)
		cmds = append(cmds, c.B().Multi().Build())
		cmds = append(cmds, tx.writes...)
		cmds = append(cmds, c.B().Exec().Build())

		return execResult("commit", c.DoMulti(ctx, cmds...))
	})
}

type txImpl struct {
	store    *StoreImpl
	conn     rueidis.DedicatedClient
	writes   rueidis.Commands
	watching bool
}

func (t *txImpl) FindByID(ctx context.Context, id uuid.UUID) (*model.Publication, error) {
	if err := t.conn.Do(ctx, t.conn.B().Watch().Key(t.store.recordKey(id)).Build()).Error(); err != nil {
		return nil, classify("watch", err)
	}

	t.watching = true

	return t.store.hgetall(ctx, t.conn, id)
}

func (t *txImpl) Save(_ context.Context, publication *model.Publication) error {
	t.writes = append(t.writes, t.store.saveCommands(t.conn.B(), publication)...)
	return nil
}

func (t *txImpl) DeleteByID(_ context.Context, id uuid.UUID) error {
	t.writes = append(t.writes, t.store.deleteCommands(t.conn.B(), id)...)
	return nil
}
