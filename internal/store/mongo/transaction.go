package mongo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// WithTransaction runs fn in a multi-document transaction. It does not use the driver's
// built-in commit retry loop; retrying is left to the caller's policy.
func (s *StoreImpl) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return classify("startSession", err)
	}
	defer session.EndSession(ctx)

	return mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(); err != nil {
			return classify("startTransaction", err)
		}

		if err := fn(sc, &txImpl{store: s}); err != nil {
			if abortErr := sc.AbortTransaction(context.WithoutCancel(sc)); abortErr != nil {
				return fmt.Errorf("transaction failed: %w, abort failed: %v", err, abortErr)
			}

			return err
		}

		if err := sc.CommitTransaction(sc); err != nil {
			converted := classify("commit", err)
			if se, ok := converted.(*model.StoreError); ok && se.Kind == model.ErrStoreUnavailable {
				return model.NewStoreError("commit", model.ErrTransactionApply, err)
			}

			return converted
		}

		return nil
	})
}

// txImpl runs store operations on the session context handed to fn, which binds them
// to the open transaction.
type txImpl struct {
	store *StoreImpl
}

func (t *txImpl) FindByID(ctx context.Context, id uuid.UUID) (*model.Publication, error) {
	return t.store.FindByID(ctx, id)
}

func (t *txImpl) Save(ctx context.Context, publication *model.Publication) error {
	return t.store.Save(ctx, publication)
}

func (t *txImpl) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return t.store.DeleteByID(ctx, id)
}
