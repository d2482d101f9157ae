package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// SQLSTATE codes PostgreSQL reports for conflicting concurrent transactions.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// WithTransaction executes fn within a serializable transaction.
func (s *StoreImpl) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify("begin", err)
	}

	if err := fn(ctx, &txImpl{tx: tx, ident: s.ident}); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rollbackErr)
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isConflict(err) {
			return model.NewStoreError("commit", model.ErrContention, err)
		}

		return model.NewStoreError("commit", model.ErrTransactionApply, err)
	}

	return nil
}

type txImpl struct {
	tx    pgx.Tx
	ident string
}

func (t *txImpl) FindByID(ctx context.Context, id uuid.UUID) (*model.Publication, error) {
	return findByID(ctx, t.tx, t.ident, id, true)
}

func (t *txImpl) Save(ctx context.Context, publication *model.Publication) error {
	return save(ctx, t.tx, t.ident, publication)
}

func (t *txImpl) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return deleteByID(ctx, t.tx, t.ident, id)
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// classify maps driver errors onto the store error classes. Context errors pass through.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isConflict(err):
		return model.NewStoreError(op, model.ErrContention, err)
	default:
		return model.NewStoreError(op, model.ErrStoreUnavailable, err)
	}
}
