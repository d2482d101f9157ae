// Package postgres stores publication records in a PostgreSQL table via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "event_publication"

const selectColumns = "id::text, publication_date, listener_id, serialized_event, event_type, completion_date"

var columns = map[string]string{
	model.FieldID:              "id",
	model.FieldPublicationDate: "publication_date",
	model.FieldListenerID:      "listener_id",
	model.FieldSerializedEvent: "serialized_event",
	model.FieldEventType:       "event_type",
	model.FieldCompletionDate:  "completion_date",
}

var errUnknownField = errors.New("unknown publication field")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StoreImpl implements store.Store and store.IndexManager on PostgreSQL.
type StoreImpl struct {
	pool  *pgxpool.Pool
	table string
	ident string
}

// NewStoreImpl creates a store over table, falling back to DefaultTable.
func NewStoreImpl(pool *pgxpool.Pool, table string) *StoreImpl {
	if table == "" {
		table = DefaultTable
	}

	return &StoreImpl{
		pool:  pool,
		table: table,
		ident: pgx.Identifier{table}.Sanitize(),
	}
}

// Save upserts the record.
func (s *StoreImpl) Save(ctx context.Context, publication *model.Publication) error {
	return save(ctx, s.pool, s.ident, publication)
}

// FindByID returns the record or store.ErrNotFound.
func (s *StoreImpl) FindByID(ctx context.Context, id uuid.UUID) (*model.Publication, error) {
	return findByID(ctx, s.pool, s.ident, id, false)
}

// FindAll returns up to limit records.
func (s *StoreImpl) FindAll(ctx context.Context, limit int) ([]*model.Publication, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s", selectColumns, s.ident)

	var args []any
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}

	return s.query(ctx, "findAll", sql, args...)
}

// Query pushes every predicate and the ordering down to SQL.
func (s *StoreImpl) Query(ctx context.Context, q store.Query) ([]*model.Publication, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s", selectColumns, s.ident, where)

	if q.OrderBy != "" {
		col, ok := columns[q.OrderBy]
		if !ok {
			return nil, fmt.Errorf("order by %q: %w", q.OrderBy, errUnknownField)
		}

		sql += " ORDER BY " + col + " ASC"
	}

	return s.query(ctx, "query", sql, args...)
}

// DeleteByID removes the record if present.
func (s *StoreImpl) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return deleteByID(ctx, s.pool, s.ident, id)
}

// Count returns the number of records matching q.
func (s *StoreImpl) Count(ctx context.Context, q store.Query) (int, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return 0, err
	}

	var n int64
	sql := fmt.Sprintf("SELECT count(*) FROM %s%s", s.ident, where)
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, classify("count", err)
	}

	return int(n), nil
}

func (s *StoreImpl) query(ctx context.Context, op, sql string, args ...any) ([]*model.Publication, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	publications := make([]*model.Publication, 0)
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, classify(op, err)
		}

		publications = append(publications, p)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	return publications, nil
}

func save(ctx context.Context, q querier, ident string, p *model.Publication) error {
	sql := fmt.Sprintf(`INSERT INTO %s (id, publication_date, listener_id, serialized_event, event_type, completion_date)
VALUES ($1::uuid, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	publication_date = EXCLUDED.publication_date,
	listener_id = EXCLUDED.listener_id,
	serialized_event = EXCLUDED.serialized_event,
	event_type = EXCLUDED.event_type,
	completion_date = EXCLUDED.completion_date`, ident)

	_, err := q.Exec(ctx, sql,
		p.ID.String(), p.PublicationDate, p.ListenerID, p.SerializedEvent, p.EventType, p.CompletionDate)

	return classify("save", err)
}

func findByID(ctx context.Context, q querier, ident string, id uuid.UUID, forUpdate bool) (*model.Publication, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1::uuid", selectColumns, ident)
	if forUpdate {
		sql += " FOR UPDATE"
	}

	p, err := scanPublication(q.QueryRow(ctx, sql, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}

	if err != nil {
		return nil, classify("findById", err)
	}

	return p, nil
}

func deleteByID(ctx context.Context, q querier, ident string, id uuid.UUID) error {
	_, err := q.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1::uuid", ident), id.String())
	return classify("deleteById", err)
}

func scanPublication(row pgx.Row) (*model.Publication, error) {
	var (
		id             string
		p              model.Publication
		completionDate *time.Time
	)

	if err := row.Scan(&id, &p.PublicationDate, &p.ListenerID, &p.SerializedEvent, &p.EventType, &completionDate); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}

	p.ID = parsed
	p.CompletionDate = completionDate

	return &p, nil
}

func buildWhere(q store.Query) (string, []any, error) {
	if len(q.Predicates) == 0 {
		return "", nil, nil
	}

	conditions := make([]string, 0, len(q.Predicates))
	args := make([]any, 0, len(q.Predicates))

	for _, pred := range q.Predicates {
		col, ok := columns[pred.Field]
		if !ok {
			return "", nil, fmt.Errorf("filter on %q: %w", pred.Field, errUnknownField)
		}

		switch pred.Op {
		case store.OpEqual:
			args = append(args, pred.Value)
			conditions = append(conditions, fmt.Sprintf("%s = $%d", col, len(args)))
		case store.OpIsNull:
			conditions = append(conditions, col+" IS NULL")
		case store.OpNotNull:
			conditions = append(conditions, col+" IS NOT NULL")
		case store.OpBefore:
			args = append(args, pred.Value)
			conditions = append(conditions, fmt.Sprintf("%s < $%d", col, len(args)))
		default:
			return "", nil, fmt.Errorf("unsupported operator %d on %q", pred.Op, pred.Field)
		}
	}

	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}
