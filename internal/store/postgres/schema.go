package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jnst/event-publication-outbox/internal/store"
)

// EnsureSchema creates the publication table when it does not exist.
func (s *StoreImpl) EnsureSchema(ctx context.Context) error {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	publication_date TIMESTAMPTZ NOT NULL,
	listener_id TEXT NOT NULL,
	serialized_event TEXT NOT NULL,
	event_type TEXT NOT NULL,
	completion_date TIMESTAMPTZ
)`, s.ident)

	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return classify("ensureSchema", err)
	}

	return nil
}

// EnsureIndexes creates the table and one btree index per definition.
func (s *StoreImpl) EnsureIndexes(ctx context.Context, indexes []store.IndexDefinition) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	for _, def := range indexes {
		sql, err := s.indexDDL(def)
		if err != nil {
			return err
		}

		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return classify("ensureIndexes", err)
		}
	}

	return nil
}

func (s *StoreImpl) indexDDL(def store.IndexDefinition) (string, error) {
	if len(def.Properties) == 0 {
		return "", fmt.Errorf("index on %s has no properties", def.Kind)
	}

	name := []string{"idx", s.table}
	parts := make([]string, 0, len(def.Properties))

	for _, prop := range def.Properties {
		col, ok := columns[prop.Name]
		if !ok {
			return "", fmt.Errorf("index property %q: %w", prop.Name, errUnknownField)
		}

		direction := "ASC"
		if prop.Descending() {
			direction = "DESC"
		}

		name = append(name, col)
		parts = append(parts, col+" "+direction)
	}

	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		pgx.Identifier{strings.Join(name, "_")}.Sanitize(), s.ident, strings.Join(parts, ", ")), nil
}
