// Package schema verifies the publication kind and provisions the indexes its queries need.
package schema

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

//go:embed indexes.yaml
var defaultIndexes []byte

// ErrInvalidIndexFile is returned when an index definition document cannot be parsed or is incomplete.
var ErrInvalidIndexFile = errors.New("invalid index definition file")

type indexFile struct {
	Indexes []store.IndexDefinition `yaml:"indexes"`
}

// LoadIndexes reads index definitions from path, or the built-in set when path is empty.
func LoadIndexes(path string) ([]store.IndexDefinition, error) {
	if path == "" {
		return ParseIndexes(defaultIndexes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}

	return ParseIndexes(data)
}

// ParseIndexes decodes and validates an index definition document.
func ParseIndexes(data []byte) ([]store.IndexDefinition, error) {
	var file indexFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIndexFile, err)
	}

	for i, def := range file.Indexes {
		if def.Kind == "" {
			return nil, fmt.Errorf("%w: index %d has no kind", ErrInvalidIndexFile, i)
		}

		if len(def.Properties) == 0 {
			return nil, fmt.Errorf("%w: index %d has no properties", ErrInvalidIndexFile, i)
		}

		for _, prop := range def.Properties {
			switch strings.ToLower(prop.Direction) {
			case "", "asc", "desc":
			default:
				return nil, fmt.Errorf("%w: index %d: property %s: direction %q",
					ErrInvalidIndexFile, i, prop.Name, prop.Direction)
			}
		}
	}

	return file.Indexes, nil
}

// Initializer checks that publications can be read and provisions their indexes.
type Initializer struct {
	store   store.Store
	indexes []store.IndexDefinition
	log     *slog.Logger
}

// NewInitializer creates an Initializer for the given index definitions.
func NewInitializer(s store.Store, indexes []store.IndexDefinition, log *slog.Logger) *Initializer {
	if log == nil {
		log = slog.Default()
	}

	return &Initializer{store: s, indexes: indexes, log: log}
}

// Initialize verifies the store and creates indexes where the backend supports it. Other
// backends get each required index logged so it can be deployed out of band.
func (i *Initializer) Initialize(ctx context.Context) error {
	if _, err := i.store.FindAll(ctx, 1); err != nil {
		return fmt.Errorf("verify %s is readable: %w", model.Kind, err)
	}

	manager, ok := i.store.(store.IndexManager)
	if !ok {
		for _, def := range i.indexes {
			i.log.Info("index required",
				slog.String("kind", def.Kind),
				slog.String("properties", strings.Join(def.Fields(), ",")),
			)
		}

		return nil
	}

	if err := manager.EnsureIndexes(ctx, i.indexes); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	i.log.Info("indexes ensured", slog.Int("count", len(i.indexes)), slog.String("kind", model.Kind))

	return nil
}
