package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/tgathuku/go-hifadhi/core/entity"
	"github.com/tgathuku/go-hifadhi/core/persistence"
	"github.com/tgathuku/go-hifadhi/core/schema"
)

// namespaceExistsCode is the server error code for creating a collection
// that already exists; registration then updates the validator in place.
const namespaceExistsCode = 48

// Registry maps collection names to live handles and repositories. It is
// append-only after registration: there is no removal path in normal
// operation. Schema descriptions are translated once, at registration time,
// never per request.
type Registry struct {
	conn       *Connection
	logger     *zap.Logger
	translator *schema.Translator

	mu           sync.RWMutex
	definitions  map[string]map[string]schema.FieldDefinition
	repositories map[string]*persistence.Repository
}

// NewRegistry creates a registry over an opened connection.
func NewRegistry(conn *Connection, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conn:         conn,
		logger:       logger,
		translator:   schema.NewTranslator(logger),
		definitions:  map[string]map[string]schema.FieldDefinition{},
		repositories: map[string]*persistence.Repository{},
	}
}

// isNamespaceExists reports whether an error is the server rejecting a
// CreateCollection because the collection already exists, unwrapping as
// needed.
func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == namespaceExistsCode
}

// requiredIndexes are the compound indexes every collection carries.
func requiredIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "is_deleted", Value: 1}}},
		{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "is_deleted", Value: 1}}},
	}
}

// RegisterCollection translates a module's schema description, overlays the
// built-in base fields, installs the resulting validator on the collection,
// and ensures the required indexes plus any domain-specific lookup indexes.
func (r *Registry) RegisterCollection(ctx context.Context, name string, description map[string]schema.Node, lookupIndexes []mongo.IndexModel) error {
	db := r.conn.Database()
	if db == nil {
		return &ConnectionError{Op: "registry used before connection was opened"}
	}

	module := r.translator.TranslateFields(description)
	merged, err := schema.MergeWithBase(module, entity.BaseFieldDefinitions())
	if err != nil {
		return fmt.Errorf("failed to register collection '%s': %w", name, err)
	}

	validator := buildValidator(merged)
	err = db.CreateCollection(ctx, name, options.CreateCollection().SetValidator(validator))
	if err != nil {
		if !isNamespaceExists(err) {
			return fmt.Errorf("failed to create collection '%s': %w", name, err)
		}
		// Existing collection: update the validator in place.
		res := db.RunCommand(ctx, bson.D{
			{Key: "collMod", Value: name},
			{Key: "validator", Value: validator},
		})
		if res.Err() != nil {
			return fmt.Errorf("failed to update validator for collection '%s': %w", name, res.Err())
		}
	}

	indexes := append(requiredIndexes(), lookupIndexes...)
	if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for collection '%s': %w", name, err)
	}

	r.mu.Lock()
	r.definitions[name] = merged
	r.mu.Unlock()

	r.logger.Info("collection registered",
		zap.String("collection", name),
		zap.Int("fields", len(merged)),
		zap.Int("indexes", len(indexes)))
	return nil
}

// GetRepository resolves a repository for a named collection, creating and
// caching it on first use.
func (r *Registry) GetRepository(name string) (*persistence.Repository, error) {
	r.mu.RLock()
	repo, ok := r.repositories[name]
	r.mu.RUnlock()
	if ok {
		return repo, nil
	}

	db := r.conn.Database()
	if db == nil {
		return nil, &ConnectionError{Op: "registry used before connection was opened"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if repo, ok := r.repositories[name]; ok {
		return repo, nil
	}

	repo, err := persistence.NewRepository(name, db.Collection(name), r.logger)
	if err != nil {
		return nil, err
	}
	r.repositories[name] = repo
	return repo, nil
}

// Definitions returns the merged field definitions registered for a
// collection, or nil when the collection is not registered.
func (r *Registry) Definitions(name string) map[string]schema.FieldDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.definitions[name]
}

// ApplyDefaults fills the registered default values into a domain field map
// where the field is absent. The validator cannot express defaults, so they
// are applied at write time. Base fields are skipped; the entity carries
// those itself.
func (r *Registry) ApplyDefaults(name string, fields map[string]any) map[string]any {
	defs := r.Definitions(name)
	base := entity.BaseFieldDefinitions()

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for field, def := range defs {
		if def.Default == nil {
			continue
		}
		if _, reserved := base[field]; reserved {
			continue
		}
		if _, ok := out[field]; !ok {
			out[field] = def.Default
		}
	}
	return out
}
