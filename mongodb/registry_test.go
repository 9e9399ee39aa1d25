package mongodb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tgathuku/go-hifadhi/core/entity"
	"github.com/tgathuku/go-hifadhi/core/schema"
)

func newUnopenedRegistry() *Registry {
	conn := NewConnection(Config{URI: "mongodb://localhost", Database: "app", Mode: ModeDevelopment}, nil)
	return NewRegistry(conn, nil)
}

func TestGetRepositoryRequiresOpenConnection(t *testing.T) {
	r := newUnopenedRegistry()

	_, err := r.GetRepository("clients")
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestRegisterCollectionRequiresOpenConnection(t *testing.T) {
	r := newUnopenedRegistry()

	err := r.RegisterCollection(t.Context(), "clients", map[string]schema.Node{
		"name": schema.String{},
	}, nil)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestApplyDefaults(t *testing.T) {
	r := newUnopenedRegistry()
	r.definitions["clients"] = map[string]schema.FieldDefinition{
		"stage":   {Type: schema.StorageString, Default: "lead"},
		"name":    {Type: schema.StorageString, Required: true},
		"website": {Type: schema.StorageString},
	}

	out := r.ApplyDefaults("clients", map[string]any{"name": "Acme"})
	assert.Equal(t, "Acme", out["name"])
	assert.Equal(t, "lead", out["stage"])
	assert.NotContains(t, out, "website")

	// Caller-provided values win over defaults.
	out = r.ApplyDefaults("clients", map[string]any{"stage": "won"})
	assert.Equal(t, "won", out["stage"])

	// Unregistered collections pass fields through untouched.
	out = r.ApplyDefaults("unknown", map[string]any{"name": "Acme"})
	assert.Equal(t, map[string]any{"name": "Acme"}, out)
}

func TestApplyDefaultsSkipsBaseFields(t *testing.T) {
	r := newUnopenedRegistry()
	module := map[string]schema.FieldDefinition{
		"stage": {Type: schema.StorageString, Default: "lead"},
	}
	merged, err := schema.MergeWithBase(module, entity.BaseFieldDefinitions())
	require.NoError(t, err)
	r.definitions["clients"] = merged

	out := r.ApplyDefaults("clients", map[string]any{"name": "Acme"})
	assert.Equal(t, "lead", out["stage"])
	assert.NotContains(t, out, "is_deleted")
}

func TestIsNamespaceExists(t *testing.T) {
	exists := mongo.CommandError{Code: namespaceExistsCode, Name: "NamespaceExists"}

	assert.True(t, isNamespaceExists(exists))
	// Wrapped command errors are still recognized.
	assert.True(t, isNamespaceExists(fmt.Errorf("create collection: %w", exists)))

	assert.False(t, isNamespaceExists(mongo.CommandError{Code: 11000}))
	assert.False(t, isNamespaceExists(errors.New("connection reset")))
	assert.False(t, isNamespaceExists(nil))
}

func TestRequiredIndexes(t *testing.T) {
	indexes := requiredIndexes()
	require.Len(t, indexes, 2)
}

func TestDefinitionsUnregistered(t *testing.T) {
	r := newUnopenedRegistry()
	assert.Nil(t, r.Definitions("clients"))
}
