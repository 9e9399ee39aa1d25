package persistence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tgathuku/go-hifadhi/core/entity"
)

func TestWithSoftDeleteFilter(t *testing.T) {
	filter := bson.M{"owner_id": "u1"}
	decorated := withSoftDeleteFilter(filter)

	assert.Equal(t, bson.M{"owner_id": "u1", "is_deleted": false}, decorated)
	// Input filter is not mutated.
	assert.Equal(t, bson.M{"owner_id": "u1"}, filter)

	assert.Equal(t, bson.M{"is_deleted": false}, withSoftDeleteFilter(nil))
	assert.Equal(t, bson.M{"is_deleted": true}, withDeletedFilter(nil))
}

func TestBulkMatchFilter(t *testing.T) {
	tests := []struct {
		name        string
		doc         bson.M
		matchFields []string
		expected    bson.M
	}{
		{
			"single_key",
			bson.M{"website": "https://acme.test", "name": "Acme"},
			[]string{"website"},
			bson.M{"website": "https://acme.test"},
		},
		{
			"compound_key",
			bson.M{"external_id": "x1", "source": "crm"},
			[]string{"external_id", "source"},
			bson.M{"external_id": "x1", "source": "crm"},
		},
		{
			"empty_value_dropped",
			bson.M{"website": "", "name": "Acme"},
			[]string{"website", "name"},
			bson.M{"name": "Acme"},
		},
		{
			"nil_value_dropped",
			bson.M{"website": nil},
			[]string{"website"},
			nil,
		},
		{
			"absent_key_dropped",
			bson.M{"name": "Acme"},
			[]string{"website"},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, bulkMatchFilter(tt.doc, tt.matchFields))
		})
	}
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		opts      FindOptions
		page      int64
		pageCount int64
	}{
		{"no_limit", 25, FindOptions{}, 1, 1},
		{"first_page", 25, FindOptions{Skip: 0, Limit: 10}, 1, 3},
		{"middle_page", 25, FindOptions{Skip: 10, Limit: 10}, 2, 3},
		{"last_partial_page", 25, FindOptions{Skip: 20, Limit: 10}, 3, 3},
		{"exact_division", 30, FindOptions{Skip: 20, Limit: 10}, 3, 3},
		{"empty_result", 0, FindOptions{Skip: 0, Limit: 10}, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, pageCount := paginate(tt.total, tt.opts)
			assert.Equal(t, tt.page, page)
			assert.Equal(t, tt.pageCount, pageCount)
		})
	}
}

func TestUpdateSetStampsAuditFields(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	set := updateSet(map[string]any{"name": "Acme Corp", "profile.city": "Mombasa"}, "editor", now)

	assert.Equal(t, "Acme Corp", set["name"])
	assert.Equal(t, "Mombasa", set["profile.city"])
	assert.Equal(t, now, set["updated_at"])
	assert.Equal(t, "editor", set["updated_by"])

	// The actor parameter wins over a smuggled updated_by entry.
	set = updateSet(map[string]any{"updated_by": "impostor"}, "editor", now)
	assert.Equal(t, "editor", set["updated_by"])
}

func TestSortSpecIsDeterministic(t *testing.T) {
	spec := sortSpec(map[string]int{"name": 1, "created_at": -1, "updated_at": -1})

	require.Len(t, spec, 3)
	assert.Equal(t, "created_at", spec[0].Key)
	assert.Equal(t, -1, spec[0].Value)
	assert.Equal(t, "name", spec[1].Key)
	assert.Equal(t, "updated_at", spec[2].Key)
}

func TestEntityToDoc(t *testing.T) {
	e := entity.New("u1", "org1", "u1", map[string]any{"name": "Acme", "score": 7})

	doc, err := entityToDoc(e)
	require.NoError(t, err)

	// Identity and creation timestamp are stripped for $set use.
	assert.NotContains(t, doc, "_id")
	assert.NotContains(t, doc, "created_at")

	assert.Equal(t, "u1", doc["owner_id"])
	assert.Equal(t, "org1", doc["organization_id"])
	assert.Equal(t, false, doc["is_deleted"])
	// Domain fields are flattened inline next to the base fields.
	assert.Equal(t, "Acme", doc["name"])
}

func TestPopulateStages(t *testing.T) {
	pipeline := populateStages(nil, []PopulateSpec{
		{From: "clients", LocalField: "client_id", As: "client"},
	})

	require.Len(t, pipeline, 2)
	lookup := pipeline[0][0].Value.(bson.M)
	assert.Equal(t, "clients", lookup["from"])
	assert.Equal(t, "client_id", lookup["localField"])
	assert.Equal(t, "_id", lookup["foreignField"])
	assert.Equal(t, "client", lookup["as"])

	unwind := pipeline[1][0].Value.(bson.M)
	assert.Equal(t, "$client", unwind["path"])
	assert.Equal(t, true, unwind["preserveNullAndEmptyArrays"])
}

func TestCreationError(t *testing.T) {
	cause := errors.New("write concern failed")
	err := &CreationError{Collection: "clients", Err: cause}

	assert.Contains(t, err.Error(), "clients")
	assert.ErrorIs(t, err, cause)

	noID := &CreationError{Collection: "clients"}
	assert.Contains(t, noID.Error(), "no identity")
}

func TestCloneErrorCarriesContext(t *testing.T) {
	cause := errors.New("pipeline rejected")
	err := &CloneError{Target: "projects", Stage: "merge", Err: cause}

	assert.Contains(t, err.Error(), "projects")
	assert.Contains(t, err.Error(), "merge")
	assert.ErrorIs(t, err, cause)
}

func TestNewRepositoryRequiresHandle(t *testing.T) {
	_, err := NewRepository("clients", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clients")
}

func TestValidateID(t *testing.T) {
	// ValidateID is pure parsing; no live handle is needed for the failure path,
	// but construction requires one, so exercise the helper directly.
	r := &Repository{name: "clients"}

	oid, err := r.ValidateID("64b0f4a7e13d2c0001a1b2c3")
	require.NoError(t, err)
	assert.Equal(t, "64b0f4a7e13d2c0001a1b2c3", oid.Hex())

	_, err = r.ValidateID("not-an-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clients")
}
