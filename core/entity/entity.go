// Package entity defines the generic document shape shared by every
// collection: store-assigned identity, ownership, audit fields, soft-delete
// fields, and module-specific domain fields carried inline.
package entity

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tgathuku/go-hifadhi/core/schema"
)

// Entity is the persisted record shape common to all collections. Domain
// fields defined by a module's schema description live in Fields and are
// stored inline next to the base fields.
type Entity struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID        string             `bson:"owner_id" json:"owner_id"`
	OrganizationID string             `bson:"organization_id,omitempty" json:"organization_id,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
	CreatedBy      string             `bson:"created_by,omitempty" json:"created_by,omitempty"`
	UpdatedBy      string             `bson:"updated_by,omitempty" json:"updated_by,omitempty"`
	IsDeleted      bool               `bson:"is_deleted" json:"is_deleted"`
	DeletedAt      *time.Time         `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	DeletedBy      string             `bson:"deleted_by,omitempty" json:"deleted_by,omitempty"`

	Fields map[string]any `bson:",inline" json:"fields,omitempty"`
}

// New constructs an unsaved entity in layered order: domain fields first, then
// ownership, then actor attribution. Identity and timestamps are assigned by
// the store on insert.
func New(ownerID, organizationID, actor string, fields map[string]any) Entity {
	domain := make(map[string]any, len(fields))
	for k, v := range fields {
		domain[k] = v
	}
	return Entity{
		OwnerID:        ownerID,
		OrganizationID: organizationID,
		CreatedBy:      actor,
		UpdatedBy:      actor,
		IsDeleted:      false,
		Fields:         domain,
	}
}

// BaseFieldDefinitions returns the storage definitions of the built-in base
// fields. These are overlaid onto every module's translated schema at
// collection-registration time.
func BaseFieldDefinitions() map[string]schema.FieldDefinition {
	return map[string]schema.FieldDefinition{
		// Store-assigned identity. Listed here so a module schema that tries
		// to define "_id" is rejected as a reserved-key collision.
		"_id":             {Type: schema.StorageAny},
		"owner_id":        {Type: schema.StorageString, Required: true},
		"organization_id": {Type: schema.StorageString},
		"created_at":      {Type: schema.StorageDate},
		"updated_at":      {Type: schema.StorageDate},
		"created_by":      {Type: schema.StorageString},
		"updated_by":      {Type: schema.StorageString},
		"is_deleted":      {Type: schema.StorageBoolean, Required: true, Default: false},
		"deleted_at":      {Type: schema.StorageDate},
		"deleted_by":      {Type: schema.StorageString},
	}
}

// ReservedKeys lists the field names a module schema may not redefine. It is
// derived from BaseFieldDefinitions, which is also what the schema merge
// checks collisions against.
func ReservedKeys() []string {
	defs := BaseFieldDefinitions()
	keys := make([]string, 0, len(defs))
	for name := range defs {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}
