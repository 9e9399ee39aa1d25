package mongodb

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tgathuku/go-hifadhi/core/schema"
)

// bsonTypesFor maps a storage type to the bson type names accepted by the
// collection validator. Numbers accept every numeric bson representation.
func bsonTypesFor(t schema.StorageType) any {
	switch t {
	case schema.StorageString:
		return "string"
	case schema.StorageNumber:
		return bson.A{"double", "int", "long", "decimal"}
	case schema.StorageBoolean:
		return "bool"
	case schema.StorageDate:
		return "date"
	case schema.StorageArray:
		return "array"
	case schema.StorageObject:
		return "object"
	default:
		return nil
	}
}

// propertySchema builds the validator fragment for one field definition.
// Untyped fields produce an empty fragment that accepts any value. Defaults
// are applied at write time, not by the validator; see Registry.ApplyDefaults.
func propertySchema(def schema.FieldDefinition) bson.M {
	prop := bson.M{}
	if types := bsonTypesFor(def.Type); types != nil {
		// Nullable fields accept an explicit null next to their type.
		if def.Nullable {
			switch t := types.(type) {
			case string:
				types = bson.A{t, "null"}
			case bson.A:
				types = append(t, "null")
			}
		}
		prop["bsonType"] = types
	}

	c := def.Constraints
	if c.MinLength != nil {
		prop["minLength"] = *c.MinLength
	}
	if c.MaxLength != nil {
		prop["maxLength"] = *c.MaxLength
	}
	if c.Pattern != "" {
		prop["pattern"] = c.Pattern
	}
	if c.Min != nil {
		prop["minimum"] = *c.Min
	}
	if c.Max != nil {
		prop["maximum"] = *c.Max
	}
	if len(c.EnumValues) > 0 {
		enum := bson.A(c.EnumValues)
		if def.Nullable {
			enum = append(enum, nil)
		}
		prop["enum"] = enum
	}

	if def.Type == schema.StorageArray && def.Element != nil {
		prop["items"] = propertySchema(*def.Element)
	}
	if def.Type == schema.StorageObject && len(def.Fields) > 0 {
		nested := objectSchema(def.Fields)
		for k, v := range nested {
			prop[k] = v
		}
	}
	return prop
}

// objectSchema builds the properties/required fragment for a field map.
func objectSchema(fields map[string]schema.FieldDefinition) bson.M {
	properties := bson.M{}
	required := []string{}
	for name, def := range fields {
		properties[name] = propertySchema(def)
		if def.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	out := bson.M{"properties": properties}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// buildValidator translates a merged field definition map into the
// collection's $jsonSchema validator document.
func buildValidator(fields map[string]schema.FieldDefinition) bson.M {
	root := bson.M{"bsonType": "object"}
	for k, v := range objectSchema(fields) {
		root[k] = v
	}
	return bson.M{"$jsonSchema": root}
}
