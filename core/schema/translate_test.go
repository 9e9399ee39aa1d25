package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateModifiers(t *testing.T) {
	tr := NewTranslator(nil)

	tests := []struct {
		name        string
		node        Node
		required    bool
		nullable    bool
		defaultVal  any
		storageType StorageType
	}{
		{"plain_string_is_required", String{}, true, false, nil, StorageString},
		{"optional_string", Optional{Inner: String{}}, false, false, nil, StorageString},
		{"nullable_number", Nullable{Inner: Number{}}, false, true, nil, StorageNumber},
		{"default_boolean", Default{Inner: Boolean{}, Value: true}, false, false, true, StorageBoolean},
		{"default_wrapped_in_optional", Optional{Inner: Default{Inner: String{}, Value: "x"}}, false, false, "x", StorageString},
		{"nested_modifiers", Nullable{Inner: Optional{Inner: Date{}}}, false, true, nil, StorageDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := tr.Translate(tt.node)
			assert.Equal(t, tt.required, def.Required)
			assert.Equal(t, tt.nullable, def.Nullable)
			assert.Equal(t, tt.defaultVal, def.Default)
			assert.Equal(t, tt.storageType, def.Type)
		})
	}
}

func TestTranslateStringConstraints(t *testing.T) {
	tr := NewTranslator(nil)

	def := tr.Translate(String{MinLength: Intp(2), MaxLength: Intp(64), Pattern: "^[a-z]+$"})
	assert.Equal(t, StorageString, def.Type)
	require.NotNil(t, def.Constraints.MinLength)
	assert.Equal(t, 2, *def.Constraints.MinLength)
	require.NotNil(t, def.Constraints.MaxLength)
	assert.Equal(t, 64, *def.Constraints.MaxLength)
	assert.Equal(t, "^[a-z]+$", def.Constraints.Pattern)
}

func TestTranslateNumberConstraints(t *testing.T) {
	tr := NewTranslator(nil)

	def := tr.Translate(Number{Min: Floatp(0), Max: Floatp(100), Integer: true})
	assert.Equal(t, StorageNumber, def.Type)
	require.NotNil(t, def.Constraints.Min)
	assert.Equal(t, 0.0, *def.Constraints.Min)
	require.NotNil(t, def.Constraints.Max)
	assert.Equal(t, 100.0, *def.Constraints.Max)
	// Integer-ness is a description-layer concern only.
	assert.Empty(t, def.Constraints.EnumValues)
}

func TestTranslateEnumAndLiteral(t *testing.T) {
	tr := NewTranslator(nil)

	enum := tr.Translate(Enum{Values: []string{"draft", "active", "archived"}})
	assert.Equal(t, StorageString, enum.Type)
	assert.Equal(t, []any{"draft", "active", "archived"}, enum.Constraints.EnumValues)

	tests := []struct {
		name        string
		value       any
		storageType StorageType
	}{
		{"string_literal", "client", StorageString},
		{"bool_literal", false, StorageBoolean},
		{"int_literal", 3, StorageNumber},
		{"float_literal", 2.5, StorageNumber},
		{"struct_literal_falls_back", struct{}{}, StorageAny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := tr.Translate(Literal{Value: tt.value})
			assert.Equal(t, tt.storageType, def.Type)
			assert.Equal(t, []any{tt.value}, def.Constraints.EnumValues)
		})
	}
}

func TestTranslateArray(t *testing.T) {
	tr := NewTranslator(nil)

	def := tr.Translate(Array{Element: Optional{Inner: String{MaxLength: Intp(10)}}})
	assert.Equal(t, StorageArray, def.Type)
	require.NotNil(t, def.Element)
	assert.Equal(t, StorageString, def.Element.Type)
	assert.False(t, def.Element.Required)
	require.NotNil(t, def.Element.Constraints.MaxLength)
	assert.Equal(t, 10, *def.Element.Constraints.MaxLength)
}

func TestTranslateObject(t *testing.T) {
	tr := NewTranslator(nil)

	def := tr.Translate(Object{Fields: map[string]Node{
		"name":  String{},
		"score": Optional{Inner: Number{}},
	}})
	assert.Equal(t, StorageObject, def.Type)
	require.Len(t, def.Fields, 2)
	assert.True(t, def.Fields["name"].Required)
	assert.False(t, def.Fields["score"].Required)
	assert.Equal(t, StorageNumber, def.Fields["score"].Type)
}

func TestTranslateUnionKeepsFirstVariant(t *testing.T) {
	tr := NewTranslator(nil)

	def := tr.Translate(Union{Variants: []Node{
		String{MaxLength: Intp(5)},
		Number{},
	}})
	assert.Equal(t, StorageString, def.Type)
	require.NotNil(t, def.Constraints.MaxLength)
	assert.Equal(t, 5, *def.Constraints.MaxLength)

	empty := tr.Translate(Union{})
	assert.Equal(t, StorageAny, empty.Type)
}

func TestTranslateUnionUnwrapsVariantModifiers(t *testing.T) {
	tr := NewTranslator(nil)

	def := tr.Translate(Union{Variants: []Node{
		Optional{Inner: String{MaxLength: Intp(5)}},
		Number{},
	}})
	assert.Equal(t, StorageString, def.Type)
	require.NotNil(t, def.Constraints.MaxLength)
	assert.Equal(t, 5, *def.Constraints.MaxLength)
	// Modifiers on the variant decide nothing; the union itself is unwrapped.
	assert.True(t, def.Required)

	wrapped := tr.Translate(Union{Variants: []Node{
		Default{Inner: Nullable{Inner: Boolean{}}, Value: true},
	}})
	assert.Equal(t, StorageBoolean, wrapped.Type)
}

type futureNode struct{}

func (futureNode) Kind() NodeKind { return NodeKind("hologram") }

func TestTranslateUnknownKindIsPermissive(t *testing.T) {
	tr := NewTranslator(nil)

	def := tr.Translate(futureNode{})
	assert.Equal(t, StorageAny, def.Type)
	assert.True(t, def.Required)

	wrapped := tr.Translate(Optional{Inner: futureNode{}})
	assert.Equal(t, StorageAny, wrapped.Type)
	assert.False(t, wrapped.Required)
}

func TestTranslateFields(t *testing.T) {
	tr := NewTranslator(nil)

	defs := tr.TranslateFields(map[string]Node{
		"website": Optional{Inner: String{}},
		"stage":   Default{Inner: Enum{Values: []string{"lead", "won"}}, Value: "lead"},
	})
	require.Len(t, defs, 2)
	assert.False(t, defs["website"].Required)
	assert.Equal(t, "lead", defs["stage"].Default)
	assert.Equal(t, []any{"lead", "won"}, defs["stage"].Constraints.EnumValues)
}

func TestMergeWithBase(t *testing.T) {
	base := map[string]FieldDefinition{
		"owner_id":   {Type: StorageString, Required: true},
		"is_deleted": {Type: StorageBoolean, Default: false},
	}
	module := map[string]FieldDefinition{
		"name": {Type: StorageString, Required: true},
	}

	merged, err := MergeWithBase(module, base)
	require.NoError(t, err)
	assert.Len(t, merged, 3)
	assert.True(t, merged["owner_id"].Required)
	assert.True(t, merged["name"].Required)

	// Same inputs merged in any order produce the same union.
	again, err := MergeWithBase(module, base)
	require.NoError(t, err)
	assert.Equal(t, merged, again)
}

func TestMergeWithBaseRejectsReservedKeys(t *testing.T) {
	base := map[string]FieldDefinition{
		"owner_id":   {Type: StorageString, Required: true},
		"is_deleted": {Type: StorageBoolean},
	}
	module := map[string]FieldDefinition{
		"owner_id": {Type: StorageNumber},
		"name":     {Type: StorageString},
	}

	_, err := MergeWithBase(module, base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner_id")
}

func TestMergeWithBaseRejectsIdentityKey(t *testing.T) {
	base := map[string]FieldDefinition{
		"_id": {Type: StorageAny},
	}
	module := map[string]FieldDefinition{
		"_id": {Type: StorageString},
	}

	_, err := MergeWithBase(module, base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "_id")
}
