package schema

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// StorageType is the storage-level type a schema node translates to.
type StorageType string

const (
	StorageString  StorageType = "string"
	StorageNumber  StorageType = "number"
	StorageBoolean StorageType = "boolean"
	StorageDate    StorageType = "date"
	StorageArray   StorageType = "array"
	StorageObject  StorageType = "object"
	// StorageAny accepts any value without validation. It is the fallback for
	// node kinds the translator does not recognize.
	StorageAny StorageType = "any"
)

// Constraints are the storage-level validation constraints of a field.
type Constraints struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	MinLength  *int     `json:"minlength,omitempty"`
	MaxLength  *int     `json:"maxlength,omitempty"`
	Pattern    string   `json:"match,omitempty"`
	EnumValues []any    `json:"enum,omitempty"`
}

// FieldDefinition is the translator's output for a single field. Composite
// nodes populate Element (arrays) or Fields (objects) recursively. Nullable
// marks a field that may hold an explicit null in addition to its type.
type FieldDefinition struct {
	Type        StorageType                `json:"type"`
	Required    bool                       `json:"required"`
	Nullable    bool                       `json:"nullable,omitempty"`
	Default     any                        `json:"default,omitempty"`
	Constraints Constraints                `json:"constraints,omitempty"`
	Element     *FieldDefinition           `json:"element,omitempty"`
	Fields      map[string]FieldDefinition `json:"fields,omitempty"`
}

// Translator converts schema description nodes into storage field
// definitions. Translation is total and deterministic: every node kind has a
// defined output, including a permissive fallback for unknown kinds.
type Translator struct {
	logger *zap.Logger
}

// NewTranslator creates a Translator. A nil logger is replaced with a no-op.
func NewTranslator(logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{logger: logger}
}

// Translate converts a single schema node into its storage field definition.
// Modifier wrappers are unwrapped outside-in: each of Optional, Default, and
// Nullable marks the field as not required, and Default additionally captures
// the default value. The innermost non-modifier node decides the storage type
// and constraints.
func (t *Translator) Translate(node Node) FieldDefinition {
	required := true
	nullable := false
	var defaultValue any

	for {
		switch n := node.(type) {
		case Optional:
			required = false
			node = n.Inner
			continue
		case Nullable:
			required = false
			nullable = true
			node = n.Inner
			continue
		case Default:
			required = false
			defaultValue = n.Value
			node = n.Inner
			continue
		}
		break
	}

	def := t.dispatch(node)
	def.Required = required
	def.Nullable = nullable
	if defaultValue != nil {
		def.Default = defaultValue
	}
	return def
}

// unwrapModifiers strips modifier wrappers without recording their effects.
// Used where only the underlying shape matters, like union variants.
func unwrapModifiers(node Node) Node {
	for {
		switch n := node.(type) {
		case Optional:
			node = n.Inner
		case Nullable:
			node = n.Inner
		case Default:
			node = n.Inner
		default:
			return node
		}
	}
}

// dispatch maps an unwrapped node to its storage definition.
func (t *Translator) dispatch(node Node) FieldDefinition {
	switch n := node.(type) {
	case String:
		return FieldDefinition{
			Type: StorageString,
			Constraints: Constraints{
				MinLength: n.MinLength,
				MaxLength: n.MaxLength,
				Pattern:   n.Pattern,
			},
		}
	case Number:
		// Integer-ness is not enforced at the storage layer.
		return FieldDefinition{
			Type:        StorageNumber,
			Constraints: Constraints{Min: n.Min, Max: n.Max},
		}
	case Boolean:
		return FieldDefinition{Type: StorageBoolean}
	case Date:
		return FieldDefinition{Type: StorageDate}
	case Enum:
		values := make([]any, len(n.Values))
		for i, v := range n.Values {
			values[i] = v
		}
		return FieldDefinition{
			Type:        StorageString,
			Constraints: Constraints{EnumValues: values},
		}
	case Literal:
		return FieldDefinition{
			Type:        literalStorageType(n.Value),
			Constraints: Constraints{EnumValues: []any{n.Value}},
		}
	case Array:
		element := t.Translate(n.Element)
		return FieldDefinition{Type: StorageArray, Element: &element}
	case Object:
		fields := make(map[string]FieldDefinition, len(n.Fields))
		for name, child := range n.Fields {
			fields[name] = t.Translate(child)
		}
		return FieldDefinition{Type: StorageObject, Fields: fields}
	case Union:
		if len(n.Variants) == 0 {
			t.logger.Warn("union with no variants translated as unvalidated field")
			return FieldDefinition{Type: StorageAny}
		}
		// Only the first variant survives translation. The document store
		// tolerates shape drift, so later variants are stored unvalidated.
		// Modifiers on the variant are stripped; the field's own modifiers
		// were already handled before dispatch.
		first := unwrapModifiers(n.Variants[0])
		if len(n.Variants) > 1 {
			t.logger.Warn("lossy union translation, only first variant is validated",
				zap.Int("variants", len(n.Variants)),
				zap.String("kind", string(first.Kind())))
		}
		return t.dispatch(first)
	default:
		t.logger.Warn("unvalidated field: unrecognized schema node kind",
			zap.String("kind", string(node.Kind())))
		return FieldDefinition{Type: StorageAny}
	}
}

// literalStorageType maps a literal value to the storage type of its
// primitive.
func literalStorageType(value any) StorageType {
	switch value.(type) {
	case string:
		return StorageString
	case bool:
		return StorageBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return StorageNumber
	default:
		return StorageAny
	}
}

// TranslateFields translates every entry of a module's schema description.
func (t *Translator) TranslateFields(fields map[string]Node) map[string]FieldDefinition {
	out := make(map[string]FieldDefinition, len(fields))
	for name, node := range fields {
		out[name] = t.Translate(node)
	}
	return out
}

// MergeWithBase overlays the built-in base field definitions onto a module's
// translated fields. The union is stable and order-independent. A module that
// redefines a reserved base key is a configuration error, not a silent
// override.
func MergeWithBase(module, base map[string]FieldDefinition) (map[string]FieldDefinition, error) {
	reserved := make([]string, 0)
	for name := range module {
		if _, ok := base[name]; ok {
			reserved = append(reserved, name)
		}
	}
	if len(reserved) > 0 {
		sort.Strings(reserved)
		return nil, fmt.Errorf("schema redefines reserved base fields: %v", reserved)
	}

	merged := make(map[string]FieldDefinition, len(module)+len(base))
	for name, def := range base {
		merged[name] = def
	}
	for name, def := range module {
		merged[name] = def
	}
	return merged, nil
}
