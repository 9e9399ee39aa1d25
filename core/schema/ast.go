// Package schema defines the neutral, composable description of a record's
// shape and validation rules, together with the translator that turns such a
// description into storage-level field definitions. The description is this
// system's own AST; it does not depend on any validation library's internals.
package schema

// NodeKind identifies the kind of a schema node.
type NodeKind string

const (
	KindString   NodeKind = "string"   // Text data
	KindNumber   NodeKind = "number"   // Numeric data
	KindBoolean  NodeKind = "boolean"  // True/false values
	KindDate     NodeKind = "date"     // Timestamps
	KindEnum     NodeKind = "enum"     // One out of a set of pre-defined strings
	KindLiteral  NodeKind = "literal"  // Exactly one fixed value
	KindArray    NodeKind = "array"    // Ordered list of items
	KindObject   NodeKind = "object"   // Structured data with nested fields
	KindUnion    NodeKind = "union"    // One of a set of alternative shapes
	KindOptional NodeKind = "optional" // Modifier: field may be absent
	KindDefault  NodeKind = "default"  // Modifier: field gets a value when absent
	KindNullable NodeKind = "nullable" // Modifier: field may be null
)

// Node is a single node in a schema description tree. Implementations are the
// leaf, composite, and modifier types below.
type Node interface {
	Kind() NodeKind
}

// String describes a text field with optional length and pattern constraints.
// Format-only constraints (URL, email, ...) are deliberately not part of this
// node: they stay at the description layer and never reach storage.
type String struct {
	MinLength *int
	MaxLength *int
	Pattern   string
}

func (String) Kind() NodeKind { return KindString }

// Number describes a numeric field. Integer marks the value as whole-numbered
// at the description layer only; the storage layer does not enforce it.
type Number struct {
	Min     *float64
	Max     *float64
	Integer bool
}

func (Number) Kind() NodeKind { return KindNumber }

// Boolean describes a true/false field.
type Boolean struct{}

func (Boolean) Kind() NodeKind { return KindBoolean }

// Date describes a timestamp field.
type Date struct{}

func (Date) Kind() NodeKind { return KindDate }

// Enum describes a field restricted to a fixed set of string values.
type Enum struct {
	Values []string
}

func (Enum) Kind() NodeKind { return KindEnum }

// Literal describes a field that holds exactly one fixed value.
type Literal struct {
	Value any
}

func (Literal) Kind() NodeKind { return KindLiteral }

// Array describes an ordered list whose items all match Element.
type Array struct {
	Element Node
}

func (Array) Kind() NodeKind { return KindArray }

// Object describes a structured subdocument with named fields.
type Object struct {
	Fields map[string]Node
}

func (Object) Kind() NodeKind { return KindObject }

// Union describes a field that may take one of several alternative shapes.
// Translation to storage is lossy; see Translate.
type Union struct {
	Variants []Node
}

func (Union) Kind() NodeKind { return KindUnion }

// Optional wraps a node whose field may be absent.
type Optional struct {
	Inner Node
}

func (Optional) Kind() NodeKind { return KindOptional }

// Default wraps a node whose field receives Value when absent. A defaulted
// field is never required.
type Default struct {
	Inner Node
	Value any
}

func (Default) Kind() NodeKind { return KindDefault }

// Nullable wraps a node whose field may be explicitly null.
type Nullable struct {
	Inner Node
}

func (Nullable) Kind() NodeKind { return KindNullable }

// Intp returns a pointer to i. Convenience for constraint literals.
func Intp(i int) *int { return &i }

// Floatp returns a pointer to f. Convenience for constraint literals.
func Floatp(f float64) *float64 { return &f }
