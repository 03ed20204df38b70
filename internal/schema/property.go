// Package schema holds per-collection field definitions and the process-wide
// registry that resolves them. Definitions are compiled once at load into a
// closed variant set; request handling only reads them.
package schema

import (
	"fmt"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// Kind is the closed variant set every field resolves to at load time.
type Kind int

const (
	KindScalar Kind = iota
	KindArray
	KindNested
	KindRelationship
	KindVirtual
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindArray:
		return "array"
	case KindNested:
		return "nested"
	case KindRelationship:
		return "relationship"
	case KindVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// FieldType is the declared value type of a scalar field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeObjectID FieldType = "objectId"
	TypeFile     FieldType = "file"
)

// GeneratorKind names an engine-side key generator.
type GeneratorKind string

const (
	GenNone     GeneratorKind = ""
	GenUUID     GeneratorKind = "uuid"
	GenObjectID GeneratorKind = "objectId"
	GenXID      GeneratorKind = "xid"
)

// Conversions are applied on the write path (trim/case/default/encrypt/hash)
// and reversed where applicable on the read path.
type Conversions struct {
	Trim      bool
	Lowercase bool
	Uppercase bool
	// Default is a literal default; DefaultProvider names a registered
	// strategy and wins over Default when both are set.
	Default         any
	DefaultProvider string
	// Encrypt/Hash name the algorithm passed to the injected Cipher/Hasher;
	// SecretPath is looked up through the SecretStore.
	Encrypt    string
	Hash       string
	SecretPath string
	// SendToUser controls whether an encrypted field is decrypted before
	// rows are returned to the caller.
	SendToUser bool
	// Converter names a registered custom converter applied last.
	Converter string
}

// Validations are collected per field, not fail-fast.
type Validations struct {
	Required  bool
	Min       *float64
	Max       *float64
	MinLength *int
	MaxLength *int
	Enum      []any
	Email     bool
	Unique    bool
	// UniqueCombination lists sibling fields that must be unique together
	// with this one.
	UniqueCombination []string
	// Validator names a registered custom validator.
	Validator string
}

// Relationship points a field at a column of another collection.
type Relationship struct {
	Instance   string
	Database   string
	Collection string
	// Column is the target column whose value is wired into this field;
	// defaults to the target collection's primary key.
	Column string
}

// Target returns the relationship coordinates as a CollectionIdentity,
// inheriting missing instance/database from the owning collection.
func (r Relationship) Target(owner domain.CollectionIdentity) domain.CollectionIdentity {
	id := domain.CollectionIdentity{
		Instance:   r.Instance,
		Database:   r.Database,
		Collection: r.Collection,
	}
	if id.Instance == "" {
		id.Instance = owner.Instance
	}
	if id.Database == "" {
		id.Database = owner.Database
	}
	return id
}

// VirtualLink describes a virtual field resolved by back-reference: the
// parent-side SourceLinker value is matched against the target collection's
// TargetLinker column. TargetLinker may be empty and inferred at resolution
// time when the target schema has exactly one column referencing the owner.
type VirtualLink struct {
	// SourceLinker is the parent field whose value links the rows; defaults
	// to the owner's primary key.
	SourceLinker string
	TargetLinker string
}

// AutoIncrement is an engine-maintained counter.
type AutoIncrement struct {
	Start int64
	Step  int64
}

// Property is the compiled metadata of one field.
type Property struct {
	Name string
	Kind Kind
	Type FieldType

	Conversions Conversions
	Validations Validations

	// Rel is set for KindRelationship and KindVirtual (the target store).
	Rel *Relationship
	// Virtual is set for KindVirtual.
	Virtual *VirtualLink
	// Items is set for KindArray.
	Items *Property
	// Fields is set for KindNested.
	Fields map[string]*Property

	// IsMultiple marks a relationship/virtual field that attaches an array.
	IsMultiple bool

	IsPrimaryKey              bool
	IsAutoIncrementByDB       bool
	AutoIncrement             *AutoIncrement
	AutoGenerate              GeneratorKind
	IsConcurrencyControlField bool
	// VersionGenerator names a registered strategy producing the next
	// version value; empty means monotonic +1.
	VersionGenerator string
}

// validate enforces per-property invariants after compilation.
func (p *Property) validate() error {
	switch p.Kind {
	case KindArray:
		if p.Items == nil {
			return fmt.Errorf("array field %q has no items definition", p.Name)
		}
		return p.Items.validate()
	case KindNested:
		for _, f := range p.Fields {
			if err := f.validate(); err != nil {
				return err
			}
		}
	case KindRelationship:
		if p.Rel == nil || p.Rel.Collection == "" {
			return fmt.Errorf("relationship field %q has no target collection", p.Name)
		}
	case KindVirtual:
		if p.Rel == nil || p.Rel.Collection == "" {
			return fmt.Errorf("virtual field %q has no target collection", p.Name)
		}
	}
	if p.AutoIncrement != nil && p.AutoIncrement.Step == 0 {
		p.AutoIncrement.Step = 1
	}
	return nil
}
