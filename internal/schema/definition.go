package schema

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// Definition is the compiled schema of one collection.
type Definition struct {
	Identity domain.CollectionIdentity
	Fields   map[string]*Property

	// primaryKeys caches the names of fields flagged IsPrimaryKey.
	primaryKeys []string
	// concurrencyField caches the single concurrency-control field, if any.
	concurrencyField string
}

// New builds a Definition from already-compiled properties, enforcing the
// load-time invariants. Used by embedded setups and tests; file-based loading
// goes through LoadDir.
func New(identity domain.CollectionIdentity, fields map[string]*Property) (*Definition, error) {
	d := &Definition{Identity: identity, Fields: fields}
	if err := d.compile(); err != nil {
		return nil, err
	}
	return d, nil
}

// compile validates invariants and fills the caches. Called once at load.
func (d *Definition) compile() error {
	d.primaryKeys = d.primaryKeys[:0]
	d.concurrencyField = ""
	for name, p := range d.Fields {
		p.Name = name
		if err := p.validate(); err != nil {
			return fmt.Errorf("%s: %w", d.Identity, err)
		}
		if p.IsPrimaryKey {
			d.primaryKeys = append(d.primaryKeys, name)
		}
		if p.IsConcurrencyControlField {
			if d.concurrencyField != "" {
				return fmt.Errorf("%s: more than one concurrency-control field (%s, %s)",
					d.Identity, d.concurrencyField, name)
			}
			d.concurrencyField = name
		}
	}
	return nil
}

// PrimaryKey returns the single primary-key field, or an error when the
// schema declares none or several.
func (d *Definition) PrimaryKey() (string, error) {
	switch len(d.primaryKeys) {
	case 1:
		return d.primaryKeys[0], nil
	case 0:
		return "", fmt.Errorf("%w: %s has no primary key", domain.ErrSchemaKeyNotFound, d.Identity)
	default:
		return "", fmt.Errorf("%w: %s has an ambiguous primary key (%v)",
			domain.ErrSchemaKeyNotFound, d.Identity, d.primaryKeys)
	}
}

// ConcurrencyField returns the concurrency-control field name, "" if none.
func (d *Definition) ConcurrencyField() string { return d.concurrencyField }

// Field resolves a dot-separated path to a property, descending through
// nested and array fields. Fails with schemaKeyNotFound for unknown paths.
func (d *Definition) Field(path string) (*Property, error) {
	parts := strings.Split(path, ".")
	fields := d.Fields
	var cur *Property
	for i, part := range parts {
		p, ok := fields[part]
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", domain.ErrSchemaKeyNotFound, path, d.Identity)
		}
		cur = p
		if i == len(parts)-1 {
			break
		}
		switch cur.Kind {
		case KindNested:
			fields = cur.Fields
		case KindArray:
			if cur.Items != nil && cur.Items.Kind == KindNested {
				fields = cur.Items.Fields
				continue
			}
			return nil, fmt.Errorf("%w: %s in %s", domain.ErrSchemaKeyNotFound, path, d.Identity)
		default:
			return nil, fmt.Errorf("%w: %s in %s", domain.ErrSchemaKeyNotFound, path, d.Identity)
		}
	}
	return cur, nil
}

// VirtualFields returns the virtual properties of the collection.
func (d *Definition) VirtualFields() []*Property {
	var out []*Property
	for _, p := range d.Fields {
		if p.Kind == KindVirtual {
			out = append(out, p)
		}
	}
	return out
}
