package schema

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// Schema files live under <dir>/<instance>/<database>/<collection>.yaml.

type rawSchema struct {
	Fields map[string]*rawProperty `yaml:"fields"`
}

type rawRelationship struct {
	Instance   string `yaml:"instance"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	Column     string `yaml:"column"`
}

type rawConversions struct {
	Trim            bool   `yaml:"trim"`
	Lowercase       bool   `yaml:"lowercase"`
	Uppercase       bool   `yaml:"uppercase"`
	Default         any    `yaml:"default"`
	DefaultProvider string `yaml:"defaultProvider"`
	Encrypt         string `yaml:"encrypt"`
	Hash            string `yaml:"hash"`
	SecretPath      string `yaml:"secretPath"`
	SendToUser      bool   `yaml:"sendToUser"`
	Converter       string `yaml:"converter"`
}

type rawValidations struct {
	Required          bool     `yaml:"required"`
	Min               *float64 `yaml:"min"`
	Max               *float64 `yaml:"max"`
	MinLength         *int     `yaml:"minLength"`
	MaxLength         *int     `yaml:"maxLength"`
	Enum              []any    `yaml:"enum"`
	Email             bool     `yaml:"email"`
	Unique            bool     `yaml:"unique"`
	UniqueCombination []string `yaml:"uniqueCombination"`
	Validator         string   `yaml:"validator"`
}

type rawAutoIncrement struct {
	Start int64 `yaml:"start"`
	Step  int64 `yaml:"step"`
}

type rawProperty struct {
	Type string `yaml:"type"`

	PrimaryKey         bool              `yaml:"primaryKey"`
	AutoIncrementByDB  bool              `yaml:"autoIncrementByDB"`
	AutoIncrement      *rawAutoIncrement `yaml:"autoIncrement"`
	AutoGenerate       string            `yaml:"autoGenerate"`
	ConcurrencyControl bool              `yaml:"concurrencyControl"`
	VersionGenerator   string            `yaml:"versionGenerator"`

	Virtual      bool   `yaml:"virtual"`
	Multiple     bool   `yaml:"multiple"`
	SourceLinker string `yaml:"sourceLinker"`
	TargetLinker string `yaml:"targetLinker"`

	Collection *rawRelationship `yaml:"collection"`

	Conversions *rawConversions         `yaml:"conversions"`
	Validations *rawValidations         `yaml:"validations"`
	Items       *rawProperty            `yaml:"items"`
	Fields      map[string]*rawProperty `yaml:"fields"`
}

// LoadDir reads every schema file under dir and compiles the definitions,
// keyed by instance/database/collection.
func LoadDir(dir string) (map[string]*Definition, error) {
	defs := make(map[string]*Definition)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".yaml") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return fmt.Errorf("schema file %s: want <instance>/<database>/<collection>.yaml", rel)
		}
		identity := domain.CollectionIdentity{
			Instance:   parts[0],
			Database:   parts[1],
			Collection: strings.TrimSuffix(parts[2], ".yaml"),
		}

		def, err := loadFile(path, identity)
		if err != nil {
			return err
		}
		defs[identity.String()] = def
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load schemas from %s: %w", dir, err)
	}
	return defs, nil
}

func loadFile(path string, identity domain.CollectionIdentity) (*Definition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	def, err := Parse(identity, data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return def, nil
}

// Parse compiles one YAML schema document for the given identity.
func Parse(identity domain.CollectionIdentity, data []byte) (*Definition, error) {
	var raw rawSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return Compile(identity, raw.Fields)
}

// Compile turns raw field specs into a validated Definition.
func Compile(identity domain.CollectionIdentity, fields map[string]*rawProperty) (*Definition, error) {
	def := &Definition{Identity: identity, Fields: make(map[string]*Property, len(fields))}
	for name, rp := range fields {
		p, err := compileProperty(name, rp)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", identity, name, err)
		}
		def.Fields[name] = p
	}
	if err := def.compile(); err != nil {
		return nil, err
	}
	return def, nil
}

func compileProperty(name string, rp *rawProperty) (*Property, error) {
	p := &Property{
		Name:                      name,
		Type:                      FieldType(rp.Type),
		IsMultiple:                rp.Multiple,
		IsPrimaryKey:              rp.PrimaryKey,
		IsAutoIncrementByDB:       rp.AutoIncrementByDB,
		AutoGenerate:              GeneratorKind(rp.AutoGenerate),
		IsConcurrencyControlField: rp.ConcurrencyControl,
		VersionGenerator:          rp.VersionGenerator,
	}
	if rp.AutoIncrement != nil {
		p.AutoIncrement = &AutoIncrement{Start: rp.AutoIncrement.Start, Step: rp.AutoIncrement.Step}
	}
	if rp.Conversions != nil {
		p.Conversions = Conversions{
			Trim:            rp.Conversions.Trim,
			Lowercase:       rp.Conversions.Lowercase,
			Uppercase:       rp.Conversions.Uppercase,
			Default:         rp.Conversions.Default,
			DefaultProvider: rp.Conversions.DefaultProvider,
			Encrypt:         rp.Conversions.Encrypt,
			Hash:            rp.Conversions.Hash,
			SecretPath:      rp.Conversions.SecretPath,
			SendToUser:      rp.Conversions.SendToUser,
			Converter:       rp.Conversions.Converter,
		}
	}
	if rp.Validations != nil {
		p.Validations = Validations{
			Required:          rp.Validations.Required,
			Min:               rp.Validations.Min,
			Max:               rp.Validations.Max,
			MinLength:         rp.Validations.MinLength,
			MaxLength:         rp.Validations.MaxLength,
			Enum:              rp.Validations.Enum,
			Email:             rp.Validations.Email,
			Unique:            rp.Validations.Unique,
			UniqueCombination: rp.Validations.UniqueCombination,
			Validator:         rp.Validations.Validator,
		}
	}
	if rp.Collection != nil {
		p.Rel = &Relationship{
			Instance:   rp.Collection.Instance,
			Database:   rp.Collection.Database,
			Collection: rp.Collection.Collection,
			Column:     rp.Collection.Column,
		}
	}

	switch {
	case rp.Virtual:
		p.Kind = KindVirtual
		p.Virtual = &VirtualLink{SourceLinker: rp.SourceLinker, TargetLinker: rp.TargetLinker}
	case rp.Collection != nil:
		p.Kind = KindRelationship
	case rp.Type == "array":
		p.Kind = KindArray
		if rp.Items == nil {
			return nil, fmt.Errorf("array field requires items")
		}
		items, err := compileProperty(name+"[]", rp.Items)
		if err != nil {
			return nil, err
		}
		p.Items = items
	case rp.Type == "object":
		p.Kind = KindNested
		p.Fields = make(map[string]*Property, len(rp.Fields))
		for fname, frp := range rp.Fields {
			fp, err := compileProperty(fname, frp)
			if err != nil {
				return nil, err
			}
			p.Fields[fname] = fp
		}
	default:
		p.Kind = KindScalar
	}
	return p, nil
}
