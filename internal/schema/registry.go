package schema

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// Registry is the process-wide schema lookup. Reads are lock-free; Reload
// swaps the whole snapshot atomically so concurrent readers never observe a
// half-updated schema set.
type Registry struct {
	snap   atomic.Pointer[snapshot]
	dir    string
	logger *zap.Logger
}

type snapshot struct {
	defs map[string]*Definition
}

// NewRegistry loads schemas from dir and returns a ready registry.
func NewRegistry(dir string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{dir: dir, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry builds a registry from in-memory definitions.
func NewStaticRegistry(defs ...*Definition) *Registry {
	m := make(map[string]*Definition, len(defs))
	for _, d := range defs {
		m[d.Identity.String()] = d
	}
	r := &Registry{logger: zap.NewNop()}
	r.snap.Store(&snapshot{defs: m})
	return r
}

// Resolve returns the definition for an identity or schemaNotFound.
func (r *Registry) Resolve(id domain.CollectionIdentity) (*Definition, error) {
	snap := r.snap.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: registry not loaded", domain.ErrSchemaNotFound)
	}
	def, ok := snap.defs[id.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSchemaNotFound, id)
	}
	return def, nil
}

// Reload re-reads the schema directory and swaps the snapshot. Out-of-band
// administrative action; in-flight requests keep the snapshot they resolved.
func (r *Registry) Reload() error {
	if r.dir == "" {
		return fmt.Errorf("registry has no schema directory configured")
	}
	defs, err := LoadDir(r.dir)
	if err != nil {
		return err
	}
	r.snap.Store(&snapshot{defs: defs})
	if r.logger != nil {
		r.logger.Info("schema registry loaded", zap.Int("collections", len(defs)))
	}
	return nil
}

// ResolveVirtualTarget returns the target-collection column a virtual field
// joins on: the explicit TargetLinker when declared, otherwise the unique
// column of the target schema whose relationship points back at the owner
// collection. Ambiguity or absence fails rather than guessing.
func (r *Registry) ResolveVirtualTarget(owner *Definition, prop *Property) (string, error) {
	if prop.Kind != KindVirtual || prop.Virtual == nil || prop.Rel == nil {
		return "", fmt.Errorf("%w: %s.%s is not a virtual field",
			domain.ErrVirtualFieldInFind, owner.Identity, prop.Name)
	}
	if prop.Virtual.TargetLinker != "" {
		return prop.Virtual.TargetLinker, nil
	}

	target, err := r.Resolve(prop.Rel.Target(owner.Identity))
	if err != nil {
		return "", err
	}

	var candidates []string
	for name, tp := range target.Fields {
		if tp.Kind != KindRelationship || tp.Rel == nil {
			continue
		}
		if tp.Rel.Collection != owner.Identity.Collection {
			continue
		}
		back := tp.Rel.Target(target.Identity)
		if back == (domain.CollectionIdentity{
			Instance:   owner.Identity.Instance,
			Database:   owner.Identity.Database,
			Collection: owner.Identity.Collection,
		}) {
			candidates = append(candidates, name)
		}
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return "", fmt.Errorf("%w: no column of %s references %s for virtual field %q",
			domain.ErrVirtualFieldInFind, target.Identity, owner.Identity.Collection, prop.Name)
	default:
		return "", fmt.Errorf("%w: ambiguous target for virtual field %q: %v",
			domain.ErrVirtualFieldInFind, prop.Name, candidates)
	}
}
