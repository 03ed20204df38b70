package convert

import (
	"context"
	"fmt"
	"sync"
)

// Converter rewrites a field value on the write path.
type Converter func(ctx context.Context, value any) (any, error)

// DefaultProvider materializes a value for an absent field.
type DefaultProvider func(ctx context.Context) (any, error)

// Validator runs a custom field check and returns a human-readable error.
type Validator func(ctx context.Context, value any) error

// VersionGenerator produces the next concurrency token from the stored one.
type VersionGenerator func(current any) (any, error)

// Registry holds named strategies referenced by schema definitions.
// Registration happens at startup; lookups are concurrent.
type Registry struct {
	mu          sync.RWMutex
	converters  map[string]Converter
	defaults    map[string]DefaultProvider
	validators  map[string]Validator
	versionGens map[string]VersionGenerator
}

func NewRegistry() *Registry {
	return &Registry{
		converters:  make(map[string]Converter),
		defaults:    make(map[string]DefaultProvider),
		validators:  make(map[string]Validator),
		versionGens: make(map[string]VersionGenerator),
	}
}

func (r *Registry) RegisterConverter(name string, fn Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[name] = fn
}

func (r *Registry) RegisterDefaultProvider(name string, fn DefaultProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[name] = fn
}

func (r *Registry) RegisterValidator(name string, fn Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = fn
}

func (r *Registry) RegisterVersionGenerator(name string, fn VersionGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versionGens[name] = fn
}

func (r *Registry) Converter(name string) (Converter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.converters[name]
	if !ok {
		return nil, fmt.Errorf("converter %q is not registered", name)
	}
	return fn, nil
}

func (r *Registry) DefaultProvider(name string) (DefaultProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.defaults[name]
	if !ok {
		return nil, fmt.Errorf("default provider %q is not registered", name)
	}
	return fn, nil
}

func (r *Registry) Validator(name string) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.validators[name]
	if !ok {
		return nil, fmt.Errorf("validator %q is not registered", name)
	}
	return fn, nil
}

func (r *Registry) VersionGenerator(name string) (VersionGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.versionGens[name]
	if !ok {
		return nil, fmt.Errorf("version generator %q is not registered", name)
	}
	return fn, nil
}
