package datagate

import (
	"github.com/kailas-cloud/datagate/internal/convert"
	"github.com/kailas-cloud/datagate/internal/hook"
	"github.com/kailas-cloud/datagate/internal/schema"
)

// Aliases for the extension-point types referenced by client options, so SDK
// callers can implement hooks, strategies and schemas without reaching into
// internal packages.
type (
	SchemaDefinition = schema.Definition
	SchemaProperty   = schema.Property

	Hooks       = hook.Registry
	HookState   = hook.State
	HookRequest = hook.Request
	HookResult  = hook.Result
	PreHook     = hook.PreHook
	PostHook    = hook.PostHook

	ConvertPipeline   = convert.Pipeline
	ConvertStrategies = convert.Registry
	Cipher            = convert.Cipher
	Hasher            = convert.Hasher
	SecretStore       = convert.SecretStore
)

// NewHooks creates an empty hook registry.
func NewHooks() *Hooks { return hook.NewRegistry() }

// NewConvertStrategies creates an empty named-strategy registry.
func NewConvertStrategies() *ConvertStrategies { return convert.NewRegistry() }

// NewConvertPipeline builds a conversion pipeline. Nil collaborators disable
// the conversions that need them.
func NewConvertPipeline(cipher Cipher, hasher Hasher, secrets SecretStore, strategies *ConvertStrategies) *ConvertPipeline {
	return convert.NewPipeline(cipher, hasher, secrets, strategies)
}

// ParseSchema compiles one YAML schema document for a collection.
func ParseSchema(instance, database, collection string, data []byte) (*SchemaDefinition, error) {
	return schema.Parse(CollectionIdentity{
		Instance:   instance,
		Database:   database,
		Collection: collection,
	}, data)
}
