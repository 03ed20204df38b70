package engine

import (
	"testing"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/adapter/memory"
	"github.com/kailas-cloud/datagate/internal/cache"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/schema"
)

func ident(collection string) domain.CollectionIdentity {
	return domain.CollectionIdentity{Instance: "core", Database: "app", Collection: collection}
}

func boolPtr(v bool) *bool { return &v }

func mustDef(t *testing.T, collection string, fields map[string]*schema.Property) *schema.Definition {
	t.Helper()
	def, err := schema.New(ident(collection), fields)
	if err != nil {
		t.Fatalf("schema.New(%s): %v", collection, err)
	}
	return def
}

// newTestEngine wires an engine over a single in-process store with the
// users/orders/order_items shop schema used across the engine tests.
func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()

	store := memory.New()
	adapters := adapter.NewRegistry()
	adapters.Register("core", "app", store, 0)

	users := mustDef(t, "users", map[string]*schema.Property{
		"id":   {Kind: schema.KindScalar, Type: schema.TypeString, IsPrimaryKey: true},
		"name": {Kind: schema.KindScalar, Type: schema.TypeString},
		"email": {
			Kind: schema.KindScalar, Type: schema.TypeString,
			Conversions: schema.Conversions{Trim: true, Lowercase: true},
			Validations: schema.Validations{Email: true},
		},
		"manager_id": {
			Kind: schema.KindRelationship,
			Rel:  &schema.Relationship{Collection: "users"},
		},
	})

	orders := mustDef(t, "orders", map[string]*schema.Property{
		"id": {
			Kind: schema.KindScalar, Type: schema.TypeString,
			IsPrimaryKey: true, AutoGenerate: schema.GenUUID,
		},
		"customer_id": {
			Kind: schema.KindRelationship,
			Rel:  &schema.Relationship{Collection: "users"},
		},
		"status": {
			Kind: schema.KindScalar, Type: schema.TypeString,
			Validations: schema.Validations{Enum: []any{"new", "paid", "shipped"}},
		},
		"total": {Kind: schema.KindScalar, Type: schema.TypeNumber},
		"version": {
			Kind: schema.KindScalar, Type: schema.TypeNumber,
			IsConcurrencyControlField: true,
		},
		"tags": {
			Kind:  schema.KindArray,
			Items: &schema.Property{Kind: schema.KindScalar, Type: schema.TypeString},
		},
		"items": {
			Kind:       schema.KindVirtual,
			Rel:        &schema.Relationship{Collection: "order_items"},
			Virtual:    &schema.VirtualLink{},
			IsMultiple: true,
		},
	})

	orderItems := mustDef(t, "order_items", map[string]*schema.Property{
		"id": {
			Kind: schema.KindScalar, Type: schema.TypeNumber,
			IsPrimaryKey:  true,
			AutoIncrement: &schema.AutoIncrement{Start: 1, Step: 1},
		},
		"order_id": {
			Kind: schema.KindRelationship,
			Rel:  &schema.Relationship{Collection: "orders"},
		},
		"sku": {
			Kind: schema.KindScalar, Type: schema.TypeString,
			Validations: schema.Validations{Required: true},
		},
		"qty": {Kind: schema.KindScalar, Type: schema.TypeNumber},
	})

	schemas := schema.NewStaticRegistry(users, orders, orderItems)
	e := New(schemas, adapters, Options{Cache: cache.NewMemory()})
	return e, store
}

// seedShop loads a small consistent data set: two users, three orders, four
// order items.
func seedShop(store *memory.Store) {
	store.Seed("users", []domain.Row{
		{"id": "u1", "name": "Alice", "email": "alice@example.com"},
		{"id": "u2", "name": "Bob", "email": "bob@example.com"},
	})
	store.Seed("orders", []domain.Row{
		{"id": "o1", "customer_id": "u1", "status": "new", "total": 10.0, "version": int64(1), "tags": []any{"rush"}},
		{"id": "o2", "customer_id": "u1", "status": "paid", "total": 25.0, "version": int64(3)},
		{"id": "o3", "customer_id": "u2", "status": "new", "total": 7.0, "version": int64(1)},
	})
	store.Seed("order_items", []domain.Row{
		{"id": int64(1), "order_id": "o1", "sku": "tea", "qty": int64(2)},
		{"id": int64(2), "order_id": "o1", "sku": "mug", "qty": int64(1)},
		{"id": int64(3), "order_id": "o2", "sku": "pot", "qty": int64(1)},
		{"id": int64(4), "order_id": "o3", "sku": "tea", "qty": int64(5)},
	})
}
