package engine

import (
	"context"
	"testing"

	"github.com/kailas-cloud/datagate/internal/domain"
)

func TestPopulateChunkGroupsByParent(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		Sort: map[string]int{"id": 1},
		Deep: []domain.DeepSpec{{SKey: "items", ChunkSize: 2}},
	})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	counts := map[string]int{}
	for _, order := range resp.Data {
		items := order["items"].([]any)
		counts[order["id"].(string)] = len(items)
	}
	if counts["o1"] != 2 || counts["o2"] != 1 || counts["o3"] != 1 {
		t.Fatalf("wrong grouping: %v", counts)
	}
}

func TestPopulateSingleAttachesFirstOrNil(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)
	store.Seed("orders", []domain.Row{
		{"id": "o4", "status": "new", "version": int64(1)}, // no customer
	})

	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		Sort: map[string]int{"id": 1},
		Deep: []domain.DeepSpec{{SKey: "customer_id"}},
	})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	first := resp.Data[0]["customer_id"]
	if row, ok := first.(domain.Row); !ok || row["id"] != "u1" {
		t.Fatalf("relationship not populated: %v", first)
	}
	last := resp.Data[len(resp.Data)-1]
	if last["customer_id"] != nil {
		t.Fatalf("missing relation should attach nil, got %v", last["customer_id"])
	}
}

func TestPopulateOneByOnePreservesParentOrderAndWindows(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	// Per-parent limit forces the one-query-per-parent path.
	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		Sort: map[string]int{"id": 1},
		Deep: []domain.DeepSpec{{
			SKey:  "items",
			Sort:  map[string]int{"id": 1},
			Limit: 1,
		}},
	})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	for i, wantOrder := range []string{"o1", "o2", "o3"} {
		if resp.Data[i]["id"] != wantOrder {
			t.Fatalf("parent order broken at %d: %v", i, resp.Data[i]["id"])
		}
		items := resp.Data[i]["items"].([]any)
		if len(items) != 1 {
			t.Fatalf("per-parent limit not applied for %s: %d items", wantOrder, len(items))
		}
	}
	firstItem := resp.Data[0]["items"].([]any)[0].(domain.Row)
	if firstItem["id"] != int64(1) {
		t.Fatalf("per-parent sort not applied: %v", firstItem["id"])
	}
}

func TestPopulateNestedDeepCycleFails(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	// orders -> items -> order_id bounces back into orders once, which is a
	// legal chain; repeating the items hop on that branch closes the cycle.
	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		Find: domain.Filter{"id": "o1"},
		Deep: []domain.DeepSpec{{
			SKey: "items",
			Deep: []domain.DeepSpec{{
				SKey: "order_id",
				Deep: []domain.DeepSpec{{SKey: "items"}},
			}},
		}},
	})
	if resp.Success {
		t.Fatal("repeated hop must fail without noCycle")
	}
	if resp.Errors[0].Type != domain.ErrTypeCycleDetected {
		t.Fatalf("got %s, want cycleDetected", resp.Errors[0].Type)
	}
}

func TestPopulateSingleBounceBackIsNotACycle(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		Find: domain.Filter{"id": "o1"},
		Deep: []domain.DeepSpec{{
			SKey: "items",
			Sort: map[string]int{"id": 1},
			Deep: []domain.DeepSpec{{SKey: "order_id"}},
		}},
	})
	if !resp.Success {
		t.Fatalf("first revisit of the parent collection failed: %+v", resp.Errors)
	}
	items := resp.Data[0]["items"].([]any)
	for _, item := range items {
		parent, ok := item.(domain.Row)["order_id"].(domain.Row)
		if !ok || parent["id"] != "o1" {
			t.Fatalf("parent not populated on the child: %v", item)
		}
	}
}

func TestPopulateSelfReferenceSingleHop(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)
	store.Seed("users", []domain.Row{
		{"id": "u3", "name": "Cara", "email": "cara@example.com", "manager_id": "u1"},
	})

	resp := e.Query(context.Background(), ident("users"), domain.QueryFormat{
		Find: domain.Filter{"id": "u3"},
		Deep: []domain.DeepSpec{{SKey: "manager_id"}},
	})
	if !resp.Success {
		t.Fatalf("self-join query failed: %+v", resp.Errors)
	}
	manager, ok := resp.Data[0]["manager_id"].(domain.Row)
	if !ok || manager["id"] != "u1" {
		t.Fatalf("manager not populated: %v", resp.Data[0]["manager_id"])
	}
}

func TestPopulateNestedDeepCycleTruncatesWithNoCycle(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	id := ident("orders")
	id.NoCycle = true
	resp := e.Query(context.Background(), id, domain.QueryFormat{
		Find: domain.Filter{"id": "o1"},
		Deep: []domain.DeepSpec{{
			SKey: "items",
			Sort: map[string]int{"id": 1},
			Deep: []domain.DeepSpec{{
				SKey: "order_id",
				Deep: []domain.DeepSpec{{SKey: "items"}},
			}},
		}},
	})
	if !resp.Success {
		t.Fatalf("noCycle query failed: %+v", resp.Errors)
	}
	items := resp.Data[0]["items"].([]any)
	for _, item := range items {
		parent := item.(domain.Row)["order_id"].(domain.Row)
		inner, ok := parent["items"].([]any)
		if !ok || len(inner) != 0 {
			t.Fatalf("cycled branch should truncate to an empty attach, got %v", parent["items"])
		}
	}
}

func TestPopulateVirtualTargetInference(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	// No TKey given: the engine infers order_id from the unique
	// back-reference on order_items.
	resp := e.GetByID(context.Background(), ident("orders"), "o2", []domain.DeepSpec{
		{SKey: "items"},
	})
	if !resp.Success {
		t.Fatalf("getById failed: %+v", resp.Errors)
	}
	items := resp.Data["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("inference failed: %v", items)
	}
}
