package engine

import (
	"context"
	"testing"

	"github.com/kailas-cloud/datagate/internal/domain"
)

func TestQueryFilterSortWindow(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		Find: domain.Filter{"customer_id": "u1"},
		Sort: map[string]int{"total": -1},
	})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d rows, want 2", len(resp.Data))
	}
	if resp.Data[0]["id"] != "o2" || resp.Data[1]["id"] != "o1" {
		t.Fatalf("wrong sort order: %v, %v", resp.Data[0]["id"], resp.Data[1]["id"])
	}
}

func TestQueryTotalCountIgnoresWindow(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		Sort:          map[string]int{"id": 1},
		Limit:         1,
		GetTotalCount: true,
	})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("limit ignored, got %d rows", len(resp.Data))
	}
	if resp.TotalCount == nil || *resp.TotalCount != 3 {
		t.Fatalf("got totalCount %v, want 3", resp.TotalCount)
	}
}

func TestQueryCountParity(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	q := domain.QueryFormat{Find: domain.Filter{"status": "new"}}
	rows := e.Query(context.Background(), ident("orders"), q)
	count := e.Count(context.Background(), ident("orders"), q)
	if !rows.Success || !count.Success {
		t.Fatalf("operations failed: %+v / %+v", rows.Errors, count.Errors)
	}
	if int64(len(rows.Data)) != count.Data {
		t.Fatalf("query returned %d rows but count reports %d", len(rows.Data), count.Data)
	}
}

func TestQueryRejectsVirtualFieldInFind(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		Find: domain.Filter{"items": map[string]any{"$exists": true}},
	})
	if resp.Success {
		t.Fatal("virtual field in find must fail")
	}
	if resp.Errors[0].Type != domain.ErrTypeVirtualFieldUsedInFind {
		t.Fatalf("got error type %s", resp.Errors[0].Type)
	}
}

func TestQueryFindJoinDeduplicatesIDs(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	// Two tea items point at different orders; the "tea" join yields o1 and
	// o3 once each even though o1 also matches via its second item.
	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		FindJoin: []domain.FindJoin{{
			Target:       ident("order_items"),
			Find:         domain.Filter{"sku": "tea"},
			FindIDSource: "order_id",
			SourceKey:    "id",
		}},
		Sort: map[string]int{"id": 1},
	})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d rows, want 2", len(resp.Data))
	}
	if resp.Data[0]["id"] != "o1" || resp.Data[1]["id"] != "o3" {
		t.Fatalf("wrong rows: %v", resp.Data)
	}
}

func TestQueryFindJoinMergesWithExistingConstraint(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.Query(context.Background(), ident("orders"), domain.QueryFormat{
		Find: domain.Filter{"id": "o3"},
		FindJoin: []domain.FindJoin{{
			Target:       ident("order_items"),
			Find:         domain.Filter{"sku": "tea"},
			FindIDSource: "order_id",
			SourceKey:    "id",
		}},
	})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	if len(resp.Data) != 1 || resp.Data[0]["id"] != "o3" {
		t.Fatalf("intersection broken: %v", resp.Data)
	}
}

func TestGetByIDWithDeep(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.GetByID(context.Background(), ident("orders"), "o1", []domain.DeepSpec{
		{SKey: "customer_id"},
		{SKey: "items", Sort: map[string]int{"id": 1}},
	})
	if !resp.Success {
		t.Fatalf("getById failed: %+v", resp.Errors)
	}
	customer, ok := resp.Data["customer_id"].(domain.Row)
	if !ok || customer["name"] != "Alice" {
		t.Fatalf("customer not populated: %v", resp.Data["customer_id"])
	}
	items, ok := resp.Data["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("items not populated: %v", resp.Data["items"])
	}
}

func TestGetByIDNotFound(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.GetByID(context.Background(), ident("orders"), "missing", nil)
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.StatusCode != 404 {
		t.Fatalf("got status %d, want 404", resp.StatusCode)
	}
}

func TestDistinctOrdering(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.Distinct(context.Background(), ident("order_items"), "sku", domain.QueryFormat{}, "asc")
	if !resp.Success {
		t.Fatalf("distinct failed: %+v", resp.Errors)
	}
	want := []any{"mug", "pot", "tea"}
	if len(resp.Data) != len(want) {
		t.Fatalf("got %v", resp.Data)
	}
	for i := range want {
		if resp.Data[i] != want[i] {
			t.Fatalf("got %v, want %v", resp.Data, want)
		}
	}
}

func TestDistinctUnknownFieldFails(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.Distinct(context.Background(), ident("order_items"), "nope", domain.QueryFormat{}, "")
	if resp.Success {
		t.Fatal("expected schemaKeyNotFound failure")
	}
}

func TestAggregateGroup(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.Aggregate(context.Background(), ident("order_items"), []domain.AggregateStage{
		{"$group": map[string]any{"_id": "$order_id", "n": map[string]any{"$sum": 1}}},
		{"$sort": map[string]any{"_id": 1}},
	})
	if !resp.Success {
		t.Fatalf("aggregate failed: %+v", resp.Errors)
	}
	if len(resp.Data) != 3 {
		t.Fatalf("got %d groups, want 3", len(resp.Data))
	}
}

func TestQueryByStreamVisitsEverything(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	var total int
	var batches int
	err := e.QueryByStream(context.Background(), ident("order_items"), domain.QueryFormat{
		Sort: map[string]int{"id": 1},
	}, 3, func(rows []domain.Row) error {
		batches++
		total += len(rows)
		return nil
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if total != 4 {
		t.Fatalf("visited %d rows, want 4", total)
	}
	if batches != 2 {
		t.Fatalf("got %d batches, want 2", batches)
	}
}

func TestUnknownCollectionFails(t *testing.T) {
	e, _ := newTestEngine(t)

	resp := e.GetAll(context.Background(), ident("nope"))
	if resp.Success {
		t.Fatal("expected schemaNotFound failure")
	}
	if resp.StatusCode != 404 {
		t.Fatalf("got status %d, want 404", resp.StatusCode)
	}
}
