package engine

import (
	"context"
	"testing"

	"github.com/kailas-cloud/datagate/internal/domain"
)

func TestSaveInsertGeneratesKey(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.SaveSingleOrMultiple(context.Background(), ident("orders"), []domain.Row{
		{"customer_id": "u2", "status": "new", "total": 3.5},
	}, domain.SaveOptions{})
	if !resp.Success {
		t.Fatalf("save failed: %+v", resp.Errors)
	}
	id, ok := resp.Data[0]["id"].(string)
	if !ok || id == "" {
		t.Fatalf("primary key not generated: %v", resp.Data[0]["id"])
	}

	fetched := e.GetByID(context.Background(), ident("orders"), id, nil)
	if !fetched.Success {
		t.Fatalf("saved row not readable: %+v", fetched.Errors)
	}
}

func TestSaveReplacesExistingRow(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.SaveSingleOrMultiple(context.Background(), ident("orders"), []domain.Row{
		{"id": "o1", "customer_id": "u1", "status": "paid", "total": 10.0, "version": int64(1)},
	}, domain.SaveOptions{})
	if !resp.Success {
		t.Fatalf("save failed: %+v", resp.Errors)
	}

	fetched := e.GetByID(context.Background(), ident("orders"), "o1", nil)
	if fetched.Data["status"] != "paid" {
		t.Fatalf("replace did not stick: %v", fetched.Data["status"])
	}
}

func TestSaveAutoIncrementKeys(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.SaveSingleOrMultiple(context.Background(), ident("order_items"), []domain.Row{
		{"order_id": "o3", "sku": "kettle", "qty": int64(1)},
		{"order_id": "o3", "sku": "cup", "qty": int64(4)},
	}, domain.SaveOptions{})
	if !resp.Success {
		t.Fatalf("save failed: %+v", resp.Errors)
	}
	first, second := resp.Data[0]["id"], resp.Data[1]["id"]
	if first == nil || second == nil || first == second {
		t.Fatalf("counter keys wrong: %v, %v", first, second)
	}
}

func TestSaveValidationCollectsFieldErrors(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.SaveSingleOrMultiple(context.Background(), ident("orders"), []domain.Row{
		{"status": "cancelled"},
	}, domain.SaveOptions{})
	if resp.Success {
		t.Fatal("expected validation failure")
	}
	if resp.StatusCode != 400 {
		t.Fatalf("got status %d, want 400", resp.StatusCode)
	}
	if resp.Errors[0].Type != domain.ErrTypeEnumValidation {
		t.Fatalf("got %s, want enumValidation", resp.Errors[0].Type)
	}
}

func TestSaveAppliesConversions(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.SaveSingleOrMultiple(context.Background(), ident("users"), []domain.Row{
		{"id": "u3", "name": "Cara", "email": "  Cara@Example.COM "},
	}, domain.SaveOptions{})
	if !resp.Success {
		t.Fatalf("save failed: %+v", resp.Errors)
	}
	if resp.Data[0]["email"] != "cara@example.com" {
		t.Fatalf("conversions not applied: %v", resp.Data[0]["email"])
	}
}

func TestUpdateByIDGuardConflict(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	// Stored version of o2 is 3; submitting 2 must conflict.
	resp := e.UpdateByID(context.Background(), ident("orders"), "o2",
		domain.Row{"status": "shipped", "version": int64(2)},
		domain.UpdateOptions{SkipConcurrencyControl: boolPtr(false)})
	if resp.Success {
		t.Fatal("expected concurrency conflict")
	}
	if resp.StatusCode != 409 {
		t.Fatalf("got status %d, want 409", resp.StatusCode)
	}

	untouched := e.GetByID(context.Background(), ident("orders"), "o2", nil)
	if untouched.Data["status"] != "paid" {
		t.Fatalf("conflicting update must not write: %v", untouched.Data["status"])
	}
}

func TestUpdateByIDGuardAdvancesVersion(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.UpdateByID(context.Background(), ident("orders"), "o2",
		domain.Row{"status": "shipped", "version": int64(3)},
		domain.UpdateOptions{SkipConcurrencyControl: boolPtr(false)})
	if !resp.Success {
		t.Fatalf("update failed: %+v", resp.Errors)
	}
	if v := resp.Data["version"]; v != int64(4) {
		t.Fatalf("version not advanced: %v", v)
	}
	if resp.Data["status"] != "shipped" {
		t.Fatalf("merge lost the update: %v", resp.Data["status"])
	}
}

func TestUpdateByIDGuardSkippedByDefault(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.UpdateByID(context.Background(), ident("orders"), "o2",
		domain.Row{"status": "shipped"}, domain.UpdateOptions{})
	if !resp.Success {
		t.Fatalf("update failed: %+v", resp.Errors)
	}
}

func TestReplaceByIDKeepsKey(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.ReplaceByID(context.Background(), ident("orders"), "o3",
		domain.Row{"customer_id": "u2", "status": "paid", "total": 7.0},
		domain.UpdateOptions{})
	if !resp.Success {
		t.Fatalf("replace failed: %+v", resp.Errors)
	}
	if resp.Data["id"] != "o3" {
		t.Fatalf("key lost on replace: %v", resp.Data["id"])
	}
}

func TestUpdateManyAndRemoveByQuery(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	updated := e.UpdateMany(context.Background(), ident("orders"),
		domain.Filter{"status": "new"}, domain.Row{"status": "paid"})
	if !updated.Success || updated.Data != 2 {
		t.Fatalf("updateMany: %+v", updated)
	}

	removed := e.RemoveByQuery(context.Background(), ident("orders"),
		domain.Filter{"status": "paid"})
	if !removed.Success || removed.Data != 3 {
		t.Fatalf("removeByQuery: %+v", removed)
	}
}

func TestRemoveByIDNotFound(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	resp := e.RemoveByID(context.Background(), ident("orders"), "missing")
	if resp.Success {
		t.Fatal("expected not found")
	}
	if resp.StatusCode != 404 {
		t.Fatalf("got status %d, want 404", resp.StatusCode)
	}

	ok := e.RemoveByID(context.Background(), ident("orders"), "o1")
	if !ok.Success || ok.Data != true {
		t.Fatalf("remove failed: %+v", ok)
	}
}

func TestWriteInvalidatesCachedReads(t *testing.T) {
	e, store := newTestEngine(t)
	seedShop(store)

	q := domain.QueryFormat{Find: domain.Filter{"status": "new"}}
	before := e.Query(context.Background(), ident("orders"), q)
	if len(before.Data) != 2 {
		t.Fatalf("got %d rows, want 2", len(before.Data))
	}

	e.UpdateMany(context.Background(), ident("orders"),
		domain.Filter{"id": "o1"}, domain.Row{"status": "paid"})

	after := e.Query(context.Background(), ident("orders"), q)
	if len(after.Data) != 1 {
		t.Fatalf("stale cache served after write: %d rows", len(after.Data))
	}
}
