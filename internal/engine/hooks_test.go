package engine

import (
	"context"
	"testing"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/adapter/memory"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/hook"
	"github.com/kailas-cloud/datagate/internal/schema"
)

func newHookedEngine(t *testing.T, hooks *hook.Registry) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	adapters := adapter.NewRegistry()
	adapters.Register("core", "app", store, 0)

	users := mustDef(t, "users", map[string]*schema.Property{
		"id":   {Kind: schema.KindScalar, Type: schema.TypeString, IsPrimaryKey: true},
		"name": {Kind: schema.KindScalar, Type: schema.TypeString},
	})
	return New(schema.NewStaticRegistry(users), adapters, Options{Hooks: hooks}), store
}

func TestPreHookShortCircuitsQuery(t *testing.T) {
	hooks := hook.NewRegistry()
	hooks.Collection(ident("users"), func(context.Context, *hook.State, *hook.Request) (*hook.Result, error) {
		return &hook.Result{
			ShortCircuit: true,
			Response:     []domain.Row{{"id": "synthetic"}},
			Warnings:     []string{"served by hook"},
		}, nil
	}, nil)

	e, store := newHookedEngine(t, hooks)
	store.Seed("users", []domain.Row{{"id": "u1", "name": "Alice"}})

	resp := e.Query(context.Background(), ident("users"), domain.QueryFormat{})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	if len(resp.Data) != 1 || resp.Data[0]["id"] != "synthetic" {
		t.Fatalf("short-circuit response lost: %v", resp.Data)
	}
	if len(resp.Warnings) != 1 {
		t.Fatalf("warnings lost: %v", resp.Warnings)
	}
}

func TestPreHookRewritesSavePayload(t *testing.T) {
	hooks := hook.NewRegistry()
	hooks.Collection(ident("users"), func(_ context.Context, _ *hook.State, req *hook.Request) (*hook.Result, error) {
		rows := req.Payload.([]domain.Row)
		for _, row := range rows {
			row["name"] = "stamped"
		}
		return &hook.Result{Payload: rows}, nil
	}, nil)

	e, _ := newHookedEngine(t, hooks)
	resp := e.SaveSingleOrMultiple(context.Background(), ident("users"),
		[]domain.Row{{"id": "u1", "name": "original"}}, domain.SaveOptions{})
	if !resp.Success {
		t.Fatalf("save failed: %+v", resp.Errors)
	}
	if resp.Data[0]["name"] != "stamped" {
		t.Fatalf("payload rewrite lost: %v", resp.Data[0]["name"])
	}
}

func TestSkipHooksBypassesRegistry(t *testing.T) {
	called := false
	hooks := hook.NewRegistry()
	hooks.Global(func(context.Context, *hook.State, *hook.Request) (*hook.Result, error) {
		called = true
		return nil, nil
	}, nil)

	e, store := newHookedEngine(t, hooks)
	store.Seed("users", []domain.Row{{"id": "u1"}})

	id := ident("users")
	id.SkipHooks = true
	resp := e.Query(context.Background(), id, domain.QueryFormat{})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	if called {
		t.Fatal("hooks must not run with skipHookRunning")
	}
}

func TestPostHookSeesOutcomeAndAnnotation(t *testing.T) {
	var sawAnnotation any
	hooks := hook.NewRegistry()
	hooks.Collection(ident("users"),
		func(_ context.Context, state *hook.State, _ *hook.Request) (*hook.Result, error) {
			state.Annotate("audit-7")
			return nil, nil
		},
		func(_ context.Context, state *hook.State, _ *hook.Request, outcome any) error {
			sawAnnotation = state.Annotation()
			if _, ok := outcome.([]domain.Row); !ok {
				t.Errorf("unexpected outcome type %T", outcome)
			}
			return nil
		})

	e, store := newHookedEngine(t, hooks)
	store.Seed("users", []domain.Row{{"id": "u1"}})

	resp := e.Query(context.Background(), ident("users"), domain.QueryFormat{})
	if !resp.Success {
		t.Fatalf("query failed: %+v", resp.Errors)
	}
	if sawAnnotation != "audit-7" {
		t.Fatalf("annotation lost between pre and post: %v", sawAnnotation)
	}
}
