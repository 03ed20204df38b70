package chi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/adapter/memory"
	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/engine"
	"github.com/kailas-cloud/datagate/internal/schema"
)

func newTestRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()

	store := memory.New()
	adapters := adapter.NewRegistry()
	adapters.Register("core", "app", store, 0)

	users, err := schema.New(
		domain.CollectionIdentity{Instance: "core", Database: "app", Collection: "users"},
		map[string]*schema.Property{
			"id":   {Kind: schema.KindScalar, Type: schema.TypeString, IsPrimaryKey: true},
			"name": {Kind: schema.KindScalar, Type: schema.TypeString},
		})
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}

	eng := engine.New(schema.NewStaticRegistry(users), adapters, engine.Options{})
	r := chirouter.NewRouter()
	NewServer(eng, zap.NewNop()).Register(r)
	return r, store
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSaveThenQueryRoundTrip(t *testing.T) {
	h, _ := newTestRouter(t)

	saved := postJSON(t, h, "/v1/core/app/users/save", map[string]any{
		"data": map[string]any{"id": "u1", "name": "Alice"},
	})
	if saved.Code != http.StatusOK {
		t.Fatalf("save: got %d: %s", saved.Code, saved.Body.String())
	}

	queried := postJSON(t, h, "/v1/core/app/users/query", map[string]any{
		"find": map[string]any{"name": "Alice"},
	})
	if queried.Code != http.StatusOK {
		t.Fatalf("query: got %d: %s", queried.Code, queried.Body.String())
	}

	var resp domain.Response[[]domain.Row]
	if err := json.NewDecoder(queried.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || len(resp.Data) != 1 || resp.Data[0]["id"] != "u1" {
		t.Fatalf("round trip lost the row: %+v", resp)
	}
}

func TestGetByIDNotFoundMapsTo404(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := postJSON(t, h, "/v1/core/app/users/getById", map[string]any{"key": "missing"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want %d: %s", rr.Code, http.StatusNotFound, rr.Body.String())
	}

	var resp domain.Response[domain.Row]
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || len(resp.Errors) == 0 {
		t.Fatalf("error envelope malformed: %+v", resp)
	}
}

func TestUnknownCollectionMapsTo404(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := postJSON(t, h, "/v1/core/app/ghosts/query", map[string]any{})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestUnknownOperationRejected(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := postJSON(t, h, "/v1/core/app/users/teleport", map[string]any{})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/v1/core/app/users/query", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetByIDRequiresKey(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := postJSON(t, h, "/v1/core/app/users/getById", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestQueryByStreamWritesNDJSON(t *testing.T) {
	h, store := newTestRouter(t)
	store.Seed("users", []domain.Row{
		{"id": "u1", "name": "Alice"},
		{"id": "u2", "name": "Bob"},
		{"id": "u3", "name": "Cara"},
	})

	rr := postJSON(t, h, "/v1/core/app/users/queryByStream", map[string]any{
		"query":     map[string]any{"sort": map[string]any{"id": 1}},
		"batchSize": 2,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type: %s", ct)
	}

	var lines int
	scanner := bufio.NewScanner(rr.Body)
	for scanner.Scan() {
		var row domain.Row
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 3 {
		t.Fatalf("got %d lines, want 3", lines)
	}
}

func TestRemoveByIDThroughHTTP(t *testing.T) {
	h, store := newTestRouter(t)
	store.Seed("users", []domain.Row{{"id": "u1", "name": "Alice"}})

	rr := postJSON(t, h, "/v1/core/app/users/removeById", map[string]any{"key": "u1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("remove: got %d: %s", rr.Code, rr.Body.String())
	}

	again := postJSON(t, h, "/v1/core/app/users/removeById", map[string]any{"key": "u1"})
	if again.Code != http.StatusNotFound {
		t.Fatalf("second remove: got %d, want 404", again.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status: %s", body["status"])
	}
}
