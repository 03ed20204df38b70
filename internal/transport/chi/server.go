// Package chi exposes the engine's uniform operation surface over HTTP.
// Every data operation is a POST to
// /v1/{instance}/{database}/{collection}/{operation} with a JSON body
// specific to the operation; the response is the engine envelope verbatim.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/datagate/internal/domain"
	"github.com/kailas-cloud/datagate/internal/engine"
	"github.com/kailas-cloud/datagate/internal/version"
)

const defaultStreamBatchSize = 500

// Server routes HTTP requests to engine operations.
type Server struct {
	engine *engine.Engine
	logger *zap.Logger
	health func(ctx context.Context) error
}

// NewServer creates the HTTP API server.
func NewServer(eng *engine.Engine, logger *zap.Logger) *Server {
	return &Server{engine: eng, logger: logger}
}

// WithHealthCheck attaches a readiness probe invoked by GET /health.
func (s *Server) WithHealthCheck(fn func(ctx context.Context) error) *Server {
	s.health = fn
	return s
}

// Register mounts all routes on the given router.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.Health)
	r.Get("/metrics", s.Metrics)
	r.Post("/v1/{instance}/{database}/{collection}/{operation}", s.Operation)
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"version": version.Version,
		"commit":  version.Commit,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// Operation dispatches POST /v1/{instance}/{database}/{collection}/{operation}.
func (s *Server) Operation(w http.ResponseWriter, r *http.Request) {
	id := domain.CollectionIdentity{
		Instance:   chi.URLParam(r, "instance"),
		Database:   chi.URLParam(r, "database"),
		Collection: chi.URLParam(r, "collection"),
		NoCycle:    queryFlag(r, "noCycle"),
		SkipHooks:  queryFlag(r, "skipHookRunning"),
	}
	if !id.Valid() {
		writeFailure(w, http.StatusBadRequest, domain.ErrTypeInvalidValue,
			"instance, database and collection are required")
		return
	}

	switch chi.URLParam(r, "operation") {
	case "getAll":
		writeEnvelope(w, s.engine.GetAll(r.Context(), id))
	case "getById":
		s.getByID(w, r, id)
	case "query":
		s.query(w, r, id)
	case "queryByStream":
		s.queryByStream(w, r, id)
	case "count":
		s.count(w, r, id)
	case "distinct", "distinctQuery":
		s.distinct(w, r, id)
	case "aggregate":
		s.aggregate(w, r, id)
	case "save":
		s.save(w, r, id)
	case "masterSave":
		s.masterSave(w, r, id)
	case "updateById":
		s.updateByID(w, r, id)
	case "replaceById":
		s.replaceByID(w, r, id)
	case "updateMany":
		s.updateMany(w, r, id)
	case "removeById":
		s.removeByID(w, r, id)
	case "removeByQuery":
		s.removeByQuery(w, r, id)
	case "arrayOperations":
		s.arrayOperations(w, r, id)
	default:
		writeFailure(w, http.StatusNotFound, domain.ErrTypeInvalidValue,
			"unknown operation "+strconv.Quote(chi.URLParam(r, "operation")))
	}
}

func (s *Server) getByID(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Key  any               `json:"key"`
		Deep []domain.DeepSpec `json:"deep,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Key == nil {
		writeFailure(w, http.StatusBadRequest, domain.ErrTypeInvalidValue, "key is required")
		return
	}
	writeEnvelope(w, s.engine.GetByID(r.Context(), id, req.Key, req.Deep))
}

func (s *Server) query(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var q domain.QueryFormat
	if err := decode(r, &q); err != nil {
		s.badRequest(w, err)
		return
	}
	writeEnvelope(w, s.engine.Query(r.Context(), id, q))
}

// queryByStream writes matching rows as NDJSON, one row per line. Errors
// raised before the first batch still produce an envelope; once streaming has
// begun they can only terminate the stream.
func (s *Server) queryByStream(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Query     domain.QueryFormat `json:"query"`
		BatchSize int64              `json:"batchSize,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaultStreamBatchSize
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	wrote := false

	err := s.engine.QueryByStream(r.Context(), id, req.Query, req.BatchSize, func(rows []domain.Row) error {
		if !wrote {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if !wrote {
			writeEnvelope(w, domain.FailErr[any](err))
			return
		}
		s.logger.Warn("stream aborted", zap.String("collection", id.String()), zap.Error(err))
		return
	}
	if !wrote {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) count(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var q domain.QueryFormat
	if err := decode(r, &q); err != nil {
		s.badRequest(w, err)
		return
	}
	writeEnvelope(w, s.engine.Count(r.Context(), id, q))
}

func (s *Server) distinct(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Field string             `json:"field"`
		Query domain.QueryFormat `json:"query,omitempty"`
		Order string             `json:"order,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Field == "" {
		writeFailure(w, http.StatusBadRequest, domain.ErrTypeInvalidValue, "field is required")
		return
	}
	writeEnvelope(w, s.engine.Distinct(r.Context(), id, req.Field, req.Query, req.Order))
}

func (s *Server) aggregate(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Pipeline []domain.AggregateStage `json:"pipeline"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	writeEnvelope(w, s.engine.Aggregate(r.Context(), id, req.Pipeline))
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Data    json.RawMessage    `json:"data"`
		Options domain.SaveOptions `json:"options,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	rows, err := rowsPayload(req.Data)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	writeEnvelope(w, s.engine.SaveSingleOrMultiple(r.Context(), id, rows, req.Options))
}

func (s *Server) masterSave(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Data    json.RawMessage          `json:"data"`
		Options domain.MasterSaveOptions `json:"options,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	rows, err := rowsPayload(req.Data)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	writeEnvelope(w, s.engine.MasterSave(r.Context(), id, rows, req.Options))
}

func (s *Server) updateByID(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Key     any                  `json:"key"`
		Set     domain.Row           `json:"set"`
		Options domain.UpdateOptions `json:"options,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Key == nil {
		writeFailure(w, http.StatusBadRequest, domain.ErrTypeInvalidValue, "key is required")
		return
	}
	writeEnvelope(w, s.engine.UpdateByID(r.Context(), id, req.Key, req.Set, req.Options))
}

func (s *Server) replaceByID(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Key     any                  `json:"key"`
		Data    domain.Row           `json:"data"`
		Options domain.UpdateOptions `json:"options,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Key == nil {
		writeFailure(w, http.StatusBadRequest, domain.ErrTypeInvalidValue, "key is required")
		return
	}
	writeEnvelope(w, s.engine.ReplaceByID(r.Context(), id, req.Key, req.Data, req.Options))
}

func (s *Server) updateMany(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Find domain.Filter `json:"find"`
		Set  domain.Row    `json:"set"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	writeEnvelope(w, s.engine.UpdateMany(r.Context(), id, req.Find, req.Set))
}

func (s *Server) removeByID(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Key any `json:"key"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Key == nil {
		writeFailure(w, http.StatusBadRequest, domain.ErrTypeInvalidValue, "key is required")
		return
	}
	writeEnvelope(w, s.engine.RemoveByID(r.Context(), id, req.Key))
}

func (s *Server) removeByQuery(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Find domain.Filter `json:"find"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	writeEnvelope(w, s.engine.RemoveByQuery(r.Context(), id, req.Find))
}

func (s *Server) arrayOperations(w http.ResponseWriter, r *http.Request, id domain.CollectionIdentity) {
	var req struct {
		Operations []domain.ArrayOperation `json:"operations"`
	}
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if len(req.Operations) == 0 {
		writeFailure(w, http.StatusBadRequest, domain.ErrTypeInvalidValue, "operations is required")
		return
	}
	writeEnvelope(w, s.engine.ArrayOperations(r.Context(), id, req.Operations))
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	writeFailure(w, http.StatusBadRequest, domain.ErrTypeInvalidValue,
		"invalid request body: "+err.Error())
}

// decode reads the JSON body into v, treating an empty body as the zero value.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// rowsPayload accepts a single object or an array of objects.
func rowsPayload(raw json.RawMessage) ([]domain.Row, error) {
	if len(raw) == 0 {
		return nil, errors.New("data is required")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return []domain.Row{t}, nil
	case []any:
		rows := make([]domain.Row, 0, len(t))
		for _, item := range t {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, errors.New("data items must be objects")
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, errors.New("data must be an object or an array of objects")
	}
}

func queryFlag(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEnvelope[T any](w http.ResponseWriter, resp domain.Response[T]) {
	writeJSON(w, resp.StatusCode, resp)
}

func writeFailure(w http.ResponseWriter, status int, errType domain.ErrorType, message string) {
	writeEnvelope(w, domain.Fail[any](status, domain.EngineError{
		Type:    errType,
		Message: message,
	}))
}
