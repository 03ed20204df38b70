package memory

import (
	"context"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
)

// Aggregate evaluates the portable pipeline over a snapshot of the
// collection.
func (s *Store) Aggregate(
	_ context.Context, collection string, pipeline []domain.AggregateStage,
) ([]domain.Row, error) {
	s.mu.RLock()
	rows := make([]domain.Row, 0, len(s.collections[collection]))
	for _, row := range s.collections[collection] {
		rows = append(rows, cloneRow(row))
	}
	s.mu.RUnlock()

	return adapter.RunPipeline(rows, pipeline)
}
