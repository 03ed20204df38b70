package postgres

import (
	"context"
	"fmt"
)

// NextSequence advances a named counter row atomically via upsert. The first
// call seeds the counter at start; later calls increment by step.
func (a *Adapter) NextSequence(ctx context.Context, name string, start, step int64) (int64, error) {
	if step == 0 {
		step = 1
	}
	var initErr error
	a.countersInit.Do(func() {
		_, initErr = a.pool.Exec(ctx,
			`CREATE TABLE IF NOT EXISTS `+quoteIdent(countersTable)+
				` (name TEXT PRIMARY KEY, value BIGINT NOT NULL)`)
	})
	if initErr != nil {
		return 0, fmt.Errorf("postgres sequence init: %w", initErr)
	}

	var value int64
	err := a.pool.QueryRow(ctx,
		`INSERT INTO `+quoteIdent(countersTable)+` (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = `+quoteIdent(countersTable)+`.value + $3
		 RETURNING value`,
		name, start, step).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("postgres sequence %s: %w", name, err)
	}
	return value, nil
}
