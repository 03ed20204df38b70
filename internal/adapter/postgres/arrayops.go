package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/datagate/internal/adapter"
	"github.com/kailas-cloud/datagate/internal/domain"
)

// ApplyArrayOps applies the portable array mutations inside one transaction:
// matching rows are locked FOR UPDATE, mutated in-process with the shared
// semantics, and written back by ctid. Atomic per call, not just per row.
func (a *Adapter) ApplyArrayOps(
	ctx context.Context, collection string, ops []domain.ArrayOperation,
) (int64, error) {
	if err := a.ensureTable(ctx, collection); err != nil {
		return 0, err
	}

	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("postgres array ops begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var modified int64
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return 0, err
		}
		n, err := a.applyOne(ctx, tx, collection, op)
		if err != nil {
			return 0, fmt.Errorf("postgres %s on %s.%s: %w", op.Operation, collection, op.Path, err)
		}
		modified += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres array ops commit: %w", err)
	}
	return modified, nil
}

func (a *Adapter) applyOne(
	ctx context.Context, tx pgx.Tx, collection string, op domain.ArrayOperation,
) (int64, error) {
	where, args, err := buildWhere(op.Find, 1)
	if err != nil {
		return 0, err
	}
	sql := "SELECT ctid, doc FROM " + quoteIdent(collection) + where + " FOR UPDATE"
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return 0, err
	}

	type pending struct {
		ctid string
		doc  domain.Row
	}
	var updates []pending
	for rows.Next() {
		var ctid string
		var raw []byte
		if err := rows.Scan(&ctid, &raw); err != nil {
			rows.Close()
			return 0, err
		}
		var doc domain.Row
		if err := json.Unmarshal(raw, &doc); err != nil {
			rows.Close()
			return 0, err
		}
		cur, _ := adapter.LookupPath(doc, op.Path)
		arr, _ := cur.([]any)
		next, changed, err := adapter.ApplyToArray(arr, op)
		if err != nil {
			rows.Close()
			return 0, err
		}
		if changed {
			adapter.SetPath(doc, op.Path, next)
			updates = append(updates, pending{ctid: ctid, doc: doc})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, u := range updates {
		data, err := json.Marshal(u.doc)
		if err != nil {
			return 0, err
		}
		_, err = tx.Exec(ctx,
			"UPDATE "+quoteIdent(collection)+" SET doc = $1::jsonb WHERE ctid = $2::tid",
			data, u.ctid)
		if err != nil {
			return 0, err
		}
	}
	return int64(len(updates)), nil
}
