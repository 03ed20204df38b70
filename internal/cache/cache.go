// Package cache defines the read-path result cache and its key scheme.
// Keys are derived from the full request shape so two equivalent queries hit
// the same entry; write operations invalidate per collection.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/kailas-cloud/datagate/internal/domain"
)

// ErrMiss signals an absent cache entry.
var ErrMiss = errors.New("cache miss")

// Cache is the read-result cache contract.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// InvalidateCollection drops every entry cached for one collection.
	InvalidateCollection(ctx context.Context, id domain.CollectionIdentity) error
	Close()
}

// Key fingerprints an operation over a collection. The payload is serialized
// to JSON (map keys sort deterministically) and hashed, so the key stays
// bounded regardless of filter size.
func Key(id domain.CollectionIdentity, op string, payload any) string {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			h.Write(data)
		}
	}
	return prefix(id) + hex.EncodeToString(h.Sum(nil))
}

// prefix namespaces keys per collection so invalidation can match them all.
func prefix(id domain.CollectionIdentity) string {
	return "dg:" + id.String() + ":"
}

// Nop satisfies Cache without storing anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }

func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Nop) InvalidateCollection(context.Context, domain.CollectionIdentity) error { return nil }

func (Nop) Close() {}
