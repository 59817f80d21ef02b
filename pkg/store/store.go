// Package store is the keyed document store behind task and session
// records. Documents are JSON encoded and addressed by (kind, id).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for unknown documents.
var ErrNotFound = errors.New("store: not found")

// Store persists JSON documents.
type Store interface {
	Put(ctx context.Context, kind, id string, v any) error
	Get(ctx context.Context, kind, id string, out any) error
	List(ctx context.Context, kind string) ([]json.RawMessage, error)
	Delete(ctx context.Context, kind, id string) error
	Close() error
}

func encode(kind, id string, v any) ([]byte, error) {
	if kind == "" || id == "" {
		return nil, fmt.Errorf("store: kind and id are required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: failed to encode %s/%s: %w", kind, id, err)
	}
	return data, nil
}

func decode(kind, id string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("store: failed to decode %s/%s: %w", kind, id, err)
	}
	return nil
}
