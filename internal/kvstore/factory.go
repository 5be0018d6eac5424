package kvstore

import (
	"context"
	"strings"
)

// NewStorage creates a postgres-backed storage when configured, otherwise in-memory.
func NewStorage(ctx context.Context, databaseURL string) (Storage, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStorage(), nil
	}
	return NewPostgresStorage(ctx, databaseURL)
}
