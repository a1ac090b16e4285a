package collection

import "context"

// Store: хранилище коллекций. expected=0 отключает проверку версии.
type Store interface {
	List(ctx context.Context, collection string) ([]*Record, error)
	Get(ctx context.Context, collection, id string) (*Record, error)
	Create(ctx context.Context, collection string, data map[string]any) (*Record, error)
	Update(ctx context.Context, collection, id string, data map[string]any, expected int64) (*Record, error)
	Patch(ctx context.Context, collection, id string, patch map[string]any, expected int64) (*Record, error)
	Delete(ctx context.Context, collection, id string) error
	Restore(ctx context.Context, collection, id string) (*Record, error)
	Close() error
}
