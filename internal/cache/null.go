package cache

import (
	"context"
	"time"
)

// Null stores nothing: Set reports success, every read is a miss.
// Used to disable caching outright in tests or diagnostics.
type Null struct{}

func NewNull() *Null { return &Null{} }

func (Null) BackendType() string { return TypeNull }

func (Null) Lookup(context.Context, string) (any, bool) { return nil, false }

func (Null) Get(_ context.Context, _ string, def any) any { return def }

func (Null) Has(context.Context, string) bool { return false }

func (Null) Set(context.Context, string, any, time.Duration) bool { return true }

func (Null) Delete(context.Context, string) bool { return true }

func (Null) Clear(context.Context, string) bool { return true }

func (n Null) Remember(ctx context.Context, key string, ttl time.Duration, producer func() (any, error)) (any, error) {
	return remember(ctx, n, key, ttl, producer)
}

// Increment behaves as if the counter started at zero; nothing is retained.
func (Null) Increment(_ context.Context, _ string, delta int64) (int64, error) {
	return delta, nil
}

func (Null) Decrement(context.Context, string, int64) (int64, error) { return 0, nil }

func (n Null) GetMultiple(ctx context.Context, keys []string, def any) map[string]any {
	return getMultiple(ctx, n, keys, def)
}

func (n Null) SetMultiple(ctx context.Context, values map[string]any, ttl time.Duration) bool {
	return setMultiple(ctx, n, values, ttl)
}

func (n Null) DeleteMultiple(ctx context.Context, keys []string) bool {
	return deleteMultiple(ctx, n, keys)
}
