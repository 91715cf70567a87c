package storage

import (
	"context"
	"errors"
	"strings"

	logx "janitord/pkg/logx"
)

// Store is the minimal persistence API used by the cache, rate limiter and
// checkpoint layers.
//
// Contract notes:
//   - Get distinguishes "absent" (ok=false) from any stored value, including
//     an empty string.
//   - InsertUnique inserts all entries or none; ok=false means at least one
//     key already existed. It is the primitive behind the lock-acquisition
//     race in the rate limiter.
//   - DeleteByPrefix treats the prefix literally; drivers must escape any
//     pattern metacharacters of their query language.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	InsertUnique(ctx context.Context, entries ...Entry) (ok bool, err error)
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
