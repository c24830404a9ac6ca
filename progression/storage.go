package progression

import (
	"fmt"

	"progressionkit/adapters/jsonfile"
	"progressionkit/adapters/memory"
	"progressionkit/adapters/redis"
	"progressionkit/adapters/sqlx"
	"progressionkit/config"
	"progressionkit/engine"
)

// OpenStorage builds the adapter named by cfg.Adapter. The returned cleanup
// releases connections and is never nil.
func OpenStorage(cfg config.StorageConfig) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Adapter {
	case "", "memory":
		return memory.New(), noop, nil
	case "file":
		s, err := jsonfile.New(cfg.File.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open file storage: %w", err)
		}
		return s, noop, nil
	case "redis":
		s, err := redis.New(cfg.Redis)
		if err != nil {
			return nil, noop, fmt.Errorf("open redis storage: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "sql":
		s, err := sqlx.New(cfg.SQL)
		if err != nil {
			return nil, noop, fmt.Errorf("open sql storage: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage adapter %q", cfg.Adapter)
	}
}
