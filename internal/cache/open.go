package cache

import (
	"fmt"

	"viasync/internal/config"
)

// Open returns the backend named by cfg.Cache.Backend. The closer releases
// the backend's connections and is never nil.
func Open(cfg config.Config) (Cache, func() error, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		return NewMemory(), func() error { return nil }, nil
	case "redis":
		c, err := NewRedis(cfg.RedisURL, "viasync:")
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case "sqlite":
		c, err := OpenSQLite(cfg.Cache.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	return nil, nil, fmt.Errorf("cache: unknown backend %q", cfg.Cache.Backend)
}
