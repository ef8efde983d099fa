package backends

import (
	"fmt"

	"github.com/dontdude/pystudio/internal/config"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/platform/kv"
	"github.com/redis/go-redis/v9"
)

// OpenStore returns the configured KV. rdb is only used by the redis store
// and may be nil otherwise.
func OpenStore(cfg *config.Config, rdb *redis.Client) (domain.KV, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		return kv.NewMemory(), nil
	case config.StoreFile:
		return kv.NewFile(cfg.Store.Path)
	case config.StoreRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis store needs a redis connection")
		}
		return kv.NewRedis(rdb), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}
