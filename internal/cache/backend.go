package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Backend 标识代存储的实现。
type Backend string

const (
	BackendFS      Backend = "fs"
	BackendLevelDB Backend = "leveldb"
	BackendSQLite  Backend = "sqlite"
	BackendRedis   Backend = "redis"
)

// Options 汇总构建 Store 所需的全部参数，由全局配置映射而来。
type Options struct {
	Backend        Backend
	StoragePath    string
	RedisAddr      string
	RedisDB        int
	RedisNamespace string
}

// NewStore 根据 Backend 构建整站复用的一份存储实例。
func NewStore(opts Options) (Store, error) {
	switch Backend(strings.ToLower(string(opts.Backend))) {
	case "", BackendFS:
		return NewFileStore(opts.StoragePath)
	case BackendLevelDB:
		return NewLevelDBStore(filepath.Join(opts.StoragePath, "leveldb"))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(opts.StoragePath, "generations.db"))
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr: opts.RedisAddr,
			DB:   opts.RedisDB,
		})
		return NewRedisStore(client, opts.RedisNamespace)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", opts.Backend)
	}
}
