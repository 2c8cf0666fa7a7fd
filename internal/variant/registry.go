package variant

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	defaultVariantKey = "shell"
	resetVariantKey   = "reset"
)

var globalRegistry = newRegistry()

type registry struct {
	mu       sync.RWMutex
	variants map[string]Metadata
}

func newRegistry() *registry {
	return &registry{variants: make(map[string]Metadata)}
}

// Register 将 variant 元数据加入全局注册表，重复键会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合 variant 的 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的 variant 元数据（大小写不敏感）。
func Resolve(key string) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的 variant 列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册 variant 的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta Metadata) error {
	key := r.normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("variant key is required")
	}
	meta.Key = key
	if meta.Mode == "" {
		meta.Mode = ModeServe
	}
	if meta.Mode != ModeServe && meta.Mode != ModeReset {
		return fmt.Errorf("variant %s has unknown mode %q", key, meta.Mode)
	}
	for class, strategy := range meta.Strategies {
		if !ValidStrategy(string(strategy)) {
			return fmt.Errorf("variant %s has unknown strategy %q for %s", key, strategy, class)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.variants[key]; exists {
		return fmt.Errorf("variant %s already registered", key)
	}
	r.variants[key] = meta
	return nil
}

func (r *registry) resolve(key string) (Metadata, bool) {
	if key == "" {
		return Metadata{}, false
	}
	normalized := r.normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.variants[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.variants) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.variants))
	for key := range r.variants {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.variants[key])
	}
	return result
}
