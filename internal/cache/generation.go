package cache

import (
	"context"
	"time"
)

// Generation 是某个代的句柄，等价于浏览器中 caches.open(name) 的返回值。
type Generation struct {
	store Store
	name  string
	now   func() time.Time
}

// Open 打开（必要时创建）指定代并返回句柄。
func Open(ctx context.Context, store Store, name string) (*Generation, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if err := validGeneration(name); err != nil {
		return nil, err
	}
	if err := store.Open(ctx, name); err != nil {
		return nil, err
	}
	return &Generation{store: store, name: name, now: time.Now}, nil
}

// Name 返回代名称。
func (g *Generation) Name() string {
	return g.name
}

// Match 读取条目，未命中返回 ErrNotFound。
func (g *Generation) Match(ctx context.Context, key Key) (*Snapshot, error) {
	return g.store.Match(ctx, g.name, key)
}

// Put 仅接受成功响应；失败响应永远不会覆盖已有的良好条目。
func (g *Generation) Put(ctx context.Context, key Key, snap *Snapshot) error {
	if !snap.OK() {
		return ErrNotStorable
	}
	stored := snap.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = g.now().UTC()
	}
	return g.store.Put(ctx, g.name, key, stored)
}

// Delete 删除单个条目。
func (g *Generation) Delete(ctx context.Context, key Key) error {
	return g.store.Delete(ctx, g.name, key)
}
