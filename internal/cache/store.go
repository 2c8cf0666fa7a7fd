package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 管理所有缓存代（generation）及其条目。磁盘/数据库布局由具体后端决定，
// 但语义统一：
//
//	<generation> -> { Key.Digest() -> record{Key, Snapshot} }
//
// 同一 Key 的 Put 为整体覆盖（后写者胜出），后端保证单次写入的原子性。
type Store interface {
	// Open 确保代存在；已存在时为空操作。
	Open(ctx context.Context, generation string) error

	// Match 返回指定代中的快照，不存在时返回 ErrNotFound。
	Match(ctx context.Context, generation string, key Key) (*Snapshot, error)

	// Put 写入（或覆盖）条目，代不存在时隐式创建。
	Put(ctx context.Context, generation string, key Key, snap *Snapshot) error

	// Delete 删除单个条目，条目不存在不视为错误。
	Delete(ctx context.Context, generation string, key Key) error

	// Generations 按名称排序返回当前所有代。
	Generations(ctx context.Context) ([]string, error)

	// DropGeneration 删除整个代，返回该代此前是否存在。
	DropGeneration(ctx context.Context, generation string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// Snapshot 是一次响应的完整快照（状态码 + 头 + 正文）。
type Snapshot struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// OK 对应 fetch Response.ok：状态码位于 200-299。
func (s *Snapshot) OK() bool {
	return s != nil && s.Status >= 200 && s.Status < 300
}

// Clone 返回深拷贝，避免调用方修改共享的头或正文。
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Status:   s.Status,
		Header:   s.Header.Clone(),
		Body:     append([]byte(nil), s.Body...),
		StoredAt: s.StoredAt,
	}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return out
}

// record 是各后端实际持久化的结构。
type record struct {
	Key      Key       `json:"key"`
	Snapshot *Snapshot `json:"snapshot"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrNotStorable 表示快照不是成功响应，不允许写入缓存。
	ErrNotStorable = errors.New("response not storable")
	// ErrInvalidGeneration 表示代名称非法。
	ErrInvalidGeneration = errors.New("invalid generation name")
	// ErrStoreUnavailable 表示未注入缓存存储实例。
	ErrStoreUnavailable = errors.New("cache store unavailable")
)
