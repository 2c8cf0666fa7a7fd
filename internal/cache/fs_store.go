package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const entrySuffix = ".entry"

// NewFileStore 以 basePath 为根目录构建磁盘缓存，每个代对应一个子目录。
func NewFileStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入；DropGeneration 持有写锁，
// 保证删除整个目录时没有进行中的写入。
type fileStore struct {
	basePath string

	genMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Open(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.generationPath(generation)
	if err != nil {
		return err
	}
	s.genMu.RLock()
	defer s.genMu.RUnlock()
	return os.MkdirAll(dir, 0o755)
}

func (s *fileStore) Match(ctx context.Context, generation string, key Key) (*Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(generation, key)
	if err != nil {
		return nil, err
	}

	s.genMu.RLock()
	defer s.genMu.RUnlock()

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		cacheErrors.WithLabelValues("fs", "decode").Inc()
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if rec.Snapshot == nil || rec.Key != key {
		return nil, ErrNotFound
	}
	return rec.Snapshot, nil
}

func (s *fileStore) Put(ctx context.Context, generation string, key Key, snap *Snapshot) error {
	filePath, err := s.entryPath(generation, key)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record{Key: key, Snapshot: snap})
	if err != nil {
		return err
	}

	s.genMu.RLock()
	defer s.genMu.RUnlock()

	unlock := s.lockEntry(generation, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		cacheErrors.WithLabelValues("fs", "put").Inc()
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		cacheErrors.WithLabelValues("fs", "put").Inc()
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, generation string, key Key) error {
	filePath, err := s.entryPath(generation, key)
	if err != nil {
		return err
	}

	s.genMu.RLock()
	defer s.genMu.RUnlock()

	unlock := s.lockEntry(generation, key)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cacheErrors.WithLabelValues("fs", "delete").Inc()
		return err
	}
	return nil
}

func (s *fileStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.genMu.RLock()
	defer s.genMu.RUnlock()

	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() && !strings.HasPrefix(item.Name(), ".") {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) DropGeneration(ctx context.Context, generation string) (bool, error) {
	dir, err := s.generationPath(generation)
	if err != nil {
		return false, err
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()

	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		cacheErrors.WithLabelValues("fs", "drop").Inc()
		return false, err
	}
	return true, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(generation string, key Key) func() {
	lockKey := generation + "::" + key.Digest()
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) generationPath(generation string) (string, error) {
	if err := validGeneration(generation); err != nil {
		return "", err
	}
	dir := filepath.Join(s.basePath, generation)
	if filepath.Dir(dir) != s.basePath {
		return "", ErrInvalidGeneration
	}
	return dir, nil
}

func (s *fileStore) entryPath(generation string, key Key) (string, error) {
	dir, err := s.generationPath(generation)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, key.Digest()+entrySuffix), nil
}
