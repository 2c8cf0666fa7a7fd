package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 键空间：
//
//	g:<generation>                 -> 代标记
//	e:<generation>\x00<digest>     -> record JSON
const (
	levelGenPrefix   = "g:"
	levelEntryPrefix = "e:"
)

type levelStore struct {
	db *leveldb.DB
}

// NewLevelDBStore 在 path 打开（或创建）LevelDB 数据库。
func NewLevelDBStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("leveldb path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &levelStore{db: db}, nil
}

func levelGenKey(generation string) []byte {
	return []byte(levelGenPrefix + generation)
}

func levelEntryRange(generation string) []byte {
	return []byte(levelEntryPrefix + generation + "\x00")
}

func levelEntryKey(generation string, key Key) []byte {
	return append(levelEntryRange(generation), key.Digest()...)
}

func (s *levelStore) Open(ctx context.Context, generation string) error {
	if err := validGeneration(generation); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Put(levelGenKey(generation), []byte{1}, nil); err != nil {
		cacheErrors.WithLabelValues("leveldb", "open").Inc()
		return err
	}
	return nil
}

func (s *levelStore) Match(ctx context.Context, generation string, key Key) (*Snapshot, error) {
	if err := validGeneration(generation); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.db.Get(levelEntryKey(generation, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		cacheErrors.WithLabelValues("leveldb", "get").Inc()
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		cacheErrors.WithLabelValues("leveldb", "decode").Inc()
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if rec.Snapshot == nil || rec.Key != key {
		return nil, ErrNotFound
	}
	return rec.Snapshot, nil
}

func (s *levelStore) Put(ctx context.Context, generation string, key Key, snap *Snapshot) error {
	if err := validGeneration(generation); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(record{Key: key, Snapshot: snap})
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(levelGenKey(generation), []byte{1})
	batch.Put(levelEntryKey(generation, key), payload)
	if err := s.db.Write(batch, nil); err != nil {
		cacheErrors.WithLabelValues("leveldb", "put").Inc()
		return err
	}
	return nil
}

func (s *levelStore) Delete(ctx context.Context, generation string, key Key) error {
	if err := validGeneration(generation); err != nil {
		return err
	}
	if err := s.db.Delete(levelEntryKey(generation, key), nil); err != nil {
		cacheErrors.WithLabelValues("leveldb", "delete").Inc()
		return err
	}
	return nil
}

func (s *levelStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it := s.db.NewIterator(util.BytesPrefix([]byte(levelGenPrefix)), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte(levelGenPrefix))))
	}
	if err := it.Error(); err != nil {
		cacheErrors.WithLabelValues("leveldb", "list").Inc()
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *levelStore) DropGeneration(ctx context.Context, generation string) (bool, error) {
	if err := validGeneration(generation); err != nil {
		return false, err
	}
	existed, err := s.db.Has(levelGenKey(generation), nil)
	if err != nil {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(levelGenKey(generation))
	it := s.db.NewIterator(util.BytesPrefix(levelEntryRange(generation)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	if err := s.db.Write(batch, nil); err != nil {
		cacheErrors.WithLabelValues("leveldb", "drop").Inc()
		return false, err
	}
	return existed, nil
}

func (s *levelStore) Close() error {
	return s.db.Close()
}
