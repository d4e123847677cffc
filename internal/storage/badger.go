package storage

import (
	"context"
	"os"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// BadgerStore 基于 BadgerDB 的 KV 实现
type BadgerStore struct {
	db       *badgerdb.DB
	inMemory bool
}

var _ KV = (*BadgerStore)(nil)

// NewBadgerStore 打开磁盘存储；目录不存在时创建
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	opts := badgerdb.DefaultOptions(dataDir)
	// 钱包数据量小，压低缓存占用
	opts.BlockCacheSize = 32 << 20
	opts.IndexCacheSize = 32 << 20
	opts.NumMemtables = 2
	opts.Logger = nil

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger store")
	}

	log.Info().Str("data_dir", dataDir).Msg("Opened badger store")
	return &BadgerStore{db: db}, nil
}

// NewInMemoryStore 打开内存存储（测试与一次性运行）
func NewInMemoryStore() (*BadgerStore, error) {
	opts := badgerdb.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in-memory store")
	}
	return &BadgerStore{db: db, inMemory: true}, nil
}

// Get 读取键值
func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "failed to read key")
	}
	return value, nil
}

// Set 写入键值
func (s *BadgerStore) Set(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return errors.Wrap(err, "failed to write key")
}

// Delete 删除键
func (s *BadgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
	return errors.Wrap(err, "failed to delete key")
}

// List 按前缀列出键值
func (s *BadgerStore) List(_ context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(item.KeyCopy(nil))] = value
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list keys")
	}
	return out, nil
}

// Sync 强制落盘；内存模式为空操作
func (s *BadgerStore) Sync() error {
	if s.inMemory {
		return nil
	}
	return errors.Wrap(s.db.Sync(), "failed to sync store")
}

// Close 同步并关闭
func (s *BadgerStore) Close() error {
	return errors.Wrap(s.db.Close(), "failed to close store")
}
