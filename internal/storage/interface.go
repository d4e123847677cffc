package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound 键不存在
var ErrKeyNotFound = errors.New("key not found")

// KV 本地持久化键值存储接口
//
// 写入默认允许被底层缓冲；Sync 强制落盘。调用方负责在进程退出路径上
// 调用 Sync/Close，保证最近写入不丢失。
type KV interface {
	// Get 读取键值；不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入键值
	Set(ctx context.Context, key string, value []byte) error

	// Delete 删除键（幂等）
	Delete(ctx context.Context, key string) error

	// List 按前缀列出全部键值
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Sync 强制将缓冲写同步到持久介质
	Sync() error

	// Close 同步并关闭存储
	Close() error
}
