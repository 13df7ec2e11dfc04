package lock

import (
	"context"
	"sync"
	"time"
)

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// Lock 获取锁，阻塞直到成功或超时
	Lock(ctx context.Context, key string, ttl time.Duration) error

	// TryLock 尝试获取锁，立即返回
	// 返回 true 表示成功获取锁，false 表示锁已被占用
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error

	// Extend 延长锁的过期时间
	Extend(ctx context.Context, key string, ttl time.Duration) error

	// Close 关闭连接
	Close() error
}

// LocalLock 进程内按键互斥锁（单实例模式）
// 同一 (账户, 标的) 组合的写入者必须串行，单实例部署用它兜底；ttl 在本地模式下无意义。
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLock 创建进程内锁
func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]*sync.Mutex)}
}

// keyMutex 获取或创建指定键的互斥锁
func (l *LocalLock) keyMutex(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (l *LocalLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	l.keyMutex(key).Lock()
	return nil
}

func (l *LocalLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.keyMutex(key).TryLock(), nil
}

func (l *LocalLock) Unlock(ctx context.Context, key string) error {
	l.keyMutex(key).Unlock()
	return nil
}

func (l *LocalLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (l *LocalLock) Close() error {
	return nil
}
