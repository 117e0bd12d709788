// Package runlock は配信サイクルの多重実行を防ぐロックを提供する。
// 複数プロセスで動かす場合はRedis、単一プロセスではプロセス内ロックを使う。
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked は既に別の実行がロックを保持している場合のエラー。
var ErrLocked = errors.New("run lock is held by another run")

// Locker は名前付きロックを取得する。取得できた場合は解放関数を返す。
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(context.Context) error, err error)
}

// releaseScript はトークンが一致する場合のみキーを削除する。
// KEYS[1] = ロックキー
// ARGV[1] = 取得時のトークン
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker はRedisのSET NX PXによる分散ロック。
// TTLを過ぎるとロックは自動で解放されるため、プロセスが落ちても次回の実行は妨げられない。
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisLocker はRedis URLからRedisLockerを生成する。
func NewRedisLocker(redisURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return NewRedisLockerWithClient(redis.NewClient(opts), ttl), nil
}

// NewRedisLockerWithClient は既存のクライアントからRedisLockerを生成する。
func NewRedisLockerWithClient(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, prefix: "devotion:lock:"}
}

// Ping はRedisへの接続を確認する。
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close はRedisクライアントを閉じる。
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Acquire はロックを取得する。既に保持されている場合はErrLockedを返す。
func (l *RedisLocker) Acquire(ctx context.Context, name string) (func(context.Context) error, error) {
	key := l.prefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release run lock: %w", err)
		}
		return nil
	}
	return release, nil
}

// LocalLocker はプロセス内のロック。Redisを使わない構成で使う。
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker はLocalLockerを生成する。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

// Acquire はロックを取得する。待たずに、保持中であればErrLockedを返す。
func (l *LocalLocker) Acquire(ctx context.Context, name string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, ErrLocked
	}
	l.held[name] = true

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}
	return release, nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*LocalLocker)(nil)
)
