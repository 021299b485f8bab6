package auth

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

// Throttle はクライアントごとのログイン失敗回数を管理します。
type Throttle interface {
	// Locked はロック中であれば残り時間を返します。
	Locked(ctx context.Context, key string) (time.Duration, error)
	// Fail は失敗を1回記録し、ロックまでの残り回数を返します。
	Fail(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// MemoryThrottle はプロセス内で失敗回数を数えます。単一インスタンス構成向けです。
type MemoryThrottle struct {
	lock     sync.Mutex
	attempts map[string]*attemptState
	now      func() time.Time
}

// NewMemoryThrottle は MemoryThrottle を作成します。
func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{
		attempts: make(map[string]*attemptState),
		now:      time.Now,
	}
}

func (t *MemoryThrottle) Locked(ctx context.Context, key string) (time.Duration, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	state, ok := t.attempts[key]
	if !ok {
		return 0, nil
	}
	now := t.now()
	if now.After(state.lockedUntil) {
		return 0, nil
	}
	return state.lockedUntil.Sub(now), nil
}

func (t *MemoryThrottle) Fail(ctx context.Context, key string) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	now := t.now()
	state, ok := t.attempts[key]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		t.attempts[key] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (t *MemoryThrottle) Reset(ctx context.Context, key string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.attempts, key)
	return nil
}

const (
	failKeyPrefix = "login:fail:"
	lockKeyPrefix = "login:lock:"
)

// RedisThrottle は失敗回数を Redis に保存し、複数インスタンス間で共有します。
type RedisThrottle struct {
	rdb *redis.Client
}

// NewRedisThrottle は RedisThrottle を作成します。
func NewRedisThrottle(rdb *redis.Client) *RedisThrottle {
	return &RedisThrottle{rdb: rdb}
}

func (t *RedisThrottle) Locked(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := t.rdb.PTTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read login lock")
	}
	// キーが存在しない場合は負の値が返る
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (t *RedisThrottle) Fail(ctx context.Context, key string) (int, error) {
	failKey := failKeyPrefix + key
	// 最初の失敗でだけ期限付きのキーを作り、INCR と同じ MULTI で実行する
	pipe := t.rdb.TxPipeline()
	pipe.SetNX(ctx, failKey, 0, loginWindow)
	incr := pipe.Incr(ctx, failKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "failed to count login failure")
	}
	count := incr.Val()

	if count < int64(maxLoginAttempts) {
		return maxLoginAttempts - int(count), nil
	}

	lock := t.rdb.TxPipeline()
	lock.Set(ctx, lockKeyPrefix+key, 1, lockDuration)
	lock.Del(ctx, failKey)
	if _, err := lock.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "failed to lock login")
	}
	return 0, nil
}

func (t *RedisThrottle) Reset(ctx context.Context, key string) error {
	if err := t.rdb.Del(ctx, failKeyPrefix+key, lockKeyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "failed to reset login failures")
	}
	return nil
}
