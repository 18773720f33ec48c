package xredis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 只有持有者才能续期/释放，避免误删别的节点刚拿到的锁
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Locker 基于 SETNX 的单实例互斥，给定时任务选主用
type Locker struct {
	rdb *redis.Client
	id  string // 当前节点唯一标识 host+uuid
}

func NewLocker(rdb *redis.Client) *Locker {
	host, _ := os.Hostname()
	return &Locker{
		rdb: rdb,
		id:  fmt.Sprintf("%s-%s", host, uuid.NewString()),
	}
}

func (l *Locker) ID() string { return l.id }

// TryAcquire 抢锁；锁已经是自己的则续期并返回 true
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, l.id, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if ok {
		return true, nil
	}

	n, err := renewScript.Run(ctx, l.rdb, []string{key}, l.id, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew %s: %w", key, err)
	}
	return n == 1, nil
}

func (l *Locker) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, l.id).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
