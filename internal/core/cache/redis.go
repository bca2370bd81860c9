// Package cache is a Redis read-through cache for poll reads.
//
// Redis is advisory: any Redis error falls back to the loader, and
// writers invalidate keys after commit.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// genTTL must outlive any in-flight load.
const genTTL = 10 * time.Minute

var errSuperseded = errors.New("cache entry superseded")

type Cache struct {
	RDB    *redis.Client
	prefix string
	sf     singleflight.Group
}

func New(addr, pass string, db int, prefix string) *Cache {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}), prefix)
}

func NewWithClient(rdb *redis.Client, prefix string) *Cache {
	return &Cache{RDB: rdb, prefix: prefix}
}

// Ping 启动时探测，失败则调用方降级为无缓存
func (c *Cache) Ping(ctx context.Context) error { return c.RDB.Ping(ctx).Err() }

func genKey(k string) string { return k + ":gen" }

// GetOrLoad returns the cached bytes for key or runs load once for all
// concurrent callers. Loader errors are returned and never cached.
//
// Every key has a generation counter that Del increments. A loader
// records the generation before reading and writes its result only if
// the generation is unchanged, so a value read before an invalidation
// is never stored after it.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	k := c.prefix + key
	b, err := c.RDB.Get(ctx, k).Bytes()
	if err == nil {
		return b, nil
	}
	store := errors.Is(err, redis.Nil) // Redis 故障时不回写

	// 合并回源；一个调用方取消不影响其他等待者
	v, err, _ := c.sf.Do(k, func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		gen, gerr := c.RDB.Get(lctx, genKey(k)).Result()
		if gerr != nil && !errors.Is(gerr, redis.Nil) {
			store = false
		}
		b, err := load(lctx)
		if err != nil {
			return nil, err
		}
		if store {
			_ = c.setIfGen(lctx, k, gen, b, ttl)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// setIfGen stores b under k only while the generation still equals gen.
// A concurrent Del aborts the transaction through WATCH.
func (c *Cache) setIfGen(ctx context.Context, k, gen string, b []byte, ttl time.Duration) error {
	gk := genKey(k)
	err := c.RDB.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errSuperseded
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, b, ttl)
			return nil
		})
		return err
	}, gk)
	if errors.Is(err, redis.TxFailedErr) {
		return errSuperseded
	}
	return err
}

// Del 写后失效：先推进代数再删 key，进行中的回源不会再写回旧值
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	_, err := c.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, key := range keys {
			k := c.prefix + key
			c.sf.Forget(k)
			p.Incr(ctx, genKey(k))
			p.Expire(ctx, genKey(k), genTTL)
			p.Del(ctx, k)
		}
		return nil
	})
	return err
}

func (c *Cache) Close() error { return c.RDB.Close() }
