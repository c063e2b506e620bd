package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

type RedisCache struct {
	pool   *redis.Pool
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisCache(host string, port int, password string, db, poolSize int, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	pool := &redis.Pool{
		MaxIdle:     poolSize,
		MaxActive:   poolSize * 2,
		IdleTimeout: 240 * time.Second,
		Wait:        true,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr,
				redis.DialPassword(password),
				redis.DialDatabase(db),
				redis.DialConnectTimeout(5*time.Second),
				redis.DialReadTimeout(3*time.Second),
				redis.DialWriteTimeout(3*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", db))

	return &RedisCache{
		pool:   pool,
		ttl:    ttl,
		prefix: "swing:",
		logger: logger,
	}, nil
}

func (c *RedisCache) conn(ctx context.Context) (redis.Conn, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get redis connection: %w", err)
	}
	return conn, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	conn, err := c.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, err = conn.Do("SET", c.prefix+key, data, "EX", seconds)
	return err
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", c.prefix+key))
	if errors.Is(err, redis.ErrNil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("DEL", c.prefix+key)
	return err
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	return redis.Bool(conn.Do("EXISTS", c.prefix+key))
}

func (c *RedisCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := c.pool.Stats()
	info := fmt.Sprintf("active=%d,idle=%d,wait_count=%d",
		stats.ActiveCount, stats.IdleCount, stats.WaitCount)

	conn, err := c.conn(ctx)
	if err != nil {
		return &CacheStats{Backend: "redis", Connected: false, Info: info}, nil
	}
	defer conn.Close()

	_, err = conn.Do("PING")
	return &CacheStats{Backend: "redis", Connected: err == nil, Info: info}, nil
}

func (c *RedisCache) Close() error {
	return c.pool.Close()
}
