package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"hotspare/internal/application/port"
	"hotspare/internal/infrastructure/config"
	memorystore "hotspare/internal/infrastructure/kv/memory"
	redisstore "hotspare/internal/infrastructure/kv/redis"
	"hotspare/internal/infrastructure/metrics"
	"hotspare/internal/infrastructure/storage"
	postgresjournal "hotspare/internal/infrastructure/storage/postgres"
	sqlitejournal "hotspare/internal/infrastructure/storage/sqlite"
)

// Container wires the infrastructure: store client, journal backend,
// metrics. Close tears everything down once, in reverse order.
type Container struct {
	cfg *config.Config

	KV      port.KV
	Journal port.Journal
	Metrics *metrics.Metrics

	closeOnce sync.Once
	closers   []func() error
}

// New builds the container. inMemory swaps the Redis client for the
// in-process store (single-host dry runs; no failover protection
// across processes).
func New(cfg *config.Config, inMemory bool) (*Container, error) {
	c := &Container{cfg: cfg}

	if err := c.initKV(inMemory); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.initJournal(); err != nil {
		_ = c.Close()
		return nil, err
	}
	if cfg.Metrics.Enabled {
		c.Metrics = metrics.New()
	}
	return c, nil
}

func (c *Container) initKV(inMemory bool) error {
	if inMemory {
		log.Warn().Msg("using in-memory store, no cross-process failover")
		c.KV = memorystore.New()
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.cfg.Redis.Addr,
		Password:     c.cfg.Redis.Password,
		DB:           c.cfg.Redis.DB,
		DialTimeout:  c.cfg.OpTimeout(),
		ReadTimeout:  c.cfg.OpTimeout(),
		WriteTimeout: c.cfg.OpTimeout(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout())
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping %s: %w", c.cfg.Redis.Addr, err)
	}

	store := redisstore.New(rdb)
	c.KV = store
	c.closers = append(c.closers, store.Close)
	return nil
}

func (c *Container) initJournal() error {
	switch c.cfg.Journal.Backend {
	case "sqlite":
		j, err := sqlitejournal.New(c.cfg.Journal.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite journal init: %w", err)
		}
		c.Journal = j
		c.closers = append(c.closers, j.Close)
	case "postgres":
		j, err := postgresjournal.New(c.cfg.Journal.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres journal init: %w", err)
		}
		c.Journal = j
		c.closers = append(c.closers, j.Close)
	default:
		c.Journal = storage.NewNoopJournal()
	}
	return nil
}

func (c *Container) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		for i := len(c.closers) - 1; i >= 0; i-- {
			if err := c.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
