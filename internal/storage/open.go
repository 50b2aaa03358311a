package storage

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Options struct {
	Backend        string
	PGDSN          string
	RunMigrations  bool
	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string
}

// Open builds the gateway selected by opts. The returned close func is never nil.
func Open(ctx context.Context, opts Options) (Gateway, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryGateway(), noop, nil
	case BackendPostgres:
		pg, err := NewPostgresGateway(ctx, opts.PGDSN)
		if err != nil {
			return nil, noop, err
		}
		if opts.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, noop, err
			}
		}
		return pg, pg.Close, nil
	case BackendRedis:
		rg := NewRedisGateway(opts.RedisAddr, opts.RedisPassword, opts.RedisKeyPrefix)
		if err := rg.Ping(ctx); err != nil {
			_ = rg.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		return rg, rg.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
