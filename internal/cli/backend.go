package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/kvdoc/internal/config"
	"github.com/jacentio/kvdoc/kv"
	"github.com/jacentio/kvdoc/kv/dynamokv"
	"github.com/jacentio/kvdoc/kv/memkv"
	"github.com/jacentio/kvdoc/kv/mongokv"
	"github.com/jacentio/kvdoc/kv/rediskv"
)

// openBackend builds the backend cfg names. The returned func releases its
// client.
func openBackend(ctx context.Context, cfg *config.Config) (kv.Backend, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Backend {
	case config.BackendMemory:
		return memkv.New(), noop, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		return rediskv.New(client, rediskv.WithPrefix(cfg.Redis.Prefix)),
			func(context.Context) error { return client.Close() }, nil

	case config.BackendDynamoDB:
		client, err := dynamokv.NewClient(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		if cfg.DynamoDB.CreateTable {
			if err := dynamokv.CreateTable(ctx, client, cfg.DynamoDB.Table); err != nil {
				return nil, nil, fmt.Errorf("create table %s: %w", cfg.DynamoDB.Table, err)
			}
		}
		return dynamokv.New(client, cfg.DynamoDB.Table), noop, nil

	case config.BackendMongoDB:
		store, err := mongokv.Connect(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.Collection)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Disconnect(ctx)
			return nil, nil, err
		}
		return store, store.Disconnect, nil
	}
	return nil, nil, fmt.Errorf("%w %q", config.ErrUnknownBackend, cfg.Backend)
}
