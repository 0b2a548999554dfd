package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/circulate/store"
	bunstore "github.com/xraph/circulate/store/bun"
	"github.com/xraph/circulate/store/memory"
	"github.com/xraph/circulate/store/mongo"
	"github.com/xraph/circulate/store/postgres"
	redisstore "github.com/xraph/circulate/store/redis"
	sqlitestore "github.com/xraph/circulate/store/sqlite"
)

// openStore builds the configured backend. An empty driver is inferred
// from the DSN scheme; no DSN at all means the in-memory store.
func openStore(ctx context.Context, cfg *FileConfig, logger *slog.Logger) (store.Store, error) {
	driver := cfg.Store.Driver
	if driver == "" {
		driver = driverFromDSN(cfg.Store.DSN)
		if driver == "" {
			return nil, fmt.Errorf("cannot infer store driver from dsn; set store.driver")
		}
	}

	switch driver {
	case "memory":
		return memory.New(), nil

	case "postgres":
		return postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))

	case "bun":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Store.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), nil

	case "redis":
		opts, err := redis.ParseURL(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("redis dsn: %w", err)
		}
		return redisstore.New(redis.NewClient(opts), redisstore.WithLogger(logger)), nil

	case "mongo":
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.Store.DSN))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		name := cfg.Store.Database
		if name == "" {
			name = "circulate"
		}
		return mongo.New(client.Database(name), mongo.WithLogger(logger)), nil

	case "sqlite":
		db, err := sqlitestore.Open(strings.TrimPrefix(cfg.Store.DSN, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		return sqlitestore.New(db, sqlitestore.WithLogger(logger)), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func driverFromDSN(dsn string) string {
	switch {
	case dsn == "":
		return "memory"
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return "redis"
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		return "mongo"
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasSuffix(dsn, ".db"), dsn == ":memory:":
		return "sqlite"
	default:
		return ""
	}
}
