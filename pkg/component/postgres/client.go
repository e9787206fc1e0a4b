// Package postgres opens one pgx pool and shares it between the pgvector
// corpus (raw pgx) and the artifact repository (gorm).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	postgresdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	options "github.com/kart-io/statute-agent/pkg/options/postgres"
)

// Client holds the pool and a gorm handle over it.
type Client struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	db    *gorm.DB
	opts  *options.Options
}

// New connects and pings the database.
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("postgres options cannot be nil")
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if opts.MaxOpenConnections > 0 {
		cfg.MaxConns = int32(opts.MaxOpenConnections)
	}
	if opts.MaxConnectionLifeTime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnectionLifeTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgresdriver.New(postgresdriver.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(LogLevel(opts.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	return &Client{pool: pool, sqlDB: sqlDB, db: db, opts: opts}, nil
}

// LogLevel maps the numeric option to a gorm log level.
func LogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Silent
	}
}

// Name returns "postgres".
func (c *Client) Name() string {
	return "postgres"
}

// Pool returns the pgx pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// DB returns the gorm handle.
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Ping checks that the database answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Stats returns pool statistics.
func (c *Client) Stats() *pgxpool.Stat {
	return c.pool.Stat()
}

// Close closes the gorm handle and the pool.
func (c *Client) Close() error {
	err := c.sqlDB.Close()
	c.pool.Close()
	return err
}
