package db

import (
	"context"
	"fmt"
	"time"

	"hunter_bot/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type PgTxManager struct {
	pool *pgxpool.Pool
}

func NewPgTxManager(pool *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{pool: pool}
}

func (m *PgTxManager) Close() {
	m.pool.Close()
}

// NewPool разбирает DSN, применяет лимиты и проверяет соединение пингом.
func NewPool(ctx context.Context, conf PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if conf.MaxConns > 0 {
		cfg.MaxConns = conf.MaxConns
	}
	if conf.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = conf.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// RunMaster выполняет fn в транзакции ReadCommitted.
func (m *PgTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error {
	return m.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// RunReadOnly — то же, но транзакция только на чтение.
func (m *PgTxManager) RunReadOnly(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error {
	return m.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, fn)
}

func (m *PgTxManager) Conn() Transaction {
	return m.pool
}

func (m *PgTxManager) inTx(
	ctx context.Context,
	options pgx.TxOptions,
	fn func(ctxTx context.Context, tx pgx.Tx) error,
) (err error) {
	tx, err := m.pool.BeginTx(ctx, options)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		switch p := recover(); {
		case p != nil:
			logger.Error("tx panic: %v", p)
			_ = tx.Rollback(ctx)
			panic(p)
		case err != nil:
			_ = tx.Rollback(ctx)
		default:
			if cerr := tx.Commit(ctx); cerr != nil {
				err = fmt.Errorf("commit tx: %w", cerr)
			}
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return fmt.Errorf("run in tx: %w", err)
	}
	return nil
}
