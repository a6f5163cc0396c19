package journal

import (
	"context"
	"fmt"

	"hunter_bot/internal/models"
	"hunter_bot/pkg/db"

	"github.com/jackc/pgx/v5"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS closed_trades (
	id          BIGSERIAL PRIMARY KEY,
	ticket      BIGINT           NOT NULL,
	symbol      TEXT             NOT NULL,
	direction   TEXT             NOT NULL,
	lot_size    DOUBLE PRECISION NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price  DOUBLE PRECISION NOT NULL,
	profit_loss DOUBLE PRECISION NOT NULL,
	reason      TEXT             NOT NULL,
	entry_time  TIMESTAMPTZ      NOT NULL,
	exit_time   TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_closed_trades_exit_time ON closed_trades(exit_time);
`

type Postgres struct {
	tx db.TxManager
}

// OpenPostgres поднимает пул по DSN и мигрирует схему.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn, MaxConns: 4})
	if err != nil {
		return nil, fmt.Errorf("pg.open: %w", err)
	}
	pg, err := NewPostgres(ctx, db.NewPgTxManager(pool))
	if err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}

// NewPostgres мигрирует схему; пул закрывается в Close, если менеджер это умеет.
func NewPostgres(ctx context.Context, tx db.TxManager) (*Postgres, error) {
	if _, err := tx.Conn().Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("pg.migrate: %w", err)
	}
	return &Postgres{tx: tx}, nil
}

func (p *Postgres) RecordTrade(ctx context.Context, t models.ClosedTrade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.RecordTrade: %w", err)
		}
	}()

	return p.tx.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO closed_trades
				(ticket, symbol, direction, lot_size, entry_price, exit_price, profit_loss, reason, entry_time, exit_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			t.Ticket, t.Symbol, string(t.Direction), t.LotSize, t.EntryPrice, t.ExitPrice, t.ProfitLoss,
			string(t.Reason), t.EntryTime, t.ExitTime,
		)
		return err
	})
}

func (p *Postgres) RecentTrades(ctx context.Context, limit int) (out []models.ClosedTrade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.RecentTrades: %w", err)
		}
	}()

	query := `
		SELECT ticket, symbol, direction, lot_size, entry_price, exit_price, profit_loss, reason, entry_time, exit_time
		FROM closed_trades
		ORDER BY exit_time DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	err = p.tx.RunReadOnly(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctxTx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t                 models.ClosedTrade
				direction, reason string
			)
			if err := rows.Scan(&t.Ticket, &t.Symbol, &direction, &t.LotSize, &t.EntryPrice, &t.ExitPrice,
				&t.ProfitLoss, &reason, &t.EntryTime, &t.ExitTime); err != nil {
				return err
			}
			t.Direction = models.Direction(direction)
			t.Reason = models.CloseReason(reason)
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) Close() error {
	if c, ok := p.tx.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}
