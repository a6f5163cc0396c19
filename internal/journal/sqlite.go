package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hunter_bot/internal/models"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS closed_trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket      INTEGER NOT NULL,
	symbol      TEXT    NOT NULL,
	direction   TEXT    NOT NULL,
	lot_size    REAL    NOT NULL,
	entry_price REAL    NOT NULL,
	exit_price  REAL    NOT NULL,
	profit_loss REAL    NOT NULL,
	reason      TEXT    NOT NULL,
	entry_time  INTEGER NOT NULL,
	exit_time   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_closed_trades_exit_time ON closed_trades(exit_time);
`

// SQLite — журнал в файле (или :memory:) через modernc.org/sqlite, без cgo.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlite: open %s", dsn)
	}
	// :memory: живёт в рамках одного соединения
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite: migrate")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) RecordTrade(ctx context.Context, t models.ClosedTrade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("sqlite.RecordTrade: %w", err)
		}
	}()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO closed_trades
			(ticket, symbol, direction, lot_size, entry_price, exit_price, profit_loss, reason, entry_time, exit_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Ticket, t.Symbol, string(t.Direction), t.LotSize, t.EntryPrice, t.ExitPrice, t.ProfitLoss,
		string(t.Reason), t.EntryTime.UnixNano(), t.ExitTime.UnixNano(),
	)
	return err
}

func (s *SQLite) RecentTrades(ctx context.Context, limit int) (out []models.ClosedTrade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("sqlite.RecentTrades: %w", err)
		}
	}()
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket, symbol, direction, lot_size, entry_price, exit_price, profit_loss, reason, entry_time, exit_time
		FROM closed_trades
		ORDER BY exit_time DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t                 models.ClosedTrade
			direction, reason string
			entryNs, exitNs   int64
		)
		if err = rows.Scan(&t.Ticket, &t.Symbol, &direction, &t.LotSize, &t.EntryPrice, &t.ExitPrice,
			&t.ProfitLoss, &reason, &entryNs, &exitNs); err != nil {
			return nil, err
		}
		t.Direction = models.Direction(direction)
		t.Reason = models.CloseReason(reason)
		t.EntryTime = time.Unix(0, entryNs)
		t.ExitTime = time.Unix(0, exitNs)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
