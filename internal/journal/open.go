package journal

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnknownDriver = errors.New("journal: unknown driver")

type Config struct {
	Driver string
	DSN    string
}

// Open собирает хранилище по драйверу; пустой драйвер — память.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "hunter_journal.db"
		}
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		pg, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "%q", cfg.Driver)
	}
}
