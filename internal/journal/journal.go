package journal

import (
	"context"
	"sync"

	"hunter_bot/internal/models"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store — журнал закрытых сделок.
type Store interface {
	RecordTrade(ctx context.Context, t models.ClosedTrade) error
	// RecentTrades — последние сделки, новые первыми.
	RecentTrades(ctx context.Context, limit int) ([]models.ClosedTrade, error)
	Close() error
}

type Memory struct {
	mu     sync.RWMutex
	trades []models.ClosedTrade
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) RecordTrade(_ context.Context, t models.ClosedTrade) error {
	m.mu.Lock()
	m.trades = append(m.trades, t)
	m.mu.Unlock()
	return nil
}

func (m *Memory) RecentTrades(_ context.Context, limit int) ([]models.ClosedTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.ClosedTrade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.trades[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
