package monitor

import (
	"context"
	"time"

	"hunter_bot/internal/models"
	"hunter_bot/pkg/logger"
)

type EntryHandler interface {
	HandleEntry(ctx context.Context, symbol string, q models.Quote) error
}

type EntryHandlerFunc func(ctx context.Context, symbol string, q models.Quote) error

func (f EntryHandlerFunc) HandleEntry(ctx context.Context, symbol string, q models.Quote) error {
	return f(ctx, symbol, q)
}

// PositionHandler вызывается на take-profit или stop-loss открытой позиции.
type PositionHandler interface {
	HandlePosition(ctx context.Context, q models.Quote, p models.Position) error
}

type PositionHandlerFunc func(ctx context.Context, q models.Quote, p models.Position) error

func (f PositionHandlerFunc) HandlePosition(ctx context.Context, q models.Quote, p models.Position) error {
	return f(ctx, q, p)
}

// PositionsObserver получает снимок позиций каждого цикла; at — момент до запроса снимка.
type PositionsObserver interface {
	ObservePositions(ctx context.Context, positions []models.Position, at time.Time)
}

type PositionsObserverFunc func(ctx context.Context, positions []models.Position, at time.Time)

func (f PositionsObserverFunc) ObservePositions(ctx context.Context, positions []models.Position, at time.Time) {
	f(ctx, positions, at)
}

func (m *Monitor) OnEntry(h EntryHandler) {
	m.hmu.Lock()
	m.entry = append(m.entry, h)
	m.hmu.Unlock()
}

func (m *Monitor) OnExit(h PositionHandler) {
	m.hmu.Lock()
	m.exit = append(m.exit, h)
	m.hmu.Unlock()
}

func (m *Monitor) OnStopLoss(h PositionHandler) {
	m.hmu.Lock()
	m.stopLoss = append(m.stopLoss, h)
	m.hmu.Unlock()
}

func (m *Monitor) OnPositions(o PositionsObserver) {
	m.hmu.Lock()
	m.observers = append(m.observers, o)
	m.hmu.Unlock()
}

func (m *Monitor) dispatchEntry(ctx context.Context, symbol string, q models.Quote) {
	m.hmu.RLock()
	handlers := append([]EntryHandler(nil), m.entry...)
	m.hmu.RUnlock()

	for _, h := range handlers {
		guard("entry", symbol, func() error { return h.HandleEntry(ctx, symbol, q) })
	}
}

func (m *Monitor) dispatchPosition(ctx context.Context, kind string, q models.Quote, p models.Position) {
	m.hmu.RLock()
	var handlers []PositionHandler
	if kind == "exit" {
		handlers = append(handlers, m.exit...)
	} else {
		handlers = append(handlers, m.stopLoss...)
	}
	m.hmu.RUnlock()

	for _, h := range handlers {
		guard(kind, p.Symbol, func() error { return h.HandlePosition(ctx, q, p) })
	}
}

func (m *Monitor) dispatchPositions(ctx context.Context, positions []models.Position, at time.Time) {
	m.hmu.RLock()
	observers := append([]PositionsObserver(nil), m.observers...)
	m.hmu.RUnlock()

	for _, o := range observers {
		guard("positions", "*", func() error {
			o.ObservePositions(ctx, positions, at)
			return nil
		})
	}
}

// guard изолирует обработчик: ошибка или паника логируются и не рвут цикл.
func guard(kind, symbol string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[MONITOR] %s handler panic on %s: %v", kind, symbol, r)
		}
	}()
	if err := fn(); err != nil {
		logger.Error("[MONITOR] %s handler failed on %s: %v", kind, symbol, err)
	}
}
