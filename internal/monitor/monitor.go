package monitor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"hunter_bot/internal/models"
	"hunter_bot/pkg/logger"

	"github.com/pkg/errors"
)

var (
	ErrGatewayDisconnected = errors.New("monitor: gateway disconnected")
	ErrStopTimeout         = errors.New("monitor: loop did not stop in time")
	ErrEmptySymbol         = errors.New("monitor: empty symbol")
)

const (
	DefaultUpdateInterval = time.Second
	DefaultStopTimeout    = 5 * time.Second
)

// Gateway — то, что монитору нужно от брокера.
type Gateway interface {
	IsConnected(ctx context.Context) bool
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	Positions(ctx context.Context) ([]models.Position, error)
}

type Config struct {
	UpdateInterval time.Duration
	StopTimeout    time.Duration
	QuoteTTL       time.Duration
}

type cached struct {
	quote models.Quote
	at    time.Time
}

// Monitor держит watch-list и кэш котировок, крутит цикл опроса и дёргает обработчики.
//
// В watch-list символ либо закреплён (AddSymbol/Retain, на него ссылается инструкция
// или сделка), либо подтянут из открытой позиции. Незакреплённые символы уходят из
// списка на первом цикле, где позиции по ним уже нет.
type Monitor struct {
	gw  Gateway
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	watch map[string]bool // symbol -> pinned
	cache map[string]cached
	held  map[string]map[int64]struct{} // symbol -> тикеты из последнего снимка позиций

	hmu       sync.RWMutex
	entry     []EntryHandler
	exit      []PositionHandler
	stopLoss  []PositionHandler
	observers []PositionsObserver

	runMu    sync.Mutex
	running  bool
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}
	err      error
}

func New(gw Gateway, cfg Config) *Monitor {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = models.QuoteTTL
	}
	return &Monitor{
		gw:    gw,
		cfg:   cfg,
		now:   time.Now,
		watch: make(map[string]bool),
		cache: make(map[string]cached),
		held:  make(map[string]map[int64]struct{}),
	}
}

// AddSymbol закрепляет символ, предварительно проверив его одной котировкой.
func (m *Monitor) AddSymbol(ctx context.Context, symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return ErrEmptySymbol
	}
	if !m.gw.IsConnected(ctx) {
		logger.Error("[MONITOR] cannot add %s: gateway disconnected", symbol)
		return ErrGatewayDisconnected
	}
	q, err := m.gw.Quote(ctx, symbol)
	if err != nil {
		logger.Error("[MONITOR] cannot add %s: %v", symbol, err)
		return errors.Wrapf(err, "monitor: add %s", symbol)
	}

	m.mu.Lock()
	m.watch[symbol] = true
	m.cache[symbol] = cached{quote: q, at: m.now()}
	m.mu.Unlock()

	logger.Info("[MONITOR] watching %s", symbol)
	return nil
}

func (m *Monitor) RemoveSymbol(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watch[symbol]; !ok {
		return false
	}
	delete(m.watch, symbol)
	delete(m.cache, symbol)
	logger.Info("[MONITOR] stopped watching %s", symbol)
	return true
}

func (m *Monitor) Symbols() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.watch))
	for s := range m.watch {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

func (m *Monitor) Watching(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watch[symbol]
	return ok
}

// Retain сводит закреплённые символы к needed: недостающие добавляет,
// лишние закреплённые убирает. Символ с открытой позицией остаётся незакреплённым.
func (m *Monitor) Retain(ctx context.Context, needed []string) {
	need := make(map[string]struct{}, len(needed))
	for _, s := range needed {
		need[s] = struct{}{}
	}

	var toAdd []string
	m.mu.Lock()
	for s := range need {
		pinned, ok := m.watch[s]
		switch {
		case !ok:
			toAdd = append(toAdd, s)
		case !pinned:
			m.watch[s] = true
		}
	}
	for s, pinned := range m.watch {
		if _, ok := need[s]; !pinned || ok {
			continue
		}
		// открытая позиция держит символ в списке уже незакреплённым
		if _, open := m.held[s]; open {
			m.watch[s] = false
			continue
		}
		delete(m.watch, s)
		delete(m.cache, s)
		logger.Info("[MONITOR] stopped watching %s", s)
	}
	m.mu.Unlock()

	sort.Strings(toAdd)
	for _, s := range toAdd {
		if err := m.AddSymbol(ctx, s); err != nil {
			logger.Warn("[MONITOR] retain %s: %v", s, err)
		}
	}
}

// ForgetPosition убирает закрытый тикет из последнего снимка позиций,
// чтобы он не держал символ до следующего цикла.
func (m *Monitor) ForgetPosition(ticket int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s, tickets := range m.held {
		if _, ok := tickets[ticket]; !ok {
			continue
		}
		delete(tickets, ticket)
		if len(tickets) == 0 {
			delete(m.held, s)
		}
		return
	}
}

// GetQuote отдаёт кэш, если он моложе QuoteTTL, иначе идёт в шлюз.
func (m *Monitor) GetQuote(ctx context.Context, symbol string) (models.Quote, bool) {
	m.mu.Lock()
	c, ok := m.cache[symbol]
	m.mu.Unlock()
	if ok && m.now().Sub(c.at) < m.cfg.QuoteTTL {
		return c.quote, true
	}
	q, err := m.refresh(ctx, symbol)
	if err != nil {
		logger.Warn("[MONITOR] quote %s: %v", symbol, err)
		return models.Quote{}, false
	}
	return q, true
}

func (m *Monitor) refresh(ctx context.Context, symbol string) (models.Quote, error) {
	q, err := m.gw.Quote(ctx, symbol)
	if err != nil {
		return models.Quote{}, err
	}
	m.mu.Lock()
	if _, ok := m.watch[symbol]; ok {
		m.cache[symbol] = cached{quote: q, at: m.now()}
	}
	m.mu.Unlock()
	return q, nil
}

// syncPositions добавляет символы открытых позиций и выкидывает
// незакреплённые символы, позиции по которым закрылись.
func (m *Monitor) syncPositions(positions []models.Position) {
	held := make(map[string]map[int64]struct{}, len(positions))
	for _, p := range positions {
		if held[p.Symbol] == nil {
			held[p.Symbol] = make(map[int64]struct{})
		}
		held[p.Symbol][p.Ticket] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = held
	for s := range held {
		if _, ok := m.watch[s]; !ok {
			m.watch[s] = false
			logger.Info("[MONITOR] watching %s (open position)", s)
		}
	}
	for s, pinned := range m.watch {
		if _, ok := held[s]; !pinned && !ok {
			delete(m.watch, s)
			delete(m.cache, s)
			logger.Info("[MONITOR] pruned %s: position no longer open", s)
		}
	}
}

// Poll — один цикл опроса. ErrGatewayDisconnected означает, что цикл надо останавливать;
// ошибки по отдельным символам только пропускают символ.
func (m *Monitor) Poll(ctx context.Context) error {
	if !m.gw.IsConnected(ctx) {
		return ErrGatewayDisconnected
	}

	at := m.now()
	positions, err := m.gw.Positions(ctx)
	if err != nil {
		logger.Error("[MONITOR] positions: %v", err)
		positions = nil
	} else {
		m.syncPositions(positions)
		m.dispatchPositions(ctx, positions, at)
	}

	for _, symbol := range m.Symbols() {
		q, err := m.refresh(ctx, symbol)
		if err != nil {
			logger.Warn("[MONITOR] skip %s: %v", symbol, err)
			continue
		}

		m.dispatchEntry(ctx, symbol, q)

		for _, p := range positions {
			if p.Symbol != symbol {
				continue
			}
			if TakeProfitHit(p, q) {
				m.dispatchPosition(ctx, "exit", q, p)
			}
			if StopLossHit(p, q) {
				m.dispatchPosition(ctx, "stop_loss", q, p)
			}
		}
	}
	return nil
}
