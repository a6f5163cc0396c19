package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"hunter_bot/internal/models"

	"github.com/pkg/errors"
)

const paperFirstTicket = 1001

// Paper — in-memory площадка: исполняет по последней известной котировке.
// Котировки приходят через ApplyQuote (стрим или тесты) или из конфига.
type Paper struct {
	mu         sync.Mutex
	cfg        Config
	connected  bool
	quotes     map[string]models.Quote
	positions  map[int64]models.Position
	nextTicket int64
	balance    float64
	now        func() time.Time
}

func NewPaper(cfg Config) *Paper {
	p := &Paper{
		cfg:        cfg,
		quotes:     make(map[string]models.Quote),
		positions:  make(map[int64]models.Position),
		nextTicket: paperFirstTicket,
		balance:    cfg.Paper.Balance,
		now:        time.Now,
	}
	for sym, seed := range cfg.Paper.Quotes {
		p.quotes[sym] = models.Quote{Symbol: sym, Bid: seed.Bid, Ask: seed.Ask, Time: p.now()}
	}
	return p
}

func (p *Paper) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *Paper) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *Paper) IsConnected(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Paper) ApplyQuote(q models.Quote) {
	if q.Time.IsZero() {
		q.Time = p.now()
	}
	p.mu.Lock()
	p.quotes[q.Symbol] = q
	p.mu.Unlock()
}

// SetQuote — удобная обёртка над ApplyQuote.
func (p *Paper) SetQuote(symbol string, bid, ask float64) {
	p.ApplyQuote(models.Quote{Symbol: symbol, Bid: bid, Ask: ask})
}

func (p *Paper) Quote(_ context.Context, symbol string) (models.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return models.Quote{}, ErrDisconnected
	}
	return p.quoteLocked(symbol)
}

func (p *Paper) quoteLocked(symbol string) (models.Quote, error) {
	q, ok := p.quotes[symbol]
	if !ok {
		return models.Quote{}, errors.Wrapf(ErrSymbolNotFound, "paper: %s", symbol)
	}
	// время котировки — момент запроса, как у живого терминала
	q.Time = p.now()
	return q, nil
}

func (p *Paper) PlaceMarketOrder(_ context.Context, req models.OrderRequest) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return 0, ErrDisconnected
	}
	if req.Volume <= 0 {
		return 0, errors.Wrapf(ErrOrderRejected, "paper: volume must be > 0, got %v", req.Volume)
	}
	q, err := p.quoteLocked(req.Symbol)
	if err != nil {
		return 0, err
	}

	ticket := p.nextTicket
	p.nextTicket++
	p.positions[ticket] = models.Position{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Volume:     req.Volume,
		OpenPrice:  q.Fill(req.Direction),
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}
	return ticket, nil
}

func (p *Paper) ClosePosition(_ context.Context, ticket int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return ErrDisconnected
	}
	pos, ok := p.positions[ticket]
	if !ok {
		return errors.Wrapf(ErrPositionNotFound, "paper: ticket %d", ticket)
	}
	q, err := p.quoteLocked(pos.Symbol)
	if err != nil {
		return err
	}
	p.balance += profit(pos, q)
	delete(p.positions, ticket)
	return nil
}

func (p *Paper) ModifyPosition(_ context.Context, ticket int64, stopLoss, takeProfit float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return ErrDisconnected
	}
	pos, ok := p.positions[ticket]
	if !ok {
		return errors.Wrapf(ErrPositionNotFound, "paper: ticket %d", ticket)
	}
	if stopLoss != 0 {
		pos.StopLoss = stopLoss
	}
	if takeProfit != 0 {
		pos.TakeProfit = takeProfit
	}
	p.positions[ticket] = pos
	return nil
}

func (p *Paper) Positions(context.Context) ([]models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, ErrDisconnected
	}
	out := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		if q, ok := p.quotes[pos.Symbol]; ok {
			pos.Profit = profit(pos, q)
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (p *Paper) AccountInfo(context.Context) (models.AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return models.AccountInfo{}, ErrDisconnected
	}
	equity := p.balance
	for _, pos := range p.positions {
		if q, ok := p.quotes[pos.Symbol]; ok {
			equity += profit(pos, q)
		}
	}
	return models.AccountInfo{
		Login:      p.cfg.Login,
		Server:     p.cfg.Server,
		Currency:   p.cfg.Paper.Currency,
		Balance:    p.balance,
		Equity:     equity,
		FreeMargin: equity,
		Leverage:   p.cfg.Paper.Leverage,
	}, nil
}

func profit(pos models.Position, q models.Quote) float64 {
	pl := (q.Exit(pos.Direction) - pos.OpenPrice) * pos.Volume
	if pos.Direction == models.Sell {
		pl = -pl
	}
	return pl
}
