package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"hunter_bot/internal/models"
	"hunter_bot/internal/monitor"
	"hunter_bot/pkg/retry"

	"github.com/pkg/errors"
)

var (
	ErrInvalidInstruction  = errors.New("executor: invalid instruction")
	ErrInstructionNotFound = errors.New("executor: instruction not found")
	ErrTradeNotFound       = errors.New("executor: trade not found")
	ErrCloseInProgress     = errors.New("executor: close already in progress")
	ErrCloseFailed         = errors.New("executor: close failed")
	ErrOrderFailed         = errors.New("executor: order failed")
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	commitTimeout = 10 * time.Second
)

// Gateway — вызовы брокера, которые делает исполнитель.
type Gateway interface {
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (int64, error)
	ClosePosition(ctx context.Context, ticket int64) error
}

// Watcher — монитор цен со стороны исполнителя.
type Watcher interface {
	AddSymbol(ctx context.Context, symbol string) error
	RemoveSymbol(symbol string) bool
	Retain(ctx context.Context, needed []string)
	ForgetPosition(ticket int64)
	OnEntry(h monitor.EntryHandler)
	OnExit(h monitor.PositionHandler)
	OnStopLoss(h monitor.PositionHandler)
	OnPositions(o monitor.PositionsObserver)
}

type Recorder interface {
	RecordTrade(ctx context.Context, t models.ClosedTrade) error
}

type Notifier interface {
	Sendf(format string, args ...any)
}

type Config struct {
	MaxRetries     int
	RetryDelay     time.Duration
	DefaultComment string
}

type Option func(*Executor)

func WithRecorder(r Recorder) Option { return func(e *Executor) { e.journal = r } }

func WithNotifier(n Notifier) Option { return func(e *Executor) { e.notifier = n } }

func WithSleep(s retry.SleepFunc) Option { return func(e *Executor) { e.policy.Sleep = s } }

func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// Executor держит очередь инструкций и реестр активных сделок под одним мьютексом.
// Под мьютексом только операции над слайсами: вызовы брокера всегда снаружи.
type Executor struct {
	gw       Gateway
	watch    Watcher
	cfg      Config
	policy   retry.Policy
	journal  Recorder
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	nextID  int64
	pending []models.TradeInstruction
	active  []models.ActiveTrade
	placing map[int64]struct{} // instruction id
	closing map[int64]struct{} // ticket
}

// New создаёт исполнителя и подписывает его на события монитора.
func New(gw Gateway, watch Watcher, cfg Config, opts ...Option) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DefaultComment == "" {
		cfg.DefaultComment = models.DefaultComment
	}

	e := &Executor{
		gw:      gw,
		watch:   watch,
		cfg:     cfg,
		policy:  retry.Fixed(cfg.MaxRetries, cfg.RetryDelay),
		now:     time.Now,
		placing: make(map[int64]struct{}),
		closing: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	watch.OnEntry(monitor.EntryHandlerFunc(e.onEntry))
	watch.OnExit(monitor.PositionHandlerFunc(e.onTakeProfit))
	watch.OnStopLoss(monitor.PositionHandlerFunc(e.onStopLoss))
	watch.OnPositions(monitor.PositionsObserverFunc(e.observePositions))

	return e
}

func (e *Executor) Instructions() []models.TradeInstruction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.TradeInstruction(nil), e.pending...)
}

func (e *Executor) ActiveTrades() []models.ActiveTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.ActiveTrade(nil), e.active...)
}

// referencedLocked: нужен ли символ кому-то из очереди или реестра.
func (e *Executor) referencedLocked(symbol string) bool {
	for _, in := range e.pending {
		if in.Symbol == symbol {
			return true
		}
	}
	for _, t := range e.active {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}

func (e *Executor) neededLocked() []string {
	set := make(map[string]struct{}, len(e.pending)+len(e.active))
	for _, in := range e.pending {
		set[in.Symbol] = struct{}{}
	}
	for _, t := range e.active {
		set[t.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e *Executor) gaugesLocked() {
	mtxPending.Set(float64(len(e.pending)))
	mtxActive.Set(float64(len(e.active)))
}

// commitContext — контекст для шагов после успешного вызова брокера.
// Журнал и watch-list не зависят от отмены вызывающего, только от commitTimeout.
func commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}

func (e *Executor) notify(format string, args ...any) {
	if e.notifier != nil {
		e.notifier.Sendf(format, args...)
	}
}
