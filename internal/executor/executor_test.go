package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"hunter_bot/internal/broker"
	"hunter_bot/internal/journal"
	"hunter_bot/internal/models"
	"hunter_bot/internal/monitor"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// venue — paper-брокер с управляемыми сбоями.
type venue struct {
	*broker.Paper

	mu         sync.Mutex
	closeFails int
	closeCalls int
	placeFails int
	placeCalls int
	placeGate  chan struct{}
	afterClose func()
}

func (v *venue) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (int64, error) {
	v.mu.Lock()
	v.placeCalls++
	gate := v.placeGate
	fail := v.placeFails > 0
	if fail {
		v.placeFails--
	}
	v.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return 0, errors.New("requote")
	}
	return v.Paper.PlaceMarketOrder(ctx, req)
}

func (v *venue) ClosePosition(ctx context.Context, ticket int64) error {
	v.mu.Lock()
	v.closeCalls++
	fail := v.closeFails > 0
	if fail {
		v.closeFails--
	}
	v.mu.Unlock()

	if fail {
		return errors.New("trade context busy")
	}
	if err := v.Paper.ClosePosition(ctx, ticket); err != nil {
		return err
	}
	if v.afterClose != nil {
		v.afterClose()
	}
	return nil
}

type journalRecorder struct {
	mu     sync.Mutex
	trades []models.ClosedTrade
}

func (j *journalRecorder) RecordTrade(_ context.Context, t models.ClosedTrade) error {
	j.mu.Lock()
	j.trades = append(j.trades, t)
	j.mu.Unlock()
	return nil
}

type harness struct {
	venue   *venue
	monitor *monitor.Monitor
	exec    *Executor
	journal *journalRecorder
	slept   []time.Duration
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	paper := broker.NewPaper(broker.Config{Platform: broker.PlatformPaper, Paper: broker.PaperConfig{Balance: 10000}})
	require.NoError(t, paper.Connect(context.Background()))
	paper.SetQuote("EURUSD", 1.1010, 1.1012)
	paper.SetQuote("GBPUSD", 1.2500, 1.2502)

	h := &harness{venue: &venue{Paper: paper}, journal: &journalRecorder{}}
	h.monitor = monitor.New(h.venue, monitor.Config{})
	base := []Option{
		WithRecorder(h.journal),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.slept = append(h.slept, d)
			return nil
		}),
	}
	h.exec = New(h.venue, h.monitor, cfg, append(base, opts...)...)
	return h
}

func eurusdBuy() map[string]any {
	return map[string]any{
		"symbol":      "EURUSD",
		"entry_price": 1.1000,
		"exit_price":  1.1050,
		"stop_loss":   1.0950,
		"lot_size":    1.0,
		"direction":   "buy",
	}
}

// openTrade доводит инструкцию до активной сделки через цикл монитора.
func (h *harness) openTrade(t *testing.T, raw map[string]any) models.ActiveTrade {
	t.Helper()
	ctx := context.Background()
	in, err := h.exec.AddInstruction(ctx, raw)
	require.NoError(t, err)

	if in.Direction == models.Buy {
		h.venue.SetQuote(in.Symbol, in.EntryPrice-0.0003, in.EntryPrice-0.0001)
	} else {
		h.venue.SetQuote(in.Symbol, in.EntryPrice+0.0001, in.EntryPrice+0.0003)
	}
	require.NoError(t, h.monitor.Poll(ctx))

	for _, tr := range h.exec.ActiveTrades() {
		if tr.Symbol == in.Symbol && tr.EntryPrice != 0 {
			return tr
		}
	}
	t.Fatalf("no active trade for %s", in.Symbol)
	return models.ActiveTrade{}
}

func TestAddInstructionDefaultsDirection(t *testing.T) {
	cases := []struct {
		entry, exit float64
		want        models.Direction
	}{
		{1.1000, 1.1050, models.Buy},
		{1.1000, 1.0950, models.Sell},
		{1.1000, 1.1000, models.Sell},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v->%v", tc.entry, tc.exit), func(t *testing.T) {
			h := newHarness(t, Config{})
			raw := eurusdBuy()
			delete(raw, "direction")
			raw["entry_price"], raw["exit_price"] = tc.entry, tc.exit

			in, err := h.exec.AddInstruction(context.Background(), raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, in.Direction)
			assert.Equal(t, models.DefaultComment, in.Comment)
		})
	}
}

func TestAddInstructionCoercesNumbers(t *testing.T) {
	h := newHarness(t, Config{})
	raw := map[string]any{
		"symbol": "EURUSD", "entry_price": "1.1", "exit_price": 1, "stop_loss": int64(1),
		"lot_size": "0.5", "direction": "SELL", "comment": "from file",
	}

	in, err := h.exec.AddInstruction(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, 1.1, in.EntryPrice)
	assert.Equal(t, 0.5, in.LotSize)
	assert.Equal(t, models.Sell, in.Direction)
	assert.Equal(t, "from file", in.Comment)
	assert.True(t, h.monitor.Watching("EURUSD"))
}

func TestAddInstructionRejectsWithoutMutation(t *testing.T) {
	bad := map[string]func(map[string]any){
		"non numeric lot":   func(r map[string]any) { r["lot_size"] = "one lot" },
		"missing stop":      func(r map[string]any) { delete(r, "stop_loss") },
		"null entry":        func(r map[string]any) { r["entry_price"] = nil },
		"unknown direction": func(r map[string]any) { r["direction"] = "hold" },
		"empty symbol":      func(r map[string]any) { r["symbol"] = " " },
	}
	for name, mutate := range bad {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Config{})
			raw := eurusdBuy()
			mutate(raw)

			_, err := h.exec.AddInstruction(context.Background(), raw)
			assert.ErrorIs(t, err, ErrInvalidInstruction)
			assert.Empty(t, h.exec.Instructions())
			assert.Empty(t, h.monitor.Symbols())
		})
	}
}

func TestConcurrentAddInstructionUniqueIDs(t *testing.T) {
	h := newHarness(t, Config{})
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.exec.AddInstruction(context.Background(), eurusdBuy())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ins := h.exec.Instructions()
	require.Len(t, ins, n)
	seen := make(map[int64]struct{}, n)
	for _, in := range ins {
		seen[in.ID] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestRemoveInstructionUnregistersUnusedSymbol(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	in, err := h.exec.AddInstruction(ctx, eurusdBuy())
	require.NoError(t, err)
	require.True(t, h.monitor.Watching("EURUSD"))

	require.NoError(t, h.exec.RemoveInstruction(ctx, in.ID))
	assert.False(t, h.monitor.Watching("EURUSD"))
	assert.ErrorIs(t, h.exec.RemoveInstruction(ctx, in.ID), ErrInstructionNotFound)
}

func TestRemoveInstructionKeepsSymbolWithActiveTrade(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.openTrade(t, eurusdBuy())

	raw := eurusdBuy()
	raw["entry_price"] = 1.0900
	in, err := h.exec.AddInstruction(ctx, raw)
	require.NoError(t, err)

	require.NoError(t, h.exec.RemoveInstruction(ctx, in.ID))
	assert.True(t, h.monitor.Watching("EURUSD"))
}

func TestCloseTradeRemovesTradeAndSymbol(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	trade := h.openTrade(t, eurusdBuy())

	require.NoError(t, h.exec.CloseTrade(ctx, trade.Ticket))

	assert.Empty(t, h.exec.ActiveTrades())
	assert.False(t, h.monitor.Watching("EURUSD"))
	require.Len(t, h.journal.trades, 1)
	assert.Equal(t, models.ReasonManual, h.journal.trades[0].Reason)
	assert.ErrorIs(t, h.exec.CloseTrade(ctx, trade.Ticket), ErrTradeNotFound)
}

func TestCloseTradeExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{MaxRetries: 3, RetryDelay: 250 * time.Millisecond})
	trade := h.openTrade(t, eurusdBuy())

	h.venue.mu.Lock()
	h.venue.closeFails = 100
	h.venue.closeCalls = 0
	h.venue.mu.Unlock()
	h.slept = nil

	err := h.exec.CloseTrade(ctx, trade.Ticket)

	assert.ErrorIs(t, err, ErrCloseFailed)
	assert.Equal(t, 3, h.venue.closeCalls)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, h.slept)
	require.Len(t, h.exec.ActiveTrades(), 1)
	assert.Equal(t, trade.Ticket, h.exec.ActiveTrades()[0].Ticket)
	assert.True(t, h.monitor.Watching("EURUSD"))
	assert.Empty(t, h.journal.trades)
}

func TestCloseTradeRecoversWithinBudget(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	trade := h.openTrade(t, eurusdBuy())
	h.venue.closeFails = 2

	require.NoError(t, h.exec.CloseTrade(context.Background(), trade.Ticket))
	assert.Empty(t, h.exec.ActiveTrades())
}

func TestFailedEntryKeepsInstructionPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{MaxRetries: 2})
	in, err := h.exec.AddInstruction(ctx, eurusdBuy())
	require.NoError(t, err)

	h.venue.placeFails = 2
	h.venue.SetQuote("EURUSD", 1.0997, 1.0999)
	require.NoError(t, h.monitor.Poll(ctx))

	assert.Equal(t, 2, h.venue.placeCalls)
	assert.Empty(t, h.exec.ActiveTrades())
	require.Len(t, h.exec.Instructions(), 1)
	assert.Equal(t, in.ID, h.exec.Instructions()[0].ID)

	// следующий цикл — брокер ожил
	require.NoError(t, h.monitor.Poll(ctx))
	assert.Empty(t, h.exec.Instructions())
	assert.Len(t, h.exec.ActiveTrades(), 1)
}

func TestSellEntryFillsAtBid(t *testing.T) {
	h := newHarness(t, Config{})
	trade := h.openTrade(t, map[string]any{
		"symbol": "GBPUSD", "entry_price": 1.2600, "exit_price": 1.2500, "stop_loss": 1.2650, "lot_size": 0.2,
	})

	assert.Equal(t, models.Sell, trade.Direction)
	assert.InDelta(t, 1.2601, trade.EntryPrice, 1e-9)
}

func TestCancelAllInstructions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.openTrade(t, eurusdBuy())

	_, err := h.exec.AddInstruction(ctx, map[string]any{
		"symbol": "GBPUSD", "entry_price": 1.2, "exit_price": 1.3, "stop_loss": 1.1, "lot_size": 1,
	})
	require.NoError(t, err)
	raw := eurusdBuy()
	raw["entry_price"] = 1.08
	_, err = h.exec.AddInstruction(ctx, raw)
	require.NoError(t, err)

	assert.Equal(t, 2, h.exec.CancelAllInstructions(ctx))
	assert.Empty(t, h.exec.Instructions())
	assert.Equal(t, []string{"EURUSD"}, h.monitor.Symbols())
}

func TestCloseAllTrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{MaxRetries: 1})
	h.openTrade(t, eurusdBuy())
	h.openTrade(t, map[string]any{
		"symbol": "GBPUSD", "entry_price": 1.2600, "exit_price": 1.2500, "stop_loss": 1.2650, "lot_size": 0.2,
	})
	require.Len(t, h.exec.ActiveTrades(), 2)

	h.venue.closeFails = 1
	assert.Equal(t, 1, h.exec.CloseAllTrades(ctx))
	assert.Len(t, h.exec.ActiveTrades(), 1)

	assert.Equal(t, 1, h.exec.CloseAllTrades(ctx))
	assert.Empty(t, h.exec.ActiveTrades())
	assert.Empty(t, h.monitor.Symbols())
}

func TestPlacementDoesNotHoldLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	_, err := h.exec.AddInstruction(ctx, eurusdBuy())
	require.NoError(t, err)

	gate := make(chan struct{})
	h.venue.mu.Lock()
	h.venue.placeGate = gate
	h.venue.mu.Unlock()
	h.venue.SetQuote("EURUSD", 1.0997, 1.0999)

	polled := make(chan struct{})
	go func() {
		defer close(polled)
		_ = h.monitor.Poll(ctx)
	}()

	require.Eventually(t, func() bool {
		h.venue.mu.Lock()
		defer h.venue.mu.Unlock()
		return h.venue.placeCalls == 1
	}, 2*time.Second, 5*time.Millisecond)

	// ордер висит у брокера, а управление инструкциями работает
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.exec.AddInstruction(ctx, map[string]any{
			"symbol": "GBPUSD", "entry_price": 1.2, "exit_price": 1.3, "stop_loss": 1.1, "lot_size": 1,
		})
		_ = h.exec.Instructions()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("instruction management blocked by in-flight order")
	}

	close(gate)
	<-polled
	assert.Len(t, h.exec.ActiveTrades(), 1)
}

func TestExternallyClosedTradeIsDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	trade := h.openTrade(t, eurusdBuy())

	// закрыли руками в терминале
	require.NoError(t, h.venue.Paper.ClosePosition(ctx, trade.Ticket))
	require.NoError(t, h.monitor.Poll(ctx))

	assert.Empty(t, h.exec.ActiveTrades())
	assert.False(t, h.monitor.Watching("EURUSD"))
}

func TestEndToEndEntryAndTakeProfit(t *testing.T) {
	ctx := context.Background()
	opened := time.Now().Add(-time.Minute).Truncate(time.Second)
	clock := opened
	h := newHarness(t, Config{}, WithClock(func() time.Time { return clock }))

	_, err := h.exec.AddInstruction(ctx, eurusdBuy())
	require.NoError(t, err)
	require.True(t, h.monitor.Watching("EURUSD"))

	// ask опустился до 1.0999 — вход
	h.venue.SetQuote("EURUSD", 1.0997, 1.0999)
	require.NoError(t, h.monitor.Poll(ctx))

	assert.Empty(t, h.exec.Instructions())
	trades := h.exec.ActiveTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, int64(1001), trades[0].Ticket)
	assert.Equal(t, 1.0999, trades[0].EntryPrice)
	assert.Equal(t, opened, trades[0].EntryTime)

	clock = opened.Add(30 * time.Second)
	// bid дошёл до тейка
	h.venue.SetQuote("EURUSD", 1.1050, 1.1052)
	require.NoError(t, h.monitor.Poll(ctx))

	assert.Empty(t, h.exec.ActiveTrades())
	assert.False(t, h.monitor.Watching("EURUSD"))

	require.Len(t, h.journal.trades, 1)
	closed := h.journal.trades[0]
	assert.Equal(t, models.ReasonTakeProfit, closed.Reason)
	assert.Equal(t, 1.1050, closed.ExitPrice)
	assert.InDelta(t, 0.0051, closed.ProfitLoss, 1e-9)
	assert.Equal(t, opened, closed.EntryTime)
	assert.Equal(t, opened.Add(30*time.Second), closed.ExitTime)
}

func TestStopLossClosesTrade(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	trade := h.openTrade(t, eurusdBuy())

	h.venue.SetQuote("EURUSD", 1.0950, 1.0952)
	require.NoError(t, h.monitor.Poll(ctx))

	assert.Empty(t, h.exec.ActiveTrades())
	require.Len(t, h.journal.trades, 1)
	assert.Equal(t, trade.Ticket, h.journal.trades[0].Ticket)
	assert.Equal(t, models.ReasonStopLoss, h.journal.trades[0].Reason)
}

func TestCloseTradeCommitsAfterCallerCancel(t *testing.T) {
	store, err := journal.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	h := newHarness(t, Config{}, WithRecorder(store))
	trade := h.openTrade(t, eurusdBuy())

	// клиент отвалился сразу после закрытия позиции у брокера
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.venue.afterClose = cancel

	require.NoError(t, h.exec.CloseTrade(ctx, trade.Ticket))
	require.Error(t, ctx.Err())

	assert.Empty(t, h.exec.ActiveTrades())
	assert.False(t, h.monitor.Watching("EURUSD"))

	recorded, err := store.RecentTrades(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, trade.Ticket, recorded[0].Ticket)
	assert.Equal(t, models.ReasonManual, recorded[0].Reason)
	assert.NotZero(t, recorded[0].ExitPrice)
}
