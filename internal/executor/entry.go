package executor

import (
	"context"
	"slices"

	"hunter_bot/internal/models"
	"hunter_bot/internal/monitor"
	"hunter_bot/pkg/logger"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
)

// onEntry вызывается монитором в его горутине.
// Снимок подходящих инструкций берём под локом, ордера ставим уже без него.
func (e *Executor) onEntry(ctx context.Context, symbol string, q models.Quote) error {
	e.mu.Lock()
	var due []models.TradeInstruction
	for _, in := range e.pending {
		if in.Symbol != symbol {
			continue
		}
		if _, busy := e.placing[in.ID]; busy {
			continue
		}
		if monitor.EntryMet(in.Direction, in.EntryPrice, q) {
			due = append(due, in)
			e.placing[in.ID] = struct{}{}
		}
	}
	e.mu.Unlock()

	failed := 0
	for _, in := range due {
		logger.Info("[EXECUTOR] entry condition met for #%d %s %s (bid=%.5f ask=%.5f)",
			in.ID, in.Direction, in.Symbol, q.Bid, q.Ask)
		if err := e.execute(ctx, in, q); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d entries on %s failed", failed, len(due), symbol)
	}
	return nil
}

// execute ставит рыночный ордер с ретраями и переводит инструкцию в активную сделку.
func (e *Executor) execute(ctx context.Context, in models.TradeInstruction, trigger models.Quote) (err error) {
	defer func() {
		e.mu.Lock()
		delete(e.placing, in.ID)
		e.mu.Unlock()
	}()

	span, ctx := opentracing.StartSpanFromContext(ctx, "executor.place_order")
	defer span.Finish()
	span.SetTag("symbol", in.Symbol)
	span.SetTag("direction", string(in.Direction))
	span.SetTag("instruction_id", in.ID)

	var (
		ticket int64
		fill   float64
	)
	err = e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		q := trigger
		if fresh, qerr := e.gw.Quote(ctx, in.Symbol); qerr == nil {
			q = fresh
		}
		t, perr := e.gw.PlaceMarketOrder(ctx, models.OrderRequest{
			Symbol:     in.Symbol,
			Direction:  in.Direction,
			Volume:     in.LotSize,
			Price:      q.Fill(in.Direction),
			StopLoss:   in.StopLoss,
			TakeProfit: in.ExitPrice,
			Comment:    in.Comment,
		})
		if perr != nil {
			logger.Warn("[EXECUTOR] place #%d attempt %d/%d: %v", in.ID, attempt, e.cfg.MaxRetries, perr)
			return perr
		}
		ticket, fill = t, q.Fill(in.Direction)
		return nil
	})
	if err != nil {
		ext.Error.Set(span, true)
		mtxOrders.WithLabelValues("failed").Inc()
		logger.Error("[EXECUTOR] failed to execute #%d %s after %d attempts: %v", in.ID, in.Symbol, e.cfg.MaxRetries, err)
		e.notify("❗️ Failed to open %s %s (instruction #%d): %v", in.Direction, in.Symbol, in.ID, err)
		return errors.Wrapf(ErrOrderFailed, "#%d: %v", in.ID, err)
	}

	trade := models.ActiveTrade{
		Ticket:     ticket,
		Symbol:     in.Symbol,
		EntryPrice: fill,
		ExitPrice:  in.ExitPrice,
		StopLoss:   in.StopLoss,
		LotSize:    in.LotSize,
		Direction:  in.Direction,
		Comment:    in.Comment,
		EntryTime:  e.now(),
	}
	span.SetTag("ticket", ticket)

	e.mu.Lock()
	e.active = append(e.active, trade)
	idx := slices.IndexFunc(e.pending, func(p models.TradeInstruction) bool { return p.ID == in.ID })
	if idx >= 0 {
		e.pending = slices.Delete(e.pending, idx, idx+1)
	}
	needed := e.neededLocked()
	e.gaugesLocked()
	e.mu.Unlock()

	if idx < 0 {
		// инструкцию отменили, пока ордер летел; позиция уже есть, поэтому сделку ведём
		logger.Warn("[EXECUTOR] instruction #%d was cancelled during placement, tracking ticket %d", in.ID, ticket)
		commitCtx, cancel := commitContext(ctx)
		e.watch.Retain(commitCtx, needed)
		cancel()
	}

	mtxOrders.WithLabelValues("ok").Inc()
	logger.Info("[EXECUTOR] opened #%d %s %s @ %.5f lot=%.2f (instruction #%d)",
		ticket, trade.Direction, trade.Symbol, trade.EntryPrice, trade.LotSize, in.ID)
	e.notify("✅ Opened %s %s @ %.5f lot=%.2f ticket=%d", trade.Direction, trade.Symbol, trade.EntryPrice, trade.LotSize, ticket)
	return nil
}
