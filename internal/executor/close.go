package executor

import (
	"context"
	"slices"
	"time"

	"hunter_bot/internal/models"
	"hunter_bot/pkg/logger"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
)

// CloseTrade закрывает сделку вручную. После исчерпания ретраев сделка остаётся активной.
func (e *Executor) CloseTrade(ctx context.Context, ticket int64) error {
	return e.closeTrade(ctx, ticket, models.ReasonManual, nil)
}

// CloseAllTrades возвращает число успешно закрытых сделок.
func (e *Executor) CloseAllTrades(ctx context.Context) int {
	e.mu.Lock()
	tickets := make([]int64, 0, len(e.active))
	for _, t := range e.active {
		tickets = append(tickets, t.Ticket)
	}
	e.mu.Unlock()

	closed := 0
	for _, ticket := range tickets {
		if err := e.closeTrade(ctx, ticket, models.ReasonManual, nil); err != nil {
			logger.Error("[EXECUTOR] close all: #%d: %v", ticket, err)
			continue
		}
		closed++
	}
	logger.Info("[EXECUTOR] closed %d/%d trades", closed, len(tickets))
	return closed
}

func (e *Executor) onTakeProfit(ctx context.Context, q models.Quote, p models.Position) error {
	return e.onPositionTrigger(ctx, q, p, models.ReasonTakeProfit)
}

func (e *Executor) onStopLoss(ctx context.Context, q models.Quote, p models.Position) error {
	return e.onPositionTrigger(ctx, q, p, models.ReasonStopLoss)
}

func (e *Executor) onPositionTrigger(ctx context.Context, q models.Quote, p models.Position, reason models.CloseReason) error {
	logger.Info("[EXECUTOR] %s hit for #%d %s (bid=%.5f ask=%.5f)", reason, p.Ticket, p.Symbol, q.Bid, q.Ask)
	err := e.closeTrade(ctx, p.Ticket, reason, &q)
	switch {
	case errors.Is(err, ErrTradeNotFound):
		// чужая позиция: ведём её только в watch-list
		logger.Warn("[EXECUTOR] #%d is not managed by the executor", p.Ticket)
		return nil
	case errors.Is(err, ErrCloseInProgress):
		return nil
	}
	return err
}

func (e *Executor) closeTrade(ctx context.Context, ticket int64, reason models.CloseReason, q *models.Quote) (err error) {
	e.mu.Lock()
	idx := slices.IndexFunc(e.active, func(t models.ActiveTrade) bool { return t.Ticket == ticket })
	if idx < 0 {
		e.mu.Unlock()
		return errors.Wrapf(ErrTradeNotFound, "ticket %d", ticket)
	}
	if _, busy := e.closing[ticket]; busy {
		e.mu.Unlock()
		return errors.Wrapf(ErrCloseInProgress, "ticket %d", ticket)
	}
	trade := e.active[idx]
	e.closing[ticket] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.closing, ticket)
		e.mu.Unlock()
	}()

	span, ctx := opentracing.StartSpanFromContext(ctx, "executor.close_position")
	defer span.Finish()
	span.SetTag("ticket", ticket)
	span.SetTag("reason", string(reason))

	err = e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if cerr := e.gw.ClosePosition(ctx, ticket); cerr != nil {
			logger.Warn("[EXECUTOR] close #%d attempt %d/%d: %v", ticket, attempt, e.cfg.MaxRetries, cerr)
			return cerr
		}
		return nil
	})
	if err != nil {
		ext.Error.Set(span, true)
		mtxCloses.WithLabelValues(string(reason), "failed").Inc()
		logger.Error("[EXECUTOR] failed to close #%d after %d attempts: %v", ticket, e.cfg.MaxRetries, err)
		e.notify("❗️ Failed to close %s ticket=%d (%s): %v", trade.Symbol, ticket, reason, err)
		return errors.Wrapf(ErrCloseFailed, "ticket %d: %v", ticket, err)
	}

	// позиция у брокера уже закрыта: дальше работаем без отмены вызывающего
	commitCtx, cancel := commitContext(ctx)
	defer cancel()

	e.mu.Lock()
	e.active = slices.DeleteFunc(e.active, func(t models.ActiveTrade) bool { return t.Ticket == ticket })
	needed := e.neededLocked()
	e.gaugesLocked()
	e.mu.Unlock()

	closed := trade.Close(e.exitPrice(commitCtx, trade, q), reason, e.now())
	if e.journal != nil {
		if jerr := e.journal.RecordTrade(commitCtx, closed); jerr != nil {
			logger.Error("[EXECUTOR] journal #%d: %v", ticket, jerr)
		}
	}

	e.watch.ForgetPosition(ticket)
	e.watch.Retain(commitCtx, needed)

	mtxCloses.WithLabelValues(string(reason), "ok").Inc()
	logger.Info("[EXECUTOR] closed #%d %s (%s) exit=%.5f pl=%.2f", ticket, trade.Symbol, reason, closed.ExitPrice, closed.ProfitLoss)
	e.notify("🏁 Closed %s ticket=%d (%s) exit=%.5f P/L=%.2f", trade.Symbol, ticket, reason, closed.ExitPrice, closed.ProfitLoss)
	return nil
}

// exitPrice: котировка триггера, иначе текущая от брокера, иначе 0.
func (e *Executor) exitPrice(ctx context.Context, t models.ActiveTrade, q *models.Quote) float64 {
	if q != nil {
		return q.Exit(t.Direction)
	}
	fresh, err := e.gw.Quote(ctx, t.Symbol)
	if err != nil {
		logger.Warn("[EXECUTOR] no exit quote for #%d: %v", t.Ticket, err)
		return 0
	}
	return fresh.Exit(t.Direction)
}

// observePositions снимает с учёта сделки, закрытые мимо исполнителя (руками в терминале,
// стопом на стороне брокера), и заодно сверяет watch-list каждый цикл.
// Сделки, открытые после снимка, не трогаем.
func (e *Executor) observePositions(ctx context.Context, positions []models.Position, at time.Time) {
	open := make(map[int64]struct{}, len(positions))
	for _, p := range positions {
		open[p.Ticket] = struct{}{}
	}

	e.mu.Lock()
	var gone []models.ActiveTrade
	kept := make([]models.ActiveTrade, 0, len(e.active))
	for _, t := range e.active {
		_, isOpen := open[t.Ticket]
		_, busy := e.closing[t.Ticket]
		if !isOpen && !busy && t.EntryTime.Before(at) {
			gone = append(gone, t)
			continue
		}
		kept = append(kept, t)
	}
	e.active = kept
	needed := e.neededLocked()
	e.gaugesLocked()
	e.mu.Unlock()

	for _, t := range gone {
		mtxCloses.WithLabelValues("external", "ok").Inc()
		logger.Warn("[EXECUTOR] #%d %s closed outside the executor", t.Ticket, t.Symbol)
		e.notify("⚠️ %s ticket=%d was closed at the broker", t.Symbol, t.Ticket)
	}

	e.watch.Retain(ctx, needed)
}
