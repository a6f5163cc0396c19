package executor

import (
	"context"
	"math"
	"slices"
	"strings"

	"hunter_bot/internal/models"
	"hunter_bot/pkg/logger"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

var requiredFields = []string{"symbol", "entry_price", "exit_price", "stop_loss", "lot_size"}

// parseInstruction валидирует сырую инструкцию целиком, до любых изменений состояния.
func parseInstruction(raw map[string]any, defaultComment string) (models.TradeInstruction, error) {
	for _, f := range requiredFields {
		if v, ok := raw[f]; !ok || v == nil {
			return models.TradeInstruction{}, errors.Wrapf(ErrInvalidInstruction, "missing field %q", f)
		}
	}

	symbol := strings.TrimSpace(cast.ToString(raw["symbol"]))
	if symbol == "" {
		return models.TradeInstruction{}, errors.Wrap(ErrInvalidInstruction, "empty symbol")
	}

	nums := make(map[string]float64, 4)
	for _, f := range requiredFields[1:] {
		v, err := cast.ToFloat64E(raw[f])
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return models.TradeInstruction{}, errors.Wrapf(ErrInvalidInstruction, "field %q is not a number: %v", f, raw[f])
		}
		nums[f] = v
	}

	in := models.TradeInstruction{
		Symbol:     symbol,
		EntryPrice: nums["entry_price"],
		ExitPrice:  nums["exit_price"],
		StopLoss:   nums["stop_loss"],
		LotSize:    nums["lot_size"],
		Comment:    defaultComment,
	}

	if v, ok := raw["direction"]; ok && v != nil {
		d, err := models.ParseDirection(cast.ToString(v))
		if err != nil {
			return models.TradeInstruction{}, errors.Wrap(ErrInvalidInstruction, err.Error())
		}
		in.Direction = d
	} else if in.ExitPrice > in.EntryPrice {
		in.Direction = models.Buy
	} else {
		in.Direction = models.Sell
	}

	if v, ok := raw["comment"]; ok && v != nil {
		if c := cast.ToString(v); c != "" {
			in.Comment = c
		}
	}
	return in, nil
}

// AddInstruction кладёт инструкцию в очередь и ставит символ на мониторинг.
// Если символ сейчас не удалось поставить, инструкция всё равно принята:
// монитор подтянет символ на следующем цикле.
func (e *Executor) AddInstruction(ctx context.Context, raw map[string]any) (models.TradeInstruction, error) {
	in, err := parseInstruction(raw, e.cfg.DefaultComment)
	if err != nil {
		mtxInstructionsRejected.Inc()
		logger.Error("[EXECUTOR] rejected instruction: %v", err)
		return models.TradeInstruction{}, err
	}

	e.mu.Lock()
	e.nextID++
	in.ID = e.nextID
	in.CreatedAt = e.now()
	e.pending = append(e.pending, in)
	e.gaugesLocked()
	e.mu.Unlock()

	if err := e.watch.AddSymbol(ctx, in.Symbol); err != nil {
		logger.Warn("[EXECUTOR] instruction #%d: %s is not watched yet: %v", in.ID, in.Symbol, err)
	}

	logger.Info("[EXECUTOR] added instruction #%d %s %s entry=%.5f tp=%.5f sl=%.5f lot=%.2f",
		in.ID, in.Direction, in.Symbol, in.EntryPrice, in.ExitPrice, in.StopLoss, in.LotSize)
	return in, nil
}

func (e *Executor) RemoveInstruction(_ context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := slices.IndexFunc(e.pending, func(in models.TradeInstruction) bool { return in.ID == id })
	if idx < 0 {
		logger.Warn("[EXECUTOR] instruction #%d not found", id)
		return errors.Wrapf(ErrInstructionNotFound, "#%d", id)
	}
	symbol := e.pending[idx].Symbol
	e.pending = slices.Delete(e.pending, idx, idx+1)
	e.gaugesLocked()

	// монитор снимаем под тем же локом: это только in-memory операция
	if !e.referencedLocked(symbol) {
		e.watch.RemoveSymbol(symbol)
	}

	logger.Info("[EXECUTOR] removed instruction #%d", id)
	return nil
}

func (e *Executor) CancelAllInstructions(ctx context.Context) int {
	e.mu.Lock()
	n := len(e.pending)
	e.pending = nil
	needed := e.neededLocked()
	e.gaugesLocked()
	e.mu.Unlock()

	e.watch.Retain(ctx, needed)

	logger.Info("[EXECUTOR] cancelled %d instructions", n)
	return n
}
