package models

import "time"

const DefaultComment = "Hunter Bot"

type CloseReason string

const (
	ReasonTakeProfit CloseReason = "take_profit"
	ReasonStopLoss   CloseReason = "stop_loss"
	ReasonManual     CloseReason = "manual"
)

// TradeInstruction — отложенная инструкция на вход.
type TradeInstruction struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	StopLoss   float64   `json:"stop_loss"`
	LotSize    float64   `json:"lot_size"`
	Direction  Direction `json:"direction"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

type ActiveTrade struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	StopLoss   float64   `json:"stop_loss"`
	LotSize    float64   `json:"lot_size"`
	Direction  Direction `json:"direction"`
	Comment    string    `json:"comment"`
	EntryTime  time.Time `json:"entry_time"`
}

type ClosedTrade struct {
	Ticket     int64       `json:"ticket"`
	Symbol     string      `json:"symbol"`
	Direction  Direction   `json:"direction"`
	LotSize    float64     `json:"lot_size"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	ProfitLoss float64     `json:"profit_loss"`
	Reason     CloseReason `json:"reason"`
	EntryTime  time.Time   `json:"entry_time"`
	ExitTime   time.Time   `json:"exit_time"`
}

func (t ActiveTrade) Close(exitPrice float64, reason CloseReason, at time.Time) ClosedTrade {
	pl := (exitPrice - t.EntryPrice) * t.LotSize
	if t.Direction == Sell {
		pl = -pl
	}
	return ClosedTrade{
		Ticket:     t.Ticket,
		Symbol:     t.Symbol,
		Direction:  t.Direction,
		LotSize:    t.LotSize,
		EntryPrice: t.EntryPrice,
		ExitPrice:  exitPrice,
		ProfitLoss: pl,
		Reason:     reason,
		EntryTime:  t.EntryTime,
		ExitTime:   at,
	}
}
