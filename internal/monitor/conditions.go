package monitor

import "hunter_bot/internal/models"

// Все пороги включительные. Нулевой порог не срабатывает никогда.

// EntryMet: buy входит по ask <= entry, sell по bid >= entry.
func EntryMet(d models.Direction, entry float64, q models.Quote) bool {
	if entry == 0 {
		return false
	}
	switch d {
	case models.Buy:
		return q.Ask <= entry
	case models.Sell:
		return q.Bid >= entry
	}
	return false
}

func TakeProfitHit(p models.Position, q models.Quote) bool {
	if p.TakeProfit == 0 {
		return false
	}
	switch p.Direction {
	case models.Buy:
		return q.Bid >= p.TakeProfit
	case models.Sell:
		return q.Ask <= p.TakeProfit
	}
	return false
}

func StopLossHit(p models.Position, q models.Quote) bool {
	if p.StopLoss == 0 {
		return false
	}
	switch p.Direction {
	case models.Buy:
		return q.Bid <= p.StopLoss
	case models.Sell:
		return q.Ask >= p.StopLoss
	}
	return false
}
