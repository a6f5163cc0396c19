package models

import "time"

const QuoteTTL = 5 * time.Second

type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	return !q.Time.IsZero() && now.Sub(q.Time) < maxAge
}

// Fill — цена исполнения рыночного ордера по направлению.
func (q Quote) Fill(d Direction) float64 {
	if d == Buy {
		return q.Ask
	}
	return q.Bid
}

// Exit — цена закрытия позиции по направлению.
func (q Quote) Exit(d Direction) float64 {
	if d == Buy {
		return q.Bid
	}
	return q.Ask
}
