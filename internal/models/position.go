package models

// Position — открытая позиция на стороне брокера.
// Нулевые StopLoss/TakeProfit означают "не задан".
type Position struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"open_price"`
	StopLoss   float64   `json:"sl"`
	TakeProfit float64   `json:"tp"`
	Profit     float64   `json:"profit"`
}

// OrderRequest — рыночный ордер. Price заполняет шлюз (ask для buy, bid для sell).
type OrderRequest struct {
	Symbol     string
	Direction  Direction
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

type AccountInfo struct {
	Login      int64   `json:"login"`
	Server     string  `json:"server"`
	Currency   string  `json:"currency"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"free_margin"`
	Leverage   int     `json:"leverage"`
}
