package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hunter_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	orderDeviation = 10
	orderMagic     = 123456
	closeComment   = "Hunter Bot - Close Position"

	defaultBridgeURL = "http://127.0.0.1:8787"
	streamTickTTL    = time.Second
)

// MT5 ходит в HTTP-sidecar, который держит сессию терминала MetaTrader 5.
type MT5 struct {
	base      string
	hc        *http.Client
	login     int64
	password  string
	server    string
	connected atomic.Bool

	mu    sync.RWMutex
	ticks map[string]models.Quote
	now   func() time.Time
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bridge status %d: %s", e.code, e.body)
}

func statusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

func NewMT5(cfg Config) (*MT5, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BridgeURL), "/")
	if base == "" {
		base = defaultBridgeURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrapf(err, "mt5: bad bridge url %q", base)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MT5{
		base:     base,
		hc:       &http.Client{Timeout: timeout},
		login:    cfg.Login,
		password: cfg.Password,
		server:   cfg.Server,
		ticks:    make(map[string]models.Quote),
		now:      time.Now,
	}, nil
}

func (b *MT5) Connect(ctx context.Context) error {
	if b.connected.Load() && b.ping(ctx) {
		return nil
	}
	body := map[string]any{
		"login":    b.login,
		"password": b.password,
		"server":   b.server,
	}
	var out struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error"`
	}
	if err := b.do(ctx, http.MethodPost, "/connect", body, &out); err != nil {
		return errors.Wrap(err, "mt5: connect")
	}
	if !out.Connected {
		return errors.Errorf("mt5: connect refused: %s", out.Error)
	}
	b.connected.Store(true)
	return nil
}

func (b *MT5) Disconnect(ctx context.Context) error {
	if !b.connected.Load() {
		return nil
	}
	b.connected.Store(false)
	if err := b.do(ctx, http.MethodPost, "/disconnect", nil, nil); err != nil {
		return errors.Wrap(err, "mt5: disconnect")
	}
	return nil
}

func (b *MT5) IsConnected(ctx context.Context) bool {
	if !b.connected.Load() {
		return false
	}
	return b.ping(ctx)
}

func (b *MT5) ping(ctx context.Context) bool {
	var out struct {
		Connected bool `json:"connected"`
	}
	if err := b.do(ctx, http.MethodGet, "/ping", nil, &out); err != nil {
		return false
	}
	return out.Connected
}

func (b *MT5) ApplyQuote(q models.Quote) {
	if q.Time.IsZero() {
		q.Time = b.now()
	}
	b.mu.Lock()
	b.ticks[q.Symbol] = q
	b.mu.Unlock()
}

type bridgeQuote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   float64 `json:"time"`
}

func (q bridgeQuote) toModel(symbol string) models.Quote {
	sec, frac := math.Modf(q.Time)
	return models.Quote{
		Symbol: symbol,
		Bid:    q.Bid,
		Ask:    q.Ask,
		Time:   time.Unix(int64(sec), int64(frac*1e9)),
	}
}

// Quote отдаёт свежий тик из стрима, иначе идёт в REST.
// Если символ не выбран в Market Watch, bridge отвечает 409: выбираем и повторяем.
func (b *MT5) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	if !b.connected.Load() {
		return models.Quote{}, ErrDisconnected
	}

	b.mu.RLock()
	tick, ok := b.ticks[symbol]
	b.mu.RUnlock()
	if ok && tick.Fresh(b.now(), streamTickTTL) {
		return tick, nil
	}

	q, err := b.fetchQuote(ctx, symbol)
	if statusCode(err) == http.StatusConflict {
		if err := b.do(ctx, http.MethodPost, "/symbol/"+url.PathEscape(symbol)+"/select", nil, nil); err != nil {
			return models.Quote{}, b.mapErr(err, ErrSymbolNotFound, "mt5: select %s", symbol)
		}
		q, err = b.fetchQuote(ctx, symbol)
	}
	if err != nil {
		return models.Quote{}, b.mapErr(err, ErrSymbolNotFound, "mt5: quote %s", symbol)
	}
	return q, nil
}

func (b *MT5) fetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	var out bridgeQuote
	if err := b.do(ctx, http.MethodGet, "/quote/"+url.PathEscape(symbol), nil, &out); err != nil {
		return models.Quote{}, err
	}
	return out.toModel(symbol), nil
}

func (b *MT5) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (int64, error) {
	if !b.connected.Load() {
		return 0, ErrDisconnected
	}
	q, err := b.Quote(ctx, req.Symbol)
	if err != nil {
		return 0, err
	}

	body := map[string]any{
		"symbol":          req.Symbol,
		"side":            string(req.Direction),
		"volume":          req.Volume,
		"price":           q.Fill(req.Direction),
		"deviation":       orderDeviation,
		"magic":           orderMagic,
		"comment":         req.Comment,
		"client_order_id": uuid.New().String(),
	}
	if req.StopLoss != 0 {
		body["sl"] = req.StopLoss
	}
	if req.TakeProfit != 0 {
		body["tp"] = req.TakeProfit
	}

	var out struct {
		Ticket  int64  `json:"ticket"`
		Retcode int    `json:"retcode"`
		Comment string `json:"comment"`
	}
	if err := b.do(ctx, http.MethodPost, "/order", body, &out); err != nil {
		return 0, b.mapErr(err, ErrOrderRejected, "mt5: order %s %s", req.Direction, req.Symbol)
	}
	if out.Ticket == 0 {
		return 0, errors.Wrapf(ErrOrderRejected, "mt5: retcode=%d %s", out.Retcode, out.Comment)
	}
	return out.Ticket, nil
}

func (b *MT5) ClosePosition(ctx context.Context, ticket int64) error {
	if !b.connected.Load() {
		return ErrDisconnected
	}
	body := map[string]any{
		"deviation": orderDeviation,
		"magic":     orderMagic,
		"comment":   closeComment,
	}
	if err := b.do(ctx, http.MethodPost, fmt.Sprintf("/position/%d/close", ticket), body, nil); err != nil {
		return b.mapErr(err, ErrPositionNotFound, "mt5: close %d", ticket)
	}
	return nil
}

func (b *MT5) ModifyPosition(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	if !b.connected.Load() {
		return ErrDisconnected
	}
	// bridge сам подставляет текущие уровни для отсутствующих полей
	body := map[string]any{}
	if stopLoss != 0 {
		body["sl"] = stopLoss
	}
	if takeProfit != 0 {
		body["tp"] = takeProfit
	}
	if err := b.do(ctx, http.MethodPost, fmt.Sprintf("/position/%d/modify", ticket), body, nil); err != nil {
		return b.mapErr(err, ErrPositionNotFound, "mt5: modify %d", ticket)
	}
	return nil
}

type bridgePosition struct {
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      string  `json:"type"`
	Volume    float64 `json:"volume"`
	PriceOpen float64 `json:"price_open"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Profit    float64 `json:"profit"`
}

func (b *MT5) Positions(ctx context.Context) ([]models.Position, error) {
	if !b.connected.Load() {
		return nil, ErrDisconnected
	}
	var raw []bridgePosition
	if err := b.do(ctx, http.MethodGet, "/positions", nil, &raw); err != nil {
		return nil, b.mapErr(err, nil, "mt5: positions")
	}
	out := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		dir, err := models.ParseDirection(p.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "mt5: position %d", p.Ticket)
		}
		out = append(out, models.Position{
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Direction:  dir,
			Volume:     p.Volume,
			OpenPrice:  p.PriceOpen,
			StopLoss:   p.SL,
			TakeProfit: p.TP,
			Profit:     p.Profit,
		})
	}
	return out, nil
}

func (b *MT5) AccountInfo(ctx context.Context) (models.AccountInfo, error) {
	if !b.connected.Load() {
		return models.AccountInfo{}, ErrDisconnected
	}
	var out models.AccountInfo
	if err := b.do(ctx, http.MethodGet, "/account", nil, &out); err != nil {
		return models.AccountInfo{}, b.mapErr(err, nil, "mt5: account")
	}
	return out, nil
}

// mapErr: 404 -> notFound, 503 -> ErrDisconnected, остальное просто оборачиваем.
func (b *MT5) mapErr(err error, notFound error, format string, args ...any) error {
	switch statusCode(err) {
	case http.StatusNotFound:
		if notFound != nil {
			return errors.Wrapf(notFound, format+": %v", append(args, err)...)
		}
	case http.StatusServiceUnavailable:
		return errors.Wrapf(ErrDisconnected, format+": %v", append(args, err)...)
	}
	return errors.Wrapf(err, format, args...)
}

func (b *MT5) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		bs, err := sonic.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.base+path, body)
	if err != nil {
		return errors.Wrapf(err, "new request %s", path)
	}
	req.Header.Set("User-Agent", "hunter-bot/mt5")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := b.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if res.StatusCode >= 300 {
		return &statusError{code: res.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
