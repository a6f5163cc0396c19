package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hunter_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	mu        sync.Mutex
	connected bool
	selected  map[string]bool
	orders    []map[string]any
	closed    []string
}

func (f *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /connect", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.connected = body["password"] == "secret"
		ok := f.connected
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"connected": ok})
	})
	mux.HandleFunc("POST /disconnect", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()
	})
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"connected": f.connected})
	})
	mux.HandleFunc("GET /quote/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		sym := r.PathValue("symbol")
		if sym != "EURUSD" {
			http.Error(w, "unknown symbol", http.StatusNotFound)
			return
		}
		f.mu.Lock()
		sel := f.selected[sym]
		f.mu.Unlock()
		if !sel {
			http.Error(w, "symbol not selected", http.StatusConflict)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"symbol": sym, "bid": 1.0998, "ask": 1.1, "time": 1700000000.5})
	})
	mux.HandleFunc("POST /symbol/{symbol}/select", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.selected[r.PathValue("symbol")] = true
		f.mu.Unlock()
	})
	mux.HandleFunc("POST /order", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.orders = append(f.orders, body)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ticket": 555, "retcode": 10009})
	})
	mux.HandleFunc("POST /position/{ticket}/close", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("ticket") != "555" {
			http.Error(w, "no position", http.StatusNotFound)
			return
		}
		f.mu.Lock()
		f.closed = append(f.closed, r.PathValue("ticket"))
		f.mu.Unlock()
	})
	mux.HandleFunc("GET /positions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"ticket": 555, "symbol": "EURUSD", "type": "buy", "volume": 0.1, "price_open": 1.1, "sl": 1.09, "tp": 1.11, "profit": 2.5},
		})
	})
	mux.HandleFunc("GET /account", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"login": 42, "balance": 1000.0, "equity": 1002.5, "currency": "USD", "leverage": 100})
	})
	return mux
}

func newTestMT5(t *testing.T) (*MT5, *fakeBridge) {
	t.Helper()
	fb := &fakeBridge{selected: map[string]bool{}}
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)

	gw, err := NewMT5(Config{BridgeURL: srv.URL + "/", Login: 42, Password: "secret", Server: "Demo"})
	require.NoError(t, err)
	return gw, fb
}

func TestMT5ConnectAndPing(t *testing.T) {
	ctx := context.Background()
	gw, fb := newTestMT5(t)

	assert.False(t, gw.IsConnected(ctx))
	require.NoError(t, gw.Connect(ctx))
	assert.True(t, gw.IsConnected(ctx))

	// терминал отвалился — флаг ещё true, но пинг говорит правду
	fb.mu.Lock()
	fb.connected = false
	fb.mu.Unlock()
	assert.False(t, gw.IsConnected(ctx))
}

func TestMT5ConnectRefused(t *testing.T) {
	gw, _ := newTestMT5(t)
	gw.password = "wrong"
	assert.Error(t, gw.Connect(context.Background()))
	assert.False(t, gw.connected.Load())
}

func TestMT5QuoteSelectsSymbol(t *testing.T) {
	ctx := context.Background()
	gw, fb := newTestMT5(t)
	require.NoError(t, gw.Connect(ctx))

	q, err := gw.Quote(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.0998, q.Bid)
	assert.Equal(t, 1.1, q.Ask)
	assert.Equal(t, int64(1700000000), q.Time.Unix())
	fb.mu.Lock()
	assert.True(t, fb.selected["EURUSD"])
	fb.mu.Unlock()

	_, err = gw.Quote(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestMT5DisconnectedFailsFast(t *testing.T) {
	gw, _ := newTestMT5(t)
	_, err := gw.Quote(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, gw.ClosePosition(context.Background(), 555), ErrDisconnected)
}

func TestMT5PlaceOrderUsesAsk(t *testing.T) {
	ctx := context.Background()
	gw, fb := newTestMT5(t)
	require.NoError(t, gw.Connect(ctx))

	ticket, err := gw.PlaceMarketOrder(ctx, models.OrderRequest{
		Symbol: "EURUSD", Direction: models.Buy, Volume: 0.1, StopLoss: 1.09, TakeProfit: 1.11, Comment: "Hunter Bot",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(555), ticket)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.orders, 1)
	order := fb.orders[0]
	assert.Equal(t, 1.1, order["price"])
	assert.Equal(t, "buy", order["side"])
	assert.EqualValues(t, 10, order["deviation"])
	assert.EqualValues(t, 123456, order["magic"])
	assert.NotEmpty(t, order["client_order_id"])
}

func TestMT5StreamTickShortCircuitsREST(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestMT5(t)
	require.NoError(t, gw.Connect(ctx))

	gw.ApplyQuote(models.Quote{Symbol: "GBPUSD", Bid: 1.25, Ask: 1.2502, Time: time.Now()})
	q, err := gw.Quote(ctx, "GBPUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.25, q.Bid)
}

func TestMT5PositionsCloseAccount(t *testing.T) {
	ctx := context.Background()
	gw, fb := newTestMT5(t)
	require.NoError(t, gw.Connect(ctx))

	positions, err := gw.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, models.Buy, positions[0].Direction)
	assert.Equal(t, 1.09, positions[0].StopLoss)

	require.NoError(t, gw.ClosePosition(ctx, 555))
	fb.mu.Lock()
	assert.Equal(t, []string{"555"}, fb.closed)
	fb.mu.Unlock()
	assert.ErrorIs(t, gw.ClosePosition(ctx, 1), ErrPositionNotFound)

	acc, err := gw.AccountInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), acc.Login)
	assert.Equal(t, 1002.5, acc.Equity)
}
