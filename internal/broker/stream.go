package broker

import (
	"context"
	"math"
	"time"

	"hunter_bot/internal/models"
	"hunter_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const streamPingEvery = 15 * time.Second

// TickStream подписывается на websocket с тиками и кладёт bid/ask в QuoteSink.
// Переподключается сам, пока жив ctx.
type TickStream struct {
	url    string
	sink   QuoteSink
	dialer *websocket.Dialer
	retry  *backoff.Backoff
}

func NewTickStream(url string, sink QuoteSink) *TickStream {
	return &TickStream{
		url:    url,
		sink:   sink,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		retry:  &backoff.Backoff{Min: 300 * time.Millisecond, Max: 10 * time.Second, Factor: 2},
	}
}

type tickFrame struct {
	Channel string  `json:"channel"`
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Time    float64 `json:"time"`
}

func (s *TickStream) Run(ctx context.Context) {
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := s.retry.Duration()
			logger.Warn("[STREAM] dial %s: %v, retry in %s", s.url, err, wait)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		s.retry.Reset()
		logger.Info("[STREAM] connected %s", s.url)

		s.serve(ctx, conn)

		select {
		case <-ctx.Done():
			return
		default:
			if !sleepCtx(ctx, time.Second) {
				return
			}
		}
	}
}

func (s *TickStream) serve(ctx context.Context, conn *websocket.Conn) {
	_ = conn.WriteJSON(map[string]string{"method": "sub.ticks"})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(streamPingEvery)
		defer t.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ctx.Done():
				// разблокирует ReadMessage
				_ = conn.Close()
				return
			case <-t.C:
				_ = conn.WriteJSON(map[string]string{"method": "ping"})
			}
		}
	}()

	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("[STREAM] read: %v", err)
			}
			return
		}
		var f tickFrame
		if err := sonic.Unmarshal(msg, &f); err != nil || f.Channel != "tick" || f.Symbol == "" {
			continue
		}
		if f.Bid <= 0 || f.Ask <= 0 {
			continue
		}
		q := models.Quote{Symbol: f.Symbol, Bid: f.Bid, Ask: f.Ask}
		if f.Time > 0 {
			sec, frac := math.Modf(f.Time)
			q.Time = time.Unix(int64(sec), int64(frac*1e9))
		}
		s.sink.ApplyQuote(q)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
