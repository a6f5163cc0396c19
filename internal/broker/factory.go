package broker

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	PlatformPaper = "PAPER"
	PlatformMT5   = "MT5"
)

type Config struct {
	Platform  string
	Server    string
	Login     int64
	Password  string
	BridgeURL string
	Timeout   time.Duration
	StreamURL string
	Paper     PaperConfig
}

type PaperConfig struct {
	Balance  float64
	Currency string
	Leverage int
	Quotes   map[string]QuoteSeed
}

type QuoteSeed struct {
	Bid float64
	Ask float64
}

// New выбирает реализацию по платформе. Неизвестная платформа — ошибка конструктора.
func New(cfg Config) (Gateway, error) {
	switch strings.ToUpper(strings.TrimSpace(cfg.Platform)) {
	case PlatformPaper:
		return NewPaper(cfg), nil
	case PlatformMT5:
		return NewMT5(cfg)
	default:
		return nil, errors.Wrapf(ErrUnsupportedPlatform, "platform %q", cfg.Platform)
	}
}
