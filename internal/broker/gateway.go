package broker

import (
	"context"

	"hunter_bot/internal/models"

	"github.com/pkg/errors"
)

var (
	ErrDisconnected        = errors.New("broker: not connected")
	ErrSymbolNotFound      = errors.New("broker: symbol not found")
	ErrPositionNotFound    = errors.New("broker: position not found")
	ErrOrderRejected       = errors.New("broker: order rejected")
	ErrUnsupportedPlatform = errors.New("broker: unsupported platform")
)

// Gateway — синхронный фасад над торговой площадкой.
// Все методы сразу отдают ErrDisconnected без подключения и сами не переподключаются.
// Ретраи остаются на вызывающей стороне.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// IsConnected проверяет живую сессию, а не только локальный флаг.
	IsConnected(ctx context.Context) bool
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (int64, error)
	ClosePosition(ctx context.Context, ticket int64) error
	// ModifyPosition: нулевое значение оставляет текущий уровень.
	ModifyPosition(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error
	Positions(ctx context.Context) ([]models.Position, error)
	AccountInfo(ctx context.Context) (models.AccountInfo, error)
}

// QuoteSink принимает тики из стрима.
type QuoteSink interface {
	ApplyQuote(q models.Quote)
}
