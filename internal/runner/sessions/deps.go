package sessions

import (
	"context"

	"fibo_bot/internal/models"
)

// Gateway is the slice of the venue client a session trades through. Each
// session owns its user's gateway.
type Gateway interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderStatus, error)
	GetOrder(ctx context.Context, symbol, clientID string) (models.OrderStatus, error)
	CancelOrder(ctx context.Context, symbol, clientID string) error
	InstrumentMeta(ctx context.Context, symbol string) (models.InstrumentMeta, error)
	Balance(ctx context.Context) (float64, error)
	History(ctx context.Context, key models.FeedKey, limit int) ([]models.Candle, error)
}

// Stream is one subscription on the shared candle feed.
type Stream interface {
	Candles() <-chan models.Candle
	Add(keys ...models.FeedKey)
	Remove(keys ...models.FeedKey)
	Close()
}

// PositionStore persists the position lifecycle.
type PositionStore interface {
	SavePosition(ctx context.Context, p *models.Position) error
	ListPositions(ctx context.Context, userID int64, openOnly bool) ([]models.Position, error)
	ArchiveTrade(ctx context.Context, rec models.TradeRecord) error
}
