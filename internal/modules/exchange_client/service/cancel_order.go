package service

import (
	"context"
	"net/http"

	"fibo_bot/internal/helper"
)

// CancelOrder asks the venue to cancel by client id. An order that is already
// filled or cancelled comes back as ErrVenueRejected; callers re-read the
// order with GetOrder to learn its final state.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientID string) error {
	body := map[string]string{
		"instId":  helper.InstID(symbol),
		"clOrdId": clientID,
	}
	return c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, true, nil)
}
