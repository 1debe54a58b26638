package service

import (
	"context"
	"net/http"
	"net/url"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"

	"github.com/pkg/errors"
)

type orderDetail struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
}

// GetOrder looks an order up by client id. ErrOrderNotFound means the venue
// never accepted it.
func (c *Client) GetOrder(ctx context.Context, symbol, clientID string) (models.OrderStatus, error) {
	meta, err := c.InstrumentMeta(ctx, symbol)
	if err != nil {
		return models.OrderStatus{}, err
	}

	q := url.Values{}
	q.Set("instId", helper.InstID(symbol))
	q.Set("clOrdId", clientID)

	var data []orderDetail
	if err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", q, nil, true, &data); err != nil {
		return models.OrderStatus{}, err
	}
	if len(data) == 0 {
		return models.OrderStatus{}, errors.Wrapf(models.ErrOrderNotFound, "clOrdId %s", clientID)
	}

	d := data[0]
	ct := meta.CtVal
	if ct <= 0 {
		ct = 1
	}
	return models.OrderStatus{
		ClientID:  d.ClOrdID,
		OrderID:   d.OrdID,
		State:     orderState(d.State),
		FilledQty: parseFloat(d.AccFillSz) * ct,
		AvgPrice:  parseFloat(d.AvgPx),
	}, nil
}

func orderState(s string) models.OrderState {
	switch s {
	case "filled":
		return models.OrderFilled
	case "partially_filled":
		return models.OrderPartial
	case "canceled", "mmp_canceled":
		return models.OrderCancelled
	default:
		return models.OrderNew
	}
}
