package service

import (
	"context"
	"fmt"
	"net/http"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
)

// PlaceOrder submits one order under req.ClientID. The venue refuses a second
// live order with the same id (ErrDuplicateOrder), which makes a resubmit after
// a timeout safe.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderStatus, error) {
	if req.ClientID == "" {
		return models.OrderStatus{}, fmt.Errorf("PlaceOrder: empty client id")
	}
	if req.Qty <= 0 {
		return models.OrderStatus{}, fmt.Errorf("PlaceOrder: qty <= 0")
	}
	if req.Type == models.OrderLimit && req.Price <= 0 {
		return models.OrderStatus{}, fmt.Errorf("PlaceOrder: limit price <= 0")
	}

	meta, err := c.InstrumentMeta(ctx, req.Symbol)
	if err != nil {
		return models.OrderStatus{}, err
	}
	sz := toContracts(req.Qty, meta)
	if sz <= 0 {
		return models.OrderStatus{}, fmt.Errorf("PlaceOrder: qty %.8f below one lot", req.Qty)
	}

	side := req.Side.OpenOrderSide()
	if req.ReduceOnly {
		side = req.Side.CloseOrderSide()
	}
	body := map[string]any{
		"instId":  helper.InstID(req.Symbol),
		"tdMode":  "cross",
		"side":    side,
		"posSide": req.Side.PosSide(),
		"ordType": string(req.Type),
		"sz":      formatFloat(sz),
		"clOrdId": req.ClientID,
	}
	if req.Type == models.OrderLimit {
		body["px"] = formatFloat(req.Price)
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	var data []itemStatus
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true, &data); err != nil {
		return models.OrderStatus{}, err
	}
	st := models.OrderStatus{ClientID: req.ClientID, State: models.OrderNew}
	if len(data) > 0 {
		st.OrderID = data[0].OrdID
	}
	return st, nil
}

// toContracts converts base units to whole lots of contracts.
func toContracts(qty float64, meta models.InstrumentMeta) float64 {
	ct := meta.CtVal
	if ct <= 0 {
		ct = 1
	}
	lot := meta.LotSize / ct
	return helper.RoundDownToTick(qty/ct, lot)
}
