package service

import (
	"context"
	"net/http"
	"net/url"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
)

// Balance is the account equity in USD. The supervisor uses it as the
// credential check.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("ccy", "USDT")

	var data []struct {
		TotalEq string `json:"totalEq"`
		Details []struct {
			Ccy     string `json:"ccy"`
			Eq      string `json:"eq"`
			AvailEq string `json:"availEq"`
		} `json:"details"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", q, nil, true, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if eq := parseFloat(data[0].TotalEq); eq > 0 {
		return eq, nil
	}
	for _, d := range data[0].Details {
		if d.Ccy == "USDT" {
			return parseFloat(d.Eq), nil
		}
	}
	return 0, nil
}

// Positions lists open swap positions, quantities in base units.
func (c *Client) Positions(ctx context.Context) ([]models.VenuePosition, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")

	var data []struct {
		InstID  string `json:"instId"`
		PosSide string `json:"posSide"`
		Pos     string `json:"pos"`
		AvgPx   string `json:"avgPx"`
		MarkPx  string `json:"markPx"`
		Upl     string `json:"upl"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", q, nil, true, &data); err != nil {
		return nil, err
	}

	out := make([]models.VenuePosition, 0, len(data))
	for _, p := range data {
		sz := parseFloat(p.Pos)
		if sz == 0 {
			continue
		}
		symbol := helper.SymbolFromInstID(p.InstID)
		ct := 1.0
		if meta, err := c.InstrumentMeta(ctx, symbol); err == nil {
			ct = meta.CtVal
		}
		side := models.SideLong
		if p.PosSide == "short" || (p.PosSide == "net" && sz < 0) {
			side = models.SideShort
		}
		if sz < 0 {
			sz = -sz
		}
		out = append(out, models.VenuePosition{
			Symbol:     symbol,
			Side:       side,
			Qty:        sz * ct,
			AvgPrice:   parseFloat(p.AvgPx),
			MarkPrice:  parseFloat(p.MarkPx),
			Unrealized: parseFloat(p.Upl),
		})
	}
	return out, nil
}
