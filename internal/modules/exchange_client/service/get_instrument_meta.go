package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
)

type instrument struct {
	InstID string `json:"instId"`
	TickSz string `json:"tickSz"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	CtVal  string `json:"ctVal"`
	CtMult string `json:"ctMult"`
	State  string `json:"state"`
}

// InstrumentMeta returns tick and lot rules in base units. Results are cached
// for the client's lifetime.
func (c *Client) InstrumentMeta(ctx context.Context, symbol string) (models.InstrumentMeta, error) {
	symbol = helper.NormSymbol(symbol)
	c.mu.RLock()
	m, ok := c.meta[symbol]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", helper.InstID(symbol))

	var data []instrument
	if err := c.do(ctx, http.MethodGet, "/api/v5/public/instruments", q, nil, false, &data); err != nil {
		return models.InstrumentMeta{}, err
	}
	if len(data) == 0 {
		return models.InstrumentMeta{}, fmt.Errorf("instrument %s not found", helper.InstID(symbol))
	}
	inst := data[0]
	if inst.State != "" && inst.State != "live" {
		return models.InstrumentMeta{}, fmt.Errorf("instrument %s not live: state=%s", inst.InstID, inst.State)
	}

	ctVal := parseFloat(inst.CtVal)
	if mult := parseFloat(inst.CtMult); mult > 0 {
		ctVal *= mult
	}
	if ctVal <= 0 {
		ctVal = 1
	}
	m = models.InstrumentMeta{
		Symbol:   symbol,
		TickSize: parseFloat(inst.TickSz),
		LotSize:  parseFloat(inst.LotSz) * ctVal,
		MinSize:  parseFloat(inst.MinSz) * ctVal,
		CtVal:    ctVal,
	}
	if m.TickSize <= 0 || m.LotSize <= 0 {
		return models.InstrumentMeta{}, fmt.Errorf("instrument %s: bad tick/lot %q/%q", inst.InstID, inst.TickSz, inst.LotSz)
	}

	c.mu.Lock()
	c.meta[symbol] = m
	c.mu.Unlock()
	return m, nil
}
