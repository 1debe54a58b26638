package service

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
)

const maxCandlesPerPage = 300

// History returns up to limit closed candles, oldest first. It pages
// backwards through the venue's candle endpoint.
func (c *Client) History(ctx context.Context, key models.FeedKey, limit int) ([]models.Candle, error) {
	bar, err := helper.VenueBar(key.Timeframe)
	if err != nil {
		return nil, err
	}
	tf := helper.TimeframeToDuration(key.Timeframe)

	var out []models.Candle
	after := ""
	for len(out) < limit {
		q := url.Values{}
		q.Set("instId", helper.InstID(key.Symbol))
		q.Set("bar", bar)
		want := min(maxCandlesPerPage, limit-len(out)+1)
		q.Set("limit", strconv.Itoa(want))
		if after != "" {
			q.Set("after", after)
		}

		var rows [][]string
		if err := c.do(ctx, http.MethodGet, "/api/v5/market/candles", q, nil, false, &rows); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			cd, ok := parseCandleRow(key, tf, r)
			if !ok {
				continue
			}
			after = strconv.FormatInt(cd.Start.UnixMilli(), 10)
			if cd.Closed {
				out = append(out, cd)
			}
		}
		if len(rows) < want {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// parseCandleRow reads [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
func parseCandleRow(key models.FeedKey, tf time.Duration, r []string) (models.Candle, bool) {
	if len(r) < 6 {
		return models.Candle{}, false
	}
	ms, err := strconv.ParseInt(r[0], 10, 64)
	if err != nil {
		return models.Candle{}, false
	}
	start := time.UnixMilli(ms).UTC()
	cd := models.Candle{
		Symbol:    key.Symbol,
		Timeframe: key.Timeframe,
		Open:      parseFloat(r[1]),
		High:      parseFloat(r[2]),
		Low:       parseFloat(r[3]),
		Close:     parseFloat(r[4]),
		Volume:    parseFloat(r[5]),
		Start:     start,
		End:       start.Add(tf),
		Closed:    len(r) < 9 || r[8] == "1",
	}
	return cd, true
}
