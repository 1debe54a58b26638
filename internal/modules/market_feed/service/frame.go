package service

import (
	"strconv"
	"strings"
	"time"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"

	"github.com/bytedance/sonic"
)

type frame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data [][]string `json:"data"`
}

// parseFrame turns one push message into candles. Control frames (pong,
// subscribe acks, errors) yield no candles; an error event is returned as ev.
func parseFrame(msg []byte) (cs []models.Candle, ev string, err error) {
	if string(msg) == "pong" {
		return nil, "", nil
	}
	var f frame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return nil, "", err
	}
	if f.Event != "" {
		if f.Event == "error" {
			return nil, f.Event + " " + f.Code + ": " + f.Msg, nil
		}
		return nil, "", nil
	}
	if !strings.HasPrefix(f.Arg.Channel, "candle") || len(f.Data) == 0 {
		return nil, "", nil
	}

	key := models.FeedKey{
		Symbol:    helper.SymbolFromInstID(f.Arg.InstID),
		Timeframe: helper.NormTF(f.Arg.Channel),
	}
	tf := helper.TimeframeToDuration(key.Timeframe)

	for _, row := range f.Data {
		// [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
		if len(row) < 6 {
			continue
		}
		tsMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := range vals {
			v, err := strconv.ParseFloat(row[i+1], 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		start := time.UnixMilli(tsMs).UTC()
		cs = append(cs, models.Candle{
			Symbol:    key.Symbol,
			Timeframe: key.Timeframe,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			Start:     start,
			End:       start.Add(tf),
			// confirm is always the last element
			Closed: row[len(row)-1] == "1",
		})
	}
	return cs, "", nil
}

func channelArg(key models.FeedKey) map[string]string {
	bar, err := helper.VenueBar(key.Timeframe)
	if err != nil {
		bar = key.Timeframe
	}
	return map[string]string{
		"channel": "candle" + bar,
		"instId":  helper.InstID(key.Symbol),
	}
}
