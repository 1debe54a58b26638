package helper

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// NormTF lower-cases a timeframe and folds venue aliases.
func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h":
		return "1h"
	case "240m", "4h":
		return "4h"
	case "1440m", "1d":
		return "1d"
	default:
		return s
	}
}

// NormSymbol upper-cases a base coin and strips any quote/contract suffix.
func NormSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	return s
}

// InstID maps a base coin to the venue's USDT swap instrument.
func InstID(symbol string) string {
	return NormSymbol(symbol) + "-USDT-SWAP"
}

// SymbolFromInstID is the inverse of InstID.
func SymbolFromInstID(instID string) string {
	return NormSymbol(instID)
}

func TimeframeToDuration(tf string) time.Duration {
	switch NormTF(tf) {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}

// VenueBar maps a timeframe to the venue's bar name.
func VenueBar(tf string) (string, error) {
	switch NormTF(tf) {
	case "1m", "3m", "5m", "15m", "30m":
		return NormTF(tf), nil
	case "1h":
		return "1H", nil
	case "4h":
		return "4H", nil
	case "1d":
		return "1D", nil
	}
	return "", fmt.Errorf("unsupported timeframe for venue bar: %q", tf)
}

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-9)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-9)
	return steps * tick
}

// ContainsFold reports whether list holds s, case-insensitively.
func ContainsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
