package service

import (
	"fmt"
	"strconv"
	"strings"
)

func f2(v float64) string { return fmt.Sprintf("%.2f", v) }

func f4(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func parseUserID(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return v, err == nil && v > 0
}
