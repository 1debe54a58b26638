package models

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfigRejected: a user-facing config field could not be applied.
	ErrConfigRejected = errors.New("config rejected")
	// ErrVenueRejected: the venue refused an order. Aborts that entry only.
	ErrVenueRejected = errors.New("venue rejected")
	// ErrVenueTimeout: no answer from the venue. The order may or may not exist.
	ErrVenueTimeout = errors.New("venue timeout")
	// ErrOrderNotFound: the venue has no order under the client id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrFeedGap: a candle was missing, stale or malformed and got dropped.
	ErrFeedGap = errors.New("feed gap")
	// ErrInstanceCrash: a user's session died or stopped heartbeating.
	ErrInstanceCrash = errors.New("instance crash")

	ErrNotFound        = errors.New("not found")
	ErrNoOpenPosition  = errors.New("no open position")
	ErrInstanceStopped = errors.New("instance not running")
)

// IsVenueTimeout reports whether err means the outcome of a venue call is unknown.
func IsVenueTimeout(err error) bool {
	return errors.Is(err, ErrVenueTimeout)
}

// ErrDuplicateOrder: the venue already holds an order under this client id.
var ErrDuplicateOrder = errors.New("duplicate client order id")
