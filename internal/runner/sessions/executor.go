package sessions

import (
	"context"
	"fmt"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/modules/metrics"
	"fibo_bot/pkg/logger"

	"github.com/pkg/errors"
)

// OKX accepts up to 32 alphanumerics in clOrdId; the intent id takes
// models.IntentIDLen of them and the tag gets the rest.
const (
	maxClientIDLen = 32
	maxTagLen      = maxClientIDLen - models.IntentIDLen
)

// clientID derives a deterministic order id from the leg tag and the intent,
// so a retry of the same leg always carries the same id. The intent part is
// never cut; an over-long tag keeps its tail, where the sequence number is.
func clientID(tag, intentID string) string {
	if len(tag) > maxTagLen {
		tag = tag[len(tag)-maxTagLen:]
	}
	return tag + intentID
}

// submit places an order exactly once per client id. On an unknown outcome
// it polls the venue for the id before trying again, so a second live order
// is never created.
func (s *UserSession) submit(ctx context.Context, leg string, req models.OrderRequest) (models.OrderStatus, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opt.MaxRetries; attempt++ {
		st, err := s.gw.PlaceOrder(ctx, req)
		switch {
		case err == nil:
			metrics.Orders.WithLabelValues(leg, "placed").Inc()
			if st.ClientID == "" {
				st.ClientID = req.ClientID
			}
			return st, nil
		case errors.Is(err, models.ErrDuplicateOrder):
			// an earlier attempt went through
			return s.lookup(ctx, req)
		case !models.IsVenueTimeout(err):
			metrics.Orders.WithLabelValues(leg, "rejected").Inc()
			return models.OrderStatus{}, err
		}

		lastErr = err
		logger.Warn("[GW] user=%d %s %s timed out (attempt %d): %v", s.userID, leg, req.ClientID, attempt+1, err)

		st, perr := s.lookup(ctx, req)
		if perr == nil {
			metrics.Orders.WithLabelValues(leg, "recovered").Inc()
			return st, nil
		}
		if !errors.Is(perr, models.ErrOrderNotFound) {
			// still unknown: leave the id recorded and let the order poll settle it
			metrics.Orders.WithLabelValues(leg, "unknown").Inc()
			return models.OrderStatus{}, perr
		}
	}
	metrics.Orders.WithLabelValues(leg, "timeout").Inc()
	return models.OrderStatus{}, errors.Wrapf(models.ErrVenueTimeout, "%s %s after %d attempts: %v", leg, req.ClientID, s.opt.MaxRetries+1, lastErr)
}

// lookup polls the venue for a client id. It returns ErrOrderNotFound only
// when every poll said so.
func (s *UserSession) lookup(ctx context.Context, req models.OrderRequest) (models.OrderStatus, error) {
	var lastErr error
	for i := 0; i < s.opt.PollAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return models.OrderStatus{}, ctx.Err()
			case <-time.After(s.opt.PollBackoff):
			}
		}
		st, err := s.gw.GetOrder(ctx, req.Symbol, req.ClientID)
		if err == nil {
			if st.ClientID == "" {
				st.ClientID = req.ClientID
			}
			return st, nil
		}
		lastErr = err
		if !errors.Is(err, models.ErrOrderNotFound) && !models.IsVenueTimeout(err) {
			return models.OrderStatus{}, err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no poll attempts configured")
	}
	return models.OrderStatus{}, lastErr
}

// marketClose sends a reduce-only market order and returns the filled
// quantity and average price. fallbackPx prices the fill when the venue
// does not report one.
func (s *UserSession) marketClose(ctx context.Context, p *models.Position, tag string, qty, fallbackPx float64) (float64, float64, error) {
	req := models.OrderRequest{
		ClientID:   clientID(tag, p.ID),
		Symbol:     p.Symbol,
		Side:       p.Side,
		Type:       models.OrderMarket,
		Qty:        qty,
		ReduceOnly: true,
	}
	st, err := s.submit(ctx, tag, req)
	if err != nil {
		return 0, 0, err
	}
	if st.State != models.OrderFilled {
		// market orders settle quickly, one more look is enough
		if again, err := s.lookup(ctx, req); err == nil {
			st = again
		}
	}
	filled, px := st.FilledQty, st.AvgPrice
	if filled <= 0 {
		filled = qty
	}
	if px <= 0 {
		px = fallbackPx
	}
	return filled, px, nil
}
