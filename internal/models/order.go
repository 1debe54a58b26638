package models

type OrderType string

const (
	OrderLimit  OrderType = "limit"
	OrderMarket OrderType = "market"
)

type OrderState string

const (
	OrderNew       OrderState = "live"
	OrderPartial   OrderState = "partially_filled"
	OrderFilled    OrderState = "filled"
	OrderCancelled OrderState = "canceled"
)

func (s OrderState) Final() bool { return s == OrderFilled || s == OrderCancelled }

// OrderRequest is idempotent on ClientID: the venue refuses a second order
// carrying the same id.
type OrderRequest struct {
	ClientID   string    `json:"client_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Price      float64   `json:"price"`
	Qty        float64   `json:"qty"`
	ReduceOnly bool      `json:"reduce_only"`
}

// OrderStatus is the venue's view of an order.
type OrderStatus struct {
	ClientID  string     `json:"client_id"`
	OrderID   string     `json:"order_id"`
	State     OrderState `json:"state"`
	FilledQty float64    `json:"filled_qty"`
	AvgPrice  float64    `json:"avg_price"`
}

// VenuePosition is an open position as reported by the venue.
type VenuePosition struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Qty        float64 `json:"qty"`
	AvgPrice   float64 `json:"avg_price"`
	MarkPrice  float64 `json:"mark_price"`
	Unrealized float64 `json:"unrealized"`
}

// InstrumentMeta carries the venue's sizing rules for a symbol.
type InstrumentMeta struct {
	Symbol   string  `json:"symbol"`
	TickSize float64 `json:"tick_size"`
	LotSize  float64 `json:"lot_size"`
	MinSize  float64 `json:"min_size"`
	CtVal    float64 `json:"ct_val"` // base units per contract
}
