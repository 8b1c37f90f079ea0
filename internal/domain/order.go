package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of a signal, order or fill.
type Side string

// Side constants
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for buy and -1 for sell.
func (s Side) Sign() decimal.Decimal {
	if s == SideBuy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType is market or limit.
type OrderType string

// Order type constants
const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce governs how long an unfilled order stays live.
type TimeInForce string

// Time-in-force constants
const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
)

// Signal is a trade intent produced by a strategy. Never mutated.
type Signal struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Quantity    decimal.Decimal
	LimitPrice  *decimal.Decimal // required iff Type == limit
	TimeInForce TimeInForce
}

// Validate checks the signal shape. Returns *ConfigurationError on failure.
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return NewConfigurationError("symbol", "empty")
	}
	if !s.Side.Valid() {
		return NewConfigurationError("side", fmt.Sprintf("unknown side %q", s.Side))
	}
	if !s.Quantity.IsPositive() {
		return NewConfigurationError("quantity", "must be > 0")
	}
	switch s.Type {
	case OrderTypeMarket:
		if s.LimitPrice != nil {
			return NewConfigurationError("limit_price", "not allowed on market order")
		}
	case OrderTypeLimit:
		if s.LimitPrice == nil {
			return NewConfigurationError("limit_price", "required for limit order")
		}
		if !s.LimitPrice.IsPositive() {
			return NewConfigurationError("limit_price", "must be > 0")
		}
	default:
		return NewConfigurationError("order_type", fmt.Sprintf("unknown order type %q", s.Type))
	}
	switch s.TimeInForce {
	case TimeInForceGTC, TimeInForceIOC:
	default:
		return NewConfigurationError("time_in_force", fmt.Sprintf("unknown time in force %q", s.TimeInForce))
	}
	return nil
}

// OrderStatus is the order lifecycle state.
type OrderStatus string

// Order status constants
const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderEvent drives the order state machine.
type OrderEvent string

// Order events
const (
	OrderEventPartialFill OrderEvent = "partial_fill"
	OrderEventFill        OrderEvent = "fill"
	OrderEventCancel      OrderEvent = "cancel"
	OrderEventReject      OrderEvent = "reject"
)

// TransitionOrder is the single transition function for order status.
//
//	new              --partial_fill--> partially_filled
//	new              --fill----------> filled
//	new              --cancel--------> cancelled
//	new              --reject--------> rejected
//	partially_filled --partial_fill--> partially_filled
//	partially_filled --fill----------> filled
//	partially_filled --cancel--------> cancelled
func TransitionOrder(from OrderStatus, ev OrderEvent) (OrderStatus, error) {
	switch from {
	case OrderStatusNew:
		switch ev {
		case OrderEventPartialFill:
			return OrderStatusPartiallyFilled, nil
		case OrderEventFill:
			return OrderStatusFilled, nil
		case OrderEventCancel:
			return OrderStatusCancelled, nil
		case OrderEventReject:
			return OrderStatusRejected, nil
		}
	case OrderStatusPartiallyFilled:
		switch ev {
		case OrderEventPartialFill:
			return OrderStatusPartiallyFilled, nil
		case OrderEventFill:
			return OrderStatusFilled, nil
		case OrderEventCancel:
			return OrderStatusCancelled, nil
		}
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

// Order is created from an accepted Signal.
// Only the simulation loop mutates orders, through Apply* methods.
type Order struct {
	ID               int64
	Symbol           string
	Side             Side
	Type             OrderType
	Quantity         decimal.Decimal
	LimitPrice       *decimal.Decimal
	TimeInForce      TimeInForce
	Status           OrderStatus
	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal
	CreatedAt        int64  // timestamp of the bar the order was created on (ms)
	Reason           string // cancel/reject reason, empty otherwise
	Liquidation      bool   // synthetic kill-switch flatten order
}

// NewOrder builds a new order from a validated signal.
func NewOrder(id int64, sig *Signal, createdAt int64) *Order {
	o := &Order{
		ID:             id,
		Symbol:         sig.Symbol,
		Side:           sig.Side,
		Type:           sig.Type,
		Quantity:       sig.Quantity,
		TimeInForce:    sig.TimeInForce,
		Status:         OrderStatusNew,
		FilledQuantity: decimal.Zero,
		CreatedAt:      createdAt,
	}
	if sig.LimitPrice != nil {
		lp := *sig.LimitPrice
		o.LimitPrice = &lp
	}
	return o
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Live reports whether the order can still fill.
func (o *Order) Live() bool { return !o.Status.Terminal() }

// ApplyFill records a fill against the order, updating the running
// average fill price and advancing the status.
func (o *Order) ApplyFill(f *Fill) error {
	if f.Quantity.GreaterThan(o.Remaining()) {
		return fmt.Errorf("%w: fill %s exceeds remaining %s on order %d",
			ErrInvalidTransition, f.Quantity, o.Remaining(), o.ID)
	}
	ev := OrderEventPartialFill
	if f.Quantity.Equal(o.Remaining()) {
		ev = OrderEventFill
	}
	next, err := TransitionOrder(o.Status, ev)
	if err != nil {
		return err
	}

	filled := o.FilledQuantity.Add(f.Quantity)
	notional := o.AverageFillPrice.Mul(o.FilledQuantity).Add(f.Price.Mul(f.Quantity))
	o.AverageFillPrice = notional.Div(filled)
	o.FilledQuantity = filled
	o.Status = next
	return nil
}

// Cancel moves a live order to cancelled.
func (o *Order) Cancel(reason string) error {
	next, err := TransitionOrder(o.Status, OrderEventCancel)
	if err != nil {
		return err
	}
	o.Status = next
	o.Reason = reason
	return nil
}

// Reject moves a new order to rejected.
func (o *Order) Reject(reason string) error {
	next, err := TransitionOrder(o.Status, OrderEventReject)
	if err != nil {
		return err
	}
	o.Status = next
	o.Reason = reason
	return nil
}
