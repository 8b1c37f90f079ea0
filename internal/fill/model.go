package fill

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-sim-lab/internal/domain"
)

// Model errors
var (
	ErrSymbolMismatch = errors.New("order symbol does not match bar symbol")
	ErrOrderNotLive   = errors.New("order is not live")
)

// Result is the outcome of evaluating one order against one bar.
// The model never mutates the order; the caller applies Fill and Cancel.
type Result struct {
	Fill         *domain.Fill // nil when nothing filled
	Cancel       bool         // unfilled remainder must be cancelled
	CancelReason string
}

// Cancel reasons
const (
	CancelReasonIOCNotCrossed = "ioc: not crossed within bar"
	CancelReasonIOCRemainder  = "ioc: remainder after partial fill"
	CancelReasonIOCNoVolume   = "ioc: no volume available"
)

// Model turns orders and bars into fills.
type Model struct {
	cfg Config
}

// NewModel validates cfg and creates a Model.
func NewModel(cfg Config) (*Model, error) {
	if cfg.Slippage.Kind == "" {
		cfg.Slippage.Kind = SlippageNone
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{cfg: cfg}, nil
}

// Config returns the model configuration.
func (m *Model) Config() Config { return m.cfg }

// Mode returns the market order reference mode.
func (m *Model) Mode() Mode { return m.cfg.Mode }

// ValidateOrder checks an order before it is accepted.
// ref is the price used for the minimum-notional check.
func (m *Model) ValidateOrder(o *domain.Order, ref decimal.Decimal) error {
	if err := validateShape(o); err != nil {
		return err
	}
	if m.cfg.MinNotional.IsPositive() && o.Quantity.Mul(ref).LessThan(m.cfg.MinNotional) {
		return domain.NewConfigurationError("quantity",
			fmt.Sprintf("notional %s below minimum %s", o.Quantity.Mul(ref).String(), m.cfg.MinNotional.String()))
	}
	return nil
}

func validateShape(o *domain.Order) error {
	if !o.Quantity.IsPositive() {
		return domain.NewConfigurationError("quantity", "must be > 0")
	}
	if o.Type == domain.OrderTypeLimit && o.LimitPrice == nil {
		return domain.NewConfigurationError("limit_price", "required for limit order")
	}
	if o.LimitPrice != nil && !o.LimitPrice.IsPositive() {
		return domain.NewConfigurationError("limit_price", "must be > 0")
	}
	return nil
}

// Evaluate runs a resting order against a bar. The bar open is both the
// market reference and the gap-through price for limits.
func (m *Model) Evaluate(o *domain.Order, bar *domain.Bar) (Result, error) {
	return m.evaluate(o, bar, bar.Open, true)
}

// EvaluateOnArrival runs a just-accepted order against the bar it was
// created on. The order exists from the bar close, so the close replaces
// the open as reference. Limit orders are checked against the bar range in
// every mode. Market orders fill here only in same-bar mode; in next-open
// mode the result is empty and the order waits for the next bar.
func (m *Model) EvaluateOnArrival(o *domain.Order, bar *domain.Bar) (Result, error) {
	if o.Type == domain.OrderTypeMarket && m.cfg.Mode != ModeSameBar {
		return Result{}, nil
	}
	return m.evaluate(o, bar, bar.Close, true)
}

// Liquidate fills the whole remainder of a market order at the bar close
// with slippage and taker fee, ignoring the participation cap.
func (m *Model) Liquidate(o *domain.Order, bar *domain.Bar) (Result, error) {
	if o.Type != domain.OrderTypeMarket {
		return Result{}, domain.NewConfigurationError("order_type", "liquidation requires a market order")
	}
	return m.evaluate(o, bar, bar.Close, false)
}

// evaluate prices o against bar. ref is the market reference and the
// price a limit gaps through at.
func (m *Model) evaluate(o *domain.Order, bar *domain.Bar, ref decimal.Decimal, capped bool) (Result, error) {
	if o.Symbol != bar.Symbol {
		return Result{}, fmt.Errorf("%w: order %d for %s, bar for %s", ErrSymbolMismatch, o.ID, o.Symbol, bar.Symbol)
	}
	if !o.Live() {
		return Result{}, fmt.Errorf("%w: order %d is %s", ErrOrderNotLive, o.ID, o.Status)
	}
	if err := validateShape(o); err != nil {
		return Result{}, err
	}

	remaining := o.Remaining()
	ioc := o.TimeInForce == domain.TimeInForceIOC

	price, liq, crossed := m.reference(o, bar, ref)
	if !crossed {
		if ioc {
			return Result{Cancel: true, CancelReason: CancelReasonIOCNotCrossed}, nil
		}
		return Result{}, nil
	}
	if !price.IsPositive() {
		return Result{}, domain.NewConfigurationError("slippage",
			fmt.Sprintf("slipped price %s is not positive for %s", price.String(), o.Symbol))
	}

	qty := remaining
	if capped && m.cfg.ParticipationRate.IsPositive() {
		limit := bar.Volume.Mul(m.cfg.ParticipationRate).RoundDown(m.cfg.QuantityScale)
		if limit.LessThan(qty) {
			qty = limit
		}
	}
	if !qty.IsPositive() {
		if ioc {
			return Result{Cancel: true, CancelReason: CancelReasonIOCNoVolume}, nil
		}
		return Result{}, nil
	}

	price = price.RoundBank(m.cfg.PriceScale)
	rate := m.cfg.Fees.Rate(o.Symbol, liq)
	fee := rate.Mul(price).Mul(qty).RoundBank(m.cfg.FeeScale)
	partial := qty.LessThan(remaining)

	res := Result{
		Fill: &domain.Fill{
			OrderID:   o.ID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Price:     price,
			Quantity:  qty,
			Fee:       fee,
			Timestamp: bar.Timestamp,
			IsPartial: partial,
			Liquidity: liq,
		},
	}
	if partial && ioc {
		res.Cancel = true
		res.CancelReason = CancelReasonIOCRemainder
	}
	return res, nil
}

// reference returns the execution price before rounding, the liquidity
// flag and whether the order crosses the bar at all.
//
// Limit orders fill at ref when it is already through the limit (taker),
// otherwise at the limit price when the range touches it (maker).
func (m *Model) reference(o *domain.Order, bar *domain.Bar, ref decimal.Decimal) (decimal.Decimal, domain.Liquidity, bool) {
	if o.Type == domain.OrderTypeMarket {
		return m.cfg.Slippage.Apply(ref, o.Side), domain.LiquidityTaker, true
	}

	limit := *o.LimitPrice
	if o.Side == domain.SideBuy {
		if ref.LessThanOrEqual(limit) {
			return ref, domain.LiquidityTaker, true
		}
		if bar.Low.LessThanOrEqual(limit) {
			return limit, domain.LiquidityMaker, true
		}
		return decimal.Zero, "", false
	}

	if ref.GreaterThanOrEqual(limit) {
		return ref, domain.LiquidityTaker, true
	}
	if bar.High.GreaterThanOrEqual(limit) {
		return limit, domain.LiquidityMaker, true
	}
	return decimal.Zero, "", false
}
