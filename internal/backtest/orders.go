package backtest

import (
	"trading-sim-lab/internal/domain"
)

// orderBook holds every order of a run. Live orders are kept in creation
// order, which is also the order they are evaluated in.
type orderBook struct {
	all  []*domain.Order
	byID map[int64]*domain.Order
	live []*domain.Order
}

func newOrderBook() *orderBook {
	return &orderBook{byID: make(map[int64]*domain.Order)}
}

func (b *orderBook) add(o *domain.Order) {
	b.all = append(b.all, o)
	b.byID[o.ID] = o
	if o.Live() {
		b.live = append(b.live, o)
	}
}

func (b *orderBook) get(id int64) (*domain.Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// liveFor returns live orders for symbol, or all live orders when symbol is empty.
func (b *orderBook) liveFor(symbol string) []*domain.Order {
	var out []*domain.Order
	for _, o := range b.live {
		if o.Live() && (symbol == "" || o.Symbol == symbol) {
			out = append(out, o)
		}
	}
	return out
}

// prune drops terminal orders from the live list.
func (b *orderBook) prune() {
	kept := b.live[:0]
	for _, o := range b.live {
		if o.Live() {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(b.live); i++ {
		b.live[i] = nil
	}
	b.live = kept
}

func copyOrders(orders []*domain.Order) []domain.Order {
	out := make([]domain.Order, len(orders))
	for i, o := range orders {
		out[i] = *o
		if o.LimitPrice != nil {
			lp := *o.LimitPrice
			out[i].LimitPrice = &lp
		}
	}
	return out
}
