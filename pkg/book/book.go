package book

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"perpd/pkg/util"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrNotOrderOwner = errors.New("order belongs to another user")
)

// priceLevel is all resting orders at one exact price on one side.
// The slice is FIFO: arrival order equals time priority.
type priceLevel struct {
	price  decimal.Decimal
	orders []*Order
}

// LevelSummary is an aggregated view of a price level (for snapshots).
type LevelSummary struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Book is the per-symbol matching structure. It has no internal locking:
// exclusivity is guaranteed by the engine's single-consumer command queue,
// and nothing outside the engine goroutine may call its methods.
type Book struct {
	bids  *btree.BTreeG[*priceLevel]
	asks  *btree.BTreeG[*priceLevel]
	index map[uuid.UUID]*Order
	clock util.Clock
}

func levelLess(a, b *priceLevel) bool { return a.price.LessThan(b.price) }

func New(clock util.Clock) *Book {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Book{
		bids:  btree.NewBTreeG(levelLess),
		asks:  btree.NewBTreeG(levelLess),
		index: make(map[uuid.UUID]*Order),
		clock: clock,
	}
}

// Match matches the incoming order against the opposite side, best price
// first, FIFO within a level. It returns the fills in generation order and,
// for a limit order with unmatched quantity, the order itself as remainder
// to be rested via Insert. Market remainders are discarded: market orders
// never rest.
func (b *Book) Match(o *Order) ([]Fill, *Order) {
	var fills []Fill
	for o.Remaining().IsPositive() {
		lvl, ok := b.bestOpposite(o)
		if !ok {
			break
		}
		if o.Type == Limit && !b.crosses(o, lvl.price) {
			break
		}

		maker := lvl.orders[0]
		qty := decimal.Min(o.Remaining(), maker.Remaining())
		o.Filled = o.Filled.Add(qty)
		maker.Filled = maker.Filled.Add(qty)
		fills = append(fills, Fill{
			TakerOrderID: o.ID,
			MakerOrderID: maker.ID,
			Price:        lvl.price,
			Quantity:     qty,
			Timestamp:    b.clock.Now().UnixNano(),
		})

		if maker.Remaining().IsZero() {
			lvl.orders = lvl.orders[1:]
			delete(b.index, maker.ID)
			if len(lvl.orders) == 0 {
				b.oppositeTree(o).Delete(lvl)
			}
		}
	}

	if o.Type == Limit && o.Remaining().IsPositive() {
		return fills, o
	}
	return fills, nil
}

// Insert rests a limit order at the tail of its price level, creating the
// level if needed. Calling it with a market order is a programming error.
func (b *Book) Insert(o *Order) {
	if o.Type != Limit {
		panic(fmt.Sprintf("book: cannot rest %s order %s", o.Type, o.ID))
	}
	tree := b.bids
	if o.Side == Sell {
		tree = b.asks
	}
	key := &priceLevel{price: o.Price}
	lvl, ok := tree.Get(key)
	if !ok {
		lvl = key
		tree.Set(lvl)
	}
	lvl.orders = append(lvl.orders, o)
	b.index[o.ID] = o
}

// Cancel removes a resting order. It fails with ErrOrderNotFound if the id
// is not resting and ErrNotOrderOwner if userID does not own it; the book
// is untouched on failure.
func (b *Book) Cancel(orderID, userID uuid.UUID) (*Order, error) {
	o, ok := b.index[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.UserID != userID {
		return nil, ErrNotOrderOwner
	}

	tree := b.bids
	if o.Side == Sell {
		tree = b.asks
	}
	lvl, ok := tree.Get(&priceLevel{price: o.Price})
	if !ok {
		panic(fmt.Sprintf("book: indexed order %s has no price level", orderID))
	}
	for i, resting := range lvl.orders {
		if resting.ID == orderID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
	if len(lvl.orders) == 0 {
		tree.Delete(lvl)
	}
	delete(b.index, orderID)
	return o, nil
}

// Contains reports whether an order id is resting in the book.
func (b *Book) Contains(orderID uuid.UUID) bool {
	_, ok := b.index[orderID]
	return ok
}

// Len is the number of resting orders.
func (b *Book) Len() int { return len(b.index) }

// BidLevels returns aggregated bid depth, best (highest) price first.
// Quantities are unfilled remainders.
func (b *Book) BidLevels() []LevelSummary {
	out := make([]LevelSummary, 0, b.bids.Len())
	b.bids.Reverse(func(lvl *priceLevel) bool {
		out = append(out, summarize(lvl))
		return true
	})
	return out
}

// AskLevels returns aggregated ask depth, best (lowest) price first.
func (b *Book) AskLevels() []LevelSummary {
	out := make([]LevelSummary, 0, b.asks.Len())
	b.asks.Scan(func(lvl *priceLevel) bool {
		out = append(out, summarize(lvl))
		return true
	})
	return out
}

func summarize(lvl *priceLevel) LevelSummary {
	total := decimal.Zero
	for _, o := range lvl.orders {
		total = total.Add(o.Remaining())
	}
	return LevelSummary{Price: lvl.price, Quantity: total}
}

// bestOpposite is the most aggressive opposite level: lowest ask for a buy,
// highest bid for a sell.
func (b *Book) bestOpposite(o *Order) (*priceLevel, bool) {
	if o.Side == Buy {
		return b.asks.Min()
	}
	return b.bids.Max()
}

func (b *Book) oppositeTree(o *Order) *btree.BTreeG[*priceLevel] {
	if o.Side == Buy {
		return b.asks
	}
	return b.bids
}

// crosses reports whether a limit order may trade at the given opposite price.
func (b *Book) crosses(o *Order, price decimal.Decimal) bool {
	if o.Side == Buy {
		return price.LessThanOrEqual(o.Price)
	}
	return price.GreaterThanOrEqual(o.Price)
}
