package book

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseSide parses the wire representation ("buy"/"sell").
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("invalid side %q", s)
}

type OrderType uint8

const (
	Limit OrderType = iota + 1
	Market
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	}
	return "unknown"
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ParseOrderType parses the wire representation ("limit"/"market").
func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "limit":
		return Limit, nil
	case "market":
		return Market, nil
	}
	return 0, fmt.Errorf("invalid order type %q", s)
}

// Order is a single order as the matching core sees it. Price is meaningful
// only for limit orders; market orders never carry one. Filled is mutated
// exclusively by the matching loop on the engine goroutine.
type Order struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Side     Side
	Type     OrderType
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Filled   decimal.Decimal
	Leverage decimal.Decimal
}

// Remaining is the unfilled quantity. A fill total exceeding the original
// quantity is a matching bug, not an input error, so it panics.
func (o *Order) Remaining() decimal.Decimal {
	return mustSub(o.Quantity, o.Filled)
}

// Fill records one match between an aggressing and a resting order.
type Fill struct {
	TakerOrderID uuid.UUID
	MakerOrderID uuid.UUID
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Timestamp    int64 // unix nanos
}

func mustSub(a, b decimal.Decimal) decimal.Decimal {
	d := a.Sub(b)
	if d.IsNegative() {
		panic(fmt.Sprintf("book: quantity underflow: %s - %s", a, b))
	}
	return d
}
