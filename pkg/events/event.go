package events

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perpd/pkg/book"
)

type Type uint8

const (
	OrderPlaced Type = iota + 1
	OrderFill
	OrderCancelled
	OrderRejected
)

func (t Type) String() string {
	switch t {
	case OrderPlaced:
		return "order_placed"
	case OrderFill:
		return "fill"
	case OrderCancelled:
		return "order_cancelled"
	case OrderRejected:
		return "order_rejected"
	}
	return "unknown"
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Event is an immutable domain event record. The engine is the only
// producer; consumers read it from the Ring and must not modify it.
// OrderID is the subject order (the aggressor for fills); MakerOrderID is
// set for fills only, Reason for rejections only.
type Event struct {
	Type         Type            `json:"type"`
	OrderID      uuid.UUID       `json:"orderId"`
	UserID       uuid.UUID       `json:"userId,omitzero"`
	Side         book.Side       `json:"side,omitempty"`
	Price        decimal.Decimal `json:"price,omitzero"`
	Quantity     decimal.Decimal `json:"quantity,omitzero"`
	MakerOrderID uuid.UUID       `json:"makerOrderId,omitzero"`
	Reason       string          `json:"reason,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

// FromFill builds the event form of a match.
func FromFill(f book.Fill) Event {
	return Event{
		Type:         OrderFill,
		OrderID:      f.TakerOrderID,
		MakerOrderID: f.MakerOrderID,
		Price:        f.Price,
		Quantity:     f.Quantity,
		Timestamp:    f.Timestamp,
	}
}
