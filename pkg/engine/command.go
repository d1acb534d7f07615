package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perpd/pkg/book"
)

// Priority orders commands within one drained batch. Lower values run
// first. Cancels and mark-price updates are always Critical: risk-reducing
// operations preempt new risk. Placement priority is a caller hint;
// snapshots are Low so reads yield to every mutation.
type Priority uint8

const (
	Critical Priority = iota
	High
	Normal
	Low
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	}
	return "unknown"
}

type OrderStatus uint8

const (
	StatusNew OrderStatus = iota + 1
	StatusPartiallyFilled
	StatusFullyFilled
	StatusRejected
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "New"
	case StatusPartiallyFilled:
		return "PartiallyFilled"
	case StatusFullyFilled:
		return "FullyFilled"
	case StatusRejected:
		return "Rejected"
	case StatusCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PlaceResult is the terminal outcome of a placement.
type PlaceResult struct {
	OrderID   uuid.UUID
	Status    OrderStatus
	Filled    decimal.Decimal
	Remaining decimal.Decimal
}

// CancelResult is the terminal outcome of a successful cancellation.
type CancelResult struct {
	OrderID uuid.UUID
	UserID  uuid.UUID
	Status  OrderStatus
}

// Snapshot is aggregated book depth plus the current mark price.
type Snapshot struct {
	Bids      []book.LevelSummary
	Asks      []book.LevelSummary
	MarkPrice decimal.Decimal
}

// Reply carries exactly one of the result fields, or Err. Every command
// with a reply slot gets exactly one Reply unless the caller stops waiting.
type Reply struct {
	Place    *PlaceResult
	Cancel   *CancelResult
	Snapshot *Snapshot
	Err      error
}

type commandKind uint8

const (
	cmdPlace commandKind = iota + 1
	cmdCancel
	cmdMarkPrice
	cmdSnapshot
)

// Command is one message to the engine. Build commands with the
// constructors below; the reply channel is single-use and fulfilled at
// most once, by the engine, with a non-blocking send.
type Command struct {
	kind     commandKind
	priority Priority
	order    *book.Order
	orderID  uuid.UUID
	userID   uuid.UUID
	mark     decimal.Decimal
	reply    chan Reply
}

// effectivePriority is the batch sort key. Only placements honor the
// caller-supplied hint.
func (c Command) effectivePriority() Priority {
	switch c.kind {
	case cmdPlace:
		return c.priority
	case cmdSnapshot:
		return Low
	default:
		return Critical
	}
}

func PlaceOrder(o *book.Order, priority Priority) (Command, <-chan Reply) {
	reply := make(chan Reply, 1)
	return Command{kind: cmdPlace, priority: priority, order: o, reply: reply}, reply
}

func CancelOrder(orderID, userID uuid.UUID) (Command, <-chan Reply) {
	reply := make(chan Reply, 1)
	return Command{kind: cmdCancel, orderID: orderID, userID: userID, reply: reply}, reply
}

func UpdateMarkPrice(price decimal.Decimal) Command {
	return Command{kind: cmdMarkPrice, mark: price}
}

func SnapshotBook() (Command, <-chan Reply) {
	reply := make(chan Reply, 1)
	return Command{kind: cmdSnapshot, reply: reply}, reply
}
