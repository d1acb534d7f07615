package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perpd/pkg/book"
	"perpd/pkg/events"
	"perpd/pkg/util"
)

var (
	ErrEngineClosed = errors.New("engine: command queue closed")

	ErrInvalidOrderType = errors.New("invalid order type")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrInvalidLeverage  = errors.New("leverage must be between 1x and 125x")
)

var (
	leverageMin = decimal.NewFromInt(1)
	leverageMax = decimal.NewFromInt(125)
)

type Config struct {
	QueueSize int // bounded command queue capacity
	BatchMax  int // max commands drained per tick
}

const (
	defaultQueueSize = 1024
	defaultBatchMax  = 256
)

// Engine is the single-writer scheduler for the order book. Exactly one
// goroutine runs Run; it alone mutates the book. Callers talk to it only
// through Submit and per-command reply channels.
type Engine struct {
	book  *book.Book
	bus   *events.Ring
	log   *zap.SugaredLogger
	clock util.Clock

	mu       sync.RWMutex // guards closed and sends on in
	closed   bool
	in       chan Command
	batchMax int

	markPrice decimal.Decimal // engine goroutine only; kept for risk logic
}

func New(b *book.Book, bus *events.Ring, log *zap.SugaredLogger, clock util.Clock, cfg Config) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = defaultBatchMax
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{
		book:     b,
		bus:      bus,
		log:      log,
		clock:    clock,
		in:       make(chan Command, cfg.QueueSize),
		batchMax: cfg.BatchMax,
	}
}

// Submit enqueues a command, blocking while the queue is full. It fails
// only when the engine has been closed or the caller's context ends.
// A nil return means the command is in the queue and will be applied:
// the read lock is held across the send, so Close cannot close the
// queue underneath an accepted command.
func (e *Engine) Submit(ctx context.Context, cmd Command) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	select {
	case e.in <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close permanently closes the command source. It waits for in-flight
// Submits to land, then closes the queue; the run loop applies every
// command already accepted, then stops. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.in)
}

// Run is the engine loop: block for one command, drain more without
// blocking up to the batch cap, stable-sort by priority, apply in order.
// The stable sort is a correctness requirement — it is what preserves
// arrival order among equal-priority commands in the same tick.
//
// The loop exits when Close has closed the queue and every accepted
// command has been applied, so each one gets its terminal outcome.
// Cancelling ctx is a hard stop that skips the drain; production wiring
// should stop the engine with Close, not the context.
func (e *Engine) Run(ctx context.Context) {
	e.log.Infow("engine started", "batch_max", e.batchMax, "queue_cap", cap(e.in))

	batch := make([]Command, 0, e.batchMax)
	for {
		var first Command
		select {
		case <-ctx.Done():
			e.log.Infow("engine stopped", "reason", "context cancelled")
			return
		case cmd, ok := <-e.in:
			if !ok {
				e.log.Infow("engine stopped", "reason", "command queue closed")
				return
			}
			first = cmd
		}

		batch = append(batch[:0], first)
	fill:
		for len(batch) < e.batchMax {
			select {
			case cmd, ok := <-e.in:
				if !ok {
					// Queue closed and emptied; finish the batch in hand.
					e.processBatch(batch)
					e.log.Infow("engine stopped", "reason", "command queue closed")
					return
				}
				batch = append(batch, cmd)
			default:
				break fill
			}
		}
		e.processBatch(batch)
	}
}

func (e *Engine) processBatch(batch []Command) {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].effectivePriority() < batch[j].effectivePriority()
	})
	for _, cmd := range batch {
		switch cmd.kind {
		case cmdPlace:
			e.handlePlace(cmd)
		case cmdCancel:
			e.handleCancel(cmd)
		case cmdMarkPrice:
			e.markPrice = cmd.mark
		case cmdSnapshot:
			e.handleSnapshot(cmd)
		}
	}
}

func (e *Engine) handlePlace(cmd Command) {
	o := cmd.order
	if err := e.validateOrder(o); err != nil {
		// Both signals: the caller gets the error and the stream gets a
		// rejection record.
		e.reply(cmd, Reply{Err: err})
		e.bus.Push(events.Event{
			Type:      events.OrderRejected,
			OrderID:   o.ID,
			UserID:    o.UserID,
			Reason:    err.Error(),
			Timestamp: e.now(),
		})
		e.log.Debugw("order rejected", "order_id", o.ID, "reason", err.Error())
		return
	}

	original := o.Quantity
	fills, rem := e.book.Match(o)
	for _, f := range fills {
		e.bus.Push(events.FromFill(f))
	}
	if rem != nil {
		e.book.Insert(rem)
		e.bus.Push(events.Event{
			Type:      events.OrderPlaced,
			OrderID:   rem.ID,
			UserID:    rem.UserID,
			Side:      rem.Side,
			Price:     rem.Price,
			Quantity:  rem.Remaining(), // the resting, un-filled quantity
			Timestamp: e.now(),
		})
	}

	totalFilled := decimal.Zero
	for _, f := range fills {
		totalFilled = totalFilled.Add(f.Quantity)
	}
	remaining := original.Sub(totalFilled)
	if remaining.IsNegative() {
		// Matching overfilled the order; book state can no longer be trusted.
		e.log.Panicw("fills exceed order quantity",
			"order_id", o.ID, "quantity", original, "filled", totalFilled)
	}

	e.reply(cmd, Reply{Place: &PlaceResult{
		OrderID:   o.ID,
		Status:    placeStatus(o.Type, totalFilled, remaining),
		Filled:    totalFilled,
		Remaining: remaining,
	}})
}

// placeStatus derives the response status from fill totals. A market order
// that found no liquidity at all is Rejected even though it passed
// validation: it is unfulfillable and was not rested.
func placeStatus(t book.OrderType, filled, remaining decimal.Decimal) OrderStatus {
	switch {
	case filled.IsZero():
		if t == book.Market {
			return StatusRejected
		}
		return StatusNew
	case remaining.IsZero():
		return StatusFullyFilled
	default:
		return StatusPartiallyFilled
	}
}

func (e *Engine) handleCancel(cmd Command) {
	o, err := e.book.Cancel(cmd.orderID, cmd.userID)
	if err != nil {
		e.reply(cmd, Reply{Err: err})
		e.log.Debugw("cancel failed", "order_id", cmd.orderID, "reason", err.Error())
		return
	}
	e.bus.Push(events.Event{
		Type:      events.OrderCancelled,
		OrderID:   o.ID,
		UserID:    o.UserID,
		Timestamp: e.now(),
	})
	e.reply(cmd, Reply{Cancel: &CancelResult{
		OrderID: o.ID,
		UserID:  o.UserID,
		Status:  StatusCancelled,
	}})
}

func (e *Engine) handleSnapshot(cmd Command) {
	e.reply(cmd, Reply{Snapshot: &Snapshot{
		Bids:      e.book.BidLevels(),
		Asks:      e.book.AskLevels(),
		MarkPrice: e.markPrice,
	}})
}

func (e *Engine) validateOrder(o *book.Order) error {
	if o.Type != book.Limit && o.Type != book.Market {
		return ErrInvalidOrderType
	}
	if !o.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if !o.Leverage.IsInteger() || o.Leverage.LessThan(leverageMin) || o.Leverage.GreaterThan(leverageMax) {
		return ErrInvalidLeverage
	}
	return nil
}

// reply fulfills the command's reply slot without ever blocking. A caller
// that stopped listening simply misses the outcome.
func (e *Engine) reply(cmd Command, r Reply) {
	if cmd.reply == nil {
		return
	}
	select {
	case cmd.reply <- r:
	default:
	}
}

func (e *Engine) now() int64 { return e.clock.Now().UnixNano() }
