// Package events delivers wallet-node events to the bot's handlers.
//
// Delivery is serialized: a single goroutine drains the queue and invokes
// every subscribed handler in order, so handlers never run in parallel and
// shared state needs no locking on the handler side. A handler may still
// suspend on a node query or submission, which lets the next event begin
// before the first handler's work is durably finished; handlers are written
// to not leave state half-updated across those boundaries.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbd888/stakebot/internal/ledger"
)

// Event is one of the concrete event types below.
type Event any

// WalletReady fires once when the node reports its wallet is usable.
// FirstAddress is the bot's treasury address; DeviceAddress is the bot's
// own messaging identity, used as the claw-back signer of escrow contracts.
type WalletReady struct {
	FirstAddress  string
	DeviceAddress string
}

// Paired fires when a new device completes pairing.
type Paired struct {
	Device string
	Secret string
}

// MessageReceived fires for every inbound chat message.
type MessageReceived struct {
	Device string
	Text   string
}

// UnconfirmedTransactions fires when new units paying the bot appear,
// before confirmation.
type UnconfirmedTransactions struct {
	Units []ledger.UnitID
}

// TransactionsStable fires when units paying the bot become stable.
type TransactionsStable struct {
	Units []ledger.UnitID
}

// Handler consumes events. Handlers that don't care about an event type
// simply ignore it.
type Handler func(ctx context.Context, ev Event)

// Dispatcher queues events and delivers them to handlers one at a time.
type Dispatcher struct {
	queue    chan Event
	handlers []Handler
	logger   *slog.Logger
	done     chan struct{}
}

// NewDispatcher creates a dispatcher with a buffered queue.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  make(chan Event, 256),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Subscribe registers a handler. Must be called before Run.
func (d *Dispatcher) Subscribe(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Publish enqueues an event for delivery. Blocks if the queue is full so
// node-side ordering is never violated by drops.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.queue <- ev:
	case <-d.done:
	}
}

// Run drains the queue until ctx is cancelled. Call in a goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, h := range d.handlers {
		d.safeInvoke(ctx, h, ev)
	}
}

func (d *Dispatcher) safeInvoke(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in event handler", "event", fmt.Sprintf("%T", ev), "panic", fmt.Sprint(r))
		}
	}()
	h(ctx, ev)
}
