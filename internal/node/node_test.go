package node

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/stakebot/internal/events"
	"github.com/mbd888/stakebot/internal/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireErrorToErr(t *testing.T) {
	err := wireErrorToErr(&wireError{Code: codeMalformedSignedMessage, Message: "bad payload"})
	assert.ErrorIs(t, err, ledger.ErrMalformedProof)
	assert.Contains(t, err.Error(), "bad payload")

	err = wireErrorToErr(&wireError{Message: "insufficient funds"})
	assert.NotErrorIs(t, err, ledger.ErrMalformedProof)
	assert.Equal(t, "insufficient funds", err.Error())
}

func TestRequestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &RequestError{Method: "send_payment", ID: "abc", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "send_payment")
	assert.Contains(t, err.Error(), "abc")
}

func TestCall_NotConnected(t *testing.T) {
	d := events.NewDispatcher(testLogger())
	c := New("ws://127.0.0.1:1", d, testLogger())

	err := c.call(context.Background(), "issue_address", nil, nil)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "issue_address", reqErr.Method)
	assert.ErrorIs(t, err, ledger.ErrNotConnected)
}

func TestStop_InterruptsReconnectBackoff(t *testing.T) {
	d := events.NewDispatcher(testLogger())
	// Nothing listens on port 1, so every dial fails immediately and Run
	// sits in the retry backoff sleep.
	c := New("ws://127.0.0.1:1", d, testLogger())

	go c.Run(context.Background())
	time.Sleep(200 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on the reconnect backoff")
	}
}

func collect(t *testing.T, d *events.Dispatcher) (<-chan events.Event, context.CancelFunc) {
	t.Helper()
	out := make(chan events.Event, 16)
	d.Subscribe(func(_ context.Context, ev events.Event) { out <- ev })
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	return out, cancel
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return nil
	}
}

func TestPublishEvent_TranslatesNodePushes(t *testing.T) {
	d := events.NewDispatcher(testLogger())
	c := New("ws://127.0.0.1:1", d, testLogger())
	out, cancel := collect(t, d)
	defer cancel()

	push := func(event string, data string) {
		c.publishEvent(frame{Event: event, Data: json.RawMessage(data)})
	}

	push(eventWalletReady, `{"first_address":"TREASURY","device_address":"0BOT"}`)
	assert.Equal(t, events.WalletReady{FirstAddress: "TREASURY", DeviceAddress: "0BOT"}, waitEvent(t, out))

	push(eventPaired, `{"device":"0DEV","secret":"s"}`)
	assert.Equal(t, events.Paired{Device: "0DEV", Secret: "s"}, waitEvent(t, out))

	push(eventText, `{"device":"0DEV","text":"50000"}`)
	assert.Equal(t, events.MessageReceived{Device: "0DEV", Text: "50000"}, waitEvent(t, out))

	push(eventNewUnits, `{"units":["u1","u2"]}`)
	assert.Equal(t, events.UnconfirmedTransactions{Units: []ledger.UnitID{"u1", "u2"}}, waitEvent(t, out))

	push(eventStableUnits, `{"units":["u3"]}`)
	assert.Equal(t, events.TransactionsStable{Units: []ledger.UnitID{"u3"}}, waitEvent(t, out))
}

func TestPublishEvent_BadPayloadDropped(t *testing.T) {
	d := events.NewDispatcher(testLogger())
	c := New("ws://127.0.0.1:1", d, testLogger())
	out, cancel := collect(t, d)
	defer cancel()

	c.publishEvent(frame{Event: eventPaired, Data: json.RawMessage(`not json`)})
	c.publishEvent(frame{Event: "unknown_event", Data: json.RawMessage(`{}`)})

	select {
	case ev := <-out:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
