package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/stakebot/internal/ledger"
	"github.com/mbd888/stakebot/internal/session"
)

const (
	testDevice   = "0TESTDEVICEADDRESS"
	otherDevice  = "0OTHERDEVICEADDRESS"
	depositAddr  = "DEPOSITDEPOSITDEPOSITDEPOSITDEPO"
	destAddr     = "DESTDESTDESTDESTDESTDESTDESTDEST"
	escrowAddr   = "ESCROWESCROWESCROWESCROWESCROWES"
	linkedAddr   = "LINKEDLINKEDLINKEDLINKEDLINKEDLI"
	treasuryAddr = "TREASURYTREASURYTREASURYTREASURY"
)

type fakeQuerier struct {
	aggregated []ledger.Output
	err        error
}

func (f *fakeQuerier) QueryOutputs(context.Context, []ledger.UnitID, string) ([]ledger.Output, error) {
	return nil, errors.New("settlement must use the aggregated query")
}

func (f *fakeQuerier) QueryOutputsAggregated(context.Context, []ledger.UnitID, string) ([]ledger.Output, error) {
	return f.aggregated, f.err
}

type multiCall struct {
	payment ledger.MultiPayment
}

type directCall struct {
	from, to, via string
	amount        int64
}

type fakeSender struct {
	multiCalls  []multiCall
	directCalls []directCall
	multiErr    error
	directErr   error
}

func (f *fakeSender) SendMultiPayment(_ context.Context, p ledger.MultiPayment) (ledger.UnitID, error) {
	f.multiCalls = append(f.multiCalls, multiCall{payment: p})
	if f.multiErr != nil {
		return "", f.multiErr
	}
	return "unit-multi", nil
}

func (f *fakeSender) SendPayment(_ context.Context, from, to string, amount int64, via string) (ledger.UnitID, error) {
	f.directCalls = append(f.directCalls, directCall{from: from, to: to, amount: amount, via: via})
	if f.directErr != nil {
		return "", f.directErr
	}
	return "unit-direct", nil
}

type fakeMessenger struct {
	sent map[string][]string
}

func (m *fakeMessenger) SendText(_ context.Context, device, text string) error {
	if m.sent == nil {
		m.sent = make(map[string][]string)
	}
	m.sent[device] = append(m.sent[device], text)
	return nil
}

type fixture struct {
	engine    *Engine
	store     *session.MemoryStore
	querier   *fakeQuerier
	sender    *fakeSender
	messenger *fakeMessenger
}

func newFixture(t *testing.T, maxOutputs int) *fixture {
	t.Helper()
	f := &fixture{
		store:     session.NewMemoryStore(),
		querier:   &fakeQuerier{},
		sender:    &fakeSender{},
		messenger: &fakeMessenger{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = New(Config{
		WithdrawalFee:        1000,
		RewardBPS:            200,
		MaxOutputsPerMessage: maxOutputs,
	}, f.store, f.querier, f.sender, f.messenger, logger)
	f.engine.SetTreasury(treasuryAddr)
	return f
}

func (f *fixture) bindForward(t *testing.T, address, device, destination string) {
	t.Helper()
	_, err := f.store.EnsureSession(context.Background(), device)
	require.NoError(t, err)
	require.NoError(t, f.store.BindDeposit(context.Background(), &session.DepositAddress{
		Address:     address,
		DeviceID:    device,
		Destination: destination,
		Kind:        session.DepositForward,
	}))
}

func (f *fixture) bindStake(t *testing.T, address, device, linked string) {
	t.Helper()
	_, err := f.store.EnsureSession(context.Background(), device)
	require.NoError(t, err)
	if linked != "" {
		require.NoError(t, f.store.LinkAddress(context.Background(), device, linked))
	}
	require.NoError(t, f.store.BindDeposit(context.Background(), &session.DepositAddress{
		Address:  address,
		DeviceID: device,
		Kind:     session.DepositStake,
	}))
}

func units() []ledger.UnitID { return []ledger.UnitID{"unit1", "unit2"} }

func TestHandleStable_ForwardFeeArithmetic(t *testing.T) {
	f := newFixture(t, 128)
	f.bindForward(t, depositAddr, testDevice, destAddr)
	f.querier.aggregated = []ledger.Output{{Address: depositAddr, Amount: 10000}}

	f.engine.HandleStable(context.Background(), units())

	require.Len(t, f.sender.multiCalls, 1)
	payment := f.sender.multiCalls[0].payment
	assert.Equal(t, treasuryAddr, payment.ChangeAddress)
	require.Len(t, payment.Outputs, 1)
	assert.Equal(t, destAddr, payment.Outputs[0].Address)
	assert.Equal(t, int64(9000), payment.Outputs[0].Amount)

	assert.Contains(t, f.messenger.sent[testDevice], fmt.Sprintf("9000 bytes sent to %s", destAddr))
}

func TestHandleStable_AggregatesByAddress(t *testing.T) {
	f := newFixture(t, 128)
	f.bindForward(t, depositAddr, testDevice, destAddr)
	// Two outputs to the same address across units; one payout on 250.
	f.querier.aggregated = []ledger.Output{
		{Address: depositAddr, Amount: 1100},
		{Address: depositAddr, Amount: 1150},
	}

	f.engine.HandleStable(context.Background(), units())

	require.Len(t, f.sender.multiCalls, 1)
	require.Len(t, f.sender.multiCalls[0].payment.Outputs, 1)
	assert.Equal(t, int64(1250), f.sender.multiCalls[0].payment.Outputs[0].Amount)
}

func TestHandleStable_UnknownAddressSkipped(t *testing.T) {
	f := newFixture(t, 128)
	f.querier.aggregated = []ledger.Output{{Address: "NOBODYNOBODYNOBODYNOBODYNOBODYNO", Amount: 5000}}

	f.engine.HandleStable(context.Background(), units())

	assert.Empty(t, f.sender.multiCalls)
	assert.Empty(t, f.sender.directCalls)
	assert.Empty(t, f.messenger.sent)
}

func TestHandleStable_MissingDestinationNotifiesLookupFailure(t *testing.T) {
	f := newFixture(t, 128)
	f.bindForward(t, depositAddr, testDevice, "")
	f.querier.aggregated = []ledger.Output{{Address: depositAddr, Amount: 5000}}

	f.engine.HandleStable(context.Background(), units())

	assert.Empty(t, f.sender.multiCalls, "nothing queued without a destination")
	assert.Contains(t, f.messenger.sent[testDevice], msgLookupFailed)
}

func TestHandleStable_DepositBelowFeeSkipped(t *testing.T) {
	f := newFixture(t, 128)
	f.bindForward(t, depositAddr, testDevice, destAddr)
	f.querier.aggregated = []ledger.Output{{Address: depositAddr, Amount: 800}}

	f.engine.HandleStable(context.Background(), units())

	assert.Empty(t, f.sender.multiCalls)
	require.Len(t, f.messenger.sent[testDevice], 1)
}

func TestHandleStable_RewardArithmetic(t *testing.T) {
	f := newFixture(t, 128)
	f.bindStake(t, escrowAddr, testDevice, linkedAddr)
	f.querier.aggregated = []ledger.Output{{Address: escrowAddr, Amount: 333}}

	f.engine.HandleStable(context.Background(), units())

	require.Len(t, f.sender.directCalls, 1)
	call := f.sender.directCalls[0]
	assert.Equal(t, treasuryAddr, call.from)
	assert.Equal(t, linkedAddr, call.to)
	assert.Equal(t, int64(7), call.amount, "ceil(333 * 0.02) = 7")
	assert.Equal(t, testDevice, call.via)

	assert.Contains(t, f.messenger.sent[testDevice],
		fmt.Sprintf("Your stake of 333 bytes is confirmed. Reward of 7 bytes sent to %s.", linkedAddr))
}

func TestHandleStable_StakeWithoutLinkedAddress(t *testing.T) {
	f := newFixture(t, 128)
	f.bindStake(t, escrowAddr, testDevice, "")
	f.querier.aggregated = []ledger.Output{{Address: escrowAddr, Amount: 60000}}

	f.engine.HandleStable(context.Background(), units())

	assert.Empty(t, f.sender.directCalls)
	assert.Contains(t, f.messenger.sent[testDevice], msgLookupFailed)
}

func TestHandleStable_RewardFailureDoesNotHaltOthers(t *testing.T) {
	f := newFixture(t, 128)
	f.bindStake(t, escrowAddr, testDevice, linkedAddr)
	f.bindForward(t, depositAddr, otherDevice, destAddr)
	f.sender.directErr = errors.New("treasury empty")
	f.querier.aggregated = []ledger.Output{
		{Address: escrowAddr, Amount: 50000},
		{Address: depositAddr, Amount: 10000},
	}

	f.engine.HandleStable(context.Background(), units())

	// The reward failed and was reported...
	assert.Contains(t, f.messenger.sent[testDevice], msgRewardFailed)
	// ...but the forwarding payout still went out.
	require.Len(t, f.sender.multiCalls, 1)
	assert.Equal(t, int64(9000), f.sender.multiCalls[0].payment.Outputs[0].Amount)
}

func TestHandleStable_Batching(t *testing.T) {
	const maxOutputs = 5
	f := newFixture(t, maxOutputs)

	// 2*maxOutputs + 1 deposits, each to its own destination.
	total := 2*maxOutputs + 1
	f.querier.aggregated = make([]ledger.Output, 0, total)
	for i := 0; i < total; i++ {
		addr := fmt.Sprintf("DEPOSIT%02dAAAAAAAAAAAAAAAAAAAAAAA", i)
		device := fmt.Sprintf("0DEVICE%02d", i)
		f.bindForward(t, addr, device, destAddr)
		f.querier.aggregated = append(f.querier.aggregated, ledger.Output{Address: addr, Amount: 2000})
	}

	f.engine.HandleStable(context.Background(), units())

	// Chunk size is maxOutputs-1 = 4: sizes 4, 4, 3.
	require.Len(t, f.sender.multiCalls, 3)
	var sizes []int
	seen := 0
	for _, call := range f.sender.multiCalls {
		sizes = append(sizes, len(call.payment.Outputs))
		seen += len(call.payment.Outputs)
	}
	assert.Equal(t, []int{4, 4, 3}, sizes)
	assert.Equal(t, total, seen, "no output appears in more than one chunk")
}

func TestHandleStable_ChunkFailureReportedIndependently(t *testing.T) {
	f := newFixture(t, 3)
	f.sender.multiErr = errors.New("network down")
	f.bindForward(t, depositAddr, testDevice, destAddr)
	f.querier.aggregated = []ledger.Output{{Address: depositAddr, Amount: 5000}}

	f.engine.HandleStable(context.Background(), units())

	require.Len(t, f.sender.multiCalls, 1)
	assert.Contains(t, f.messenger.sent[testDevice], msgForwardFailed)
}

func TestReward(t *testing.T) {
	tests := []struct {
		amount, bps, want int64
	}{
		{333, 200, 7},    // ceil(6.66)
		{100, 200, 2},    // exact
		{50000, 200, 1000},
		{1, 200, 1},      // ceil(0.02)
		{49, 200, 1},     // ceil(0.98)
		{51, 200, 2},     // ceil(1.02)
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d@%dbps", tt.amount, tt.bps), func(t *testing.T) {
			assert.Equal(t, tt.want, Reward(tt.amount, tt.bps))
		})
	}
}

func TestAggregate(t *testing.T) {
	rows := []ledger.Output{
		{Address: "A", Amount: 100},
		{Address: "B", Amount: 50},
		{Address: "A", Amount: 150},
	}
	merged := aggregate(rows)
	assert.Equal(t, []ledger.Output{
		{Address: "A", Amount: 250},
		{Address: "B", Amount: 50},
	}, merged)
}
