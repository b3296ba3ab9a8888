// Package settlement pays out stable deposits.
//
// Confirmed outputs are aggregated by address before any payout decision:
// an address that received several outputs across units is settled once on
// the total. Forwarded deposits go to the recorded destination minus the
// withdrawal fee, batched into multi-output payments below the ledger's
// per-message output cap. Stake deposits earn a reward paid directly from
// the bot's treasury to the depositor's linked address.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbd888/stakebot/internal/ledger"
	"github.com/mbd888/stakebot/internal/metrics"
	"github.com/mbd888/stakebot/internal/session"
)

const (
	msgLookupFailed  = "Sorry. Failed to find address."
	msgRewardFailed  = "Sorry. Failed to send your reward, it will be resolved manually."
	msgForwardFailed = "Sorry. Failed to forward your deposit, it will be resolved manually."
	bpsDenominator   = 10000
)

// Config carries the settlement tunables.
type Config struct {
	WithdrawalFee        int64
	RewardBPS            int64
	MaxOutputsPerMessage int
}

// Engine settles stable deposits.
type Engine struct {
	cfg       Config
	store     session.Store
	querier   ledger.OutputQuerier
	sender    ledger.PaymentSender
	messenger ledger.Messenger
	logger    *slog.Logger

	// Treasury address: reward source and change address for batches.
	treasury string
}

// New creates a settlement engine.
func New(cfg Config, store session.Store, querier ledger.OutputQuerier, sender ledger.PaymentSender,
	messenger ledger.Messenger, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		querier:   querier,
		sender:    sender,
		messenger: messenger,
		logger:    logger,
	}
}

// SetTreasury records the bot's first wallet address once the node reports it.
func (e *Engine) SetTreasury(address string) {
	e.treasury = address
}

// pendingOutput is one queued forwarding payout. The owning device rides
// along so chunk failures can be reported to the right users.
type pendingOutput struct {
	output ledger.Output
	device string
}

// HandleStable settles every known aggregated output in the given units.
// Rows for unknown addresses are skipped without error; per-row failures
// are reported and do not stop the remaining rows.
func (e *Engine) HandleStable(ctx context.Context, units []ledger.UnitID) {
	if len(units) == 0 {
		return
	}

	rows, err := e.querier.QueryOutputsAggregated(ctx, units, ledger.BaseAsset)
	if err != nil {
		e.logger.Error("failed to query stable outputs", "units", units, "error", err)
		return
	}

	// An address may receive outputs across several units; it is settled
	// once on the total even if the node hands back unmerged rows.
	rows = aggregate(rows)

	var pending []pendingOutput
	for _, row := range rows {
		deposit, err := e.store.GetDeposit(ctx, row.Address)
		if err != nil {
			if !errors.Is(err, session.ErrDepositNotFound) {
				e.logger.Error("deposit lookup failed", "address", row.Address, "error", err)
			}
			continue
		}

		switch deposit.Kind {
		case session.DepositForward:
			if out, ok := e.settleForward(ctx, deposit, row.Amount); ok {
				pending = append(pending, out)
			}
		case session.DepositStake:
			e.settleStake(ctx, deposit, row.Amount)
		}
	}

	e.dispatch(ctx, pending)
}

func (e *Engine) settleForward(ctx context.Context, deposit *session.DepositAddress, amount int64) (pendingOutput, bool) {
	device := deposit.DeviceID

	if deposit.Destination == "" {
		e.send(ctx, device, msgLookupFailed)
		return pendingOutput{}, false
	}

	payout := amount - e.cfg.WithdrawalFee
	if payout <= 0 {
		e.send(ctx, device, fmt.Sprintf("Your deposit of %d bytes does not cover the %d bytes fee.", amount, e.cfg.WithdrawalFee))
		return pendingOutput{}, false
	}

	e.send(ctx, device, fmt.Sprintf("%d bytes sent to %s", payout, deposit.Destination))
	e.logger.Info("payout queued",
		"device_id", device,
		"deposit_address", deposit.Address,
		"destination", deposit.Destination,
		"amount", payout,
	)
	return pendingOutput{
		output: ledger.Output{Address: deposit.Destination, Amount: payout},
		device: device,
	}, true
}

func (e *Engine) settleStake(ctx context.Context, deposit *session.DepositAddress, amount int64) {
	device := deposit.DeviceID

	sess, err := e.store.GetSession(ctx, device)
	if err != nil || !sess.Linked() {
		// Device known but no linked address to pay the reward to.
		e.send(ctx, device, msgLookupFailed)
		e.logger.Warn("stake confirmed without linked address",
			"device_id", device, "escrow_address", deposit.Address, "error", err)
		return
	}

	reward := Reward(amount, e.cfg.RewardBPS)
	unit, err := e.sender.SendPayment(ctx, e.treasury, sess.LinkedAddress, reward, device)
	if err != nil {
		metrics.PayoutFailures.WithLabelValues("reward").Inc()
		e.send(ctx, device, msgRewardFailed)
		e.logger.Error("reward dispatch failed",
			"device_id", device,
			"escrow_address", deposit.Address,
			"reward", reward,
			"error", err,
		)
		return
	}

	metrics.RewardsSent.Inc()
	e.send(ctx, device, fmt.Sprintf("Your stake of %d bytes is confirmed. Reward of %d bytes sent to %s.",
		amount, reward, sess.LinkedAddress))
	e.logger.Info("reward sent",
		"device_id", device,
		"escrow_address", deposit.Address,
		"stake", amount,
		"reward", reward,
		"unit", unit,
	)
}

// dispatch submits queued payouts in chunks below the ledger's per-message
// output cap. One slot is left for the change output. Chunks fail and are
// reported independently; a failed chunk never blocks the next one.
func (e *Engine) dispatch(ctx context.Context, pending []pendingOutput) {
	if len(pending) == 0 {
		return
	}

	chunkSize := e.cfg.MaxOutputsPerMessage - 1
	for start := 0; start < len(pending); start += chunkSize {
		end := min(start+chunkSize, len(pending))
		chunk := pending[start:end]

		outputs := make([]ledger.Output, len(chunk))
		for i, p := range chunk {
			outputs[i] = p.output
		}

		unit, err := e.sender.SendMultiPayment(ctx, ledger.MultiPayment{
			ChangeAddress: e.treasury,
			Outputs:       outputs,
		})
		if err != nil {
			metrics.PayoutFailures.WithLabelValues("forward").Inc()
			e.logger.Error("failed to send payment", "outputs", len(outputs), "error", err)
			for _, p := range chunk {
				e.send(ctx, p.device, msgForwardFailed)
			}
			continue
		}

		metrics.PayoutsSent.Add(float64(len(outputs)))
		e.logger.Info("payment sent", "unit", unit, "outputs", len(outputs))
	}
}

func (e *Engine) send(ctx context.Context, device, text string) {
	if err := e.messenger.SendText(ctx, device, text); err != nil {
		e.logger.Error("failed to send message", "device_id", device, "error", err)
	}
}

// aggregate merges output rows by address, summing amounts. Input order of
// first appearance is preserved.
func aggregate(rows []ledger.Output) []ledger.Output {
	index := make(map[string]int, len(rows))
	merged := rows[:0:0]
	for _, row := range rows {
		if i, ok := index[row.Address]; ok {
			merged[i].Amount += row.Amount
			continue
		}
		index[row.Address] = len(merged)
		merged = append(merged, row)
	}
	return merged
}

// Reward computes the stake reward: amount * bps / 10000 rounded up.
// Integer arithmetic keeps ceil exact where float rates would drift.
func Reward(amount, bps int64) int64 {
	return (amount*bps + bpsDenominator - 1) / bpsDenominator
}
