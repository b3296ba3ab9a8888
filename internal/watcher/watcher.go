// Package watcher acknowledges unconfirmed deposits.
//
// When new units paying the bot appear on the DAG, the watcher matches each
// base-currency output against the known deposit and escrow addresses and
// tells the owning device its payment was seen. Nothing is mutated here:
// the notification is advisory and replaying the same units just produces
// the same acknowledgements again.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbd888/stakebot/internal/ledger"
	"github.com/mbd888/stakebot/internal/metrics"
	"github.com/mbd888/stakebot/internal/session"
)

// Watcher reacts to unconfirmed transactions.
type Watcher struct {
	store     session.Store
	querier   ledger.OutputQuerier
	messenger ledger.Messenger
	logger    *slog.Logger
}

// New creates a deposit watcher.
func New(store session.Store, querier ledger.OutputQuerier, messenger ledger.Messenger, logger *slog.Logger) *Watcher {
	return &Watcher{
		store:     store,
		querier:   querier,
		messenger: messenger,
		logger:    logger,
	}
}

// HandleUnconfirmed acknowledges every known output in the given units.
// Outputs to unknown addresses are skipped without error.
func (w *Watcher) HandleUnconfirmed(ctx context.Context, units []ledger.UnitID) {
	if len(units) == 0 {
		return
	}

	outputs, err := w.querier.QueryOutputs(ctx, units, ledger.BaseAsset)
	if err != nil {
		w.logger.Error("failed to query unconfirmed outputs", "units", units, "error", err)
		return
	}

	for _, out := range outputs {
		deposit, err := w.store.GetDeposit(ctx, out.Address)
		if err != nil {
			if !errors.Is(err, session.ErrDepositNotFound) {
				w.logger.Error("deposit lookup failed", "address", out.Address, "error", err)
			}
			continue
		}

		text := fmt.Sprintf("Received your payment of %d bytes.\nWaiting for the transaction to confirm.", out.Amount)
		if err := w.messenger.SendText(ctx, deposit.DeviceID, text); err != nil {
			w.logger.Error("failed to acknowledge deposit",
				"device_id", deposit.DeviceID, "address", out.Address, "error", err)
			continue
		}

		metrics.DepositsSeen.Inc()
		w.logger.Info("deposit seen",
			"device_id", deposit.DeviceID,
			"address", out.Address,
			"amount", out.Amount,
		)
	}
}
