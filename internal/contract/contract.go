// Package contract builds the release definition for a staking escrow
// address.
//
// The definition grants the depositor a claim once the vesting deadline has
// passed, and grants the bot a claw-back claim once twice that time has
// passed. The claw-back window means funds can never be locked forever if
// the depositor disappears, while the depositor keeps a strict priority
// window to claim first.
package contract

import (
	"time"

	"github.com/mbd888/stakebot/internal/ledger"
)

// Contract is the release logic for one shared address. Immutable once
// built; the ledger enforces the single permitted spend, so nothing here is
// tracked after creation.
type Contract struct {
	Definition       []any
	SignerPaths      map[string]ledger.SignerPath
	VestingDeadline  time.Time
	ClawbackDeadline time.Time
}

// Build produces the dual-condition release definition for a stake by the
// given depositor. The depositor may spend after now+vesting, the bot after
// now+2*vesting. Pure apart from reading the wall clock; validating the
// input addresses is the caller's job.
func Build(depositorAddr, depositorDevice, agentAddr, agentDevice string, vesting time.Duration) Contract {
	return buildAt(time.Now(), depositorAddr, depositorDevice, agentAddr, agentDevice, vesting)
}

func buildAt(now time.Time, depositorAddr, depositorDevice, agentAddr, agentDevice string, vesting time.Duration) Contract {
	vestingDeadline := now.Add(vesting)
	clawbackDeadline := now.Add(2 * vesting)

	// ["or", [["and", [addr, after vesting]], ["and", [addr, after clawback]]]]
	definition := []any{"or", []any{
		[]any{"and", []any{
			[]any{"address", depositorAddr},
			[]any{"timestamp", []any{">", vestingDeadline.Unix()}},
		}},
		[]any{"and", []any{
			[]any{"address", agentAddr},
			[]any{"timestamp", []any{">", clawbackDeadline.Unix()}},
		}},
	}}

	// One signing branch per "or" arm. The wallet node resolves each path to
	// the device that holds the keys for that branch's address.
	signers := map[string]ledger.SignerPath{
		"r.0.0": {Address: depositorAddr, MemberSigningPath: "r", DeviceAddress: depositorDevice},
		"r.1.0": {Address: agentAddr, MemberSigningPath: "r", DeviceAddress: agentDevice},
	}

	return Contract{
		Definition:       definition,
		SignerPaths:      signers,
		VestingDeadline:  vestingDeadline,
		ClawbackDeadline: clawbackDeadline,
	}
}
