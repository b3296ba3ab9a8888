// Package ledger defines the contracts the bot consumes from the wallet
// node: address issuance, output queries, payment submission, device
// messaging, and signed-message verification.
//
// The bot never talks to the DAG directly. Everything here is an interface
// boundary; internal/node provides the production implementation over the
// hub websocket, and tests substitute fakes.
package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotConnected = errors.New("ledger: node not connected")

	// ErrMalformedProof marks a signed-message payload the verifier could
	// not even parse, as opposed to one that parsed but failed validation.
	ErrMalformedProof = errors.New("ledger: malformed signed message")
)

// BaseAsset marks outputs paid in the ledger's native currency.
const BaseAsset = ""

// UnitID identifies a transaction unit on the DAG.
type UnitID string

// Output is one payment output inside a unit.
type Output struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// SignedProof is the decoded payload of a signed-message link. Authors are
// the addresses whose signatures the verifier validated.
type SignedProof struct {
	Authors []Author `json:"authors"`
}

// Author is one signer of a signed message.
type Author struct {
	Address string `json:"address"`
}

// AddressIssuer hands out fresh single-use deposit addresses from the bot's
// wallet.
type AddressIssuer interface {
	IssueAddress(ctx context.Context) (string, error)
}

// SignerPath locates one signing branch of a shared-address definition.
type SignerPath struct {
	Address           string `json:"address"`
	MemberSigningPath string `json:"member_signing_path"`
	DeviceAddress     string `json:"device_address"`
}

// SharedAddressCreator materializes a jointly-controlled address from a
// release definition and its signer paths.
type SharedAddressCreator interface {
	CreateSharedAddress(ctx context.Context, definition any, signers map[string]SignerPath) (string, error)
}

// OutputQuerier reads outputs belonging to a set of units.
//
// QueryOutputs returns one row per output. QueryOutputsAggregated returns
// one row per address with amounts summed across all outputs and units;
// settlement uses the aggregated form so an address that received several
// outputs is paid once on the total.
type OutputQuerier interface {
	QueryOutputs(ctx context.Context, units []UnitID, asset string) ([]Output, error)
	QueryOutputsAggregated(ctx context.Context, units []UnitID, asset string) ([]Output, error)
}

// MultiPayment is a single outbound unit paying several outputs.
type MultiPayment struct {
	ChangeAddress string   `json:"change_address"`
	Outputs       []Output `json:"base_outputs"`
}

// PaymentSender submits outbound payments from the bot's wallet.
type PaymentSender interface {
	SendMultiPayment(ctx context.Context, p MultiPayment) (UnitID, error)
	SendPayment(ctx context.Context, fromAddress, toAddress string, amount int64, viaDevice string) (UnitID, error)
}

// Messenger sends a text message to a paired device.
type Messenger interface {
	SendText(ctx context.Context, device, text string) error
}

// ProofVerifier validates a signed-message payload and reports its authors.
type ProofVerifier interface {
	Verify(ctx context.Context, payload []byte) (*SignedProof, error)
}
