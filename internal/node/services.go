package node

import (
	"context"
	"encoding/json"

	"github.com/mbd888/stakebot/internal/ledger"
	"github.com/mbd888/stakebot/internal/metrics"
)

// Compile-time checks: one Client serves every collaborator contract.
var (
	_ ledger.AddressIssuer        = (*Client)(nil)
	_ ledger.SharedAddressCreator = (*Client)(nil)
	_ ledger.OutputQuerier        = (*Client)(nil)
	_ ledger.PaymentSender        = (*Client)(nil)
	_ ledger.Messenger            = (*Client)(nil)
	_ ledger.ProofVerifier        = (*Client)(nil)
)

type addressResult struct {
	Address string `json:"address"`
}

type unitResult struct {
	Unit ledger.UnitID `json:"unit"`
}

// IssueAddress asks the wallet for the next unused deposit address.
func (c *Client) IssueAddress(ctx context.Context) (string, error) {
	var res addressResult
	if err := c.call(ctx, "issue_address", nil, &res); err != nil {
		return "", err
	}
	return res.Address, nil
}

type sharedAddressParams struct {
	Definition any                          `json:"definition"`
	Signers    map[string]ledger.SignerPath `json:"signers"`
}

// CreateSharedAddress materializes a shared address from a release
// definition and signer paths.
func (c *Client) CreateSharedAddress(ctx context.Context, definition any, signers map[string]ledger.SignerPath) (string, error) {
	var res addressResult
	err := c.call(ctx, "create_shared_address", sharedAddressParams{Definition: definition, Signers: signers}, &res)
	if err != nil {
		return "", err
	}
	return res.Address, nil
}

type outputsParams struct {
	Units      []ledger.UnitID `json:"units"`
	Asset      string          `json:"asset,omitempty"`
	Aggregated bool            `json:"aggregated,omitempty"`
}

// QueryOutputs returns one row per output in the given units.
func (c *Client) QueryOutputs(ctx context.Context, units []ledger.UnitID, asset string) ([]ledger.Output, error) {
	var res []ledger.Output
	if err := c.call(ctx, "outputs", outputsParams{Units: units, Asset: asset}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// QueryOutputsAggregated returns one row per address, amounts summed.
func (c *Client) QueryOutputsAggregated(ctx context.Context, units []ledger.UnitID, asset string) ([]ledger.Output, error) {
	var res []ledger.Output
	if err := c.call(ctx, "outputs", outputsParams{Units: units, Asset: asset, Aggregated: true}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// SendMultiPayment submits one unit paying several outputs.
func (c *Client) SendMultiPayment(ctx context.Context, p ledger.MultiPayment) (ledger.UnitID, error) {
	var res unitResult
	if err := c.call(ctx, "send_multi_payment", p, &res); err != nil {
		return "", err
	}
	return res.Unit, nil
}

type paymentParams struct {
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Amount      int64  `json:"amount"`
	ViaDevice   string `json:"via_device,omitempty"`
}

// SendPayment submits a single payment, announced to the recipient device.
func (c *Client) SendPayment(ctx context.Context, fromAddress, toAddress string, amount int64, viaDevice string) (ledger.UnitID, error) {
	var res unitResult
	err := c.call(ctx, "send_payment", paymentParams{
		FromAddress: fromAddress,
		ToAddress:   toAddress,
		Amount:      amount,
		ViaDevice:   viaDevice,
	}, &res)
	if err != nil {
		return "", err
	}
	return res.Unit, nil
}

type textParams struct {
	Device string `json:"device"`
	Text   string `json:"text"`
}

// SendText delivers a chat message to a paired device.
func (c *Client) SendText(ctx context.Context, device, text string) error {
	if err := c.call(ctx, "send_message", textParams{Device: device, Text: text}, nil); err != nil {
		return err
	}
	metrics.MessagesSent.Inc()
	return nil
}

// Verify validates a signed-message payload on the node.
func (c *Client) Verify(ctx context.Context, payload []byte) (*ledger.SignedProof, error) {
	var res ledger.SignedProof
	if err := c.call(ctx, "verify_signed_message", json.RawMessage(payload), &res); err != nil {
		return nil, err
	}
	return &res, nil
}
