// Package chat interprets inbound messages from paired devices and drives
// session state.
//
// Flow per device: a signed-message proof links a ledger address, a numeric
// message records the intended stake, and once the stake clears the minimum
// the controller builds the escrow contract, asks the node for the shared
// address, and sends back a payment request. A plain address instead selects
// the forwarding flow: the bot issues a fresh deposit address and returns
// deposits to that destination minus the withdrawal fee.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/stakebot/internal/contract"
	"github.com/mbd888/stakebot/internal/ledger"
	"github.com/mbd888/stakebot/internal/metrics"
	"github.com/mbd888/stakebot/internal/session"
)

// Reply texts. The wallet client renders these verbatim, so changing them
// changes the product.
const (
	msgGreeting = "Welcome! Send a signed message to link your address and stake bytes, " +
		"or send a destination address to have deposits forwarded there."
	msgLinkFirst     = "Please link your ledger address first by sending a signed message from your wallet."
	msgPrompt        = "Please insert the address whom you want to send or the amount of bytes you want to send."
	msgSendFailed    = "Sorry. Failed to prepare your deposit address, please try again."
	msgProofAccepted = "Your address %s is now linked. How much do you want to stake in bytes?"
	msgStakeTooSmall = "Too small. Enter %d or more."
)

// Config carries the tunables the controller needs.
type Config struct {
	MinStake        int64
	DefaultAmount   int64
	Vesting         time.Duration
	PairingProtocol string
}

// Controller drives session transitions from parsed commands.
type Controller struct {
	cfg       Config
	store     session.Store
	issuer    ledger.AddressIssuer
	shared    ledger.SharedAddressCreator
	verifier  ledger.ProofVerifier
	messenger ledger.Messenger
	logger    *slog.Logger

	// Bot identity, set once the wallet is ready.
	agentAddress string
	agentDevice  string
}

// New creates a chat controller.
func New(cfg Config, store session.Store, issuer ledger.AddressIssuer, shared ledger.SharedAddressCreator,
	verifier ledger.ProofVerifier, messenger ledger.Messenger, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		store:     store,
		issuer:    issuer,
		shared:    shared,
		verifier:  verifier,
		messenger: messenger,
		logger:    logger,
	}
}

// SetIdentity records the bot's treasury address and device address, which
// become the claw-back branch of every escrow contract.
func (c *Controller) SetIdentity(address, device string) {
	c.agentAddress = address
	c.agentDevice = device
}

// HandlePaired greets a newly paired device and creates its session.
func (c *Controller) HandlePaired(ctx context.Context, device, secret string) {
	log := c.logger.With("device_id", device)

	if _, err := c.store.EnsureSession(ctx, device); err != nil {
		log.Error("failed to create session", "error", err)
		return
	}
	c.send(ctx, device, msgGreeting)
	log.Info("device paired")
}

// HandleText processes one inbound chat message.
func (c *Controller) HandleText(ctx context.Context, device, text string) {
	log := c.logger.With("device_id", device)

	sess, err := c.store.EnsureSession(ctx, device)
	if err != nil {
		log.Error("failed to load session", "error", err)
		return
	}

	switch cmd := Parse(text).(type) {
	case ProofCommand:
		c.handleProof(ctx, device, cmd.Payload, log)
	case AmountCommand:
		c.handleAmount(ctx, sess, cmd.Amount, log)
	case AddressCommand:
		c.handleDestination(ctx, sess, cmd.Address, log)
	case MalformedProofCommand:
		// Undecodable proof payloads get no reply at all.
		log.Debug("ignoring malformed signed message")
	case UnrecognizedCommand:
		c.handleUnrecognized(ctx, device, cmd.Text, log)
	}
}

func (c *Controller) handleProof(ctx context.Context, device string, payload []byte, log *slog.Logger) {
	proof, err := c.verifier.Verify(ctx, payload)
	if err != nil {
		if errors.Is(err, ledger.ErrMalformedProof) {
			log.Debug("ignoring unparsable signed message")
			return
		}
		// Well-formed but rejected: the verifier's message goes to the user.
		c.send(ctx, device, err.Error())
		return
	}
	if len(proof.Authors) == 0 {
		c.send(ctx, device, "Signed message carries no author address.")
		return
	}

	address := proof.Authors[0].Address
	if err := c.store.LinkAddress(ctx, device, address); err != nil {
		log.Error("failed to link address", "error", err)
		c.send(ctx, device, msgSendFailed)
		return
	}

	c.send(ctx, device, fmt.Sprintf(msgProofAccepted, address))
	log.Info("address linked", "address", address)
}

func (c *Controller) handleAmount(ctx context.Context, sess *session.Session, amount int64, log *slog.Logger) {
	device := sess.DeviceID

	// The amount is recorded even when it is not yet actionable, so the
	// user can enter it before or after linking their address.
	if err := c.store.SetPendingStake(ctx, device, amount); err != nil {
		log.Error("failed to record stake amount", "error", err)
		return
	}

	if !sess.Linked() {
		c.send(ctx, device, msgLinkFirst)
		return
	}

	if amount < c.cfg.MinStake {
		c.send(ctx, device, fmt.Sprintf(msgStakeTooSmall, c.cfg.MinStake))
		return
	}

	c.createEscrow(ctx, sess, amount, log)
}

// createEscrow builds the time-locked contract, materializes the shared
// address, and sends the payment request. The pending stake is reset only
// after the link has gone out; resetting earlier would let a message that
// interleaves with the suspending create spawn a duplicate contract for the
// same stake.
func (c *Controller) createEscrow(ctx context.Context, sess *session.Session, amount int64, log *slog.Logger) {
	device := sess.DeviceID

	ct := contract.Build(sess.LinkedAddress, device, c.agentAddress, c.agentDevice, c.cfg.Vesting)

	sharedAddr, err := c.shared.CreateSharedAddress(ctx, ct.Definition, ct.SignerPaths)
	if err != nil {
		// Retryable: stake amount stays, the user just sends it again.
		log.Error("shared address creation failed", "error", err)
		c.send(ctx, device, err.Error())
		return
	}

	if err := c.store.BindDeposit(ctx, &session.DepositAddress{
		Address:  sharedAddr,
		DeviceID: device,
		Kind:     session.DepositStake,
	}); err != nil {
		log.Error("failed to bind escrow address", "error", err)
		c.send(ctx, device, msgSendFailed)
		return
	}
	if err := c.store.SetEscrowAddress(ctx, device, sharedAddr); err != nil {
		log.Error("failed to record escrow address", "error", err)
	}

	link, err := ledger.PaymentRequestLink(fmt.Sprintf("stake %d bytes", amount), ledger.PaymentRequest{
		Payments:    []ledger.RequestedPayment{{Address: sharedAddr, Amount: amount}},
		Definitions: map[string]any{sharedAddr: ct.Definition},
	})
	if err != nil {
		log.Error("failed to encode payment request", "error", err)
		c.send(ctx, device, msgSendFailed)
		return
	}
	c.send(ctx, device, link)

	if err := c.store.ResetPendingStake(ctx, device); err != nil {
		log.Error("failed to reset pending stake", "error", err)
	}

	metrics.EscrowContractsCreated.Inc()
	log.Info("escrow address communicated",
		"escrow_address", sharedAddr,
		"amount", amount,
		"vesting_deadline", ct.VestingDeadline,
		"clawback_deadline", ct.ClawbackDeadline,
	)
}

func (c *Controller) handleDestination(ctx context.Context, sess *session.Session, destination string, log *slog.Logger) {
	device := sess.DeviceID

	depositAddr, err := c.issuer.IssueAddress(ctx)
	if err != nil {
		log.Error("failed to issue deposit address", "error", err)
		c.send(ctx, device, msgSendFailed)
		return
	}

	if err := c.store.BindDeposit(ctx, &session.DepositAddress{
		Address:     depositAddr,
		DeviceID:    device,
		Destination: destination,
		Kind:        session.DepositForward,
	}); err != nil {
		log.Error("failed to bind deposit address", "error", err)
		c.send(ctx, device, msgSendFailed)
		return
	}

	amount := sess.PendingStake
	if amount <= 0 {
		amount = c.cfg.DefaultAmount
	}
	c.send(ctx, device, ledger.PaymentLink("Send payment", c.cfg.PairingProtocol, depositAddr, amount))
	log.Info("deposit address issued", "deposit_address", depositAddr, "destination", destination)
}

func (c *Controller) handleUnrecognized(ctx context.Context, device, text string, log *slog.Logger) {
	// A device feeding our own prompt back at us is a reflection loop, not
	// a user. Never answer the prompt with the prompt.
	if text == msgPrompt {
		log.Debug("suppressing echo reply")
		return
	}
	c.send(ctx, device, msgPrompt)
}

func (c *Controller) send(ctx context.Context, device, text string) {
	if err := c.messenger.SendText(ctx, device, text); err != nil {
		c.logger.Error("failed to send message", "device_id", device, "error", err)
	}
}
