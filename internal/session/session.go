// Package session owns per-device conversation state and the mapping from
// deposit addresses back to the device that requested them.
//
// Nothing outside this package mutates a Session or an address binding;
// the chat controller, watcher, and settlement engine all go through the
// Store interface, which makes each of them testable against the in-memory
// implementation.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrDepositNotFound = errors.New("deposit address not found")
	ErrAddressTaken    = errors.New("deposit address already bound to another device")
)

// Session is the mutable state of one paired device. Sessions are created
// on pairing and live for the process lifetime; they are never destroyed.
type Session struct {
	DeviceID      string    `json:"deviceId"`
	LinkedAddress string    `json:"linkedAddress,omitempty"`
	PendingStake  int64     `json:"pendingStake"`
	EscrowAddress string    `json:"escrowAddress,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Linked reports whether the device has proven ownership of a ledger address.
// A pending stake is only actionable once this is true.
func (s *Session) Linked() bool {
	return s.LinkedAddress != ""
}

// DepositKind distinguishes the two deposit flows.
type DepositKind string

const (
	// DepositForward deposits are returned to a destination address minus
	// the withdrawal fee once stable.
	DepositForward DepositKind = "forward"
	// DepositStake deposits sit in a time-locked escrow address and earn
	// a reward on confirmation.
	DepositStake DepositKind = "stake"
)

// DepositAddress binds a ledger address the bot watches to the device that
// owns it. An address maps to exactly one device; a device may accumulate
// many addresses over repeated requests.
type DepositAddress struct {
	Address     string      `json:"address"`
	DeviceID    string      `json:"deviceId"`
	Destination string      `json:"destination,omitempty"` // forwarding flow only
	Kind        DepositKind `json:"kind"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Store persists sessions and deposit-address bindings.
type Store interface {
	// EnsureSession returns the session for a device, creating it if absent.
	EnsureSession(ctx context.Context, device string) (*Session, error)
	// GetSession returns the session for a device or ErrSessionNotFound.
	GetSession(ctx context.Context, device string) (*Session, error)
	// LinkAddress records a proven ledger address and resets the pending
	// stake to zero.
	LinkAddress(ctx context.Context, device, address string) error
	// SetPendingStake records the amount the device intends to stake.
	SetPendingStake(ctx context.Context, device string, amount int64) error
	// ResetPendingStake zeroes the pending stake after an escrow address
	// has been communicated.
	ResetPendingStake(ctx context.Context, device string) error
	// SetEscrowAddress records the device's current escrow address.
	SetEscrowAddress(ctx context.Context, device, address string) error

	// BindDeposit records a watched address. Binding an address already
	// owned by a different device returns ErrAddressTaken.
	BindDeposit(ctx context.Context, d *DepositAddress) error
	// GetDeposit returns the binding for an address or ErrDepositNotFound.
	GetDeposit(ctx context.Context, address string) (*DepositAddress, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
