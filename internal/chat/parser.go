package chat

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"

	"github.com/mbd888/stakebot/internal/ledger"
)

// Command is the parsed form of one inbound chat message. Parsing is kept
// separate from the controller so the business logic never touches regexes.
type Command interface {
	isCommand()
}

// AmountCommand is a bare integer: the user entering a stake or forward amount.
type AmountCommand struct {
	Amount int64
}

// AddressCommand is a plain ledger address: the destination for the
// forwarding flow.
type AddressCommand struct {
	Address string
}

// ProofCommand carries the decoded payload of a signed-message link.
type ProofCommand struct {
	Payload []byte
}

// MalformedProofCommand is a signed-message link whose payload failed to
// decode. It produces no reply at all, which distinguishes garbage from a
// well-formed proof the verifier rejects.
type MalformedProofCommand struct{}

// UnrecognizedCommand is anything else.
type UnrecognizedCommand struct {
	Text string
}

func (AmountCommand) isCommand()         {}
func (AddressCommand) isCommand()        {}
func (ProofCommand) isCommand()          {}
func (MalformedProofCommand) isCommand() {}
func (UnrecognizedCommand) isCommand()   {}

var (
	amountPattern = regexp.MustCompile(`^\d+$`)
	proofPattern  = regexp.MustCompile(`\[.*?\]\(signed-message:([A-Za-z0-9+/=]+)\)`)
)

// Parse classifies one inbound message.
func Parse(text string) Command {
	text = strings.TrimSpace(text)

	if m := proofPattern.FindStringSubmatch(text); m != nil {
		payload, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return MalformedProofCommand{}
		}
		return ProofCommand{Payload: payload}
	}

	if amountPattern.MatchString(text) {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			// Digits but overflows int64; treat like any other noise.
			return UnrecognizedCommand{Text: text}
		}
		return AmountCommand{Amount: n}
	}

	if ledger.IsValidAddress(text) {
		return AddressCommand{Address: text}
	}

	return UnrecognizedCommand{Text: text}
}
