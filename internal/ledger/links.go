package ledger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Chat messages carry payments as markdown-style links the paired wallet
// renders as tappable buttons. Two forms exist and both encodings must stay
// byte-compatible with the wallet client:
//
//   - a plain payment link: [label](obyte:ADDRESS?amount=N)
//   - a payment request:    [label](payment:BASE64) where BASE64 is the
//     standard encoding of {"payments": [...], "definitions": {...}}

// Protocol prefixes for plain payment links.
const (
	ProtocolMainnet = "obyte:"
	ProtocolTestnet = "obyte-tn:"
)

// PaymentLink renders a plain payment link for a single address and amount.
func PaymentLink(label, protocol, address string, amount int64) string {
	return fmt.Sprintf("[%s](%s%s?amount=%d)", label, protocol, address, amount)
}

// RequestedPayment is one entry of a payment request.
type RequestedPayment struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
	Asset   string `json:"asset,omitempty"`
}

// PaymentRequest is the structured payload behind a payment-request link.
// Definitions carries the release definition of any address the recipient's
// wallet has not seen before, keyed by address.
type PaymentRequest struct {
	Payments    []RequestedPayment `json:"payments"`
	Definitions map[string]any     `json:"definitions,omitempty"`
}

// PaymentRequestLink renders a payment-request link with the request
// serialized as base64 JSON.
func PaymentRequestLink(label string, req PaymentRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment request: %w", err)
	}
	return fmt.Sprintf("[%s](payment:%s)", label, base64.StdEncoding.EncodeToString(raw)), nil
}
