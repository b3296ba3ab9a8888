package ledger

// Address shape validation. Full checksum verification lives in the wallet
// node; the bot only needs to tell "this looks like an address" apart from
// free text before asking the node to do anything with it.

const addressLength = 32

// base32 alphabet used by DAG addresses
func isBase32Char(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '2' && c <= '7')
}

// IsValidAddress reports whether s has the shape of a ledger address:
// 32 uppercase base-32 characters.
func IsValidAddress(s string) bool {
	if len(s) != addressLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isBase32Char(s[i]) {
			return false
		}
	}
	return true
}
