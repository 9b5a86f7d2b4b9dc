package models

import "strings"

// DefaultExplorerTxURL is the block explorer transaction page prefix.
const DefaultExplorerTxURL = "https://monad.blockvision.org/tx/"

// ShortAddress renders an address as its first 6 and last 4 characters.
func ShortAddress(address string) string {
	address = strings.TrimSpace(address)
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// ShortHash renders a transaction hash prefix for notifications.
func ShortHash(hash string) string {
	if len(hash) <= 10 {
		return hash
	}
	return hash[:10] + "..."
}

// ExplorerTxURL builds the explorer link for a transaction hash.
// It returns an empty string when there is no hash to link.
func ExplorerTxURL(base, txHash string) string {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" || !strings.HasPrefix(txHash, "0x") {
		return ""
	}
	if base == "" {
		base = DefaultExplorerTxURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + txHash
}
