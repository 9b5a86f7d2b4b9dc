package messenger

import "time"

// Severity classifies a notice for presentation.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notice titles.
const (
	TitleWalletRequired     = "Wallet Required"
	TitleWalletConnected    = "Wallet Connected"
	TitleConnectionFailed   = "Connection Failed"
	TitleTransactionSent    = "Transaction Sent"
	TitleMessageConfirmed   = "Message Confirmed"
	TitleTransactionFailed  = "Transaction Failed"
	TitleHistoryUnavailable = "History Unavailable"
)

// Notice is a transient user-facing notification.
type Notice struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	MessageID   string    `json:"message_id,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	ExplorerURL string    `json:"explorer_url,omitempty"`
	Time        time.Time `json:"time"`
}
