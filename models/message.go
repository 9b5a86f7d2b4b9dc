package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTransition indicates a status change out of a terminal state.
	ErrInvalidTransition = errors.New("models: invalid status transition")
	// ErrInvalidRemote indicates a remote message that is not confirmed or lacks a tx hash.
	ErrInvalidRemote = errors.New("models: remote message must be confirmed with a tx hash")
)

// Message is one chat entry, either optimistic local state or a reconstructed on-chain event.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Sender      string    `json:"sender"`
	Status      Status    `json:"status"`
	TxHash      string    `json:"tx_hash,omitempty"`
	IsRemote    bool      `json:"is_remote"`
	BlockNumber uint64    `json:"block_number,omitempty"`
}

// Validate checks the per-message invariants that do not depend on the rest of the store.
func (m Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if err := ValidateStatus(m.Status); err != nil {
		return err
	}
	if m.IsRemote && (m.Status != StatusConfirmed || m.TxHash == "") {
		return fmt.Errorf("%w: %s", ErrInvalidRemote, m.ID)
	}
	return nil
}

// RemoteEvent is one message emitted by (or read from) the messenger contract.
//
// Timestamp is zero when the contract variant does not carry one and the
// containing block has not been resolved yet.
type RemoteEvent struct {
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint      `json:"log_index"`
	BlockNumber uint64    `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`
}

// ID returns the store key used for the message built from this event.
func (e RemoteEvent) ID() string {
	return fmt.Sprintf("%s:%d", e.TxHash, e.LogIndex)
}

// Message converts the event into a confirmed remote message.
func (e RemoteEvent) Message() Message {
	return Message{
		ID:          e.ID(),
		Content:     e.Content,
		Timestamp:   e.Timestamp,
		Sender:      e.Sender,
		Status:      StatusConfirmed,
		TxHash:      e.TxHash,
		IsRemote:    true,
		BlockNumber: e.BlockNumber,
	}
}

// History is the result of one history fetch.
type History struct {
	HeadBlock uint64        `json:"head_block"`
	Events    []RemoteEvent `json:"events"`
}
