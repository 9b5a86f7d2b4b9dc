package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// JournalStatusPending marks a submission that has not settled.
	JournalStatusPending = "pending"
	// JournalStatusConfirmed marks a submission mined successfully.
	JournalStatusConfirmed = "confirmed"
	// JournalStatusFailed marks a submission that was rejected, reverted or lost.
	JournalStatusFailed = "failed"
)

// JournalEntry is the SQLite record of one submitted message transaction.
type JournalEntry struct {
	MessageID   string  `json:"message_id"`
	TxHash      *string `json:"tx_hash,omitempty"`
	Contract    string  `json:"contract"`
	Sender      string  `json:"sender"`
	Content     string  `json:"content"`
	Status      string  `json:"status"`
	Error       *string `json:"error,omitempty"`
	BlockNumber *int64  `json:"block_number,omitempty"`
	SubmittedAt int64   `json:"submitted_at"`
	UpdatedAt   int64   `json:"updated_at"`
}

// JournalFilter narrows ListJournal results.
type JournalFilter struct {
	Status string
	Limit  int
	Offset int
}

type scanner interface {
	Scan(dest ...any) error
}

func validateJournalStatus(status string) error {
	switch status {
	case JournalStatusPending, JournalStatusConfirmed, JournalStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid journal status %q", status)
	}
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
