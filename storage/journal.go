package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SetJournalRetention configures how long settled journal rows are kept.
func (s *Store) SetJournalRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultJournalRetention
	}
	s.journalRetention = retention
}

// RecordSubmission inserts a pending journal row for a message about to be sent.
func (s *Store) RecordSubmission(entry JournalEntry) error {
	if strings.TrimSpace(entry.MessageID) == "" {
		return errors.New("message_id is required")
	}
	if strings.TrimSpace(entry.Sender) == "" {
		return errors.New("sender is required")
	}
	if entry.Content == "" {
		return errors.New("content is required")
	}
	if entry.Status == "" {
		entry.Status = JournalStatusPending
	}
	if err := validateJournalStatus(entry.Status); err != nil {
		return err
	}
	if entry.SubmittedAt == 0 {
		entry.SubmittedAt = nowUnixMilli()
	}
	if entry.UpdatedAt == 0 {
		entry.UpdatedAt = entry.SubmittedAt
	}

	_, err := s.db.Exec(
		`INSERT INTO transactions (
			message_id,
			tx_hash,
			contract,
			sender,
			content,
			status,
			error,
			block_number,
			submitted_at,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.MessageID,
		nullString(entry.TxHash),
		entry.Contract,
		entry.Sender,
		entry.Content,
		entry.Status,
		nullString(entry.Error),
		nullInt64(entry.BlockNumber),
		entry.SubmittedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry %q: %w", entry.MessageID, err)
	}

	return nil
}

// AttachTxHash records the broadcast transaction hash of a pending entry.
func (s *Store) AttachTxHash(messageID, txHash string) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if txHash == "" {
		return errors.New("tx_hash is required")
	}

	res, err := s.db.Exec(
		`UPDATE transactions
		SET tx_hash = ?, updated_at = ?
		WHERE message_id = ? AND status = ?`,
		txHash,
		nowUnixMilli(),
		messageID,
		JournalStatusPending,
	)
	if err != nil {
		return fmt.Errorf("attach tx hash for journal entry %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for attach tx hash %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// SettleJournalEntry moves a pending entry to confirmed or failed and applies
// retention pruning. Settled entries are never changed again.
func (s *Store) SettleJournalEntry(messageID, status string, blockNumber *int64, reason string) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if err := validateJournalStatus(status); err != nil {
		return err
	}
	if status == JournalStatusPending {
		return errors.New("settled status must be confirmed or failed")
	}

	var errText *string
	if reason = strings.TrimSpace(reason); reason != "" {
		errText = &reason
	}

	res, err := s.db.Exec(
		`UPDATE transactions
		SET status = ?, block_number = COALESCE(?, block_number), error = ?, updated_at = ?
		WHERE message_id = ? AND status = ?`,
		status,
		nullInt64(blockNumber),
		nullString(errText),
		nowUnixMilli(),
		messageID,
		JournalStatusPending,
	)
	if err != nil {
		return fmt.Errorf("settle journal entry %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for settle journal entry %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if s.journalRetention > 0 {
		cutoff := time.Now().Add(-s.journalRetention).UnixMilli()
		if _, err := s.PruneJournal(cutoff); err != nil {
			return err
		}
	}

	return nil
}

// GetJournalEntry fetches one journal row by message ID.
func (s *Store) GetJournalEntry(messageID string) (*JournalEntry, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			message_id,
			tx_hash,
			contract,
			sender,
			content,
			status,
			error,
			block_number,
			submitted_at,
			updated_at
		FROM transactions
		WHERE message_id = ?`,
		messageID,
	)

	entry, err := scanJournalEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get journal entry %q: %w", messageID, err)
	}
	return entry, nil
}

// ListJournal returns journal rows newest first.
func (s *Store) ListJournal(filter JournalFilter) ([]JournalEntry, error) {
	if filter.Status != "" {
		if err := validateJournalStatus(filter.Status); err != nil {
			return nil, err
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
			message_id,
			tx_hash,
			contract,
			sender,
			content,
			status,
			error,
			block_number,
			submitted_at,
			updated_at
		FROM transactions`)
	args := make([]any, 0, 3)
	if filter.Status != "" {
		query.WriteString(" WHERE status = ?")
		args = append(args, filter.Status)
	}
	query.WriteString(" ORDER BY submitted_at DESC, message_id DESC LIMIT ? OFFSET ?")
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	entries := make([]JournalEntry, 0)
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}

	return entries, nil
}

// FailStalePending marks pending entries submitted before cutoff as failed.
// Entries left pending by a crashed process are settled this way on startup.
func (s *Store) FailStalePending(cutoffTimestamp int64, reason string) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(
		`UPDATE transactions
		SET status = ?, error = ?, updated_at = ?
		WHERE status = ? AND submitted_at < ?`,
		JournalStatusFailed,
		reason,
		nowUnixMilli(),
		JournalStatusPending,
		cutoffTimestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale journal entries: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for stale journal entries: %w", err)
	}

	return rowsAffected, nil
}

// PruneJournal removes settled entries last updated before cutoff.
func (s *Store) PruneJournal(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(
		`DELETE FROM transactions WHERE status != ? AND updated_at < ?`,
		JournalStatusPending,
		cutoffTimestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("prune journal entries: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for journal prune: %w", err)
	}

	return rowsAffected, nil
}

func scanJournalEntry(row scanner) (*JournalEntry, error) {
	var (
		entry       JournalEntry
		txHash      sql.NullString
		errText     sql.NullString
		blockNumber sql.NullInt64
	)

	if err := row.Scan(
		&entry.MessageID,
		&txHash,
		&entry.Contract,
		&entry.Sender,
		&entry.Content,
		&entry.Status,
		&errText,
		&blockNumber,
		&entry.SubmittedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}

	entry.TxHash = stringPtr(txHash)
	entry.Error = stringPtr(errText)
	entry.BlockNumber = int64Ptr(blockNumber)

	return &entry, nil
}
