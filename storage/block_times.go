package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// BlockTime returns the cached unix timestamp of a block.
func (s *Store) BlockTime(number uint64) (int64, bool, error) {
	var blockTime int64
	err := s.db.QueryRow(
		`SELECT block_time FROM block_times WHERE block_number = ?`,
		int64(number),
	).Scan(&blockTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get block time %d: %w", number, err)
	}
	return blockTime, true, nil
}

// PutBlockTime caches the unix timestamp of a block.
func (s *Store) PutBlockTime(number uint64, unixSeconds int64) error {
	if unixSeconds <= 0 {
		return errors.New("block time must be > 0")
	}

	_, err := s.db.Exec(
		`INSERT INTO block_times (block_number, block_time, cached_at)
		VALUES (?, ?, ?)
		ON CONFLICT(block_number) DO UPDATE SET
			block_time = excluded.block_time,
			cached_at = excluded.cached_at`,
		int64(number),
		unixSeconds,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put block time %d: %w", number, err)
	}

	return nil
}

// PruneBlockTimes removes cached blocks below the given block number.
func (s *Store) PruneBlockTimes(belowBlock uint64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM block_times WHERE block_number < ?`, int64(belowBlock))
	if err != nil {
		return 0, fmt.Errorf("prune block times: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for block time prune: %w", err)
	}

	return rowsAffected, nil
}
