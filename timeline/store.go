package timeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chainchat/models"
)

var (
	// ErrDuplicateID indicates an insert with an id that is already stored.
	ErrDuplicateID = errors.New("timeline: duplicate message id")
	// ErrNotFound indicates an unknown message id.
	ErrNotFound = errors.New("timeline: message not found")
)

// DefaultRetention is how long remote messages stay visible.
const DefaultRetention = 24 * time.Hour

// Store is the in-memory, insertion-ordered message collection for one session.
type Store struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]models.Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byID: make(map[string]models.Message)}
}

// InsertLocal appends a locally originated message.
func (s *Store) InsertLocal(msg models.Message) error {
	if msg.Status == "" {
		msg.Status = models.StatusPending
	}
	msg.IsRemote = false
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	s.byID[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	return nil
}

// UpdateStatus moves a message along its lifecycle and optionally records the tx hash.
// An empty txHash keeps the stored one.
func (s *Store) UpdateStatus(id string, status models.Status, txHash string) (models.Message, error) {
	if err := models.ValidateStatus(status); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return models.Message{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !models.CanTransition(msg.Status, status) {
		return msg, fmt.Errorf("%w: %s %s -> %s", models.ErrInvalidTransition, id, msg.Status, status)
	}
	msg.Status = status
	if txHash != "" {
		msg.TxHash = txHash
	}
	s.byID[id] = msg
	return msg, nil
}

// Get returns one message by id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[id]
	return msg, ok
}

// Snapshot returns all messages in stored order.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Local returns the locally originated messages in insertion order.
func (s *Store) Local() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		if msg := s.byID[id]; !msg.IsRemote {
			out = append(out, msg)
		}
	}
	return out
}

// Replace swaps the store contents for a reconciled list.
func (s *Store) Replace(merged []models.Message) error {
	next, order, err := index(merged)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = next
	s.order = order
	return nil
}

// Merge reconciles fetched history against the current local messages and
// stores the result, all under one lock so no concurrent status update is lost.
func (s *Store) Merge(history models.History, now time.Time, window Window) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		if msg := s.byID[id]; !msg.IsRemote {
			local = append(local, msg)
		}
	}

	merged := Reconcile(history, local, now, window)
	next, order, err := index(merged)
	if err != nil {
		return nil, err
	}
	s.byID = next
	s.order = order
	return merged, nil
}

func index(messages []models.Message) (map[string]models.Message, []string, error) {
	next := make(map[string]models.Message, len(messages))
	order := make([]string, 0, len(messages))
	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			return nil, nil, err
		}
		if _, exists := next[msg.ID]; exists {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
		}
		next[msg.ID] = msg
		order = append(order, msg.ID)
	}
	return next, order, nil
}

// Clear drops every message.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]models.Message)
	s.order = nil
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// ListVisible returns messages newest first, hiding remote messages older than retention.
// Local messages are never hidden by age.
func (s *Store) ListVisible(now time.Time, retention time.Duration) []models.Message {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)

	s.mu.RLock()
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		msg := s.byID[id]
		if msg.IsRemote && msg.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, msg)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
