package timeline

import (
	"sort"
	"time"

	"chainchat/models"
)

// DefaultRetentionBlocks approximates 24 hours of blocks.
const DefaultRetentionBlocks = 6500

// Window bounds which remote events survive reconciliation.
//
// Blocks applies to events that carry a block number; Duration applies to
// events read from contract storage, which carry only a timestamp.
type Window struct {
	Blocks   uint64
	Duration time.Duration
}

func (w Window) withDefaults() Window {
	out := w
	if out.Blocks == 0 {
		out.Blocks = DefaultRetentionBlocks
	}
	if out.Duration <= 0 {
		out.Duration = DefaultRetention
	}
	return out
}

// Contains reports whether an event is inside the window.
func (w Window) Contains(event models.RemoteEvent, headBlock uint64, now time.Time) bool {
	w = w.withDefaults()
	if event.BlockNumber == 0 {
		return !event.Timestamp.Before(now.Add(-w.Duration))
	}
	if event.BlockNumber >= headBlock {
		return true
	}
	return headBlock-event.BlockNumber <= w.Blocks
}

// Reconcile merges fetched history with local messages.
//
// The result holds the in-window remote messages newest first, followed by
// the local messages still pending or failed in their original order.
// Confirmed local messages are dropped because their remote copy is either
// present or arrives with the next fetch. No content matching is attempted.
func Reconcile(history models.History, local []models.Message, now time.Time, window Window) []models.Message {
	events := make([]models.RemoteEvent, 0, len(history.Events))
	seen := make(map[string]struct{}, len(history.Events))
	for _, event := range history.Events {
		if !window.Contains(event, history.HeadBlock, now) {
			continue
		}
		id := event.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		events = append(events, event)
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber > b.BlockNumber
		}
		if a.LogIndex != b.LogIndex {
			return a.LogIndex > b.LogIndex
		}
		return a.TxHash > b.TxHash
	})

	remote := make([]models.Message, 0, len(events))
	for _, event := range events {
		remote = append(remote, event.Message())
	}

	merged := remote
	for _, msg := range local {
		if msg.IsRemote {
			continue
		}
		if msg.Status == models.StatusPending || msg.Status == models.StatusFailed {
			merged = append(merged, msg)
		}
	}
	return merged
}
