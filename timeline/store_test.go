package timeline

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"chainchat/models"
)

func mustInsertLocal(t *testing.T, store *Store, id, content string, at time.Time) {
	t.Helper()

	if err := store.InsertLocal(models.Message{
		ID:        id,
		Content:   content,
		Timestamp: at,
		Sender:    "0xABCD000000000000000000000000000000001234",
		Status:    models.StatusPending,
	}); err != nil {
		t.Fatalf("insert local %q: %v", id, err)
	}
}

func TestInsertLocalRejectsDuplicateID(t *testing.T) {
	store := NewStore()
	now := time.Now()
	mustInsertLocal(t, store, "m1", "hello", now)

	err := store.InsertLocal(models.Message{ID: "m1", Content: "again", Timestamp: now, Status: models.StatusPending})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 stored message, got %d", store.Len())
	}
}

func TestUpdateStatusAttachesHashAndSettlesOnce(t *testing.T) {
	store := NewStore()
	mustInsertLocal(t, store, "m1", "hello", time.Now())

	msg, err := store.UpdateStatus("m1", models.StatusPending, "0xfeed")
	if err != nil {
		t.Fatalf("attach tx hash failed: %v", err)
	}
	if msg.Status != models.StatusPending || msg.TxHash != "0xfeed" {
		t.Fatalf("unexpected message after attach: %+v", msg)
	}

	msg, err = store.UpdateStatus("m1", models.StatusConfirmed, "")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if msg.TxHash != "0xfeed" {
		t.Fatalf("tx hash lost on confirm: %+v", msg)
	}

	if _, err := store.UpdateStatus("m1", models.StatusFailed, ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := store.Get("m1")
	if got.Status != models.StatusConfirmed {
		t.Fatalf("terminal status changed to %q", got.Status)
	}

	if _, err := store.UpdateStatus("missing", models.StatusFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusTrajectoriesHaveAtMostOneTerminalTransition(t *testing.T) {
	statuses := []models.Status{models.StatusPending, models.StatusConfirmed, models.StatusFailed}
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		store := NewStore()
		mustInsertLocal(t, store, "m", "x", time.Now())
		trajectory := []models.Status{models.StatusPending}

		for step := 0; step < 6; step++ {
			next := statuses[rng.Intn(len(statuses))]
			msg, err := store.UpdateStatus("m", next, "")
			if err != nil {
				continue
			}
			if msg.Status != trajectory[len(trajectory)-1] {
				trajectory = append(trajectory, msg.Status)
			}
		}

		if len(trajectory) > 2 {
			t.Fatalf("round %d: trajectory too long: %v", round, trajectory)
		}
		if len(trajectory) == 2 && !trajectory[1].Terminal() {
			t.Fatalf("round %d: second state must be terminal: %v", round, trajectory)
		}
	}
}

func TestListVisibleHidesOldRemoteMessagesOnly(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	store := NewStore()

	err := store.Replace([]models.Message{
		models.RemoteEvent{Sender: "0x1", Content: "fresh", TxHash: "0xa", BlockNumber: 10, Timestamp: now.Add(-time.Hour)}.Message(),
		models.RemoteEvent{Sender: "0x2", Content: "stale", TxHash: "0xb", BlockNumber: 9, Timestamp: now.Add(-25 * time.Hour)}.Message(),
		{ID: "local-old", Content: "still here", Timestamp: now.Add(-72 * time.Hour), Status: models.StatusFailed},
		{ID: "local-new", Content: "sending", Timestamp: now, Status: models.StatusPending},
	})
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	visible := store.ListVisible(now, 24*time.Hour)
	if len(visible) != 3 {
		t.Fatalf("expected 3 visible messages, got %d: %+v", len(visible), visible)
	}
	for _, msg := range visible {
		if msg.IsRemote && msg.Timestamp.Before(now.Add(-24*time.Hour)) {
			t.Fatalf("stale remote message visible: %+v", msg)
		}
	}
	if visible[0].ID != "local-new" || visible[2].ID != "local-old" {
		t.Fatalf("expected newest-first ordering, got %s, %s, %s", visible[0].ID, visible[1].ID, visible[2].ID)
	}
}

func TestReplaceRejectsInvalidRemote(t *testing.T) {
	store := NewStore()
	mustInsertLocal(t, store, "keep", "x", time.Now())

	err := store.Replace([]models.Message{{ID: "r", IsRemote: true, Status: models.StatusPending, TxHash: "0x1"}})
	if !errors.Is(err, models.ErrInvalidRemote) {
		t.Fatalf("expected ErrInvalidRemote, got %v", err)
	}
	if _, ok := store.Get("keep"); !ok {
		t.Fatalf("store changed after rejected Replace")
	}
}

func TestClear(t *testing.T) {
	store := NewStore()
	mustInsertLocal(t, store, "a", "x", time.Now())
	store.Clear()
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
	mustInsertLocal(t, store, "a", "x", time.Now())
}
