package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustRecordSubmission(t *testing.T, store *Store, messageID string, submittedAt int64) {
	t.Helper()

	err := store.RecordSubmission(JournalEntry{
		MessageID:   messageID,
		Contract:    "0xC89D21dDA2B9896BD6389a1f6fA58fFA1f6f18CA",
		Sender:      "0x00000000000000000000000000000000000000aa",
		Content:     "content-" + messageID,
		SubmittedAt: submittedAt,
	})
	if err != nil {
		t.Fatalf("record submission %q: %v", messageID, err)
	}
}
