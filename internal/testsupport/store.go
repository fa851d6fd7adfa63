package testsupport

import (
	"context"
	"testing"

	"clipfit/internal/config"
	"clipfit/internal/jobstore"
)

// MustOpenStore opens a jobstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()

	store, err := jobstore.Open(cfg)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// InsertJob records a running job for tests using the provided store.
func InsertJob(t testing.TB, store *jobstore.Store, id, requester, url string) {
	t.Helper()

	err := store.Insert(context.Background(), jobstore.Record{
		ID:          id,
		RequesterID: requester,
		SourceURL:   url,
		Kind:        "video",
	})
	if err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
}
