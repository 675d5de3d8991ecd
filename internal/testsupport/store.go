package testsupport

import (
	"testing"

	"vodwatch/internal/config"
	"vodwatch/internal/jobs"
)

// MustOpenStore opens a job store against the test config's database and
// closes it when the test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()
	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close job store: %v", err)
		}
	})
	return store
}
