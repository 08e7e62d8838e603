package testsupport

import (
	"testing"

	"ferry/internal/config"
	"ferry/internal/journal"
)

// MustOpenJournal opens the run journal for cfg and closes it when the test
// ends.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Journal {
	t.Helper()

	j, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = j.Close()
	})
	return j
}
