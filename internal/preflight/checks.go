package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"ferry/internal/config"
	"ferry/internal/journal"
	"ferry/internal/labbcat"
)

const serverCheckTimeout = 15 * time.Second

// ServerProbe is the slice of the corpus server client the server check needs.
type ServerProbe interface {
	BaseURL() string
	CorpusIDs(ctx context.Context) ([]string, error)
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckJournal opens the run journal, applying pending migrations.
func CheckJournal(ctx context.Context, cfg *config.Config) Result {
	const name = "Run journal"
	j, err := journal.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer j.Close()
	runs, err := j.ListRuns(ctx, 0)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d runs)", j.Path(), len(runs))}
}

// CheckServer verifies that the corpus server is reachable and accepts the
// configured credentials. It makes a single attempt bounded by a short timeout.
func CheckServer(ctx context.Context, server ServerProbe) Result {
	const name = "Corpus server"

	checkCtx, cancel := context.WithTimeout(ctx, serverCheckTimeout)
	defer cancel()

	corpora, err := server.CorpusIDs(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", server.BaseURL(), summarizeServerError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d corpora)", server.BaseURL(), len(corpora))}
}

func summarizeServerError(err error) string {
	var status *labbcat.StatusError
	if errors.As(err, &status) {
		switch status.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "auth failed (check username and password)"
		}
		return fmt.Sprintf("unexpected status %d", status.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out (server unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (server unreachable)"
	}
	return err.Error()
}
