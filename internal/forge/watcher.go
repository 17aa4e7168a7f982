package forge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/buildbridge/internal/dispatch"
)

const reportTimeout = 10 * time.Second

// ciPrefix marks an Execution command as one whose outcome should be
// reported to GitHub as a commit status. The form is
// "ci:owner/repo@sha <command>"; Watcher strips the prefix before
// recording the correlation and never sees (or needs) the rendered
// command the Engine actually runs.
const ciPrefix = "ci:"

// Watcher correlates dispatcher work ids to GitHub commit targets and
// reports ExecutionSuccess/ExecutionFailure events as commit statuses. It
// is a Post-Command Cleanup extension (§4.H): it observes the event
// stream like any other subscribed client and never calls back into the
// dispatcher beyond that subscription.
type Watcher struct {
	reporter *Reporter
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[uint64]ciTarget
}

type ciTarget struct {
	owner, repo, sha string
}

// NewWatcher creates a Watcher reporting through reporter.
func NewWatcher(reporter *Reporter, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		reporter: reporter,
		logger:   logger,
		pending:  map[uint64]ciTarget{},
	}
}

// NoteExecution records the commit target for id if command carries the
// "ci:owner/repo@sha " prefix. Intended to be wired as
// dispatch.ReaderLoop.SetOnExecution.
func (w *Watcher) NoteExecution(id uint64, command string) {
	target, ok := parseCITarget(command)
	if !ok {
		return
	}
	w.mu.Lock()
	w.pending[id] = target
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := w.reporter.Report(ctx, target.sha, StatePending, "build running", ""); err != nil {
		w.logger.Warn("forge pending status failed", "id", id, "error", err)
	}
}

// Run subscribes to the dispatcher's event stream and reports completed
// executions until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, requests *dispatch.RequestQueue) error {
	client := dispatch.NewClient("forge-watcher", 64, func(c *dispatch.Client) {
		w.logger.Warn("forge event client is slow, events may be dropped", "client", c.ID())
	})
	if err := requests.Enqueue(dispatch.ServerRequest{Client: client, Request: dispatch.ListenToEvents{}}); err != nil {
		return fmt.Errorf("subscribe forge watcher to events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev dispatch.Event) {
	var id uint64
	var state State
	var description string

	switch e := ev.(type) {
	case dispatch.ExecutionSuccess:
		id, state, description = e.ID, StateSuccess, "build succeeded"
	case dispatch.ExecutionFailure:
		id, state, description = e.ID, StateFailure, "build failed"
	default:
		return
	}

	w.mu.Lock()
	target, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	if err := w.reporter.Report(ctx, target.sha, state, description, ""); err != nil {
		w.logger.Warn("forge status report failed", "id", id, "error", err)
	}
}

// parseCITarget parses the "ci:owner/repo@sha " prefix off command.
func parseCITarget(command string) (ciTarget, bool) {
	if !strings.HasPrefix(command, ciPrefix) {
		return ciTarget{}, false
	}
	rest := command[len(ciPrefix):]
	head, _, found := strings.Cut(rest, " ")
	if !found {
		return ciTarget{}, false
	}
	ownerRepo, sha, found := strings.Cut(head, "@")
	if !found || sha == "" {
		return ciTarget{}, false
	}
	owner, repo, found := strings.Cut(ownerRepo, "/")
	if !found || owner == "" || repo == "" {
		return ciTarget{}, false
	}
	return ciTarget{owner: owner, repo: repo, sha: sha}, true
}
