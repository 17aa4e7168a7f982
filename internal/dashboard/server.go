package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/buildbridge/internal/dispatch"
)

const maxHistory = 20

// Config configures the dashboard's HTTP listener.
type Config struct {
	Address string
	Port    int
}

// Server renders the read-only build status page. It subscribes to the
// dispatcher by submitting ListenToEvents and ListenToBuildChange
// requests through the same RequestQueue every other client uses.
type Server struct {
	log *slog.Logger

	mu        sync.Mutex
	structure dispatch.BuildStructure
	history   []historyEntry

	httpServer *http.Server
}

// New creates a Server with no build structure yet known.
func New(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log}
}

// Run subscribes to dispatcher events, starts the HTTP listener, and
// blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, requests *dispatch.RequestQueue, cfg Config) error {
	client := dispatch.NewClient("dashboard-"+uuid.NewString(), 64, func(c *dispatch.Client) {
		s.log.Warn("dashboard event client is slow, events may be dropped", "client", c.ID())
	})
	if err := requests.Enqueue(dispatch.ServerRequest{Client: client, Request: dispatch.ListenToEvents{}}); err != nil {
		return fmt.Errorf("subscribe dashboard client to events: %w", err)
	}
	if err := requests.Enqueue(dispatch.ServerRequest{Client: client, Request: dispatch.ListenToBuildChange{}}); err != nil {
		return fmt.Errorf("subscribe dashboard client to build changes: %w", err)
	}

	go s.consumeEvents(ctx, client)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)

	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) consumeEvents(ctx context.Context, client *dispatch.Client) {
	// Replies carry the ListenToBuildChange response with the current
	// structure at subscribe time; events carry everything after.
	for {
		select {
		case <-ctx.Done():
			return
		case reply, ok := <-client.Replies():
			if !ok {
				return
			}
			if r, ok := reply.Response.(dispatch.BuildStructureResponse); ok {
				s.mu.Lock()
				s.structure = r.Structure
				s.mu.Unlock()
			}
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Server) handleEvent(ev dispatch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case dispatch.BuildStructureChanged:
		s.structure = e.Structure
	case dispatch.ExecutionSuccess:
		s.history = s.appendHistory(historyEntry{ID: e.ID, Status: "success", At: time.Now()})
	case dispatch.ExecutionFailure:
		s.history = s.appendHistory(historyEntry{ID: e.ID, Status: "failure", At: time.Now()})
	}
}

func (s *Server) appendHistory(h historyEntry) []historyEntry {
	next := append(s.history, h)
	if len(next) > maxHistory {
		next = next[len(next)-maxHistory:]
	}
	return next
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	structure := s.structure
	history := make([]historyEntry, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	md := renderMarkdown(structure, history)
	html, err := renderHTML(md)
	if err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
		s.log.Error("dashboard render failed", "error", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
