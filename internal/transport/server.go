package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/acme/autocert"

	"github.com/nugget/buildbridge/internal/dispatch"
)

// Server accepts websocket connections and registers a dispatch.Client for
// each, submitting ListenToEvents-style registration implicitly left to
// the client's first request — Server itself only wires the transport, it
// never assumes a subscription the client didn't ask for.
type Server struct {
	upgrader    websocket.Upgrader
	requests    *dispatch.RequestQueue
	clientBuf   int
	log         *slog.Logger
	httpServer  *http.Server

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// Config configures the listener and optional TLS.
type Config struct {
	Address string
	Port    int

	TLSEnabled     bool
	TLSDomains     []string
	TLSCacheDir    string
	TLSContactMail string
}

// NewServer creates a Server that feeds submitted requests into requests
// and buffers clientBufSize events/replies per connected client.
func NewServer(requests *dispatch.RequestQueue, clientBufSize int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		requests:  requests,
		clientBuf: clientBufSize,
		log:       log,
		conns:     map[*Conn]struct{}{},
	}
}

// ServeHTTP upgrades the connection and spins up its read/write pumps. Each
// connection gets a fresh dispatch.Client identified by a random UUID; the
// caller is responsible for submitting it to the dispatcher's ServerState
// via whatever ListenTo* request the client first sends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	conn := newConn(ws, nil, s.requests, s.log, s.forget)
	conn.client = dispatch.NewClient(id, s.clientBuf, func(c *dispatch.Client) {
		s.log.Warn("disconnecting slow client", "client", c.ID())
		conn.ws.Close()
	})

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	go conn.writePump()
	go conn.readPump()
}

func (s *Server) forget(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Run starts the HTTP(S) listener and blocks until ctx is cancelled or the
// server fails. Matches the teacher's pattern of a *http.Server built
// once, shut down via ctx rather than a bespoke signal channel.
func (s *Server) Run(ctx context.Context, cfg Config) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)

	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)

	if cfg.TLSEnabled {
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLSDomains...),
			Cache:      autocert.DirCache(cfg.TLSCacheDir),
			Email:      cfg.TLSContactMail,
		}
		s.httpServer.TLSConfig = &tls.Config{GetCertificate: manager.GetCertificate}

		go func() {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				errCh <- err
				return
			}
			errCh <- s.httpServer.ServeTLS(ln, "", "")
		}()
	} else {
		go func() {
			errCh <- s.httpServer.ListenAndServe()
		}()
	}

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
