package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fabricionaweb/pico-swarm/internal/bencode"
)

// Transport timeouts bound how long one slow or silent client can hold a connection.
const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 30 * time.Second
)

type serverState int32

const (
	stateIdle serverState = iota
	stateServing
	stateStopped
)

func (s serverState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateServing:
		return "serving"
	case stateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Server owns the listening socket and the swarm state behind it.
type Server struct {
	tr    *Tracker
	ready chan struct{}
	addr  net.Addr
	cfg   config
	state atomic.Int32
	mu    sync.Mutex
}

// NewServer creates and initializes a new server instance
func NewServer(cfg config) *Server {
	tr := newTracker(cfg.interval)
	tr.limiter = newRateLimiter(cfg.rateLimit, rateLimitWindow)
	if cfg.safeInts {
		tr.enc = bencode.SafeEncoder
	}
	return &Server{
		cfg:   cfg,
		tr:    tr,
		ready: make(chan struct{}),
	}
}

func (s *Server) State() serverState {
	return serverState(s.state.Load())
}

// Addr blocks until the listener is bound and returns its address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run binds the listener, serves requests until ctx is canceled, then drains
// in-flight requests and releases the socket. It returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(stateIdle), int32(stateServing)) {
		return fmt.Errorf("server already %s", s.State())
	}
	defer s.state.Store(int32(stateStopped))

	info("Starting Pico Swarm: %s", version)
	debug("Debug mode is enabled")

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.port))
	if err != nil {
		close(s.ready)
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.port, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.tr.cleanupLoop(runCtx)

	// whitelist is in place before Addr unblocks
	if s.cfg.whitelistPath != "" {
		s.tr.allow = newAllowList(s.cfg.whitelistPath)
		go s.tr.allow.watch(runCtx, whitelistRefreshInterval)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)
	info("HTTP Tracker listening on %s (announce interval %ds)", ln.Addr(), s.cfg.interval)

	srv := &http.Server{
		Handler:           s.tr.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	info("Shutting down gracefully...")
	info("Waiting for in-flight requests to complete...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		warn("Forcing shutdown after timeout, some handlers incomplete")
		_ = srv.Close()
		return fmt.Errorf("shutdown timeout: %w", err)
	}

	info("Shutdown complete")
	return nil
}

// setupSignalHandling creates a context that cancels on SIGINT/SIGTERM
func setupSignalHandling() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
