// Package server accepts client connections and serves files below the
// document root over them.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/moby/fsd/daemon/config"
	"github.com/moby/fsd/internal/httpwire"
	"github.com/moby/fsd/internal/safepath"
	"github.com/pkg/errors"
)

// ErrServerClosed is returned by Serve once Shutdown has been called.
var ErrServerClosed = errors.New("server closed")

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// aLongTimeAgo is a deadline in the past, used to wake up blocked reads.
var aLongTimeAgo = time.Unix(1, 0)

// Server serves files from a document root. Its settings are fixed when it
// is created; connections share nothing else but the registry used for
// shutdown.
type Server struct {
	root           string
	idleTimeout    time.Duration
	writeTimeout   time.Duration
	maxHeaderBytes int
	listing        bool

	mu           sync.Mutex
	listeners    map[net.Listener]struct{}
	conns        map[*conn]struct{}
	shuttingDown bool
	connWG       sync.WaitGroup
}

// New returns a server for the given configuration. The document root is
// made absolute and symlink-free here, once.
func New(cfg *config.Config) (*Server, error) {
	root, err := safepath.CanonicalRoot(cfg.Root)
	if err != nil {
		return nil, err
	}
	maxHeader := int(cfg.MaxHeaderSize)
	if maxHeader <= 0 {
		maxHeader = httpwire.DefaultMaxHeaderBytes
	}
	return &Server{
		root:           root,
		idleTimeout:    time.Duration(cfg.IdleTimeout),
		writeTimeout:   time.Duration(cfg.WriteTimeout),
		maxHeaderBytes: maxHeader,
		listing:        !cfg.NoListing,
		listeners:      make(map[net.Listener]struct{}),
		conns:          make(map[*conn]struct{}),
	}, nil
}

// Root returns the canonical document root.
func (s *Server) Root() string {
	return s.root
}

// Serve accepts connections on l and handles each of them in its own
// goroutine. Errors from Accept are retried with an increasing delay;
// Serve only returns when l is closed, with ErrServerClosed when that
// happened through Shutdown.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if !s.trackListener(l) {
		l.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(l)

	logger := log.G(ctx).WithField("addr", l.Addr().String())
	logger.Info("listening for connections")

	var delay time.Duration
	for {
		rwc, err := l.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			acceptErrors.Inc()
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			logger.WithError(err).Warnf("accept error; retrying in %v", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		delay = 0

		c := s.newConn(rwc)
		if !s.trackConn(c) {
			rwc.Close()
			continue
		}
		go c.serve(ctx)
	}
}

// Shutdown stops accepting connections, wakes up connections waiting for a
// request and waits for in-flight responses to complete. When ctx expires
// first, the remaining connections are closed and ctx.Err() is returned
// once their goroutines have exited.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	for l := range s.listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.G(ctx).WithError(err).Warn("error closing listener")
		}
	}
	for c := range s.conns {
		if c.idle {
			c.rwc.SetReadDeadline(aLongTimeAgo)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	n := len(s.conns)
	for c := range s.conns {
		c.rwc.Close()
	}
	s.mu.Unlock()
	log.G(ctx).WithField("connections", n).Warn("grace period expired, closed remaining connections")
	<-done
	return ctx.Err()
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

func (s *Server) trackListener(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.listeners[l] = struct{}{}
	return true
}

func (s *Server) untrackListener(l net.Listener) {
	s.mu.Lock()
	delete(s.listeners, l)
	s.mu.Unlock()
}

func (s *Server) trackConn(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.conns[c] = struct{}{}
	s.connWG.Add(1)
	activeConnections.Inc()
	return true
}

func (s *Server) untrackConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	activeConnections.Dec()
	s.connWG.Done()
}

// setIdle marks c as waiting for a request and arms its idle timeout. It
// returns false when the server is shutting down and c should be closed
// instead.
func (s *Server) setIdle(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	c.idle = true
	if s.idleTimeout > 0 {
		c.rwc.SetReadDeadline(time.Now().Add(s.idleTimeout))
	} else {
		c.rwc.SetReadDeadline(time.Time{})
	}
	return true
}

func (s *Server) setActive(c *conn) {
	s.mu.Lock()
	c.idle = false
	s.mu.Unlock()
}
