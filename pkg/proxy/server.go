/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("proxy: server closed")

// ConnHandler serves a single accepted connection and closes it.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// Server owns the listening socket and runs one goroutine per accepted
// connection. Shutdown stops accepting; connections already being served are
// left to finish on their own.
type Server struct {
	Addr    string
	Handler ConnHandler
	Logger  *log.Logger
	// MaxConnections bounds concurrently served connections. Zero means
	// unbounded.
	MaxConnections int
	// ReusePort sets SO_REUSEPORT on the listening socket where supported.
	ReusePort bool

	mu       sync.Mutex
	listener net.Listener
	running  bool
	closed   bool
	done     chan struct{}
}

// ListenAndServe listens on s.Addr and calls Serve.
func (s *Server) ListenAndServe() error {
	lc := net.ListenConfig{Control: listenControl(s.ReusePort, s.logf)}
	ln, err := lc.Listen(context.Background(), "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called or a
// non-temporary accept error occurs. After Shutdown it returns
// ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	defer ln.Close()

	s.logf("[Proxy] Listening on %s", ln.Addr())

	var sem chan struct{}
	if s.MaxConnections > 0 {
		sem = make(chan struct{}, s.MaxConnections)
	}

	var tempDelay time.Duration
	for {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-done:
				return ErrServerClosed
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if sem != nil {
				<-sem
			}
			if !s.isRunning() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() { //nolint:staticcheck // same check as net/http
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logf("[Proxy] Accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			s.logf("[Proxy] Server socket error: %v", err)
			return fmt.Errorf("accept failed: %w", err)
		}
		tempDelay = 0

		go func(c net.Conn) {
			if sem != nil {
				defer func() { <-sem }()
			}
			s.Handler.ServeConn(context.Background(), c)
		}(conn)
	}
}

// Shutdown marks the server as stopped and closes the listener. It does not
// wait for in-flight connections.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.running = false
	if s.done != nil {
		close(s.done)
	}
	if s.listener == nil {
		return nil
	}
	s.logf("[Proxy] Shutting down proxy server...")
	return s.listener.Close()
}

// ListenAddr returns the address of the active listener, or nil.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
