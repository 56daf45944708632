/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

// Package proxy implements the forward proxy core: request-line parsing,
// outbound connection setup, the per-connection handler and the byte relay.
package proxy

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultStatusMessage is used in CONNECT success lines and probe replies.
	DefaultStatusMessage = "ProjectFog"
	// DefaultReadTimeout bounds the initial request read and any response
	// the proxy writes before relaying starts.
	DefaultReadTimeout = 10 * time.Second
)

// Handler serves one accepted client connection at a time per call. All
// fields are read-only once the handler is in use, so a single Handler can
// serve any number of connections concurrently.
type Handler struct {
	StatusMessage string
	ReadTimeout   time.Duration
	BufferSize    int
	Dialer        Dialer
	Relay         *Relay
	Logger        *log.Logger
	Observer      Observer
}

// NewHandler creates a Handler with default timeouts, connector and relay.
func NewHandler(statusMessage string, logger *log.Logger) *Handler {
	return &Handler{
		StatusMessage: statusMessage,
		ReadTimeout:   DefaultReadTimeout,
		BufferSize:    DefaultBufferSize,
		Dialer:        NewConnector(DefaultConnectTimeout),
		Relay:         NewRelay(),
		Logger:        logger,
	}
}

// ServeConn handles conn from the first read until it is closed. conn is
// always closed on return, after the outbound connection if one was opened.
// ServeConn never panics into the caller.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) {
	start := time.Now()
	report := ConnectionReport{Peer: peerAddr(conn)}
	observer := h.observer()
	observer.ConnectionOpened()

	var remote net.Conn
	defer func() {
		if rec := recover(); rec != nil {
			h.logf("[%s] panic while serving connection: %v", report.Peer, rec)
			report.Outcome = OutcomePanic
		}
		if remote != nil {
			_ = remote.Close()
		}
		_ = conn.Close()
		report.Duration = time.Since(start)
		observer.ConnectionClosed(report)
	}()

	// Reading
	_ = conn.SetDeadline(time.Now().Add(h.readTimeout()))
	buf := make([]byte, h.bufferSize())
	n, err := conn.Read(buf)
	if n == 0 {
		report.Outcome = OutcomeNoRequest
		if err != nil && !errors.Is(err, io.EOF) {
			report.Outcome = OutcomeReadError
			report.Err = err
		}
		return
	}
	raw := buf[:n]

	// Parsing
	h.logf("[%s] %s", report.Peer, FirstLine(raw))
	req, err := ParseRequest(raw)
	if err != nil {
		h.fail(conn, &report, err)
		return
	}
	report.Method = req.Method
	report.Mode = req.Mode

	if req.Mode == ModeProbe {
		report.Outcome = OutcomeProbe
		report.Status = http.StatusOK
		if err := writeStatusProbe(conn, h.StatusMessage); err != nil {
			report.Outcome = OutcomeClientGone
			report.Err = err
		}
		return
	}

	// TunnelSetup / DirectForward
	report.Target = req.Target.Addr()
	remote, err = h.dialer().Dial(ctx, req.Target)
	if err != nil {
		h.fail(conn, &report, err)
		return
	}

	if req.Mode == ModeTunnel {
		if err := writeTunnelEstablished(conn, h.StatusMessage); err != nil {
			report.Outcome = OutcomeClientGone
			report.Err = err
			return
		}
		report.Status = http.StatusOK
	} else if _, err := remote.Write(raw); err != nil {
		h.fail(conn, &report, &Error{Kind: KindUpstream, Target: report.Target, Err: err})
		return
	}

	// Relaying
	_ = conn.SetDeadline(time.Time{})
	result := h.relay().Run(conn, remote)
	report.Outcome = OutcomeRelayed
	report.StopReason = result.Reason
	report.ClientToRemote = result.ClientToRemote
	report.RemoteToClient = result.RemoteToClient
	h.logf("[%s] %s %s closed (%s) sent=%d received=%d after %s",
		report.Peer, req.Mode, report.Target, result.Reason,
		result.ClientToRemote, result.RemoteToClient, result.Duration.Round(time.Millisecond))
}

// fail reports err to the client as an HTTP error response. A failure to
// write that response is ignored.
func (h *Handler) fail(conn net.Conn, report *ConnectionReport, err error) {
	var perr *Error
	if !errors.As(err, &perr) {
		perr = &Error{Kind: KindUpstream, Target: report.Target, Err: err}
	}
	report.Err = err
	report.Status = perr.StatusCode()
	if perr.Kind == KindMalformedRequest {
		report.Outcome = OutcomeMalformed
	} else {
		report.Outcome = OutcomeConnectFailed
	}
	h.logf("[%s] %d %s: %v", report.Peer, perr.StatusCode(), perr.Reason(), err)
	_ = writeError(conn, perr.StatusCode(), perr.Reason())
}

func (h *Handler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (h *Handler) readTimeout() time.Duration {
	if h.ReadTimeout > 0 {
		return h.ReadTimeout
	}
	return DefaultReadTimeout
}

func (h *Handler) bufferSize() int {
	if h.BufferSize > 0 {
		return h.BufferSize
	}
	return DefaultBufferSize
}

func (h *Handler) dialer() Dialer {
	if h.Dialer != nil {
		return h.Dialer
	}
	return NewConnector(DefaultConnectTimeout)
}

func (h *Handler) relay() *Relay {
	if h.Relay != nil {
		return h.Relay
	}
	return NewRelay()
}

func (h *Handler) observer() Observer {
	if h.Observer != nil {
		return h.Observer
	}
	return nopObserver{}
}

func peerAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
