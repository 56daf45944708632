/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

package proxy

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBufferSize is the size of one read, both for the initial request
	// chunk and for each relayed chunk.
	DefaultBufferSize = 64 * 1024
	// DefaultPollInterval is the length of one idle-detection window.
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxIdlePolls consecutive silent windows end a relay (5 minutes
	// with the default poll interval).
	DefaultMaxIdlePolls = 60
)

var relayBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, DefaultBufferSize)
		return &b
	},
}

// StopReason says why a relay ended.
type StopReason string

const (
	StopClientClosed StopReason = "client closed"
	StopRemoteClosed StopReason = "remote closed"
	StopClientError  StopReason = "client error"
	StopRemoteError  StopReason = "remote error"
	StopIdleTimeout  StopReason = "idle timeout"
)

// RelayResult describes a finished relay.
type RelayResult struct {
	ClientToRemote int64
	RemoteToClient int64
	Duration       time.Duration
	Reason         StopReason
}

// Relay copies bytes between a client and a remote connection until either
// side closes or fails, or until no data has been read on either side for
// MaxIdlePolls consecutive PollIntervals.
type Relay struct {
	BufferSize   int
	PollInterval time.Duration
	MaxIdlePolls int
}

// NewRelay returns a Relay with the default buffer size and idle window.
func NewRelay() *Relay {
	return &Relay{
		BufferSize:   DefaultBufferSize,
		PollInterval: DefaultPollInterval,
		MaxIdlePolls: DefaultMaxIdlePolls,
	}
}

// half names the stop reasons for one copy direction.
type half struct {
	eof      StopReason
	readErr  StopReason
	writeErr StopReason
}

var (
	clientToRemote = half{eof: StopClientClosed, readErr: StopClientError, writeErr: StopRemoteError}
	remoteToClient = half{eof: StopRemoteClosed, readErr: StopRemoteError, writeErr: StopClientError}
)

// Run relays until termination and never fails. On return the remote
// connection is closed; the client connection is left open with expired
// deadlines and must be closed by the caller.
func (r *Relay) Run(client, remote net.Conn) RelayResult {
	start := time.Now()
	pollInterval := r.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	maxIdle := r.MaxIdlePolls
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdlePolls
	}

	var (
		active   atomic.Bool
		up, down atomic.Int64
		wg       sync.WaitGroup
	)
	stop := make(chan StopReason, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		stop <- r.copyHalf(remote, client, clientToRemote, &active, &up)
	}()
	go func() {
		defer wg.Done()
		stop <- r.copyHalf(client, remote, remoteToClient, &active, &down)
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var reason StopReason
	idle := 0
	for reason == "" {
		select {
		case reason = <-stop:
		case <-ticker.C:
			if active.Swap(false) {
				idle = 0
				continue
			}
			idle++
			if idle >= maxIdle {
				reason = StopIdleTimeout
			}
		}
	}

	// Unblock both copiers: the remote is ours to close, the client only
	// gets its deadlines expired.
	_ = remote.Close()
	_ = client.SetDeadline(time.Now())
	wg.Wait()

	return RelayResult{
		ClientToRemote: up.Load(),
		RemoteToClient: down.Load(),
		Duration:       time.Since(start),
		Reason:         reason,
	}
}

func (r *Relay) copyHalf(dst, src net.Conn, h half, active *atomic.Bool, written *atomic.Int64) StopReason {
	buf, release := r.buffer()
	defer release()

	for {
		nr, err := src.Read(buf)
		if nr > 0 {
			active.Store(true)
			nw, werr := dst.Write(buf[:nr])
			written.Add(int64(nw))
			if werr != nil {
				return h.writeErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return h.eof
			}
			return h.readErr
		}
	}
}

func (r *Relay) buffer() ([]byte, func()) {
	if r.BufferSize > 0 && r.BufferSize != DefaultBufferSize {
		return make([]byte, r.BufferSize), func() {}
	}
	bp := relayBufferPool.Get().(*[]byte)
	return *bp, func() { relayBufferPool.Put(bp) }
}
