// Package stats aggregates per-connection reports from the proxy handler
// and publishes them for other processes to read.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/strseb/fogproxy/pkg/proxy"
)

// Counters is a proxy.Observer that keeps running totals. The zero value is
// not usable; create one with NewCounters.
type Counters struct {
	started time.Time

	accepted       atomic.Int64
	active         atomic.Int64
	probes         atomic.Int64
	tunnels        atomic.Int64
	forwards       atomic.Int64
	malformed      atomic.Int64
	connectFailed  atomic.Int64
	clientGone     atomic.Int64
	readErrors     atomic.Int64
	idleTimeouts   atomic.Int64
	panics         atomic.Int64
	clientToRemote atomic.Int64
	remoteToClient atomic.Int64
}

var _ proxy.Observer = (*Counters)(nil)

func NewCounters() *Counters {
	return &Counters{started: time.Now()}
}

// ConnectionOpened implements proxy.Observer.
func (c *Counters) ConnectionOpened() {
	c.accepted.Add(1)
	c.active.Add(1)
}

// ConnectionClosed implements proxy.Observer.
func (c *Counters) ConnectionClosed(r proxy.ConnectionReport) {
	c.active.Add(-1)
	c.clientToRemote.Add(r.ClientToRemote)
	c.remoteToClient.Add(r.RemoteToClient)

	switch r.Outcome {
	case proxy.OutcomeProbe:
		c.probes.Add(1)
	case proxy.OutcomeRelayed:
		if r.Mode == proxy.ModeTunnel {
			c.tunnels.Add(1)
		} else {
			c.forwards.Add(1)
		}
		if r.StopReason == proxy.StopIdleTimeout {
			c.idleTimeouts.Add(1)
		}
	case proxy.OutcomeMalformed:
		c.malformed.Add(1)
	case proxy.OutcomeConnectFailed:
		c.connectFailed.Add(1)
	case proxy.OutcomeClientGone:
		c.clientGone.Add(1)
	case proxy.OutcomeReadError:
		c.readErrors.Add(1)
	case proxy.OutcomePanic:
		c.panics.Add(1)
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime         string `json:"uptime"`
	Accepted       int64  `json:"accepted"`
	Active         int64  `json:"active"`
	Probes         int64  `json:"probes"`
	Tunnels        int64  `json:"tunnels"`
	Forwards       int64  `json:"forwards"`
	Malformed      int64  `json:"malformed"`
	ConnectFailed  int64  `json:"connectFailed"`
	ClientGone     int64  `json:"clientGone"`
	ReadErrors     int64  `json:"readErrors"`
	IdleTimeouts   int64  `json:"idleTimeouts"`
	Panics         int64  `json:"panics"`
	ClientToRemote int64  `json:"bytesClientToRemote"`
	RemoteToClient int64  `json:"bytesRemoteToClient"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Uptime:         time.Since(c.started).Round(time.Second).String(),
		Accepted:       c.accepted.Load(),
		Active:         c.active.Load(),
		Probes:         c.probes.Load(),
		Tunnels:        c.tunnels.Load(),
		Forwards:       c.forwards.Load(),
		Malformed:      c.malformed.Load(),
		ConnectFailed:  c.connectFailed.Load(),
		ClientGone:     c.clientGone.Load(),
		ReadErrors:     c.readErrors.Load(),
		IdleTimeouts:   c.idleTimeouts.Load(),
		Panics:         c.panics.Load(),
		ClientToRemote: c.clientToRemote.Load(),
		RemoteToClient: c.remoteToClient.Load(),
	}
}

// Fields flattens the snapshot into a field map, the shape stored in a
// Redis hash.
func (s Snapshot) Fields() map[string]interface{} {
	return map[string]interface{}{
		"uptime":              s.Uptime,
		"accepted":            s.Accepted,
		"active":              s.Active,
		"probes":              s.Probes,
		"tunnels":             s.Tunnels,
		"forwards":            s.Forwards,
		"malformed":           s.Malformed,
		"connectFailed":       s.ConnectFailed,
		"clientGone":          s.ClientGone,
		"readErrors":          s.ReadErrors,
		"idleTimeouts":        s.IdleTimeouts,
		"panics":              s.Panics,
		"bytesClientToRemote": s.ClientToRemote,
		"bytesRemoteToClient": s.RemoteToClient,
	}
}

// Add returns the field-wise sum of s and o. Uptime is taken from s.
func (s Snapshot) Add(o Snapshot) Snapshot {
	s.Accepted += o.Accepted
	s.Active += o.Active
	s.Probes += o.Probes
	s.Tunnels += o.Tunnels
	s.Forwards += o.Forwards
	s.Malformed += o.Malformed
	s.ConnectFailed += o.ConnectFailed
	s.ClientGone += o.ClientGone
	s.ReadErrors += o.ReadErrors
	s.IdleTimeouts += o.IdleTimeouts
	s.Panics += o.Panics
	s.ClientToRemote += o.ClientToRemote
	s.RemoteToClient += o.RemoteToClient
	return s
}
