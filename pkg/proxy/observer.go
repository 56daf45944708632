package proxy

import "time"

// Outcome summarizes how the handling of one connection ended.
type Outcome string

const (
	OutcomeNoRequest     Outcome = "no request"
	OutcomeReadError     Outcome = "read error"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeProbe         Outcome = "probe"
	OutcomeConnectFailed Outcome = "connect failed"
	OutcomeClientGone    Outcome = "client gone"
	OutcomeRelayed       Outcome = "relayed"
	OutcomePanic         Outcome = "panic"
)

// ConnectionReport is handed to the Observer once a connection is closed.
type ConnectionReport struct {
	Peer    string
	Method  string
	Target  string
	Mode    Mode
	Outcome Outcome
	// Status is the status code the proxy itself sent, or 0 when it sent
	// none (forwarded responses are relayed, not produced).
	Status         int
	StopReason     StopReason
	ClientToRemote int64
	RemoteToClient int64
	Duration       time.Duration
	Err            error
}

// Observer receives connection lifecycle events. Implementations are called
// from many handler goroutines and must be safe for concurrent use.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed(ConnectionReport)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()                 {}
func (nopObserver) ConnectionClosed(ConnectionReport) {}
