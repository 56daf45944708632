/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure that happens before relaying starts.
type ErrorKind int

const (
	// KindUpstream is the catch-all for connector faults not otherwise classified.
	KindUpstream ErrorKind = iota
	KindMalformedRequest
	KindConnectTimeout
	KindConnectionRefused
	KindDNSFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedRequest:
		return "malformed request"
	case KindConnectTimeout:
		return "connect timeout"
	case KindConnectionRefused:
		return "connection refused"
	case KindDNSFailure:
		return "dns failure"
	default:
		return "upstream error"
	}
}

// StatusCode is the HTTP status reported to the client for this kind.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindMalformedRequest:
		return http.StatusBadRequest
	case KindConnectTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Reason is the reason phrase sent on the status line and in the HTML body.
func (k ErrorKind) Reason() string {
	switch k {
	case KindMalformedRequest:
		return "Bad Request"
	case KindConnectTimeout:
		return "Gateway Timeout"
	case KindConnectionRefused:
		return "Bad Gateway - Connection Refused"
	case KindDNSFailure:
		return "Bad Gateway - DNS Resolution Failed"
	default:
		return "Bad Gateway"
	}
}

// Error is returned by the parser and the connector. The handler turns it into
// an HTTP error response while the client connection is still usable.
type Error struct {
	Kind   ErrorKind
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s for %s: %v", e.Kind, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status for the error's kind.
func (e *Error) StatusCode() int { return e.Kind.StatusCode() }

// Reason returns the reason phrase for the error's kind.
func (e *Error) Reason() string { return e.Kind.Reason() }

// Parser errors
var (
	ErrMissingTarget = errors.New("request line has no target")
	ErrEmptyHost     = errors.New("target has an empty host")
	ErrInvalidPort   = errors.New("target port is not a number between 1 and 65535")
)

func malformed(target string, err error) *Error {
	return &Error{Kind: KindMalformedRequest, Target: target, Err: err}
}

// KindOf reports the ErrorKind carried by err, or KindUpstream when err is not
// an *Error.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUpstream
}
