/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultHTTPPort  = 80
	defaultHTTPSPort = 443
)

// Mode selects how the handler serves a parsed request.
type Mode int

const (
	// ModeProbe answers directly with the status message; nothing is dialed.
	ModeProbe Mode = iota
	// ModeTunnel opens an opaque CONNECT tunnel.
	ModeTunnel
	// ModeForward replays the buffered request to an absolute-URL target.
	ModeForward
)

func (m Mode) String() string {
	switch m {
	case ModeTunnel:
		return "tunnel"
	case ModeForward:
		return "forward"
	default:
		return "probe"
	}
}

// Target is the remote endpoint a request resolves to.
type Target struct {
	Host string
	Port int
}

// Addr returns the target in host:port form suitable for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string { return t.Addr() }

// Request is the result of parsing the first buffered chunk of a client
// connection. Raw is the chunk itself, forwarded verbatim in ModeForward.
type Request struct {
	Method    string
	URI       string
	FirstLine string
	Mode      Mode
	Target    Target
	Raw       []byte
}

// FirstLine decodes raw leniently and returns its first line without
// surrounding whitespace.
func FirstLine(raw []byte) string {
	text := strings.ToValidUTF8(string(raw), "\uFFFD")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// ParseRequest extracts method, target and mode from the first line of raw.
// It does no I/O. A request line with fewer than two tokens or with an
// unusable host or port yields an *Error of KindMalformedRequest.
func ParseRequest(raw []byte) (*Request, error) {
	line := FirstLine(raw)
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, malformed("", ErrMissingTarget)
	}

	req := &Request{
		Method:    fields[0],
		URI:       fields[1],
		FirstLine: line,
		Raw:       raw,
	}

	if strings.EqualFold(req.Method, http.MethodConnect) {
		target, err := parseHostPort(req.URI, defaultHTTPSPort)
		if err != nil {
			return nil, err
		}
		req.Mode = ModeTunnel
		req.Target = target
		return req, nil
	}

	hostPort, defaultPort, ok := stripScheme(req.URI)
	if !ok {
		// Not a proxy request, e.g. "GET / HTTP/1.1" sent straight to us.
		req.Mode = ModeProbe
		return req, nil
	}
	if i := strings.IndexByte(hostPort, '/'); i >= 0 {
		hostPort = hostPort[:i]
	}
	target, err := parseHostPort(hostPort, defaultPort)
	if err != nil {
		return nil, err
	}
	req.Mode = ModeForward
	req.Target = target
	return req, nil
}

// stripScheme removes a leading http:// or https:// and reports the default
// port of the scheme found.
func stripScheme(uri string) (string, int, bool) {
	for _, s := range []struct {
		prefix string
		port   int
	}{
		{"http://", defaultHTTPPort},
		{"https://", defaultHTTPSPort},
	} {
		if len(uri) >= len(s.prefix) && strings.EqualFold(uri[:len(s.prefix)], s.prefix) {
			return uri[len(s.prefix):], s.port, true
		}
	}
	return "", 0, false
}

// parseHostPort splits host[:port]. The port follows the last colon that is
// not inside an IPv6 literal; brackets around the host are removed.
func parseHostPort(s string, defaultPort int) (Target, error) {
	host, portStr, hasPort := s, "", false
	if i := strings.LastIndexByte(s, ':'); i >= 0 && i > strings.LastIndexByte(s, ']') {
		host, portStr, hasPort = s[:i], s[i+1:], true
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return Target{}, malformed(s, ErrEmptyHost)
	}

	port := defaultPort
	if hasPort {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || p == 0 {
			return Target{}, malformed(s, fmt.Errorf("%w: %q", ErrInvalidPort, portStr))
		}
		port = int(p)
	}
	return Target{Host: host, Port: port}, nil
}
