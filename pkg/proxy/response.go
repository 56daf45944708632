package proxy

import (
	"fmt"
	"io"
)

// The proxy writes its few responses by hand: the CONNECT success line must
// be exactly "HTTP/1.1 200 <status>\r\n\r\n", which http.Response.Write would
// decorate with extra headers.

func writeTunnelEstablished(w io.Writer, status string) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 200 %s\r\n\r\n", status)
	return err
}

func writeStatusProbe(w io.Writer, status string) error {
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 200 %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s",
		status, len(status), status)
	return err
}

func writeError(w io.Writer, code int, reason string) error {
	body := fmt.Sprintf("<html><body><h1>%d %s</h1></body></html>", code, reason)
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 %d %s\r\nContent-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, reason, len(body), body)
	return err
}
