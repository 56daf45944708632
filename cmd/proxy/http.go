package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// AdminServers holds the listeners serving the admin API.
type AdminServers struct {
	plain  *http.Server
	tls    *http.Server
	h3     *http3.Server
	logger *log.Logger

	certFile, keyFile string
}

// getTLSConfig builds the admin TLS configuration, either for static
// certificate files or for Let's Encrypt certificates.
func getTLSConfig(cfg *AdminConfig, logger *log.Logger) *tls.Config {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"h2", "http/1.1"},
	}
	if cfg.HTTP3 {
		tlsConfig.NextProtos = append(tlsConfig.NextProtos, http3.NextProtoH3)
	}
	if cfg.Hostname == "" {
		logger.Printf("[Admin] Using certificate files %s and %s", cfg.CertFile, cfg.KeyFile)
		return tlsConfig
	}

	certManager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Hostname),
		Cache:      autocert.DirCache(cfg.CertCache),
		Email:      os.Getenv("LETSENCRYPT_EMAIL"),
	}
	tlsConfig.GetCertificate = certManager.GetCertificate
	tlsConfig.NextProtos = append(tlsConfig.NextProtos, acme.ALPNProto) // TLS-ALPN-01 challenge
	logger.Printf("[Admin] Configured automatic TLS certificates via Let's Encrypt for %s", cfg.Hostname)
	return tlsConfig
}

// NewAdminServers prepares the admin listeners cfg asks for. The plain
// listener speaks HTTP/1.1 and cleartext HTTP/2.
func NewAdminServers(cfg *AdminConfig, handler http.Handler, logger *log.Logger) *AdminServers {
	s := &AdminServers{logger: logger}
	if cfg.Addr != "" {
		s.plain = &http.Server{
			Addr:              cfg.Addr,
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          logger,
		}
	}
	if cfg.TLSEnabled() {
		tlsConfig := getTLSConfig(cfg, logger)
		if cfg.Hostname == "" {
			s.certFile, s.keyFile = cfg.CertFile, cfg.KeyFile
		}
		s.tls = &http.Server{
			Addr:              cfg.TLSAddr,
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          logger,
		}
		if cfg.HTTP3 {
			s.h3 = &http3.Server{
				Addr:      cfg.TLSAddr,
				Handler:   handler,
				TLSConfig: http3.ConfigureTLSConfig(tlsConfig.Clone()),
			}
			s.tls.Handler = advertiseHTTP3(s.h3, handler)
		}
	}
	return s
}

// advertiseHTTP3 sets the Alt-Svc header so TCP clients can upgrade.
func advertiseHTTP3(h3 *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h3.SetQUICHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

// Start runs every configured listener in the background. Listener
// failures are logged; they do not stop the proxy.
func (s *AdminServers) Start() {
	if s.plain != nil {
		go func() {
			s.logger.Printf("[Admin] Starting HTTP server on %s", s.plain.Addr)
			if err := s.plain.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Printf("[Admin] HTTP server error: %v", err)
			}
		}()
	}
	if s.tls != nil {
		go func() {
			s.logger.Printf("[Admin] Starting HTTPS server on %s", s.tls.Addr)
			if err := s.tls.ListenAndServeTLS(s.certFile, s.keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Printf("[Admin] HTTPS server error: %v", err)
			}
		}()
	}
	if s.h3 != nil {
		go func() {
			s.logger.Printf("[Admin] Starting HTTP/3 server on %s", s.h3.Addr)
			var err error
			if s.certFile != "" {
				err = s.h3.ListenAndServeTLS(s.certFile, s.keyFile)
			} else {
				err = s.h3.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Printf("[Admin] HTTP/3 server error: %v", err)
			}
		}()
	}
}

// Shutdown stops all admin listeners, waiting for in-flight requests until
// ctx expires.
func (s *AdminServers) Shutdown(ctx context.Context) error {
	var errs []error
	if s.plain != nil {
		errs = append(errs, s.plain.Shutdown(ctx))
	}
	if s.tls != nil {
		errs = append(errs, s.tls.Shutdown(ctx))
	}
	if s.h3 != nil {
		errs = append(errs, s.h3.Close())
	}
	return errors.Join(errs...)
}
