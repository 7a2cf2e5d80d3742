package fathom

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/crypto/acme/autocert"
)

// LoadTLSConfig builds a TLS 1.2+ config from a PEM certificate chain and
// private key. Bad TLS material is a configuration error: the server
// refuses to start.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, &ConfigError{Reason: "bad TLS material: " + err.Error()}
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// ACMEConfig carries the knobs for automatic certificate management.
type ACMEConfig struct {
	// CertRoot is the directory issued certificates are cached in.
	CertRoot string

	// HostWhitelist restricts which hosts certificates may be issued
	// for. Empty means any host, which most CAs will refuse anyway.
	HostWhitelist []string

	// Email is the optional account contact.
	Email string
}

// NewACMETLSConfig wires an autocert.Manager into a TLS config for
// automatic certificate issuance.
func NewACMETLSConfig(cfg ACMEConfig) *tls.Config {
	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache(cfg.CertRoot),
		Email:  cfg.Email,
	}
	if len(cfg.HostWhitelist) > 0 {
		m.HostPolicy = autocert.HostWhitelist(cfg.HostWhitelist...)
	}

	c := m.TLSConfig()
	c.MinVersion = tls.VersionTLS12

	return c
}

// httpsRedirect answers every cleartext request with a 301 to the same
// origin over HTTPS, serving App.HTTPSEnforced.
func httpsRedirect(rw http.ResponseWriter, r *http.Request) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	u := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	rw.Header().Set("Location", u.String())
	rw.WriteHeader(http.StatusMovedPermanently)
}
