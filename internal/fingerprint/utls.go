// Package fingerprint builds HTTP transports whose TLS ClientHello mimics a
// real browser, so search engines and document hosts see browser-like handshakes.
package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile names a TLS fingerprint.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard crypto/tls
	ProfileRandom  Profile = "random" // randomized uTLS hello
)

// ParseProfile maps a config value to a Profile. Empty means ProfileGo.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileGo, nil
	case ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom:
		return p, nil
	default:
		return "", fmt.Errorf("unknown fingerprint profile %q", s)
	}
}

// Options configures Transport.
type Options struct {
	Profile Profile
	// Proxy is installed as the transport's Proxy function when set.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks. Only for tests against self-signed servers.
	InsecureSkipVerify bool
}

func helloFor(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("unknown fingerprint profile %q", p)
	}
}

// Transport returns an *http.Transport for the given options. ProfileGo yields a
// clone of http.DefaultTransport; other profiles perform the TLS handshake with uTLS.
func Transport(opts Options) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		transport.Proxy = opts.Proxy
	}

	if opts.Profile == ProfileGo || opts.Profile == "" {
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		return transport, nil
	}

	hello, err := helloFor(opts.Profile)
	if err != nil {
		return nil, err
	}

	dial := transport.DialContext
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn, err := newUConn(tcpConn, &utls.Config{
			ServerName:         host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}, hello)
		if err != nil {
			_ = tcpConn.Close()
			return nil, err
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("utls handshake with %s: %w", host, err)
		}
		return uConn, nil
	}

	return transport, nil
}

// newUConn parrots hello but restricts ALPN to http/1.1, since net/http cannot
// speak h2 over a non crypto/tls connection.
func newUConn(conn net.Conn, cfg *utls.Config, hello utls.ClientHelloID) (*utls.UConn, error) {
	if hello == utls.HelloRandomizedALPN {
		return utls.UClient(conn, cfg, hello), nil
	}

	spec, err := utls.UTLSIdToSpec(hello)
	if err != nil {
		return nil, fmt.Errorf("build hello spec: %w", err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uConn := utls.UClient(conn, cfg, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("apply hello spec: %w", err)
	}
	return uConn, nil
}
