// Package fingerprint builds HTTP transports whose TLS ClientHello mimics a
// real browser.
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

// Profile names a TLS ClientHello shape.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // stock crypto/tls
	ProfileRandom  Profile = "random" // randomized uTLS hello
)

var helloIDs = map[Profile]utls.ClientHelloID{
	ProfileChrome:  utls.HelloChrome_Auto,
	ProfileFirefox: utls.HelloFirefox_Auto,
	ProfileSafari:  utls.HelloIOS_Auto,
	ProfileRandom:  utls.HelloRandomizedNoALPN,
}

// ParseProfile maps a configuration string to a Profile. Empty means chrome.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return ProfileChrome, nil
	}
	if p == ProfileGo {
		return p, nil
	}
	if _, ok := helloIDs[p]; !ok {
		return "", fmt.Errorf("fingerprint: unknown profile %q", s)
	}
	return p, nil
}

// Options tune the transport.
type Options struct {
	// Proxy selects the upstream proxy per request. Nil means direct.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
}

// Transport returns a RoundTripper presenting profile p during TLS handshakes.
// Browser profiles advertise only http/1.1 in ALPN because net/http cannot
// speak h2 over a connection it did not dial itself.
func Transport(p Profile, opts Options) (http.RoundTripper, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.Proxy = opts.Proxy

	if p == ProfileGo {
		if opts.InsecureSkipVerify {
			base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		return base, nil
	}

	id, ok := helloIDs[p]
	if !ok {
		return nil, fmt.Errorf("fingerprint: unknown profile %q", p)
	}

	if p != ProfileRandom {
		// fail fast on a profile this utls build cannot describe
		if _, err := helloSpec(id); err != nil {
			return nil, fmt.Errorf("fingerprint: %s hello spec: %w", p, err)
		}
	}

	dial := base.DialContext
	base.ForceAttemptHTTP2 = false
	base.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		cfg := &utls.Config{ServerName: host, InsecureSkipVerify: opts.InsecureSkipVerify} //nolint:gosec
		var uc *utls.UConn
		if p == ProfileRandom {
			uc = utls.UClient(conn, cfg, id)
		} else {
			// ApplyPreset mutates the spec, so every handshake gets a fresh one.
			spec, err := helloSpec(id)
			if err == nil {
				uc = utls.UClient(conn, cfg, utls.HelloCustom)
				err = uc.ApplyPreset(&spec)
			}
			if err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("fingerprint: apply %s preset: %w", p, err)
			}
		}

		if err := uc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("fingerprint: %s handshake with %s: %w", p, host, err)
		}
		return uc, nil
	}
	return base, nil
}

// helloSpec expands id and pins ALPN to http/1.1.
func helloSpec(id utls.ClientHelloID) (utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return spec, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return spec, nil
}
