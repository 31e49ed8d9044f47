// Package bypass recognizes responses that are bot challenges rather than
// the page that was asked for.
package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the slice of an HTTP response the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// FinalURL is the URL after redirects.
	FinalURL string
}

// Detector reports whether r is a challenge and, if so, who issued it.
type Detector func(r *Response) (challenged bool, source string)

// DefaultDetectors covers the search engine's own verification wall plus the
// common CDN bot managers sitting in front of ordinary sites.
func DefaultDetectors() []Detector {
	return []Detector{
		detectBaiduVerify,
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Analyze returns the first detector verdict that fires.
func Analyze(r *Response, detectors []Detector) (bool, string) {
	if r == nil {
		return false, ""
	}
	for _, d := range detectors {
		if hit, src := d(r); hit {
			return true, src
		}
	}
	return false, ""
}

func serverIs(r *Response, vendor string) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Server")), vendor)
}

func bodyHasAny(r *Response, needles ...string) bool {
	for _, n := range needles {
		if bytes.Contains(r.Body, []byte(n)) {
			return true
		}
	}
	return false
}

// detectBaiduVerify catches the redirect to the security-verification wall
// that replaces result pages once a client looks automated. It is served
// with status 200, so status codes alone do not give it away.
func detectBaiduVerify(r *Response) (bool, string) {
	if strings.Contains(r.FinalURL, "wappass.baidu.com") || strings.Contains(r.FinalURL, "/static/captcha") {
		return true, "BaiduVerify"
	}
	if bodyHasAny(r, "<title>百度安全验证</title>", "wappass.baidu.com/static/captcha", "passMachine") {
		return true, "BaiduVerify"
	}
	return false, ""
}

func detectCloudflare(r *Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden && r.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if serverIs(r, "cloudflare") || bodyHasAny(r, "cf-browser-verification", "cloudflare-nginx", "cf-turnstile", "Attention Required! | Cloudflare") {
		return true, "Cloudflare"
	}
	return false, ""
}

func detectAkamai(r *Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if serverIs(r, "akamai") || (bodyHasAny(r, "Reference #") && bodyHasAny(r, "Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}

func detectDataDome(r *Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if serverIs(r, "datadome") || r.Header.Get("X-DataDome") != "" || r.Header.Get("X-DataDome-Response") != "" {
		return true, "DataDome"
	}
	if bodyHasAny(r, "geo.captcha-delivery.com", "datadome") {
		return true, "DataDome"
	}
	return false, ""
}

func detectPerimeterX(r *Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if r.Header.Get("X-Px-Captcha") != "" || bodyHasAny(r, "client.perimeterx.net", "px-captcha", "_pxBlock") {
		return true, "PerimeterX"
	}
	return false, ""
}
