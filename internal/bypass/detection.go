// Package bypass recognizes bot-protection challenges, CAPTCHA interstitials and
// error pages served in place of the requested content.
package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the part of an HTTP exchange the detectors look at.
// Body only needs the leading bytes of the payload.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector reports whether resp is a block page and names its source.
type Detector func(resp *Response) (detected bool, source string)

// PeekSize is how many leading body bytes callers should capture for Inspect.
const PeekSize = 8 << 10

// DefaultDetectors returns the bot-protection vendor detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// SearchDetectors adds search-engine CAPTCHA interstitials to DefaultDetectors.
func SearchDetectors() []Detector {
	return append(DefaultDetectors(), detectSearchCaptcha)
}

// DownloadDetectors adds the generic error-page check to DefaultDetectors.
func DownloadDetectors() []Detector {
	return append(DefaultDetectors(), detectErrorPage)
}

// Inspect runs resp through detectors and returns the first match.
func Inspect(resp *Response, detectors []Detector) (bool, string) {
	if resp == nil {
		return false, ""
	}
	for _, d := range detectors {
		if detected, source := d(resp); detected {
			return true, source
		}
	}
	return false, ""
}

func header(resp *Response, key string) string {
	if resp.Header == nil {
		return ""
	}
	return resp.Header.Get(key)
}

func detectCloudflare(resp *Response) (bool, string) {
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if strings.Contains(strings.ToLower(header(resp, "Server")), "cloudflare") {
			return true, "Cloudflare"
		}
		if bytes.Contains(resp.Body, []byte("cf-browser-verification")) ||
			bytes.Contains(resp.Body, []byte("cloudflare-nginx")) ||
			bytes.Contains(resp.Body, []byte("cf-turnstile")) ||
			bytes.Contains(resp.Body, []byte("Attention Required! | Cloudflare")) {
			return true, "Cloudflare"
		}
	}
	// Managed challenge pages can come back as 200.
	if bytes.Contains(resp.Body, []byte("Just a moment...")) && bytes.Contains(resp.Body, []byte("challenge-platform")) {
		return true, "Cloudflare"
	}
	return false, ""
}

func detectAkamai(resp *Response) (bool, string) {
	if resp.StatusCode == http.StatusForbidden {
		if strings.Contains(strings.ToLower(header(resp, "Server")), "akamai") {
			return true, "Akamai"
		}
		if bytes.Contains(resp.Body, []byte("Reference #")) && bytes.Contains(resp.Body, []byte("Access Denied")) {
			return true, "Akamai"
		}
	}
	return false, ""
}

func detectDataDome(resp *Response) (bool, string) {
	if resp.StatusCode == http.StatusForbidden {
		if strings.Contains(strings.ToLower(header(resp, "Server")), "datadome") {
			return true, "DataDome"
		}
		if header(resp, "X-DataDome") != "" || header(resp, "X-DataDome-Response") != "" {
			return true, "DataDome"
		}
		if bytes.Contains(resp.Body, []byte("geo.captcha-delivery.com")) || bytes.Contains(resp.Body, []byte("datadome")) {
			return true, "DataDome"
		}
	}
	return false, ""
}

func detectPerimeterX(resp *Response) (bool, string) {
	if resp.StatusCode == http.StatusForbidden {
		if header(resp, "X-Px-Captcha") != "" {
			return true, "PerimeterX"
		}
		if bytes.Contains(resp.Body, []byte("client.perimeterx.net")) ||
			bytes.Contains(resp.Body, []byte("px-captcha")) ||
			bytes.Contains(resp.Body, []byte("_pxBlock")) {
			return true, "PerimeterX"
		}
	}
	return false, ""
}

var captchaMarkers = []struct {
	marker string
	source string
}{
	{"/sorry/index", "Google CAPTCHA"},
	{"Our systems have detected unusual traffic", "Google CAPTCHA"},
	{"g-recaptcha", "reCAPTCHA"},
	{"b_captcha", "Bing CAPTCHA"},
	{"anomaly-modal", "DuckDuckGo anomaly"},
	{"hcaptcha.com", "hCaptcha"},
}

func detectSearchCaptcha(resp *Response) (bool, string) {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true, "rate limited"
	}
	for _, m := range captchaMarkers {
		if bytes.Contains(resp.Body, []byte(m.marker)) {
			return true, m.source
		}
	}
	return false, ""
}

var errorPageIndicators = []string{"incapsula", "cloudflare", "access denied", "error 403", "error 404"}

// detectErrorPage flags HTML whose opening text reads like an error or block page.
func detectErrorPage(resp *Response) (bool, string) {
	ct := strings.ToLower(header(resp, "Content-Type"))
	if ct != "" && !strings.Contains(ct, "html") {
		return false, ""
	}
	head := resp.Body
	if len(head) > 1000 {
		head = head[:1000]
	}
	lower := bytes.ToLower(head)
	if ct == "" && !bytes.Contains(lower, []byte("<html")) {
		return false, ""
	}
	for _, ind := range errorPageIndicators {
		if bytes.Contains(lower, []byte(ind)) {
			return true, "error page (" + ind + ")"
		}
	}
	return false, ""
}
