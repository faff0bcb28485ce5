package bypass

import (
	"net/http"
	"testing"
)

func hdr(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestVendorDetectors(t *testing.T) {
	cases := []struct {
		name   string
		det    Detector
		resp   Response
		source string
	}{
		{"cloudflare header", detectCloudflare, Response{StatusCode: 403, Header: hdr("Server", "cloudflare"), Body: []byte("Access Denied")}, "Cloudflare"},
		{"cloudflare body", detectCloudflare, Response{StatusCode: 503, Body: []byte("<html>... cf-turnstile ...</html>")}, "Cloudflare"},
		{"cloudflare managed challenge", detectCloudflare, Response{StatusCode: 200, Body: []byte("<title>Just a moment...</title><script src=/cdn-cgi/challenge-platform/x>")}, "Cloudflare"},
		{"akamai header", detectAkamai, Response{StatusCode: 403, Header: hdr("Server", "AkamaiGHost")}, "Akamai"},
		{"akamai body", detectAkamai, Response{StatusCode: 403, Body: []byte("Access Denied... Reference #123.456")}, "Akamai"},
		{"datadome header", detectDataDome, Response{StatusCode: 403, Header: hdr("X-DataDome", "1")}, "DataDome"},
		{"datadome body", detectDataDome, Response{StatusCode: 403, Body: []byte("script src='https://geo.captcha-delivery.com/...'")}, "DataDome"},
		{"perimeterx header", detectPerimeterX, Response{StatusCode: 403, Header: hdr("X-Px-Captcha", "required")}, "PerimeterX"},
		{"perimeterx body", detectPerimeterX, Response{StatusCode: 403, Body: []byte("window._pxBlock = true;")}, "PerimeterX"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp := c.resp
			if detected, src := c.det(&resp); !detected || src != c.source {
				t.Errorf("expected %s detection, got %v %q", c.source, detected, src)
			}
		})
	}
}

func TestVendorDetectors_IgnoreCleanResponses(t *testing.T) {
	clean := &Response{StatusCode: 200, Header: hdr("Server", "nginx"), Body: []byte("OK")}
	for _, d := range DefaultDetectors() {
		if detected, src := d(clean); detected {
			t.Errorf("unexpected detection %q on clean response", src)
		}
	}
}

func TestInspect_SearchCaptcha(t *testing.T) {
	resp := &Response{StatusCode: 200, Body: []byte(`<form action="/sorry/index">unusual traffic</form>`)}
	if detected, src := Inspect(resp, SearchDetectors()); !detected || src != "Google CAPTCHA" {
		t.Errorf("expected Google CAPTCHA, got %v %q", detected, src)
	}
	if detected, _ := Inspect(resp, DefaultDetectors()); detected {
		t.Errorf("vendor detectors alone should not flag a search CAPTCHA")
	}

	limited := &Response{StatusCode: http.StatusTooManyRequests}
	if detected, _ := Inspect(limited, SearchDetectors()); !detected {
		t.Errorf("expected 429 to count as blocked for search")
	}
}

func TestInspect_ErrorPage(t *testing.T) {
	page := &Response{
		StatusCode: 200,
		Header:     hdr("Content-Type", "text/html; charset=utf-8"),
		Body:       []byte("<html><head><title>Error 404 - Not Found</title></head></html>"),
	}
	if detected, _ := Inspect(page, DownloadDetectors()); !detected {
		t.Errorf("expected error page detection")
	}

	pdf := &Response{
		StatusCode: 200,
		Header:     hdr("Content-Type", "application/pdf"),
		Body:       []byte("%PDF-1.7 access denied appears in the text"),
	}
	if detected, src := Inspect(pdf, DownloadDetectors()); detected {
		t.Errorf("binary documents must not be flagged, got %q", src)
	}

	article := &Response{
		StatusCode: 200,
		Header:     hdr("Content-Type", "text/html"),
		Body:       []byte("<html><body><h1>Renewable energy policy</h1></body></html>"),
	}
	if detected, src := Inspect(article, DownloadDetectors()); detected {
		t.Errorf("unexpected detection %q", src)
	}
}

func TestInspect_Nil(t *testing.T) {
	if detected, _ := Inspect(nil, DefaultDetectors()); detected {
		t.Errorf("nil response must not be detected")
	}
}
