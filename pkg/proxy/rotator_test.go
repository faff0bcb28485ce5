package proxy

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRotator_AddAndNext(t *testing.T) {
	rot := NewRotator(Config{})

	if err := rot.Add("127.0.0.1:8080", "http://127.0.0.1:8081", "socks5://127.0.0.1:9050"); err != nil {
		t.Fatalf("unexpected error adding proxies: %v", err)
	}

	want := []string{"http://127.0.0.1:8080", "http://127.0.0.1:8081", "socks5://127.0.0.1:9050", "http://127.0.0.1:8080"}
	for i, w := range want {
		u := rot.Next()
		if u == nil || u.String() != w {
			t.Errorf("call %d: expected %s, got %v", i, w, u)
		}
	}
}

func TestRotator_HealthTracking(t *testing.T) {
	rot := NewRotator(Config{MaxFailures: 2, Cooldown: 10 * time.Millisecond})
	if err := rot.Add("http://a", "http://b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := rot.Next()
	if a.String() != "http://a" {
		t.Fatalf("expected http://a, got %v", a)
	}
	_ = rot.Report(a, errors.New("refused"))
	_ = rot.Report(a, errors.New("refused"))

	for i := 0; i < 2; i++ {
		if u := rot.Next(); u.String() != "http://b" {
			t.Fatalf("expected http://b while a cools down, got %v", u)
		}
	}

	time.Sleep(15 * time.Millisecond)
	if u := rot.Next(); u.String() != "http://a" {
		t.Fatalf("expected http://a after cooldown, got %v", u)
	}
}

func TestRotator_AllBenched(t *testing.T) {
	rot := NewRotator(Config{MaxFailures: 1, Cooldown: time.Hour})
	_ = rot.Add("http://a")

	_ = rot.Report(rot.Next(), errors.New("boom"))
	if u := rot.Next(); u != nil {
		t.Errorf("expected nil when all proxies are benched, got %v", u)
	}
}

func TestRotator_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := `
# office egress
http://proxy1.com
proxy2.com:80

socks5://proxy3.com:1080
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write proxy file: %v", err)
	}

	rot := NewRotator(Config{})
	if err := rot.LoadFile(path); err != nil {
		t.Fatalf("failed to load file: %v", err)
	}
	if rot.Len() != 3 {
		t.Fatalf("expected 3 proxies, got %d", rot.Len())
	}

	expected := []string{"http://proxy1.com", "http://proxy2.com:80", "socks5://proxy3.com:1080"}
	for _, e := range expected {
		if u := rot.Next(); u == nil || u.String() != e {
			t.Errorf("expected %s, got %v", e, u)
		}
	}
}

func TestRotator_ReportUnknown(t *testing.T) {
	rot := NewRotator(Config{})
	_ = rot.Add("http://a")

	unknown, _ := url.Parse("http://unknown")
	if err := rot.Report(unknown, nil); !errors.Is(err, ErrUnknownProxy) {
		t.Errorf("expected ErrUnknownProxy, got %v", err)
	}
	if err := rot.Report(nil, nil); err == nil {
		t.Errorf("expected error for nil url")
	}
}

func TestRotator_Empty(t *testing.T) {
	if u := NewRotator(Config{}).Next(); u != nil {
		t.Errorf("expected nil on empty rotator, got %v", u)
	}
}

func TestRotator_RoundTripperUsesProxy(t *testing.T) {
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A forward proxy receives the absolute target URL.
		if r.URL.Host != "docs.example.invalid" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.WriteString(w, "via-proxy")
	}))
	defer proxySrv.Close()

	rot := NewRotator(Config{})
	if err := rot.Add(proxySrv.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client := &http.Client{Transport: rot.RoundTripper(&http.Transport{Proxy: FromContext})}
	resp, err := client.Get("http://docs.example.invalid/report.pdf")
	if err != nil {
		t.Fatalf("request through proxy failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "via-proxy" {
		t.Errorf("expected response from proxy, got %q (status %d)", body, resp.StatusCode)
	}
}
