package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiterBlocksAfterMax(t *testing.T) {
	l := NewRateLimiter(2, time.Minute)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	h := l.Handler(okHandler)

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := do("10.0.0.1:5678")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] == nil {
		t.Fatalf("unexpected body %v %v", body, err)
	}
	if rec.Header().Get("X-RateLimit-Reset") != "61" {
		t.Fatalf("reset = %q", rec.Header().Get("X-RateLimit-Reset"))
	}

	if rec := do("10.0.0.2:1"); rec.Code != http.StatusOK {
		t.Fatalf("other client limited: %d", rec.Code)
	}

	clock = clock.Add(61 * time.Second)
	if rec := do("10.0.0.1:1"); rec.Code != http.StatusOK {
		t.Fatalf("window should have slid: %d", rec.Code)
	}
}

func TestRateLimiterSweep(t *testing.T) {
	l := NewRateLimiter(5, time.Second)
	clock := time.Now()
	l.now = func() time.Time { return clock }
	l.check("a")
	l.check("b")
	clock = clock.Add(2 * time.Second)
	l.check("b")
	l.Sweep()
	if n := l.clients(); n != 1 {
		t.Fatalf("clients after sweep = %d", n)
	}
}

func TestLoadOrigins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cors-origins.txt")
	content := "# allowed\nhttps://a.example\n\n  https://b.example  \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	got := LoadOrigins(path)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("LoadOrigins = %v", got)
	}
	if LoadOrigins(filepath.Join(t.TempDir(), "missing")) != nil {
		t.Fatalf("missing file should yield nil")
	}
}

func TestCORSAllowsAllWithoutFile(t *testing.T) {
	h := CORS("", zerolog.Nop())(okHandler)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/video/status/x", nil))

	line := buf.String()
	for _, want := range []string{`"level":"warn"`, `"status":404`, `"path":"/api/video/status/x"`, `"bytes":4`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %s missing %s", line, want)
		}
	}
}
