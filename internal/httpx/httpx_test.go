package httpx

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeIP(t *testing.T) {
	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"192.0.2.4", "192.0.2.4", true},
		{"192.0.2.4:1234", "192.0.2.4", true},
		{"[2001:db8::1]:443", "2001:db8::1", true},
		{"fe80::1%eth0", "fe80::1", true},
		{"[::1]:port", "::1", true},
		{"  10.0.0.1  ", "10.0.0.1", true},
		{"", "", false},
		{"hub.local:5000", "hub.local:5000", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeIP(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("NormalizeIP(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestLogRequestsRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	h := LogRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status not forwarded: %d", rec.Code)
	}
	line := buf.String()
	if !strings.Contains(line, `"status":418`) || !strings.Contains(line, `"bytes":15`) || !strings.Contains(line, `"path":"/metrics"`) {
		t.Fatalf("unexpected log line: %s", line)
	}
}
