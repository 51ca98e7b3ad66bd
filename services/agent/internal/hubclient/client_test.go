package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegister(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantKey string
		wantErr int
	}{
		{"created", http.StatusCreated, `{"api_key":"k1","device_id":"D1","name":"n"}`, "k1", 0},
		{"existing", http.StatusOK, `{"api_key":"k1","device_id":"D1","name":"n"}`, "k1", 0},
		{"legacy conflict", http.StatusConflict, `{"api_key":"k2","device_id":"D1"}`, "k2", 0},
		{"bad token", http.StatusUnauthorized, `{"error":"Unauthorized"}`, "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/devices" || r.Method != http.MethodPost {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if r.Header.Get(HeaderInternalAuth) != "secret" {
					t.Errorf("missing internal auth header")
				}
				var req registerRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				if req.DeviceID != "D1" || req.Name != "laptop" {
					t.Errorf("unexpected body %+v", req)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			reg, err := New(srv.URL, time.Second, "secret").Register(context.Background(), "D1", "laptop")
			if tc.wantErr != 0 {
				var se *StatusError
				if !errors.As(err, &se) || se.HTTPStatus() != tc.wantErr {
					t.Fatalf("expected status error %d, got %v", tc.wantErr, err)
				}
				if se.Message != "Unauthorized" {
					t.Fatalf("expected hub error text, got %q", se.Message)
				}
				return
			}
			if err != nil {
				t.Fatalf("register: %v", err)
			}
			if reg.APIKey != tc.wantKey {
				t.Fatalf("expected key %q, got %q", tc.wantKey, reg.APIKey)
			}
		})
	}
}

func TestSendEvent(t *testing.T) {
	var gotBody, gotType, gotDevice string
	status := http.StatusCreated
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotType, gotDevice = string(b), r.Header.Get("Content-Type"), r.Header.Get(HeaderDeviceID)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = io.WriteString(w, `{"error":"Decryption failed"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"success","id":"e1"}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second, "")
	if err := c.SendEvent(context.Background(), "D1", "bm9uY2U"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotBody != "bm9uY2U" || gotDevice != "D1" || gotType != "text/plain" {
		t.Fatalf("unexpected request body=%q device=%q type=%q", gotBody, gotDevice, gotType)
	}

	status = http.StatusBadRequest
	err := c.SendEvent(context.Background(), "D1", "bm9uY2U")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest || se.Message != "Decryption failed" {
		t.Fatalf("expected 400 status error, got %v", err)
	}
}

func TestSendEventNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url, 200*time.Millisecond, "").SendEvent(context.Background(), "D1", "x")
	if err == nil {
		t.Fatalf("expected a transport error")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Fatalf("transport failure must not look like a hub status: %v", err)
	}
}
