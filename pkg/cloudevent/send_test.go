package cloudevent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Parallel()
	a := New("modelops.variant.promoted", "modelops/pipeline", "red", map[string]any{"variant": "red"})
	b := New("modelops.variant.promoted", "modelops/pipeline", "red", nil)

	if a.SpecVersion != "1.0" || a.DataContentType != "application/json" {
		t.Errorf("unexpected envelope %+v", a)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct generated IDs, got %q and %q", a.ID, b.ID)
	}
	if a.Time.Location() != time.UTC {
		t.Error("expected UTC time")
	}
}

func TestSend(t *testing.T) {
	t.Parallel()
	type captured struct {
		headers http.Header
		body    []byte
	}
	requests := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- captured{headers: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	event := New("modelops.variant.stage", "modelops/pipeline", "white", map[string]any{"state": "training"})
	if err := NewSender(time.Second).Send(context.Background(), srv.URL, event, "secret-key"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := <-requests
	headers, body := req.headers, req.body

	if headers.Get("Content-Type") != "application/cloudevents+json" {
		t.Errorf("unexpected content type %q", headers.Get("Content-Type"))
	}
	if headers.Get("Ce-Type") != "modelops.variant.stage" || headers.Get("Ce-Subject") != "white" {
		t.Errorf("unexpected ce headers %v", headers)
	}
	if !Verify(body, headers.Get(SignatureHeader), "secret-key") {
		t.Error("signature does not verify")
	}
	if Verify(body, headers.Get(SignatureHeader), "other-key") {
		t.Error("signature verified with the wrong key")
	}

	var decoded CloudEvent
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("body is not an event: %v", err)
	}
	if decoded.ID != event.ID || decoded.Data["state"] != "training" {
		t.Errorf("unexpected body %+v", decoded)
	}
}

func TestSend_Unsigned(t *testing.T) {
	t.Parallel()
	signatures := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signatures <- r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	if err := NewSender(time.Second).Send(context.Background(), srv.URL, New("t", "s", "", nil), ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if signature := <-signatures; signature != "" {
		t.Errorf("expected no signature, got %q", signature)
	}
}

func TestSend_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewSender(time.Second).Send(context.Background(), srv.URL, New("t", "s", "", nil), "")
	if !IsClientError(err) {
		t.Errorf("expected client error, got %v", err)
	}
}

func TestIsClientError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"400", &HTTPError{StatusCode: 400}, true},
		{"404", &HTTPError{StatusCode: 404}, true},
		{"499 boundary", &HTTPError{StatusCode: 499}, true},
		{"500", &HTTPError{StatusCode: 500}, false},
		{"503", &HTTPError{StatusCode: 503}, false},
		{"399", &HTTPError{StatusCode: 399}, false},
		{"wrapped 401", fmt.Errorf("deliver: %w", &HTTPError{StatusCode: 401}), true},
		{"non-HTTP error", context.DeadlineExceeded, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsClientError(tt.err); got != tt.expected {
				t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestGenerateSignature(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"test":"data"}`)

	signature := generateSignature(payload, "secret-key")
	hexPart, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || len(hexPart) != 64 {
		t.Errorf("unexpected signature format %q", signature)
	}
	if signature != generateSignature(payload, "secret-key") {
		t.Error("signature should be deterministic")
	}
	if signature == generateSignature(payload, "different-key") {
		t.Error("different keys should produce different signatures")
	}
}
