package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type captured struct {
	path    string
	headers http.Header
	body    string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, <-chan captured) {
	t.Helper()
	ch := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{path: r.URL.Path, headers: r.Header.Clone(), body: string(body)}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestSnapshotReady(t *testing.T) {
	srv, ch := newNtfyServer(t, http.StatusOK)
	client := NewClient(&Config{
		Enabled:  true,
		Server:   srv.URL + "/",
		Topic:    "relay-alerts",
		Priority: "default",
		Tags:     "loudspeaker",
		Token:    "tk_secret",
		Name:     "prod",
	}, zap.NewNop())

	if err := client.SnapshotReady(context.Background(), 42, 1500*time.Millisecond); err != nil {
		t.Fatalf("SnapshotReady() error = %v", err)
	}

	got := <-ch
	if got.path != "/relay-alerts" {
		t.Errorf("path = %q, want /relay-alerts", got.path)
	}
	if title := got.headers.Get("Title"); title != "Snapshot Ready: prod" {
		t.Errorf("Title = %q", title)
	}
	if tags := got.headers.Get("Tags"); tags != "loudspeaker,white_check_mark" {
		t.Errorf("Tags = %q", tags)
	}
	if auth := got.headers.Get("Authorization"); auth != "Bearer tk_secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if !strings.Contains(got.body, "Rows: 42") || !strings.Contains(got.body, "Elapsed: 1.5s") {
		t.Errorf("body = %q", got.body)
	}
}

func TestIngestStoppedWithError(t *testing.T) {
	srv, ch := newNtfyServer(t, http.StatusOK)
	client := NewClient(&Config{Enabled: true, Server: srv.URL, Topic: "t", Priority: "low", Tags: "loudspeaker"}, zap.NewNop())

	report := IngestReport{SnapshotRows: 3, SnapshotComplete: true, Subscribers: 2, Err: errors.New("connection reset")}
	if err := client.IngestStopped(context.Background(), report); err != nil {
		t.Fatalf("IngestStopped() error = %v", err)
	}

	got := <-ch
	if title := got.headers.Get("Title"); title != "Ingestion Failed" {
		t.Errorf("Title = %q", title)
	}
	if prio := got.headers.Get("Priority"); prio != "high" {
		t.Errorf("Priority = %q, want high", prio)
	}
	if !strings.Contains(got.body, "Snapshot: 3 rows (frozen)") {
		t.Errorf("body missing snapshot line: %q", got.body)
	}
	if !strings.Contains(got.body, "Error: connection reset") {
		t.Errorf("body missing error: %q", got.body)
	}
}

func TestIngestStoppedCleanEnd(t *testing.T) {
	srv, ch := newNtfyServer(t, http.StatusOK)
	client := NewClient(&Config{Enabled: true, Server: srv.URL, Topic: "t", Priority: "default"}, zap.NewNop())

	if err := client.IngestStopped(context.Background(), IngestReport{}); err != nil {
		t.Fatalf("IngestStopped() error = %v", err)
	}

	got := <-ch
	if title := got.headers.Get("Title"); title != "Ingestion Stopped" {
		t.Errorf("Title = %q", title)
	}
	if tags := got.headers.Get("Tags"); tags != "warning" {
		t.Errorf("Tags = %q, want warning", tags)
	}
	if !strings.Contains(got.body, "Snapshot: not captured") {
		t.Errorf("body = %q", got.body)
	}
}

func TestSendNon2xx(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusForbidden)
	client := NewClient(&Config{Enabled: true, Server: srv.URL, Topic: "t", Priority: "default"}, zap.NewNop())

	err := client.SnapshotReady(context.Background(), 1, time.Second)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("SnapshotReady() error = %v, want status 403", err)
	}
}

func TestNewReturnsNoopWhenDisabled(t *testing.T) {
	if _, ok := New(&Config{Enabled: false}, zap.NewNop()).(*NoopNotifier); !ok {
		t.Error("expected NoopNotifier when disabled")
	}
	if _, ok := New(nil, zap.NewNop()).(*NoopNotifier); !ok {
		t.Error("expected NoopNotifier for nil config")
	}
	if _, ok := New(&Config{Enabled: true, Topic: "t"}, zap.NewNop()).(*Client); !ok {
		t.Error("expected Client when enabled")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"valid", Config{Enabled: true, Topic: "t", Priority: "urgent"}, false},
		{"missing topic", Config{Enabled: true, Priority: "default"}, true},
		{"bad priority", Config{Enabled: true, Topic: "t", Priority: "loud"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
