package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSnapMirrorsHelpers(t *testing.T) {
	before := Snap()
	IncCommand("ws2812_data")
	AddSyncSkipped(3)
	AddSyncSkipped(0)
	IncFrame(2)
	IncDropped(DropOverflow)
	IncRequest()
	AddReply(6)
	IncReplySkipped()
	IncStart()
	IncError(ErrUDPRead)
	after := Snap()

	checks := []struct {
		name      string
		got, want uint64
	}{
		{"commands", after.Commands - before.Commands, 1},
		{"sync_skipped", after.SyncSkipped - before.SyncSkipped, 3},
		{"frames", after.Frames - before.Frames, 1},
		{"dropped", after.Dropped - before.Dropped, 1},
		{"requests", after.Requests - before.Requests, 1},
		{"replies", after.Replies - before.Replies, 1},
		{"reply_bytes", after.ReplyBytes - before.ReplyBytes, 6},
		{"replies_skipped", after.RepliesSkipped - before.RepliesSkipped, 1},
		{"starts", after.Starts - before.Starts, 1},
		{"errors", after.Errors - before.Errors, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s delta = %d, want %d", c.name, c.got, c.want)
		}
	}
	if after.ReadyPixels != 2 {
		t.Errorf("ready pixels = %d, want 2", after.ReadyPixels)
	}
}

func TestIsReadyDefaultsTrue(t *testing.T) {
	SetReadinessFunc(nil)
	if !IsReady() {
		t.Fatalf("IsReady without func should be true")
	}
	SetReadinessFunc(func() bool { return false })
	defer SetReadinessFunc(nil)
	if IsReady() {
		t.Fatalf("IsReady should follow registered func")
	}
}

func TestReadyHandler(t *testing.T) {
	ready := false
	SetReadinessFunc(func() bool { return ready })
	defer SetReadinessFunc(nil)

	srv := StartHTTP("127.0.0.1:0")
	defer srv.Close()
	h := srv.Handler

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/ready = %d, want 503", rec.Code)
	}
	ready = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/ready = %d, want 200", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d, want 200", rec.Code)
	}
}
