// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package audit

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/cmdgate/internal/executor"
	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/metrics"
	"github.com/tomtom215/cmdgate/internal/policy"
	"github.com/tomtom215/cmdgate/internal/store"
)

var bob = &store.Principal{ID: "u-bob", Name: "bob", Role: store.RoleStandardUser, AllowedResource: "small"}

// waitForLen polls until the async writer has stored n events.
func waitForLen(t *testing.T, s *MemoryStore, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d events in store, got %d", n, s.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestLogger(t *testing.T) (*Logger, *MemoryStore) {
	t.Helper()
	s := NewMemoryStore(100)
	l := NewLogger(s, Config{Enabled: true, BufferSize: 16, RetentionDays: 30})
	t.Cleanup(func() { _ = l.Close() })
	return l, s
}

func TestLogger_Log(t *testing.T) {
	l, s := newTestLogger(t)

	ctx := logging.ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSource(ctx, Source{IPAddress: "192.0.2.10"})
	l.LogLoginSuccess(ctx, bob)
	waitForLen(t, s, 1)

	events, err := s.Query(context.Background(), QueryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	got := events[0]
	if got.Type != EventTypeAuthSuccess || got.Actor.ID != "u-bob" {
		t.Errorf("event = %+v", got)
	}
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Error("ID and Timestamp should be filled")
	}
	if got.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", got.RequestID)
	}
	if got.Source.IPAddress != "192.0.2.10" {
		t.Errorf("Source = %+v", got.Source)
	}
}

func TestLogger_Disabled(t *testing.T) {
	s := NewMemoryStore(10)
	l := NewLogger(s, Config{Enabled: false, BufferSize: 4})
	l.LogLogout(context.Background(), bob)
	_ = l.Close()

	if s.Len() != 0 {
		t.Errorf("disabled logger stored %d events", s.Len())
	}
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	l.LogLoginSuccess(context.Background(), bob)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if n, err := l.Prune(context.Background()); n != 0 || err != nil {
		t.Errorf("Prune = %d, %v", n, err)
	}
}

func TestLogger_CloseDrains(t *testing.T) {
	s := NewMemoryStore(100)
	l := NewLogger(s, Config{Enabled: true, BufferSize: 64})
	for i := 0; i < 20; i++ {
		l.LogLogout(context.Background(), bob)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 20 {
		t.Errorf("after Close store has %d events, want 20", s.Len())
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLogger_DropsWhenBufferFull(t *testing.T) {
	// the writer is never started so nothing drains the buffer
	l := &Logger{
		config:    Config{Enabled: true, BufferSize: 1},
		eventChan: make(chan *Event, 1),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
	before := testutil.ToFloat64(metrics.AuditEventsDropped)
	l.LogLogout(context.Background(), bob)
	l.LogLogout(context.Background(), bob)

	if got := testutil.ToFloat64(metrics.AuditEventsDropped) - before; got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestLogger_LogDecision(t *testing.T) {
	l, s := newTestLogger(t)
	inst := &store.Instance{ID: "db1", Name: "db1", OwnerID: "u-bob"}

	l.LogDecision(context.Background(), bob, "db1", inst, "ls -la", policy.Decision{Allowed: true, Program: "ls"})
	l.LogDecision(context.Background(), bob, "db1", inst, "reboot now", policy.Decision{Reason: policy.ReasonForbiddenAction, Program: "reboot"})
	waitForLen(t, s, 2)

	denied, _ := s.Query(context.Background(), QueryFilter{Types: []EventType{EventTypeAuthzDenied}})
	if len(denied) != 1 {
		t.Fatalf("denied events = %d, want 1", len(denied))
	}
	var meta map[string]string
	if err := json.Unmarshal(denied[0].Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	if meta["reason"] != "forbidden-action" || meta["command"] != "reboot now" {
		t.Errorf("metadata = %v", meta)
	}
	if denied[0].Target == nil || denied[0].Target.ID != "db1" {
		t.Errorf("target = %+v", denied[0].Target)
	}
}

func TestLogger_LogDecision_UnknownInstance(t *testing.T) {
	l, s := newTestLogger(t)
	l.LogDecision(context.Background(), bob, "ghost", nil, "ls", policy.Decision{Reason: policy.ReasonNotOwner})
	waitForLen(t, s, 1)

	events, _ := s.Query(context.Background(), QueryFilter{TargetID: "ghost"})
	if len(events) != 1 {
		t.Fatalf("events for ghost = %d", len(events))
	}
}

func TestLogger_LogExecution_OmitsOutput(t *testing.T) {
	l, s := newTestLogger(t)
	res := &executor.Result{ExecutionID: "x1", Success: true, Stdout: "secret-output"}
	l.LogExecution(context.Background(), bob, &store.Instance{ID: "db1"}, "cat notes", res)
	waitForLen(t, s, 1)

	events, _ := s.Query(context.Background(), DefaultQueryFilter())
	if strings.Contains(string(events[0].Metadata), "secret-output") {
		t.Error("command output must not be recorded")
	}
	if events[0].Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %s", events[0].Outcome)
	}
}

func TestLogger_Prune(t *testing.T) {
	s := NewMemoryStore(100)
	l := NewLogger(s, Config{Enabled: true, BufferSize: 8, RetentionDays: 7})
	defer l.Close()

	now := time.Now()
	_ = s.Save(context.Background(), &Event{ID: "old", Timestamp: now.AddDate(0, 0, -10)})
	_ = s.Save(context.Background(), &Event{ID: "new", Timestamp: now.AddDate(0, 0, -1)})

	n, err := l.Prune(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || s.Len() != 1 {
		t.Errorf("pruned %d, remaining %d; want 1 and 1", n, s.Len())
	}
	if _, err := s.Get(context.Background(), "new"); err != nil {
		t.Errorf("recent event removed: %v", err)
	}
}

func TestLogger_RunPrunerStopsOnCancel(t *testing.T) {
	l, _ := newTestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.RunPruner(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("RunPruner returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunPruner did not stop")
	}
}

func TestSourceFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.7:41000"
	r.Header.Set("User-Agent", "curl/8")
	r.Header.Set("X-Forwarded-For", "10.0.0.1")

	src := SourceFromRequest(r)
	if src.IPAddress != "198.51.100.7" {
		t.Errorf("IPAddress = %q, forwarded headers must not be trusted", src.IPAddress)
	}
	if src.UserAgent != "curl/8" {
		t.Errorf("UserAgent = %q", src.UserAgent)
	}
}
