package auditor

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haricheung/agentic-todo/internal/bus"
	"github.com/haricheung/agentic-todo/internal/types"
)

// newTestAuditor builds an Auditor writing into an in-memory buffer.
func newTestAuditor() (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	a := New(nil, "")
	a.out = &buf
	return a, &buf
}

func dispatchMsg(capability, kind, field, reason string) types.Message {
	return types.Message{
		TurnID: "turn-1",
		From:   types.RoleDispatcher,
		To:     types.RoleRenderer,
		Type:   types.MsgDispatchResult,
		Payload: types.DispatchOutcome{
			Capability: capability,
			Kind:       kind,
			Field:      field,
			Reason:     reason,
		},
	}
}

func events(t *testing.T, buf *bytes.Buffer) []types.AuditEvent {
	t.Helper()
	var out []types.AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e types.AuditEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("bad JSONL line %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestProcess_OneEventPerMessage(t *testing.T) {
	// Exactly one event is written per message
	a, buf := newTestAuditor()
	a.process(types.Message{TurnID: "t", From: types.RoleUser, To: types.RoleOrchestrator, Type: types.MsgUserMessage})
	a.process(dispatchMsg("getTasks", "task_list", "", ""))

	evs := events(t, buf)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	for _, e := range evs {
		if e.Anomaly != "none" || e.Detail != nil {
			t.Errorf("unexpected anomaly %q on %s", e.Anomaly, e.MessageType)
		}
	}
	if evs[0].TurnID != "t" || evs[0].FromRole != types.RoleUser {
		t.Errorf("event fields not copied: %+v", evs[0])
	}
}

func TestProcess_BoundaryViolation(t *testing.T) {
	// A message on an unexpected sender/receiver pair is a boundary_violation
	a, buf := newTestAuditor()
	a.process(types.Message{From: types.RoleRenderer, To: types.RoleUser, Type: types.MsgReply})

	evs := events(t, buf)
	if len(evs) != 1 || evs[0].Anomaly != "boundary_violation" {
		t.Fatalf("got %+v, want boundary_violation", evs)
	}
}

func TestProcess_UnknownCapability(t *testing.T) {
	// A DispatchResult for an unregistered name is unknown_capability
	a, buf := newTestAuditor()
	a.process(dispatchMsg("launchRocket", "validation_error", "", "unknown capability"))

	evs := events(t, buf)
	if evs[0].Anomaly != "unknown_capability" {
		t.Errorf("got anomaly %q", evs[0].Anomaly)
	}
	if evs[0].Detail == nil || !strings.Contains(*evs[0].Detail, "launchRocket") {
		t.Errorf("detail should name the capability: %v", evs[0].Detail)
	}
}

func TestProcess_ValidationError(t *testing.T) {
	// Any other validation_error DispatchResult is validation_error
	a, buf := newTestAuditor()
	a.process(dispatchMsg("addTask", "validation_error", "title", "is required"))

	if got := events(t, buf)[0].Anomaly; got != "validation_error" {
		t.Errorf("got anomaly %q", got)
	}
}

func TestProcess_ThrashingAfterThreeConsecutiveFailures(t *testing.T) {
	// The thrashThreshold-th consecutive validation failure is thrashing
	a, buf := newTestAuditor()
	for i := 0; i < thrashThreshold; i++ {
		a.process(dispatchMsg("addTask", "validation_error", "title", "is required"))
	}

	evs := events(t, buf)
	if got := evs[thrashThreshold-1].Anomaly; got != "thrashing" {
		t.Errorf("event %d anomaly = %q, want thrashing", thrashThreshold, got)
	}
	if got := evs[thrashThreshold-2].Anomaly; got != "validation_error" {
		t.Errorf("event %d anomaly = %q, want validation_error", thrashThreshold-1, got)
	}
}

func TestProcess_SuccessResetsThrashCount(t *testing.T) {
	// A successful dispatch resets the consecutive failure count
	a, buf := newTestAuditor()
	a.process(dispatchMsg("addTask", "validation_error", "title", "is required"))
	a.process(dispatchMsg("addTask", "validation_error", "title", "is required"))
	a.process(dispatchMsg("getTasks", "task_list", "", ""))
	a.process(dispatchMsg("addTask", "validation_error", "title", "is required"))

	for _, e := range events(t, buf) {
		if e.Anomaly == "thrashing" {
			t.Fatal("thrashing flagged after a successful dispatch reset the count")
		}
	}
}

func TestProcess_UpstreamError(t *testing.T) {
	// Every UpstreamError is upstream_error
	a, buf := newTestAuditor()
	a.process(types.Message{
		From:    types.RoleLLM,
		To:      types.RoleOrchestrator,
		Type:    types.MsgUpstreamError,
		Payload: types.UpstreamError{Error: "context deadline exceeded"},
	})

	evs := events(t, buf)
	if evs[0].Anomaly != "upstream_error" || *evs[0].Detail != "context deadline exceeded" {
		t.Errorf("got %+v", evs[0])
	}
	if len(a.Anomalies()) != 1 {
		t.Errorf("Anomalies() = %v", a.Anomalies())
	}
}

func TestProcess_MapPayloadIsDecoded(t *testing.T) {
	a, buf := newTestAuditor()
	msg := dispatchMsg("", "", "", "")
	msg.Payload = map[string]any{"capability": "fly", "kind": "validation_error", "reason": "unknown capability"}
	a.process(msg)

	if got := events(t, buf)[0].Anomaly; got != "unknown_capability" {
		t.Errorf("got anomaly %q", got)
	}
}

func TestProcess_NoLogPathStillTracksAnomalies(t *testing.T) {
	a := New(nil, "")
	a.process(dispatchMsg("addTask", "validation_error", "title", "is required"))
	if len(a.Anomalies()) != 1 {
		t.Errorf("Anomalies() = %v", a.Anomalies())
	}
}

func TestRun_WritesJSONLFromTap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	b := bus.New()
	a := New(b.Tap(), path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	b.Publish(types.Message{TurnID: "t1", From: types.RoleUser, To: types.RoleOrchestrator, Type: types.MsgUserMessage})

	deadline := time.Now().Add(2 * time.Second)
	for {
		data, _ := os.ReadFile(path)
		if bytes.Contains(data, []byte(`"turn_id":"t1"`)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit log never received the event; contents: %q", data)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}
