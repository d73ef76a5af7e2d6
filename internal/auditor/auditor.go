package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/agentic-todo/internal/dispatch"
	"github.com/haricheung/agentic-todo/internal/types"
)

// thrashThreshold is the number of consecutive validation failures after
// which the model is considered to be thrashing on malformed calls.
const thrashThreshold = 3

// Auditor taps the message bus read-only and writes structured AuditEvents to
// a JSONL file. It flags boundary violations, unknown capabilities, argument
// validation failures, upstream errors and thrashing.
type Auditor struct {
	tap     <-chan types.Message
	logPath string

	mu  sync.Mutex
	out io.Writer // nil when logPath is empty; events are still analysed

	consecutiveInvalid int
	anomalies          []string
}

// New creates an Auditor. An empty logPath disables the JSONL file.
func New(tap <-chan types.Message, logPath string) *Auditor {
	return &Auditor{tap: tap, logPath: logPath}
}

// Run starts the auditor loop. It blocks until ctx is cancelled or the tap
// is closed.
func (a *Auditor) Run(ctx context.Context) {
	if a.logPath != "" {
		f, err := openLog(a.logPath)
		if err != nil {
			log.Printf("[AUDIT] ERROR: %v; continuing without a log file", err)
		} else {
			defer f.Close()
			a.mu.Lock()
			a.out = f
			a.mu.Unlock()
			log.Printf("[AUDIT] started; writing to %s", a.logPath)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-a.tap:
			if !ok {
				return
			}
			a.process(msg)
		}
	}
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("auditor: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("auditor: open log file: %w", err)
	}
	return f, nil
}

// Anomalies returns every anomaly recorded so far as "kind: detail" strings.
func (a *Auditor) Anomalies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.anomalies...)
}

// allowed sender→receiver pairs per message type
var allowedPaths = map[types.MessageType]struct {
	from types.Role
	to   types.Role
}{
	types.MsgUserMessage:    {types.RoleUser, types.RoleOrchestrator},
	types.MsgCallRequest:    {types.RoleLLM, types.RoleDispatcher},
	types.MsgDispatchResult: {types.RoleDispatcher, types.RoleRenderer},
	types.MsgReply:          {types.RoleOrchestrator, types.RoleUser},
	types.MsgUpstreamError:  {types.RoleLLM, types.RoleOrchestrator},
}

// process classifies one message and writes its AuditEvent.
//
// Expectations:
//   - A message on an unexpected sender/receiver pair is a boundary_violation
//   - A DispatchResult for an unregistered name is unknown_capability
//   - Any other validation_error DispatchResult is validation_error
//   - The thrashThreshold-th consecutive validation failure is thrashing
//   - A successful dispatch resets the consecutive failure count
//   - Every UpstreamError is upstream_error
//   - Exactly one event is written per message
func (a *Auditor) process(msg types.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	anomaly := "none"
	var detail *string
	flag := func(kind, d string) {
		anomaly = kind
		detail = &d
		a.anomalies = append(a.anomalies, kind+": "+d)
		log.Printf("[AUDIT] %s: turn=%s %s", kind, msg.TurnID, d)
	}

	if allowed, ok := allowedPaths[msg.Type]; ok {
		if msg.From != allowed.from || msg.To != allowed.to {
			flag("boundary_violation", fmt.Sprintf("expected %s→%s for %s, got %s→%s",
				allowed.from, allowed.to, msg.Type, msg.From, msg.To))
		}
	}

	switch msg.Type {
	case types.MsgDispatchResult:
		out, err := toOutcome(msg.Payload)
		if err != nil {
			log.Printf("[AUDIT] ERROR: decode DispatchResult payload: %v", err)
			break
		}
		if out.Kind != "validation_error" {
			a.consecutiveInvalid = 0
			break
		}
		a.consecutiveInvalid++
		switch {
		case a.consecutiveInvalid >= thrashThreshold:
			flag("thrashing", fmt.Sprintf("%d consecutive validation failures, last %s: %s %s",
				a.consecutiveInvalid, out.Capability, out.Field, out.Reason))
		case out.Reason == dispatch.ReasonUnknownCapability:
			flag("unknown_capability", fmt.Sprintf("model proposed %q", out.Capability))
		default:
			flag("validation_error", fmt.Sprintf("%s: %s %s", out.Capability, out.Field, out.Reason))
		}
	case types.MsgUpstreamError:
		ue, err := toUpstreamError(msg.Payload)
		if err != nil {
			log.Printf("[AUDIT] ERROR: decode UpstreamError payload: %v", err)
			break
		}
		flag("upstream_error", ue.Error)
	}

	a.writeEvent(types.AuditEvent{
		EventID:     uuid.New().String(),
		TurnID:      msg.TurnID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		FromRole:    msg.From,
		ToRole:      msg.To,
		MessageType: string(msg.Type),
		Anomaly:     anomaly,
		Detail:      detail,
	})
}

// writeEvent must be called with a.mu held.
func (a *Auditor) writeEvent(e types.AuditEvent) {
	if a.out == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[AUDIT] ERROR: marshal event: %v", err)
		return
	}
	if _, err := fmt.Fprintf(a.out, "%s\n", data); err != nil {
		log.Printf("[AUDIT] ERROR: write event: %v", err)
	}
}

func toOutcome(payload any) (types.DispatchOutcome, error) {
	if o, ok := payload.(types.DispatchOutcome); ok {
		return o, nil
	}
	var o types.DispatchOutcome
	return o, remarshal(payload, &o)
}

func toUpstreamError(payload any) (types.UpstreamError, error) {
	if ue, ok := payload.(types.UpstreamError); ok {
		return ue, nil
	}
	var ue types.UpstreamError
	return ue, remarshal(payload, &ue)
}

// remarshal converts a payload that crossed a JSON boundary (a map) back into
// its typed form.
func remarshal(payload any, v any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
