// Package chat runs one conversation turn: a single LLM round trip, at most
// one capability dispatch, and a reply string that is always safe to show.
package chat

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/agentic-todo/internal/bus"
	"github.com/haricheung/agentic-todo/internal/capability"
	"github.com/haricheung/agentic-todo/internal/dispatch"
	"github.com/haricheung/agentic-todo/internal/llm"
	"github.com/haricheung/agentic-todo/internal/metrics"
	"github.com/haricheung/agentic-todo/internal/render"
	"github.com/haricheung/agentic-todo/internal/types"
)

const systemPrompt = `You are an AI Task Manager assistant. You can help users manage tasks by adding, listing, completing, or deleting them. Always confirm actions and use a friendly, concise tone.`

const (
	// DefaultTimeout bounds the LLM call when no timeout is configured.
	DefaultTimeout = 30 * time.Second

	ApologyReply  = "Sorry, I couldn't reach the assistant just now. Please try again in a moment."
	InternalReply = "Sorry, something went wrong while handling your message."
)

// Completer is the LLM collaborator.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Reply, llm.Usage, error)
}

// Dispatcher executes a structured call.
type Dispatcher interface {
	Dispatch(req dispatch.CallRequest) dispatch.Result
}

// Orchestrator wires the LLM to the dispatch bridge.
type Orchestrator struct {
	llm     Completer
	bridge  Dispatcher
	tools   []llm.Tool
	b       *bus.Bus
	timeout time.Duration
}

// New creates an Orchestrator offering every capability in reg to the model.
// b may be nil, in which case no events are published. A non-positive
// timeout means DefaultTimeout.
func New(b *bus.Bus, c Completer, bridge Dispatcher, reg *capability.Registry, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Orchestrator{llm: c, bridge: bridge, tools: Tools(reg), b: b, timeout: timeout}
}

// Tools converts registry descriptors into the tool list sent to the model.
func Tools(reg *capability.Registry) []llm.Tool {
	var tools []llm.Tool
	for _, d := range reg.All() {
		tools = append(tools, llm.Tool{Name: d.Name, Description: d.Description, Parameters: d.SchemaJSON()})
	}
	return tools
}

// Handle runs one turn and returns the reply. It never returns an error and
// never panics: upstream failures become ApologyReply, anything unexpected
// becomes InternalReply.
//
// Expectations:
//   - Exactly one LLM call per turn, bounded by the configured timeout
//   - Text replies are returned verbatim
//   - A Call is dispatched once and its rendering is returned unchanged, even when empty
//   - LLM errors and timeouts return ApologyReply and publish UpstreamError
func (o *Orchestrator) Handle(ctx context.Context, message string) (reply string) {
	turnID := uuid.New().String()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[CHAT] ERROR: turn=%s panic: %v", turnID, r)
			reply = InternalReply
		}
	}()

	o.publish(turnID, types.RoleUser, types.RoleOrchestrator, types.MsgUserMessage, types.UserMessage{Text: message})
	log.Printf("[CHAT] turn=%s message=%q", turnID, firstN(message, 200))

	llmCtx, cancel := context.WithTimeout(ctx, o.timeout)
	start := time.Now()
	answer, usage, err := o.llm.Complete(llmCtx, llm.Request{System: systemPrompt, User: message, Tools: o.tools})
	cancel()
	metrics.LLMLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LLMErrors.Inc()
		metrics.ChatTurns.WithLabelValues("upstream_error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			log.Printf("[CHAT] ERROR: turn=%s llm timed out after %s: %v", turnID, o.timeout, err)
		} else {
			log.Printf("[CHAT] ERROR: turn=%s llm: %v", turnID, err)
		}
		o.publish(turnID, types.RoleLLM, types.RoleOrchestrator, types.MsgUpstreamError, types.UpstreamError{Error: err.Error()})
		return ApologyReply
	}
	log.Printf("[CHAT] turn=%s llm tokens prompt=%d completion=%d", turnID, usage.PromptTokens, usage.CompletionTokens)

	var capabilityName string
	switch a := answer.(type) {
	case llm.Text:
		metrics.ChatTurns.WithLabelValues("text").Inc()
		reply = a.Content
	case llm.Call:
		metrics.ChatTurns.WithLabelValues("call").Inc()
		if a.Dropped > 0 {
			log.Printf("[CHAT] WARNING: turn=%s model proposed %d extra calls; only %s is dispatched", turnID, a.Dropped, a.Name)
		}
		capabilityName = a.Name
		o.publish(turnID, types.RoleLLM, types.RoleDispatcher, types.MsgCallRequest,
			types.CallRequest{Name: a.Name, Arguments: string(a.Arguments)})

		result := o.bridge.Dispatch(dispatch.CallRequest{Name: a.Name, Arguments: a.Arguments})
		o.publish(turnID, types.RoleDispatcher, types.RoleRenderer, types.MsgDispatchResult, dispatch.Outcome(a.Name, result))

		reply = render.Render(result)
	default:
		log.Printf("[CHAT] ERROR: turn=%s unexpected reply type %T", turnID, answer)
		reply = InternalReply
	}

	o.publish(turnID, types.RoleOrchestrator, types.RoleUser, types.MsgReply,
		types.Reply{UserText: message, Text: reply, Capability: capabilityName})
	return reply
}

func (o *Orchestrator) publish(turnID string, from, to types.Role, t types.MessageType, payload any) {
	if o.b == nil {
		return
	}
	o.b.Publish(types.Message{
		ID:        uuid.New().String(),
		TurnID:    turnID,
		Timestamp: time.Now().UTC(),
		From:      from,
		To:        to,
		Type:      t,
		Payload:   payload,
	})
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
