package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/agentic-todo/internal/types"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiBlue   = "\033[34m"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 80

var roleEmoji = map[types.Role]string{
	types.RoleUser:         "👤",
	types.RoleOrchestrator: "🧭",
	types.RoleLLM:          "🧠",
	types.RoleDispatcher:   "⚙️ ",
	types.RoleRenderer:     "📝",
	types.RoleAuditor:      "📡",
}

var msgColor = map[types.MessageType]string{
	types.MsgUserMessage:    ansiCyan,
	types.MsgCallRequest:    ansiBlue,
	types.MsgDispatchResult: ansiYellow,
	types.MsgUpstreamError:  ansiRed,
}

var msgStatus = map[types.MessageType]string{
	types.MsgUserMessage:    "🧠 thinking...",
	types.MsgCallRequest:    "⚙️  dispatching...",
	types.MsgDispatchResult: "📝 rendering...",
}

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Display renders each chat turn as a boxed flow of bus events with a live
// spinner line. A turn opens on UserMessage and closes on Reply or
// UpstreamError.
type Display struct {
	tap      <-chan types.Message
	w        io.Writer
	width    int
	turnDone chan struct{}

	mu      sync.Mutex
	status  string
	started time.Time
	inTurn  bool
	spinIdx int
}

// New creates a Display reading from tap and writing to w. A non-positive
// width means DefaultWidth.
func New(tap <-chan types.Message, w io.Writer, width int) *Display {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Display{tap: tap, w: w, width: width, turnDone: make(chan struct{}, 1)}
}

// WaitTurn blocks until the current turn box has been closed or timeout
// elapses, so callers can print the reply below the box.
func (d *Display) WaitTurn(timeout time.Duration) bool {
	select {
	case <-d.turnDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Run renders flow lines and animates the spinner until ctx is cancelled.
// All terminal writes happen on this goroutine.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(d.w, "\r\033[K")
			return
		case msg, ok := <-d.tap:
			if !ok {
				return
			}
			d.handle(msg)
		case <-ticker.C:
			d.tick()
		}
	}
}

// handle renders one message.
//
// Expectations:
//   - UserMessage opens a turn box when none is open
//   - Every message inside a turn prints one flow line
//   - Reply closes the box with ✅, UpstreamError closes it with ❌
//   - Messages outside a turn other than UserMessage are ignored
func (d *Display) handle(msg types.Message) {
	if !d.inTurn {
		if msg.Type != types.MsgUserMessage {
			return
		}
		d.startTurn()
	}
	fmt.Fprint(d.w, "\r\033[K")
	switch msg.Type {
	case types.MsgReply:
		d.endTurn(true)
		return
	case types.MsgUpstreamError:
		d.printFlow(msg)
		d.endTurn(false)
		return
	}
	d.printFlow(msg)
	d.setStatus(msgStatus[msg.Type])
}

func (d *Display) tick() {
	if !d.inTurn {
		return
	}
	frame := spinRunes[d.spinIdx%len(spinRunes)]
	d.spinIdx++
	d.mu.Lock()
	status := d.status
	d.mu.Unlock()
	fmt.Fprintf(d.w, "\r%s%s%s %s", ansiCyan, string(frame), ansiReset, clip(status, d.width-2))
}

func (d *Display) startTurn() {
	d.started = time.Now()
	d.inTurn = true
	d.setStatus("starting...")
	fmt.Fprintf(d.w, "%s┌─── ⚡ agtodo %s%s\n", ansiDim, strings.Repeat("─", 40), ansiReset)
}

func (d *Display) endTurn(success bool) {
	d.inTurn = false
	elapsed := time.Since(d.started).Round(time.Millisecond)
	icon := "✅"
	if !success {
		icon = "❌"
	}
	fmt.Fprintf(d.w, "%s└─── %s  %v %s%s\n", ansiDim, icon, elapsed, strings.Repeat("─", 35), ansiReset)
	select {
	case d.turnDone <- struct{}{}:
	default:
	}
}

func (d *Display) setStatus(s string) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

func (d *Display) printFlow(msg types.Message) {
	label := string(msg.Type)
	if det := msgDetail(msg); det != "" {
		label += ": " + det
	}
	color := msgColor[msg.Type]
	if color == "" {
		color = ansiDim
	}
	plain := fmt.Sprintf("  %s ──[%s]──► %s", roleLabel(msg.From), label, roleLabel(msg.To))
	if runewidth.StringWidth(plain) > d.width {
		// Shrink only the label so both role names stay visible.
		over := runewidth.StringWidth(plain) - d.width
		label = clip(label, runewidth.StringWidth(label)-over)
	}
	fmt.Fprintf(d.w, "  %s ──[%s%s%s]──► %s\n", roleLabel(msg.From), color, label, ansiReset, roleLabel(msg.To))
}

func roleLabel(r types.Role) string {
	emoji, ok := roleEmoji[r]
	if !ok {
		emoji = "•"
	}
	return emoji + " " + string(r)
}

// msgDetail summarises a payload for the flow line.
//
// Expectations:
//   - UserMessage: the user's text
//   - CallRequest: name(arguments)
//   - DispatchResult: the result kind, with field and reason for validation errors
//   - UpstreamError: the error text
//   - Unknown types or undecodable payloads: ""
func msgDetail(msg types.Message) string {
	switch msg.Type {
	case types.MsgUserMessage:
		var u types.UserMessage
		if remarshal(msg.Payload, &u) == nil {
			return u.Text
		}
	case types.MsgCallRequest:
		var c types.CallRequest
		if remarshal(msg.Payload, &c) == nil && c.Name != "" {
			return fmt.Sprintf("%s(%s)", c.Name, c.Arguments)
		}
	case types.MsgDispatchResult:
		var o types.DispatchOutcome
		if remarshal(msg.Payload, &o) == nil && o.Kind != "" {
			if o.Kind == "validation_error" {
				return strings.TrimSpace(fmt.Sprintf("%s %s %s", o.Kind, o.Field, o.Reason))
			}
			return o.Kind
		}
	case types.MsgUpstreamError:
		var u types.UpstreamError
		if remarshal(msg.Payload, &u) == nil {
			return u.Error
		}
	}
	return ""
}

// clip truncates s to at most n terminal cells, appending "…" if trimmed.
func clip(s string, n int) string {
	if n < 1 {
		n = 1
	}
	return runewidth.Truncate(s, n, "…")
}

func remarshal(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
