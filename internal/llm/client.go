package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Config carries the connection settings for an OpenAI-compatible endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration // transport-level ceiling; callers still bound each call with ctx
}

// Client is an OpenAI-compatible LLM client with function calling.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	label      string // used in debug log lines
	httpClient *http.Client
}

// normalizeBaseURL strips trailing slashes and the "/chat/completions" suffix
// from a raw OPENAI_BASE_URL value so the path is never doubled when the
// client appends "/chat/completions" itself.
//
// Expectations:
//   - Strips a trailing "/chat/completions" suffix
//   - Strips a trailing slash without "/chat/completions"
//   - Strips trailing slash AND "/chat/completions" when both are present
//   - Returns the URL unchanged when neither suffix is present
//   - Returns "" for empty input
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// New creates a Client from cfg. A zero Timeout means 120s.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    normalizeBaseURL(cfg.BaseURL),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		label:      "LLM",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Validate reports every missing setting at once.
//
// Expectations:
//   - Returns nil when all three fields (baseURL, apiKey, model) are non-empty
//   - Returns error listing "base URL", "API key" and/or "model" comma-separated
//   - Error message includes the client label
func (c *Client) Validate() error {
	var missing []string
	if c.baseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.apiKey == "" {
		missing = append(missing, "API key")
	}
	if c.model == "" {
		missing = append(missing, "model")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("llm: %s client missing %s", c.label, strings.Join(missing, ", "))
}

// Tool is one function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema object
}

// Request is a single-turn conversation: system prompt, one user message and
// the tools on offer.
type Request struct {
	System string
	User   string
	Tools  []Tool
}

// Reply is what the model answered: either Text or Call.
type Reply interface {
	isReply()
}

// Text is a free-text answer.
type Text struct {
	Content string
}

// Call is a structured function-call proposal. Only the first proposed call
// is kept; Dropped counts any further calls in the same reply.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	Dropped   int
}

func (Text) isReply() {}
func (Call) isReply() {}

// Usage reports token consumption for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatRequest struct {
	Model      string    `json:"model"`
	Messages   []chatMsg `json:"messages"`
	Tools      []tool    `json:"tools,omitempty"`
	ToolChoice string    `json:"tool_choice,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				ID       string       `json:"id"`
				Type     string       `json:"type"`
				Function functionCall `json:"function"`
			} `json:"tool_calls"`
			FunctionCall *functionCall `json:"function_call"` // legacy "functions" API
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends req and returns the model's reply and token usage.
//
// Expectations:
//   - Sends tools with tool_choice "auto" when req.Tools is non-empty
//   - Returns Call for the first entry of message.tool_calls
//   - Falls back to the legacy message.function_call field
//   - Empty call arguments become "{}"
//   - Returns Text with <think> blocks stripped otherwise
//   - Returns an error for non-200 statuses, API errors and empty choices
func (c *Client) Complete(ctx context.Context, req Request) (Reply, Usage, error) {
	log.Printf("[%s] ── USER ── %s (tools=%d)", c.label, req.User, len(req.Tools))

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMsg{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}
	for _, t := range req.Tools {
		payload.Tools = append(payload.Tools, tool{
			Type:     "function",
			Function: toolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if len(payload.Tools) > 0 {
		payload.ToolChoice = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, Usage{}, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, firstN(string(respBody), 300))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, Usage{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return nil, Usage{}, fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return nil, Usage{}, fmt.Errorf("llm: no choices in response")
	}

	msg := chatResp.Choices[0].Message
	usage := chatResp.Usage
	switch {
	case len(msg.ToolCalls) > 0:
		tc := msg.ToolCalls[0]
		call := Call{ID: tc.ID, Name: tc.Function.Name, Arguments: rawArgs(tc.Function.Arguments), Dropped: len(msg.ToolCalls) - 1}
		log.Printf("[%s] ── CALL (tokens: prompt=%d completion=%d) ── %s(%s)",
			c.label, usage.PromptTokens, usage.CompletionTokens, call.Name, call.Arguments)
		return call, usage, nil
	case msg.FunctionCall != nil && msg.FunctionCall.Name != "":
		call := Call{Name: msg.FunctionCall.Name, Arguments: rawArgs(msg.FunctionCall.Arguments)}
		log.Printf("[%s] ── CALL (legacy) ── %s(%s)", c.label, call.Name, call.Arguments)
		return call, usage, nil
	}

	content := ""
	if msg.Content != nil {
		content = StripThinkBlocks(*msg.Content)
	}
	log.Printf("[%s] ── TEXT (tokens: prompt=%d completion=%d) ── %s",
		c.label, usage.PromptTokens, usage.CompletionTokens, firstN(content, 200))
	return Text{Content: content}, usage, nil
}

// rawArgs keeps the model's argument string as raw JSON for the dispatcher
// to validate; it is deliberately not parsed here.
func rawArgs(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

// StripThinkBlocks removes all <think>...</think> blocks from s.
// Reasoning models (e.g. deepseek-r1) emit these before their answer; they
// are never part of the reply shown to users.
//
// Expectations:
//   - Removes a single <think>...</think> block
//   - Removes multiple <think>...</think> blocks
//   - Strips an unclosed <think> block from its start to end of string
//   - Returns s unchanged when no <think> tag is present
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
