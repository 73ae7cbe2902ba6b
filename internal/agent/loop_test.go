package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/message"
	"github.com/nanoclaw/nanoclaw/internal/provider"
	"github.com/nanoclaw/nanoclaw/internal/session"
	"github.com/nanoclaw/nanoclaw/internal/tool"
)

// fakeProvider replays a scripted queue of responses, one per Chat
// call, falling back to a fixed final answer once the queue is
// empty. Every call's message list is retained for inspection.
type fakeProvider struct {
	responses []*message.LMResponse
	repeat    bool
	calls     [][]provider.ChatMessage
}

func (f *fakeProvider) Chat(ctx context.Context, messages []provider.ChatMessage, tools []message.ToolDescriptor, model string, options provider.ChatOptions) (*message.LMResponse, error) {
	f.calls = append(f.calls, messages)
	if len(f.responses) == 0 {
		return &message.LMResponse{Content: "done"}, nil
	}
	if f.repeat {
		return f.responses[0], nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeProvider) GetDefaultModel() string { return "fake-model" }

// echoTool records every call it receives and always succeeds.
type echoTool struct{ calls []map[string]any }

func (t *echoTool) Name() string               { return "echo" }
func (t *echoTool) Description() string        { return "echoes its arguments" }
func (t *echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *echoTool) Execute(ctx context.Context, args map[string]any) *tool.Result {
	t.calls = append(t.calls, args)
	return &tool.Result{ForLLM: "echoed"}
}

// failTool always reports an "Error:"-prefixed failure, for exercising
// the sequential-failure cap.
type failTool struct{}

func (failTool) Name() string              { return "fail" }
func (failTool) Description() string       { return "always fails" }
func (failTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (failTool) Execute(ctx context.Context, args map[string]any) *tool.Result {
	return &tool.Result{ForLLM: "Error: boom", IsError: true}
}

func newTestLoop(t *testing.T, p provider.LLMProvider, reg *tool.Registry, cfg Config) *AgentLoop {
	t.Helper()
	workspace := t.TempDir()
	if reg == nil {
		reg = tool.NewRegistry()
	}
	store, err := session.NewStore(workspace, nil)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	cfg.Workspace = workspace
	if cfg.Model == "" {
		cfg.Model = "fake-model"
	}
	b := bus.New(nil)
	ctxBuild := NewContextBuilder(workspace, "", reg)
	return NewAgentLoop(b, p, store, reg, ctxBuild, cfg)
}

func TestProcessUserMessageFreePlanGate(t *testing.T) {
	p := &fakeProvider{}
	loop := newTestLoop(t, p, nil, Config{Plan: "free"})

	out, err := loop.processUserMessage(context.Background(), message.InboundMessage{
		Channel: "telegram", ChatID: "123", Content: "hi",
	})
	if err != nil {
		t.Fatalf("processUserMessage: %v", err)
	}
	if out == nil || out.Content != freePlanReply {
		t.Fatalf("expected the free-plan teaser reply, got %+v", out)
	}
	if len(p.calls) != 0 {
		t.Fatalf("expected the LM to never be called on the free plan, got %d calls", len(p.calls))
	}
}

func TestProcessUserMessageCreditBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()
	t.Setenv("PLATFORM_URL", srv.URL)
	t.Setenv("CREDIT_USER_ID", "u1")

	p := &fakeProvider{}
	loop := newTestLoop(t, p, nil, Config{Plan: "paid"})

	out, err := loop.processUserMessage(context.Background(), message.InboundMessage{
		Channel: "telegram", ChatID: "123", Content: "hi",
	})
	if err != nil {
		t.Fatalf("processUserMessage: %v", err)
	}
	if out == nil || out.Content != creditsExhaustedReply {
		t.Fatalf("expected the credits-exhausted reply, got %+v", out)
	}
	if len(p.calls) != 0 {
		t.Fatalf("expected the LM to never be called once credits are exhausted, got %d calls", len(p.calls))
	}
}

func TestProcessUserMessageSkipsCreditCheckWhenUnconfigured(t *testing.T) {
	p := &fakeProvider{responses: []*message.LMResponse{{Content: "hello back"}}}
	loop := newTestLoop(t, p, nil, Config{Plan: "paid"})

	out, err := loop.processUserMessage(context.Background(), message.InboundMessage{
		Channel: "telegram", ChatID: "123", Content: "hi",
	})
	if err != nil {
		t.Fatalf("processUserMessage: %v", err)
	}
	if out == nil || out.Content != "hello back" {
		t.Fatalf("expected the LM's reply to pass through, got %+v", out)
	}
}

func TestRunIterationToolCallResultPairing(t *testing.T) {
	et := &echoTool{}
	reg := tool.NewRegistry()
	reg.Register(et)

	p := &fakeProvider{responses: []*message.LMResponse{
		{
			HasToolCalls: true,
			ToolCalls:    []message.ToolCall{{ID: "call-1", Name: "echo", Arguments: map[string]any{"x": 1}}},
		},
		{Content: "final answer"},
	}}
	loop := newTestLoop(t, p, reg, Config{Plan: "paid", MaxIterations: 5})

	sess := &session.Session{Key: "test"}
	terminal, _, err := loop.runIteration(context.Background(), sess, "hello", nil, false)
	if err != nil {
		t.Fatalf("runIteration: %v", err)
	}
	if terminal != "final answer" {
		t.Fatalf("expected the final LM content, got %q", terminal)
	}
	if len(et.calls) != 1 {
		t.Fatalf("expected the tool to run exactly once, got %d", len(et.calls))
	}

	// The second Chat call's message list must carry the assistant's
	// tool call immediately followed by its matching tool result.
	if len(p.calls) != 2 {
		t.Fatalf("expected exactly two LM calls, got %d", len(p.calls))
	}
	second := p.calls[1]
	var assistantIdx, toolIdx = -1, -1
	for i, m := range second {
		if m.Role == "assistant" && len(m.ToolCalls) == 1 && m.ToolCalls[0].ID == "call-1" {
			assistantIdx = i
		}
		if m.Role == "tool" && m.ToolCallID == "call-1" {
			toolIdx = i
		}
	}
	if assistantIdx == -1 || toolIdx == -1 {
		t.Fatalf("expected both the assistant tool call and its result in the message list: %+v", second)
	}
	if toolIdx != assistantIdx+1 {
		t.Fatalf("expected the tool result to immediately follow its call, assistant at %d, tool at %d", assistantIdx, toolIdx)
	}
	if second[toolIdx].ToolName != "echo" || second[toolIdx].Content != "echoed" {
		t.Fatalf("unexpected tool result entry: %+v", second[toolIdx])
	}
}

func TestRunIterationSequentialFailureCap(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(failTool{})

	p := &fakeProvider{
		repeat: true,
		responses: []*message.LMResponse{{
			HasToolCalls: true,
			ToolCalls:    []message.ToolCall{{ID: "call-1", Name: "fail", Arguments: map[string]any{}}},
		}},
	}
	loop := newTestLoop(t, p, reg, Config{Plan: "paid", MaxIterations: 10, MaxToolRetries: 2})

	sess := &session.Session{Key: "test"}
	terminal, _, err := loop.runIteration(context.Background(), sess, "hello", nil, false)
	if err != nil {
		t.Fatalf("runIteration: %v", err)
	}
	if !strings.Contains(terminal, "repeated errors") || !strings.Contains(terminal, "boom") {
		t.Fatalf("expected the repeated-failure message mentioning the last error, got %q", terminal)
	}
	if len(p.calls) != 2 {
		t.Fatalf("expected the loop to stop after MaxToolRetries (2) iterations, got %d calls", len(p.calls))
	}
}

func TestProcessSystemMessageRoutesBackToOriginChannel(t *testing.T) {
	p := &fakeProvider{responses: []*message.LMResponse{{Content: "reminder delivered"}}}
	loop := newTestLoop(t, p, nil, Config{Plan: "paid"})

	out, err := loop.processSystemMessage(context.Background(), message.InboundMessage{
		Channel:  "system",
		SenderID: "cron",
		ChatID:   message.EncodeSystemChatID("telegram", "456"),
		Content:  "time to check in",
	})
	if err != nil {
		t.Fatalf("processSystemMessage: %v", err)
	}
	if out == nil {
		t.Fatalf("expected a reply")
	}
	if out.Channel != "telegram" || out.ChatID != "456" {
		t.Fatalf("expected the reply routed back to telegram:456, got %+v", out)
	}
	if out.Content != "reminder delivered" {
		t.Fatalf("unexpected reply content: %q", out.Content)
	}
}

func TestProcessUserMessageClearSessionResetsHistoryWithoutCallingTheLM(t *testing.T) {
	p := &fakeProvider{responses: []*message.LMResponse{{Content: "should not be used"}}}
	loop := newTestLoop(t, p, nil, Config{Plan: "paid"})

	sess := loop.sessions.GetOrCreate("telegram:789")
	sess.AddMessage("user", "earlier turn")
	sess.AddMessage("assistant", "earlier reply")

	out, err := loop.processUserMessage(context.Background(), message.InboundMessage{
		Channel:  "telegram",
		ChatID:   "789",
		Content:  "/clear",
		Metadata: map[string]string{"clear_session": "true"},
	})
	if err != nil {
		t.Fatalf("processUserMessage: %v", err)
	}
	if out == nil || out.Content != "Conversation cleared." {
		t.Fatalf("expected a clear confirmation, got %+v", out)
	}
	if len(p.calls) != 0 {
		t.Fatalf("expected /clear to never reach the LM, got %d calls", len(p.calls))
	}
	if len(sess.GetHistory()) != 0 {
		t.Fatalf("expected history to be reset, got %v", sess.GetHistory())
	}
}

func TestCronReentryDispatchesAsSystemMessageAndPublishesToOrigin(t *testing.T) {
	p := &fakeProvider{responses: []*message.LMResponse{{Content: "done with the reminder"}}}
	loop := newTestLoop(t, p, nil, Config{Plan: "paid"})

	loop.dispatch(context.Background(), message.InboundMessage{
		Channel:  "system",
		SenderID: "cron",
		ChatID:   message.EncodeSystemChatID("slack", "C1"),
		Content:  "fire the reminder",
	})

	published, err := loop.bus.ConsumeOutbound(context.Background(), "slack", time.Second)
	if err != nil {
		t.Fatalf("expected the cron re-entry's reply on the slack outbound partition: %v", err)
	}
	if published.ChatID != "C1" || published.Content != "done with the reminder" {
		t.Fatalf("unexpected published message: %+v", published)
	}
}

