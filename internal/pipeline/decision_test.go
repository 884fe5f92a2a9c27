package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeLLM struct {
	response   string
	err        error
	configured bool
	lastSystem string
	lastUser   string
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	return f.response, f.err
}

func (f *fakeLLM) Model() string      { return "fake-model" }
func (f *fakeLLM) IsConfigured() bool { return f.configured }

// ============================================================================
// TEST: Response Parsing
// ============================================================================

func TestParseDecisionsBareArray(t *testing.T) {
	raw := `[{"symbol": "BTC/USDT", "action": "open_long", "leverage": 5, "position_size_usd": 200, "confidence": 0.8}]`

	decisions, err := ParseDecisions(raw)
	if err != nil {
		t.Fatalf("Expected parse to succeed, got %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("Expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Symbol != "BTC/USDT" || decisions[0].Action != "open_long" {
		t.Errorf("Expected BTC/USDT open_long, got %s %s", decisions[0].Symbol, decisions[0].Action)
	}
}

func TestParseDecisionsEnvelope(t *testing.T) {
	raw := `{"decisions": [{"symbol": "ETH/USDT", "action": "close_long"}]}`

	decisions, err := ParseDecisions(raw)
	if err != nil {
		t.Fatalf("Expected envelope parse to succeed, got %v", err)
	}
	if len(decisions) != 1 || decisions[0].Action != "close_long" {
		t.Fatalf("Expected 1 close_long decision, got %v", decisions)
	}
}

func TestParseDecisionsStripsCodeFences(t *testing.T) {
	raw := "```json\n[{\"symbol\": \"BTC/USDT\", \"action\": \"wait\"}]\n```\nSome trailing commentary."

	decisions, err := ParseDecisions(raw)
	if err != nil {
		t.Fatalf("Expected fenced parse to succeed, got %v", err)
	}
	if len(decisions) != 1 || decisions[0].Action != "wait" {
		t.Fatalf("Expected 1 wait decision, got %v", decisions)
	}
}

func TestParseDecisionsNormalizesSymbolAndAction(t *testing.T) {
	raw := `[{"symbol": "btcusdt", "action": " OPEN_LONG "}]`

	decisions, err := ParseDecisions(raw)
	if err != nil {
		t.Fatalf("Expected parse to succeed, got %v", err)
	}
	if decisions[0].Symbol != "BTC/USDT" {
		t.Errorf("Expected normalized symbol BTC/USDT, got %s", decisions[0].Symbol)
	}
	if decisions[0].Action != "open_long" {
		t.Errorf("Expected lowercased action open_long, got %q", decisions[0].Action)
	}
}

func TestParseDecisionsEmptyArray(t *testing.T) {
	decisions, err := ParseDecisions("[]")
	if err != nil {
		t.Fatalf("Expected empty array to parse, got %v", err)
	}
	if len(decisions) != 0 {
		t.Errorf("Expected no decisions, got %d", len(decisions))
	}
}

func TestParseDecisionsRejectsGarbage(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{name: "prose", raw: "I would open a long position on BTC here."},
		{name: "blank", raw: "   "},
		{name: "object without decisions", raw: `{"symbol": "BTC/USDT"}`},
		{name: "fenced prose", raw: "```\nnot json\n```"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDecisions(tc.raw); err == nil {
				t.Errorf("Expected parse error for %q", tc.raw)
			}
		})
	}
}

// ============================================================================
// TEST: Decision Stage
// ============================================================================

func TestDecisionStageWithoutModel(t *testing.T) {
	stage := NewAIDecisionStage(nil, Config{}, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected stage to degrade, got %v", err)
	}
	if state.AIDecision == nil || state.AIDecision.Error == "" {
		t.Fatal("Expected an error recorded on the state")
	}
	if len(state.AIDecision.Decisions) != 0 {
		t.Errorf("Expected no decisions, got %d", len(state.AIDecision.Decisions))
	}
}

func TestDecisionStageTransportFailure(t *testing.T) {
	client := &fakeLLM{configured: true, err: errors.New("connection refused")}
	stage := NewAIDecisionStage(client, Config{}, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected transport failure to degrade, got %v", err)
	}
	if state.AIDecision == nil || !strings.Contains(state.AIDecision.Error, "connection refused") {
		t.Fatalf("Expected transport error on state, got %+v", state.AIDecision)
	}
}

func TestDecisionStageKeepsRawOnParseFailure(t *testing.T) {
	client := &fakeLLM{configured: true, response: "no JSON here, sorry"}
	stage := NewAIDecisionStage(client, Config{}, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected parse failure to degrade, got %v", err)
	}
	if state.AIDecision == nil || state.AIDecision.Error == "" {
		t.Fatal("Expected a parse error recorded on the state")
	}
	if state.AIDecision.Raw != "no JSON here, sorry" {
		t.Errorf("Expected the raw response kept for the log, got %q", state.AIDecision.Raw)
	}
}

func TestDecisionStageParsesResponse(t *testing.T) {
	client := &fakeLLM{
		configured: true,
		response:   "```json\n[{\"symbol\": \"BTC/USDT\", \"action\": \"hold\", \"confidence\": 0.6}]\n```",
	}
	cfg := Config{SystemPrompt: "You are a trader."}
	stage := NewAIDecisionStage(client, cfg, zerolog.Nop())
	state := NewState("trader-1", 0, 0)

	if err := stage.Run(context.Background(), state); err != nil {
		t.Fatalf("Expected stage to succeed, got %v", err)
	}
	if state.AIDecision == nil || len(state.AIDecision.Decisions) != 1 {
		t.Fatalf("Expected 1 decision, got %+v", state.AIDecision)
	}
	if state.AIDecision.Decisions[0].Action != "hold" {
		t.Errorf("Expected hold, got %s", state.AIDecision.Decisions[0].Action)
	}
	if client.lastSystem != "You are a trader." {
		t.Errorf("Expected the configured system prompt, got %q", client.lastSystem)
	}
	if !strings.Contains(client.lastUser, "# Trading Decision Request") {
		t.Error("Expected the rendered user prompt to carry the request header")
	}
}
