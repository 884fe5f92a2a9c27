package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ai-futures-trader/internal/exchange"
	"ai-futures-trader/internal/risk"
)

// AIDecisionStage renders the prompt, invokes the model and parses the
// response into decisions. Transport and format failures degrade to an
// empty decision list with the cause and raw response kept on the state.
type AIDecisionStage struct {
	client LLMClient
	cfg    Config
	logger zerolog.Logger
}

func NewAIDecisionStage(client LLMClient, cfg Config, logger zerolog.Logger) *AIDecisionStage {
	return &AIDecisionStage{client: client, cfg: cfg, logger: logger}
}

func (a *AIDecisionStage) Name() string { return "ai_decision" }

func (a *AIDecisionStage) Run(ctx context.Context, state *State) error {
	if a.client == nil || !a.client.IsConfigured() {
		state.AIDecision = &AIDecisionResult{Error: "no language model configured"}
		a.logger.Warn().Msg("skipping decision stage: no model")
		return nil
	}

	userPrompt := buildUserPrompt(state, a.cfg)
	a.logger.Debug().
		Str("model", a.client.Model()).
		Int("prompt_bytes", len(userPrompt)).
		Msg("requesting decision")

	raw, err := a.client.Complete(ctx, a.cfg.SystemPrompt, userPrompt)
	if err != nil {
		state.AIDecision = &AIDecisionResult{Error: err.Error()}
		a.logger.Warn().Err(err).Msg("model call failed")
		return nil
	}

	decisions, err := ParseDecisions(raw)
	if err != nil {
		state.AIDecision = &AIDecisionResult{Error: err.Error(), Raw: raw}
		a.logger.Warn().Err(err).Msg("model response unparseable")
		return nil
	}

	state.AIDecision = &AIDecisionResult{Decisions: decisions, Raw: raw}
	a.logger.Info().Int("decisions", len(decisions)).Msg("model decision received")
	return nil
}

// ParseDecisions extracts the decision list from a model response. The
// strict pass expects a bare JSON array (or a {"decisions": [...]}
// envelope); on failure one relaxed pass strips markdown code fences and
// tries again.
func ParseDecisions(raw string) ([]risk.Decision, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty model response")
	}

	if decisions, err := parseDecisionJSON(trimmed); err == nil {
		return decisions, nil
	}

	relaxed := stripCodeFences(trimmed)
	decisions, err := parseDecisionJSON(relaxed)
	if err != nil {
		return nil, fmt.Errorf("response is not a decision list: %w", err)
	}
	return decisions, nil
}

func parseDecisionJSON(s string) ([]risk.Decision, error) {
	var decisions []risk.Decision
	arrErr := json.Unmarshal([]byte(s), &decisions)
	if arrErr == nil {
		return normalizeDecisions(decisions), nil
	}

	var envelope struct {
		Decisions []risk.Decision `json:"decisions"`
	}
	if err := json.Unmarshal([]byte(s), &envelope); err == nil && envelope.Decisions != nil {
		return normalizeDecisions(envelope.Decisions), nil
	}
	return nil, arrErr
}

// stripCodeFences removes a leading ```json (or bare ```) fence and the
// matching trailing fence. Anything after the closing fence is discarded.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// normalizeDecisions canonicalizes the fields models are sloppy about:
// symbol spelling and action case.
func normalizeDecisions(decisions []risk.Decision) []risk.Decision {
	for i := range decisions {
		decisions[i].Symbol = exchange.Normalize(decisions[i].Symbol)
		decisions[i].Action = strings.ToLower(strings.TrimSpace(decisions[i].Action))
	}
	return decisions
}
