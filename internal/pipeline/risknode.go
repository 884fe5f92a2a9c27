package pipeline

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/events"
	"ai-futures-trader/internal/risk"
)

// RiskValidatorStage filters the model's decisions through the hard risk
// rules and writes one decision log per survivor. Store failures degrade to
// skipped logging; they never abort the scan.
type RiskValidatorStage struct {
	validator *risk.Validator
	store     Store
	bus       *events.EventBus
	traderID  string
	logger    zerolog.Logger
}

func NewRiskValidatorStage(validator *risk.Validator, store Store, bus *events.EventBus, traderID string, logger zerolog.Logger) *RiskValidatorStage {
	return &RiskValidatorStage{
		validator: validator,
		store:     store,
		bus:       bus,
		traderID:  traderID,
		logger:    logger,
	}
}

func (r *RiskValidatorStage) Name() string { return "risk_validator" }

func (r *RiskValidatorStage) Run(ctx context.Context, state *State) error {
	if state.AIDecision == nil || len(state.AIDecision.Decisions) == 0 {
		state.RiskApproved = false
		r.logger.Info().Msg("no decisions to validate")
		return nil
	}

	approved, validationErrors := r.validator.Validate(
		state.AIDecision.Decisions,
		state.Account,
		state.Positions,
		state.CurrentPrices(),
	)

	state.AIDecision.Decisions = approved
	state.ValidationErrors = validationErrors
	state.RiskApproved = len(approved) > 0

	if r.bus != nil {
		for _, ve := range validationErrors {
			r.bus.PublishDecisionRejected(r.traderID, ve.Symbol, ve.Error)
		}
	}

	r.logger.Info().
		Int("approved", len(approved)).
		Int("rejected", len(validationErrors)).
		Bool("risk_approved", state.RiskApproved).
		Msg("risk validation complete")

	if len(approved) == 0 {
		return nil
	}

	snapshot := state.Snapshot()
	for _, d := range approved {
		rec := &database.DecisionLog{
			TraderID:       r.traderID,
			Symbol:         d.Symbol,
			DecisionState:  snapshot,
			DecisionResult: d.Action,
			Reasoning:      d.Reasoning,
			Confidence: decimal.NullDecimal{
				Decimal: database.NormalizeConfidence(d.Confidence),
				Valid:   true,
			},
		}
		if r.store != nil {
			if err := r.store.InsertDecisionLog(ctx, rec); err != nil {
				r.logger.Warn().Err(err).Str("symbol", d.Symbol).Msg("decision log write failed")
			}
		}
		if r.bus != nil {
			r.bus.PublishDecisionMade(r.traderID, d.Symbol, d.Action, d.Confidence)
		}
	}
	return nil
}
