package governance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/govledger/govledger/internal/audit"
)

// Verdict is one protocol's decision about one action.
type Verdict struct {
	Allowed bool
	Reason  string
	Details map[string]any
}

// Request is an action an agent wants to perform, as presented to the
// engine for evaluation.
type Request struct {
	AgentID string
	Action  string

	// Cost is the action's resource cost, checked against and debited
	// from the agent's budget envelope. Zero-cost actions still pass
	// through the budget protocol (an exhausted envelope denies them only
	// if already over limit).
	Cost float64

	// RequiredLevel overrides the engine's default trust requirement for
	// this action when non-nil.
	RequiredLevel *Level

	// Metadata is carried into every audit record for this request.
	Metadata map[string]any
}

// Decision is the engine's overall answer for a request, plus the ledger
// records written while reaching it.
type Decision struct {
	Allowed bool
	// DeniedBy names the protocol that denied, empty on permit.
	DeniedBy string
	Reason   string
	Records  []audit.Record
}

// Engine runs the governance protocols in order — trust, then budget,
// then consent — and records every protocol evaluation in the audit
// ledger. The first denial stops the pipeline: later protocols are not
// evaluated and produce no records.
type Engine struct {
	trust    *TrustStore
	budgets  *BudgetStore
	consents *ConsentStore
	logger   *audit.Logger

	defaultRequired Level
}

// NewEngine wires the protocol stores to the decision ledger.
// defaultRequired is the trust level demanded of actions that don't
// specify their own.
func NewEngine(trust *TrustStore, budgets *BudgetStore, consents *ConsentStore, logger *audit.Logger, defaultRequired Level) (*Engine, error) {
	if !defaultRequired.Valid() {
		return nil, fmt.Errorf("invalid default required level %d", int(defaultRequired))
	}
	return &Engine{
		trust:           trust,
		budgets:         budgets,
		consents:        consents,
		logger:          logger,
		defaultRequired: defaultRequired,
	}, nil
}

// Evaluate runs the full pipeline for one request. Every protocol that
// runs writes exactly one ledger record; on a fully permitted request the
// cost is debited from the agent's budget envelope.
//
// A ledger write failure fails the whole evaluation: a decision that
// cannot be recorded must not take effect.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Decision, error) {
	required := e.defaultRequired
	if req.RequiredLevel != nil {
		required = *req.RequiredLevel
	}

	var decision Decision

	checks := []struct {
		protocol string
		run      func() Verdict
	}{
		{"trust", func() Verdict { return e.trust.Check(req.AgentID, required) }},
		{"budget", func() Verdict { return e.budgets.Check(req.AgentID, req.Cost) }},
		{"consent", func() Verdict { return e.consents.Check(req.AgentID, req.Action) }},
	}

	for _, check := range checks {
		verdict := check.run()

		rec, err := e.record(ctx, req, check.protocol, verdict)
		if err != nil {
			return Decision{}, fmt.Errorf("recording %s decision: %w", check.protocol, err)
		}
		if rec != nil {
			decision.Records = append(decision.Records, *rec)
		}

		if !verdict.Allowed {
			decision.DeniedBy = check.protocol
			decision.Reason = verdict.Reason
			slog.Info("action denied",
				"agent", req.AgentID, "action", req.Action,
				"protocol", check.protocol, "reason", verdict.Reason)
			return decision, nil
		}
	}

	if req.Cost > 0 {
		if err := e.budgets.Spend(req.AgentID, req.Cost); err != nil {
			return Decision{}, fmt.Errorf("debiting budget: %w", err)
		}
	}

	decision.Allowed = true
	decision.Reason = "all protocols permitted"
	return decision, nil
}

func (e *Engine) record(ctx context.Context, req Request, protocol string, verdict Verdict) (*audit.Record, error) {
	outcome := audit.OutcomeDeny
	if verdict.Allowed {
		outcome = audit.OutcomePermit
	}
	return e.logger.Log(ctx,
		audit.DecisionInput{
			Outcome:  outcome,
			Protocol: protocol,
			Reason:   verdict.Reason,
			Details:  verdict.Details,
		},
		audit.Context{
			AgentID: req.AgentID,
			Action:  req.Action,
			Extra:   req.Metadata,
		})
}

// Reload re-reads every protocol store from disk. Used by the file
// watcher when trust.yaml, consents.yaml, or budgets.yaml change.
func (e *Engine) Reload() error {
	if err := e.trust.Reload(); err != nil {
		return err
	}
	if err := e.budgets.Reload(); err != nil {
		return err
	}
	return e.consents.Reload()
}
