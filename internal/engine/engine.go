// Package engine walks the ordered rule list for a statement line and
// produces exactly one outcome per evaluation: a ready-to-execute verdict,
// a suggestion, or a terminal condition (policy block, ambiguity, queued
// exception). The engine only reads; applying a verdict is the run
// orchestrator's job.
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/store"
	"bank-reconciliation-core/pkg/logger"
)

// Engine evaluates reconciliation rules against statement lines.
type Engine struct {
	store *store.Store
	log   logger.Logger
}

// New builds an engine over the given store.
func New(st *store.Store, log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Engine{store: st, log: log.WithComponent("engine")}
}

// LineContext bundles the per-line inputs of one evaluation pass. Remaining
// is the unmatched absolute amount; BankAccount supplies the GL account the
// journal search filters on and may be nil when unresolvable.
type LineContext struct {
	Line        *models.StatementLine
	Remaining   decimal.Decimal
	BankAccount *models.BankAccount
}

// Candidate is one scored hit from a candidate search. EntityID is the
// matchable target (payment batch or journal); the line-level searches also
// carry the payment line the executor operates on.
type Candidate struct {
	EntityType    models.MatchedEntityType
	EntityID      uint
	PaymentLineID uint
	Label         string
	Amount        decimal.Decimal
	Diff          decimal.Decimal
	Score         int
}

// Outcome is the engine's verdict for one line. Rule is nil for
// NO_RULE_MATCH and SKIPPED.
type Outcome struct {
	Code       string
	Rule       *models.ReconRule
	Candidates []Candidate
	Detail     string
}

// RunCandidates converts the scored hits into the compact form persisted in
// run payloads.
func (o *Outcome) RunCandidates() []models.RunCandidate {
	if len(o.Candidates) == 0 {
		return nil
	}
	out := make([]models.RunCandidate, 0, len(o.Candidates))
	for _, c := range o.Candidates {
		out = append(out, models.RunCandidate{
			EntityType: c.EntityType,
			EntityID:   c.EntityID,
			Label:      c.Label,
			Amount:     c.Amount.String(),
			Score:      c.Score,
		})
	}
	return out
}

// A verdict that already holds a candidate set keeps collecting alternatives
// from later rules up to this many entries.
const maxCandidates = 5

// Evaluate walks the pre-ordered ACTIVE rules and returns the single
// outcome for the line. Rules whose scope, effective window or text
// precheck do not cover the line are skipped; a failed debit/credit or
// currency condition terminates the walk with POLICY_BLOCKED; an empty
// candidate search moves on to the next rule. With stopOnMatch=false a
// match or suggestion verdict stands but later rules may contribute
// alternative candidates.
func (e *Engine) Evaluate(ctx LineContext, rules []models.ReconRule) (*Outcome, error) {
	line := ctx.Line
	if models.WithinEpsilon(ctx.Remaining) {
		return &Outcome{Code: models.OutcomeSkipped}, nil
	}

	var decided *Outcome
	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesToScope(line.LegalEntityID, line.BankAccountID) {
			continue
		}
		if !rule.EffectiveOn(line.TxnDate) {
			continue
		}
		if !textPrecheckPasses(rule, line) {
			continue
		}

		if decided != nil {
			// Alternative probing after a stopOnMatch=false verdict. Policy
			// failures only skip the rule here; the verdict already stands.
			if policyFailure(rule, line) != "" {
				continue
			}
			more, err := e.searchForAction(ctx, rule)
			if err != nil {
				return nil, err
			}
			decided.Candidates = mergeCandidates(decided.Candidates, more)
			if len(decided.Candidates) >= maxCandidates {
				break
			}
			continue
		}

		if detail := policyFailure(rule, line); detail != "" {
			return &Outcome{Code: models.OutcomePolicyBlocked, Rule: rule, Detail: detail}, nil
		}

		out, err := e.evalAction(ctx, rule)
		if err != nil {
			return nil, err
		}
		if out == nil {
			continue
		}
		if out.Code != models.OutcomeAutoMatchReady && out.Code != models.OutcomeSuggestOnly {
			return out, nil
		}
		decided = out
		if rule.StopOnMatch {
			return decided, nil
		}
	}

	if decided != nil {
		return decided, nil
	}
	return &Outcome{Code: models.OutcomeNoRuleMatch}, nil
}

// evalAction runs the rule's candidate search and converts the result into
// an outcome, or returns nil when the rule produced nothing and the walk
// should continue.
func (e *Engine) evalAction(ctx LineContext, rule *models.ReconRule) (*Outcome, error) {
	switch rule.ActionType {
	case models.ActionQueueException:
		return &Outcome{Code: models.OutcomeQueueException, Rule: rule, Detail: rule.ActionPayload.Reason}, nil

	case models.ActionAutoPostTemplate:
		if rule.ActionPayload.PostingTemplateID == nil || *rule.ActionPayload.PostingTemplateID == 0 {
			return &Outcome{Code: models.OutcomePolicyBlocked, Rule: rule,
				Detail: "rule carries no postingTemplateId"}, nil
		}
		return &Outcome{Code: models.OutcomeAutoPostReady, Rule: rule}, nil

	case models.ActionAutoMatchPaymentLineDiff:
		if rule.ActionPayload.DifferenceProfileID == nil || *rule.ActionPayload.DifferenceProfileID == 0 {
			return &Outcome{Code: models.OutcomePolicyBlocked, Rule: rule,
				Detail: "rule carries no differenceProfileId"}, nil
		}
	}

	cands, err := e.searchForAction(ctx, rule)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}
	if rule.ActionType == models.ActionSuggestOnly {
		return &Outcome{Code: models.OutcomeSuggestOnly, Rule: rule, Candidates: cands}, nil
	}
	if len(cands) > 1 {
		return &Outcome{Code: models.OutcomeAmbiguousTarget, Rule: rule, Candidates: cands,
			Detail: fmt.Sprintf("%d candidates survived", len(cands))}, nil
	}

	code := ""
	switch rule.ActionType {
	case models.ActionAutoMatchPaymentBatch, models.ActionAutoMatchJournal:
		code = models.OutcomeAutoMatchReady
	case models.ActionProcessPaymentReturn:
		code = models.OutcomeAutoReturnReady
	case models.ActionAutoMatchPaymentLineDiff:
		code = models.OutcomeAutoDiffReady
	default:
		return nil, nil
	}
	return &Outcome{Code: code, Rule: rule, Candidates: cands}, nil
}

// searchForAction dispatches to the candidate search the rule's action
// needs. Actions without a search return nothing.
func (e *Engine) searchForAction(ctx LineContext, rule *models.ReconRule) ([]Candidate, error) {
	switch rule.ActionType {
	case models.ActionAutoMatchPaymentBatch:
		return e.searchPaymentBatches(ctx, rule)
	case models.ActionAutoMatchJournal:
		return e.searchJournals(ctx, rule)
	case models.ActionProcessPaymentReturn:
		return e.searchReturnLines(ctx, rule)
	case models.ActionAutoMatchPaymentLineDiff:
		return e.searchDifferenceLines(ctx, rule)
	case models.ActionSuggestOnly:
		switch rule.MatchType {
		case models.MatchJournalByTextAndAmount, models.MatchJournalByRefAndAmount:
			return e.searchJournals(ctx, rule)
		default:
			return e.searchPaymentBatches(ctx, rule)
		}
	}
	return nil, nil
}

// policyFailure checks the debit/credit and currency conditions. A non-empty
// return is the failure detail; these conditions block the line rather than
// skip the rule.
func policyFailure(rule *models.ReconRule, line *models.StatementLine) string {
	cond := rule.Conditions
	if cond.DebitCredit != "" {
		if line.Amount.IsZero() {
			return "line amount is zero, debitCredit condition cannot hold"
		}
		if cond.DebitCredit == models.DirectionIn && !line.Amount.IsPositive() {
			return "rule requires IN, line is an outflow"
		}
		if cond.DebitCredit == models.DirectionOut && !line.Amount.IsNegative() {
			return "rule requires OUT, line is an inflow"
		}
	}
	if cond.CurrencyCode != "" && cond.CurrencyCode != line.CurrencyCode {
		return fmt.Sprintf("rule currency %s does not match line currency %s",
			cond.CurrencyCode, line.CurrencyCode)
	}
	return ""
}

func mergeCandidates(have, more []Candidate) []Candidate {
	for _, c := range more {
		if len(have) >= maxCandidates {
			break
		}
		dup := false
		for _, h := range have {
			if h.EntityType == c.EntityType && h.EntityID == c.EntityID && h.PaymentLineID == c.PaymentLineID {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, c)
		}
	}
	return have
}
