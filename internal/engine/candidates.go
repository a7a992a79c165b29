package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"bank-reconciliation-core/internal/models"
	apperrors "bank-reconciliation-core/pkg/errors"
)

// Amounts within this gap of the remaining amount earn the closeness bonus.
var amountCloseness = decimal.New(1, -2)

// searchPaymentBatches finds POSTED batches on the line's bank account whose
// expected total sits within the rule's amount tolerance of the remaining
// amount. PAYMENT_BY_BANK_REFERENCE requires the statement reference to
// appear in the batch text blob; the text mode accepts a condition needle,
// an exact reference or a token hit.
func (e *Engine) searchPaymentBatches(ctx LineContext, rule *models.ReconRule) ([]Candidate, error) {
	line := ctx.Line
	cond := rule.Conditions
	refNeedle := strings.ToUpper(strings.TrimSpace(line.ReferenceNo))
	exactMode := rule.MatchType == models.MatchPaymentByBankReference
	if (exactMode || cond.RequireReference) && refNeedle == "" {
		return nil, nil
	}

	from, to := dayWindow(line.TxnDate, cond.DateLagDays)
	batches, err := e.store.PostedBatchesInWindow(line.TenantID, line.LegalEntityID, line.BankAccountID, from, to)
	if err != nil {
		return nil, apperrors.StorageError("loading batch candidates", err)
	}

	tolerance := decimal.NewFromFloat(cond.AmountTolerance)
	tokens := tokenize(line.ReferenceNo + " " + line.Description)
	var out []Candidate
	for i := range batches {
		b := &batches[i]
		total := batchExpectedTotal(b)
		gap := total.Sub(ctx.Remaining).Abs()
		if gap.GreaterThan(tolerance) {
			continue
		}
		blob := b.TextBlob()
		exactRef := refNeedle != "" && strings.Contains(blob, refNeedle)
		if (exactMode || cond.RequireReference) && !exactRef {
			continue
		}
		tokenHits := countTokenHits(blob, tokens)
		needleHit := containsAnyUpper(blob, cond.ReferenceIncludesAny) ||
			containsAnyUpper(blob, cond.TextIncludesAny)
		if !exactRef && tokenHits == 0 && !needleHit {
			continue
		}
		out = append(out, Candidate{
			EntityType: models.MatchedEntityPaymentBatch,
			EntityID:   b.ID,
			Label:      b.BatchNo,
			Amount:     total,
			Score:      scoreHit(exactRef, tokenHits, gap),
		})
	}
	sortCandidates(out)
	return out, nil
}

// searchJournals finds POSTED journals touching the line's bank GL account
// whose net movement on that account sits within the amount tolerance.
func (e *Engine) searchJournals(ctx LineContext, rule *models.ReconRule) ([]Candidate, error) {
	if ctx.BankAccount == nil {
		return nil, nil
	}
	line := ctx.Line
	cond := rule.Conditions
	refNeedle := strings.ToUpper(strings.TrimSpace(line.ReferenceNo))
	exactMode := rule.MatchType == models.MatchJournalByRefAndAmount
	if (exactMode || cond.RequireReference) && refNeedle == "" {
		return nil, nil
	}

	from, to := dayWindow(line.TxnDate, cond.DateLagDays)
	glAccountID := ctx.BankAccount.LedgerAccountID
	rows, err := e.store.PostedJournalCandidates(line.TenantID, line.LegalEntityID, glAccountID, from, to)
	if err != nil {
		return nil, apperrors.StorageError("loading journal candidates", err)
	}

	tolerance := decimal.NewFromFloat(cond.AmountTolerance)
	tokens := tokenize(line.ReferenceNo + " " + line.Description)
	var out []Candidate
	for i := range rows {
		j := &rows[i]
		amount := journalBankNet(j, glAccountID)
		gap := amount.Sub(ctx.Remaining).Abs()
		if gap.GreaterThan(tolerance) {
			continue
		}
		blob := strings.ToUpper(j.JournalNo + " " + j.Description + " " + j.ReferenceNo)
		exactRef := refNeedle != "" && strings.Contains(blob, refNeedle)
		if (exactMode || cond.RequireReference) && !exactRef {
			continue
		}
		tokenHits := countTokenHits(blob, tokens)
		needleHit := containsAnyUpper(blob, cond.ReferenceIncludesAny) ||
			containsAnyUpper(blob, cond.TextIncludesAny)
		if !exactRef && tokenHits == 0 && !needleHit {
			continue
		}
		out = append(out, Candidate{
			EntityType: models.MatchedEntityJournal,
			EntityID:   j.ID,
			Label:      j.JournalNo,
			Amount:     amount,
			Score:      scoreHit(exactRef, tokenHits, gap),
		})
	}
	sortCandidates(out)
	return out, nil
}

// searchReturnLines finds lines of POSTED batches in the line's currency
// whose text scores against the statement text. Only positive scores
// qualify; there is no amount filter because a return rarely matches the
// instructed amount.
func (e *Engine) searchReturnLines(ctx LineContext, rule *models.ReconRule) ([]Candidate, error) {
	line := ctx.Line
	from, to := dayWindow(line.TxnDate, rule.Conditions.DateLagDays)
	pairs, err := e.store.PostedLinesInWindow(line.TenantID, line.LegalEntityID, line.BankAccountID,
		line.CurrencyCode, from, to)
	if err != nil {
		return nil, apperrors.StorageError("loading return candidates", err)
	}

	refNeedle := strings.ToUpper(strings.TrimSpace(line.ReferenceNo))
	tokens := tokenize(line.ReferenceNo + " " + line.Description)
	var out []Candidate
	for i := range pairs {
		p := &pairs[i]
		blob := strings.ToUpper(p.Batch.BatchNo+" "+p.Batch.BankReference) + " " + p.Line.TextBlob()
		exactRef := refNeedle != "" && strings.Contains(blob, refNeedle)
		tokenHits := countTokenHits(blob, tokens)
		score := 0
		if exactRef {
			score += 50
		}
		score += 10 * tokenHits
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{
			EntityType:    models.MatchedEntityPaymentBatch,
			EntityID:      p.Batch.ID,
			PaymentLineID: p.Line.ID,
			Label:         fmt.Sprintf("%s#%d", p.Batch.BatchNo, p.Line.LineNo),
			Amount:        p.Line.ExpectedAmount(),
			Score:         score,
		})
	}
	sortCandidates(out)
	return out, nil
}

// searchDifferenceLines finds payment lines whose expected amount deviates
// from the remaining amount; the deviation is kept so the executor and the
// ranking can see it. Positive text score qualifies, smaller deviation ranks
// earlier at equal score.
func (e *Engine) searchDifferenceLines(ctx LineContext, rule *models.ReconRule) ([]Candidate, error) {
	line := ctx.Line
	from, to := dayWindow(line.TxnDate, rule.Conditions.DateLagDays)
	pairs, err := e.store.PostedLinesInWindow(line.TenantID, line.LegalEntityID, line.BankAccountID,
		line.CurrencyCode, from, to)
	if err != nil {
		return nil, apperrors.StorageError("loading difference candidates", err)
	}

	refNeedle := strings.ToUpper(strings.TrimSpace(line.ReferenceNo))
	tokens := tokenize(line.ReferenceNo + " " + line.Description)
	var out []Candidate
	for i := range pairs {
		p := &pairs[i]
		expected := p.Line.ExpectedAmount()
		diff := ctx.Remaining.Sub(expected).Abs()
		blob := strings.ToUpper(p.Batch.BatchNo+" "+p.Batch.BankReference) + " " + p.Line.TextBlob()
		exactRef := refNeedle != "" && strings.Contains(blob, refNeedle)
		tokenHits := countTokenHits(blob, tokens)
		score := scoreHit(exactRef, tokenHits, diff)
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{
			EntityType:    models.MatchedEntityPaymentBatch,
			EntityID:      p.Batch.ID,
			PaymentLineID: p.Line.ID,
			Label:         fmt.Sprintf("%s#%d", p.Batch.BatchNo, p.Line.LineNo),
			Amount:        expected,
			Diff:          diff,
			Score:         score,
		})
	}
	sortCandidates(out)
	return out, nil
}

func batchExpectedTotal(b *models.PaymentBatch) decimal.Decimal {
	if len(b.Lines) == 0 {
		return b.TotalAmount.Abs()
	}
	total := decimal.Zero
	for i := range b.Lines {
		total = total.Add(b.Lines[i].ExpectedAmount())
	}
	return total
}

func journalBankNet(j *models.JournalEntry, accountID uint) decimal.Decimal {
	net := decimal.Zero
	for i := range j.Lines {
		l := &j.Lines[i]
		if l.AccountID != accountID {
			continue
		}
		net = net.Add(l.Debit).Sub(l.Credit)
	}
	return net.Abs()
}

func scoreHit(exactRef bool, tokenHits int, amountGap decimal.Decimal) int {
	score := 0
	if exactRef {
		score += 50
	}
	score += 10 * tokenHits
	if amountGap.LessThanOrEqual(amountCloseness) {
		score += 15
	}
	return score
}

// tokenize splits the statement text into unique upper-cased words of at
// least three characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToUpper(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func countTokenHits(blob string, tokens []string) int {
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(blob, tok) {
			hits++
		}
	}
	return hits
}

func containsAnyUpper(blob string, needles []string) bool {
	for _, n := range needles {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n != "" && strings.Contains(blob, n) {
			return true
		}
	}
	return false
}

// textPrecheckPasses applies the referenceIncludesAny / textIncludesAny
// conditions to the raw statement text. A failing precheck skips the rule.
func textPrecheckPasses(rule *models.ReconRule, line *models.StatementLine) bool {
	cond := rule.Conditions
	if len(cond.ReferenceIncludesAny) > 0 {
		if !containsAnyUpper(strings.ToUpper(line.ReferenceNo), cond.ReferenceIncludesAny) {
			return false
		}
	}
	if len(cond.TextIncludesAny) > 0 {
		blob := strings.ToUpper(line.Description + " " + line.ReferenceNo)
		if !containsAnyUpper(blob, cond.TextIncludesAny) {
			return false
		}
	}
	return true
}

// sortCandidates orders by score descending, then smaller deviation, then
// stable target ids so equal hits come out deterministically.
func sortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if !cands[i].Diff.Equal(cands[j].Diff) {
			return cands[i].Diff.LessThan(cands[j].Diff)
		}
		if cands[i].EntityID != cands[j].EntityID {
			return cands[i].EntityID < cands[j].EntityID
		}
		return cands[i].PaymentLineID < cands[j].PaymentLineID
	})
}

func dayWindow(center time.Time, lagDays int) (time.Time, time.Time) {
	from := time.Date(center.Year(), center.Month(), center.Day(), 0, 0, 0, 0, center.Location()).
		AddDate(0, 0, -lagDays)
	to := time.Date(center.Year(), center.Month(), center.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), center.Location()).
		AddDate(0, 0, lagDays)
	return from, to
}
