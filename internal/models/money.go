package models

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits carried by every monetary
// column in the reconciliation schema.
const MoneyScale = 6

// Epsilon is the tolerance used for all monetary comparisons. Two amounts
// whose absolute difference is at most Epsilon are considered equal.
var Epsilon = decimal.New(5, -3) // 0.005

// RoundMoney normalizes an amount to the schema scale.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// AmountsEqual reports whether two amounts agree within Epsilon.
func AmountsEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// WithinEpsilon reports whether an amount is zero within Epsilon.
func WithinEpsilon(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}

// ExceedsWithEpsilon reports whether candidate exceeds limit by more than
// Epsilon. It is the guard behind the over-match invariant: a sum may go
// over the limit by at most Epsilon before the mutation is rejected.
func ExceedsWithEpsilon(candidate, limit decimal.Decimal) bool {
	return candidate.GreaterThan(limit.Add(Epsilon))
}
