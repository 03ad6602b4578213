package workflow

import (
	"context"

	"github.com/shopspring/decimal"
)

// Facts carries the derived values that guards choose a destination on.
// They are computed by the caller before firing, never read from storage.
type Facts struct {
	// Remaining is the balance left after the action's numeric effect
	Remaining decimal.Decimal
}

type factsKey struct{}

// WithFacts attaches facts to ctx for guard evaluation
func WithFacts(ctx context.Context, f Facts) context.Context {
	return context.WithValue(ctx, factsKey{}, f)
}

// FactsFrom extracts facts from ctx, returning zero facts when absent
func FactsFrom(ctx context.Context) Facts {
	if f, ok := ctx.Value(factsKey{}).(Facts); ok {
		return f
	}
	return Facts{Remaining: decimal.Zero}
}

// RemainingPositive passes when the balance after the action is above zero
func RemainingPositive(ctx context.Context) bool {
	return FactsFrom(ctx).Remaining.IsPositive()
}

// RemainingExhausted passes when the balance after the action is exactly zero
func RemainingExhausted(ctx context.Context) bool {
	return FactsFrom(ctx).Remaining.IsZero()
}
