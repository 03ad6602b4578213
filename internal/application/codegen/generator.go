package codegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/finflow/internal/application/port"
)

// Generator produces human-readable document codes of the form PREFIX-YYYY-NNNN
type Generator struct {
	sequences port.SequenceRepository
	clock     port.Clock
}

// NewGenerator creates a code generator
func NewGenerator(sequences port.SequenceRepository, clock port.Clock) *Generator {
	return &Generator{
		sequences: sequences,
		clock:     clock,
	}
}

// Next allocates the next code for prefix in the current year. When called
// inside a transaction the allocation rolls back with it.
func (g *Generator) Next(ctx context.Context, prefix string) (string, error) {
	if strings.TrimSpace(prefix) == "" {
		return "", fmt.Errorf("code prefix is required")
	}

	year := g.clock.Now().Year()
	n, err := g.sequences.Next(ctx, prefix, year)
	if err != nil {
		return "", fmt.Errorf("failed to allocate %s code: %w", prefix, err)
	}

	return Format(prefix, year, n), nil
}

// Format renders a code; the sequence is zero-padded to four digits and widens past 9999
func Format(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, n)
}
