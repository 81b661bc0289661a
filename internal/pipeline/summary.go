package pipeline

import (
	"time"

	"github.com/jonathan/firmware-harvester/internal/types"
)

// Failure names one row that did not succeed.
type Failure struct {
	Row     int
	Label   string
	Outcome types.OutcomeKind
	Reason  string
}

// Summary aggregates a batch's results.
type Summary struct {
	Total    int
	Counts   map[types.OutcomeKind]int
	Produced []string
	Failures []Failure
	Duration time.Duration
}

// Summarize builds a summary from results, which are expected in manifest order.
func Summarize(results []types.ItemResult, duration time.Duration) Summary {
	s := Summary{
		Total:    len(results),
		Counts:   make(map[types.OutcomeKind]int, len(types.AllOutcomes)),
		Duration: duration,
	}
	for _, r := range results {
		s.Counts[r.Outcome]++
		s.Produced = append(s.Produced, r.ProducedPaths()...)
		if r.Outcome.IsFailure() {
			s.Failures = append(s.Failures, Failure{
				Row:     r.Row.Index + 1,
				Label:   r.Row.Label,
				Outcome: r.Outcome,
				Reason:  r.Reason,
			})
		}
	}
	return s
}

// Successes returns the number of rows that produced at least one payload.
func (s Summary) Successes() int {
	return s.Counts[types.OutcomeSuccess]
}

// AllFailed reports whether a non-empty batch produced no successful row.
// This is the only condition that warrants a failing exit status.
func (s Summary) AllFailed() bool {
	return s.Total > 0 && s.Successes() == 0
}
