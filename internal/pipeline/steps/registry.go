// Package steps provides stage definitions and dependency validation for the
// harvest pipeline's combined run.
package steps

import (
	"fmt"
	"slices"
	"strings"
)

// Stage categories
const (
	CategoryAcquisition = "acquisition"
	CategoryAnalysis    = "analysis"
)

// Stage names
const (
	StageFetch   = "fetch"
	StageAnalyze = "analyze"
	StageReview  = "review"
)

// StepDefinition defines metadata for a pipeline stage
type StepDefinition struct {
	Name         string
	Category     string
	Dependencies []string
	Optional     []string
	// Order fixes execution order among stages with no dependency between them.
	Order int
}

// StepRegistry holds all stage definitions
var StepRegistry = map[string]StepDefinition{
	StageFetch: {
		Name:         StageFetch,
		Category:     CategoryAcquisition,
		Dependencies: []string{},
		Optional:     []string{},
		Order:        0,
	},
	StageAnalyze: {
		Name:         StageAnalyze,
		Category:     CategoryAnalysis,
		Dependencies: []string{StageFetch},
		Optional:     []string{},
		Order:        1,
	},
	StageReview: {
		Name:         StageReview,
		Category:     CategoryAnalysis,
		Dependencies: []string{StageAnalyze},
		Optional:     []string{},
		Order:        2,
	},
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %s: missing dependencies: %v", e.Step, e.MissingDependencies)
}

// ValidateDependencies checks that every required dependency of stepName is
// either completed or planned.
func ValidateDependencies(stepName string, satisfied map[string]bool) error {
	def, ok := StepRegistry[stepName]
	if !ok {
		return fmt.Errorf("unknown step: %s", stepName)
	}

	var missing []string
	for _, dep := range def.Dependencies {
		if !satisfied[dep] {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return &DependencyError{
			Step:                stepName,
			MissingDependencies: missing,
		}
	}
	return nil
}

// ParseStages splits a comma-separated stage list, dropping blanks and duplicates.
func ParseStages(list string) []string {
	var stages []string
	for _, s := range strings.Split(list, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !slices.Contains(stages, s) {
			stages = append(stages, s)
		}
	}
	return stages
}

// Plan orders the requested stages for execution and checks that each stage's
// dependencies are part of the plan.
func Plan(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("no stages requested")
	}

	planned := make(map[string]bool, len(requested))
	for _, name := range requested {
		if _, ok := StepRegistry[name]; !ok {
			return nil, fmt.Errorf("unknown step: %s", name)
		}
		planned[name] = true
	}

	ordered := make([]string, 0, len(planned))
	for name := range planned {
		ordered = append(ordered, name)
	}
	slices.SortFunc(ordered, func(a, b string) int {
		return StepRegistry[a].Order - StepRegistry[b].Order
	})

	for _, name := range ordered {
		if err := ValidateDependencies(name, planned); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// AllStages returns every registered stage in execution order.
func AllStages() []string {
	names := make([]string, 0, len(StepRegistry))
	for name := range StepRegistry {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return StepRegistry[a].Order - StepRegistry[b].Order
	})
	return names
}
