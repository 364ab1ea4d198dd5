package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// StaticBackend is a development backend that produces deterministic,
// templated outputs per phase. It lets the engine run end to end without a
// live model behind it, and is the default backend for flowd serve until a
// real one is configured.
type StaticBackend struct {
	// TokensPerExecution is the simulated token usage per phase.
	TokensPerExecution int

	// CostPerExecution is the simulated cost per phase.
	CostPerExecution float64
}

// NewStaticBackend returns a backend with small simulated usage numbers.
func NewStaticBackend() *StaticBackend {
	return &StaticBackend{
		TokensPerExecution: 750,
		CostPerExecution:   0.01,
	}
}

// Execute implements Backend.
func (b *StaticBackend) Execute(ctx context.Context, phase workflow.Phase, enriched *workflow.ProjectContext) (*BackendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	output := enriched.Clone()
	body := b.renderOutput(phase, enriched)
	output.SetField(phase.OutputField(), body)

	return &BackendResult{
		Interactions: []workflow.Interaction{
			{
				Role:      "agent",
				Content:   body,
				Timestamp: now,
			},
		},
		Artifacts: []workflow.Artifact{
			{
				Type:    "document",
				Name:    fmt.Sprintf("%s-output.md", phase),
				Content: body,
			},
		},
		ContextOutput: output,
		Metrics: workflow.AgentMetrics{
			TokensUsed:       b.TokensPerExecution,
			Cost:             b.CostPerExecution,
			InteractionCount: 1,
		},
	}, nil
}

func (b *StaticBackend) renderOutput(phase workflow.Phase, enriched *workflow.ProjectContext) string {
	switch phase {
	case workflow.PhaseAnalyst:
		return fmt.Sprintf("Business analysis for: %s", firstLine(enriched.ProjectInput))
	case workflow.PhasePM:
		return fmt.Sprintf("Project scope derived from: %s", firstLine(enriched.BusinessAnalysis))
	case workflow.PhaseUXExpert:
		return fmt.Sprintf("User experience design based on: %s", firstLine(enriched.ProjectScope))
	case workflow.PhaseArchitect:
		return fmt.Sprintf("Technical architecture covering: %s", firstLine(enriched.UserExperience))
	}
	return "Unsupported phase"
}
