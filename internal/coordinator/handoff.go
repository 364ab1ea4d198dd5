package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// buildHandoff assembles the package the next phase receives: a context
// summary, findings and recommendations distilled from the interactions,
// the phase's artifacts, and a checklist for the receiving agent.
func buildHandoff(from, to workflow.Phase, result *workflow.AgentExecutionResult, now time.Time) *HandoffPackage {
	return &HandoffPackage{
		FromAgent:           from,
		ToAgent:             to,
		ContextSummary:      summarizeContext(from, result),
		KeyFindings:         keyFindings(result),
		Recommendations:     recommendations(result),
		Artifacts:           result.Artifacts,
		ValidationChecklist: checklistFor(to),
		Confidence:          confidenceOf(result),
		Timestamp:           now,
	}
}

func summarizeContext(from workflow.Phase, result *workflow.AgentExecutionResult) string {
	field := from.OutputField()
	value, _ := result.ContextOutput.Field(field)
	output, _ := value.(string)
	return fmt.Sprintf("%s completed with %d interaction(s). %s: %s",
		from, len(result.Interactions), field, firstLine(output))
}

// keyFindings extracts the leading line of each agent interaction.
func keyFindings(result *workflow.AgentExecutionResult) []string {
	var findings []string
	for _, in := range result.Interactions {
		if in.Role != "agent" && in.Role != "assistant" {
			continue
		}
		if line := firstLine(in.Content); line != "" {
			findings = append(findings, line)
		}
	}
	return findings
}

func recommendations(result *workflow.AgentExecutionResult) []string {
	var recs []string
	for _, in := range result.Interactions {
		for _, line := range strings.Split(in.Content, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(strings.ToLower(trimmed), "recommend") {
				recs = append(recs, trimmed)
			}
		}
	}
	return recs
}

// checklistFor returns what the receiving phase should verify before
// consuming the handoff.
func checklistFor(to workflow.Phase) []string {
	checklist := []string{
		"confirm context summary matches prior phase output",
		"confirm all referenced artifacts are present",
	}
	for _, field := range to.RequiredFields() {
		checklist = append(checklist, "verify context field "+field+" is populated")
	}
	return checklist
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	const limit = 200
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return s
}
