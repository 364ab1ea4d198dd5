package workflow

import (
	"time"
)

// Known context field names inspected by the engine. Dot-path conditions and
// phase pre/postconditions refer to these names.
const (
	FieldProjectInput          = "projectInput"
	FieldBusinessAnalysis      = "businessAnalysis"
	FieldProjectScope          = "projectScope"
	FieldUserExperience        = "userExperience"
	FieldTechnicalArchitecture = "technicalArchitecture"
)

// ProjectContext is the shared context a workflow accumulates across phases.
// The engine inspects a fixed set of typed fields; Extra is an open extension
// map for metadata the engine carries but never interprets.
type ProjectContext struct {
	ProjectInput          string `json:"project_input,omitempty"`
	BusinessAnalysis      string `json:"business_analysis,omitempty"`
	ProjectScope          string `json:"project_scope,omitempty"`
	UserExperience        string `json:"user_experience,omitempty"`
	TechnicalArchitecture string `json:"technical_architecture,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`

	// Enrichments is an append-only provenance log of context merges.
	Enrichments []Enrichment `json:"enrichments,omitempty"`
}

// Enrichment records how one phase's output was merged into shared context.
type Enrichment struct {
	Timestamp     time.Time         `json:"timestamp"`
	AgentPhase    Phase             `json:"agent_phase"`
	InputContext  map[string]string `json:"input_context,omitempty"`
	OutputContext map[string]string `json:"output_context,omitempty"`
	Confidence    float64           `json:"confidence"`
}

// NewProjectContext creates a context seeded with the raw project input.
func NewProjectContext(projectInput string) *ProjectContext {
	return &ProjectContext{
		ProjectInput: projectInput,
		Extra:        make(map[string]any),
	}
}

// Field returns the value of a known typed field or an Extra entry, along
// with whether it is present and non-empty.
func (c *ProjectContext) Field(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	switch name {
	case FieldProjectInput:
		return c.ProjectInput, c.ProjectInput != ""
	case FieldBusinessAnalysis:
		return c.BusinessAnalysis, c.BusinessAnalysis != ""
	case FieldProjectScope:
		return c.ProjectScope, c.ProjectScope != ""
	case FieldUserExperience:
		return c.UserExperience, c.UserExperience != ""
	case FieldTechnicalArchitecture:
		return c.TechnicalArchitecture, c.TechnicalArchitecture != ""
	}
	v, ok := c.Extra[name]
	return v, ok
}

// SetField assigns a known typed field by name, or stores the value in Extra
// for unknown names.
func (c *ProjectContext) SetField(name string, value string) {
	switch name {
	case FieldProjectInput:
		c.ProjectInput = value
	case FieldBusinessAnalysis:
		c.BusinessAnalysis = value
	case FieldProjectScope:
		c.ProjectScope = value
	case FieldUserExperience:
		c.UserExperience = value
	case FieldTechnicalArchitecture:
		c.TechnicalArchitecture = value
	default:
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[name] = value
	}
}

// Merge overlays non-empty typed fields and Extra entries from other onto c.
// Enrichment provenance is the caller's responsibility.
func (c *ProjectContext) Merge(other *ProjectContext) {
	if other == nil {
		return
	}
	if other.ProjectInput != "" {
		c.ProjectInput = other.ProjectInput
	}
	if other.BusinessAnalysis != "" {
		c.BusinessAnalysis = other.BusinessAnalysis
	}
	if other.ProjectScope != "" {
		c.ProjectScope = other.ProjectScope
	}
	if other.UserExperience != "" {
		c.UserExperience = other.UserExperience
	}
	if other.TechnicalArchitecture != "" {
		c.TechnicalArchitecture = other.TechnicalArchitecture
	}
	for k, v := range other.Extra {
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
}

// Snapshot returns the populated typed fields as a name -> value map.
// Used for enrichment provenance records.
func (c *ProjectContext) Snapshot() map[string]string {
	if c == nil {
		return nil
	}
	snap := make(map[string]string)
	for _, name := range []string{
		FieldProjectInput,
		FieldBusinessAnalysis,
		FieldProjectScope,
		FieldUserExperience,
		FieldTechnicalArchitecture,
	} {
		if v, ok := c.Field(name); ok {
			if s, isString := v.(string); isString {
				snap[name] = s
			}
		}
	}
	return snap
}

// Clone returns a deep copy of the context. The engine clones before handing
// context to an agent backend so the backend cannot mutate shared state.
func (c *ProjectContext) Clone() *ProjectContext {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Extra = make(map[string]any, len(c.Extra))
	for k, v := range c.Extra {
		clone.Extra[k] = v
	}
	clone.Enrichments = make([]Enrichment, len(c.Enrichments))
	copy(clone.Enrichments, c.Enrichments)
	return &clone
}
