// Package workflow defines the shared data model for the flowd orchestration
// engine: agent phases, workflow definitions (states, transitions, conditions),
// execution state, agent results, and the typed project context that flows
// between phases.
//
// The package is a leaf: it holds types and pure helpers only. The state
// machine, coordinator and orchestrator packages build behavior on top of it.
package workflow
