// Package pipeline wires the engine's components — template interpolation,
// retrieval attachment, inference dispatch, JSON enforcement, the bounded
// executor, and assembly of the artefact records — into the linear chain-of-steps-over-a-
// fixed-unit-set execution model (spec §4.9/§5): step N+1 never starts for
// a unit until step N has produced that unit's output, but within one step
// every unit runs concurrently up to the configured bound.
package pipeline

import (
	"github.com/weftrun/weft/internal/dispatch"
	"github.com/weftrun/weft/internal/jsonenforce"
	"github.com/weftrun/weft/internal/retrieval"
	"github.com/weftrun/weft/internal/serialize"
)

// StepMode selects how a step's prompt is assembled against a unit.
type StepMode string

const (
	StepModeText        StepMode = "text"
	StepModeMultimodal  StepMode = "multimodal"
	StepModeImagesGroup StepMode = "images_group"
)

// OutputExpects declares whether a step's completion must be parsed as
// JSON.
type OutputExpects string

const (
	OutputExpectsNone OutputExpects = "none"
	OutputExpectsJSON OutputExpects = "json"
)

// Step is one declarative pipeline node (spec §3).
type Step struct {
	ID string

	// PromptTemplate is either literal text prefixed with
	// template.InlinePrefix, or an "id#version" PromptRegistry reference.
	PromptTemplate string

	// InputBindings maps a template binding name to a ${...} expression
	// evaluated against the unit's own scope before the step's own
	// prompt is rendered, letting one step reference another step's
	// output or a retrieval result under a short name.
	InputBindings map[string]string

	Mode StepMode

	OutputName    string
	OutputExpects OutputExpects
	OutputSchema  *jsonenforce.Schema
	ParseRetries  int

	// InferMode is this step's mode field in the resolution precedence
	// (spec §4.7); dispatch.ResolveMode still lets an environment
	// override or caller argument win over it.
	InferMode dispatch.Mode

	Retrieval *retrieval.Binding

	Model  string
	Params ProviderParams
}

// ProviderParams carries the generation parameters forwarded to the
// provider request for this step.
type ProviderParams struct {
	Temperature float32
	MaxTokens   int
	Extra       map[string]any
}

// OutputsSpec names which step's output is persisted to export sinks and
// under what serialisation format.
type OutputsSpec struct {
	StepID string
	Format serialize.Format
}

// Pipeline is an ordered list of Steps over a fixed unit set (spec §3).
type Pipeline struct {
	Steps []Step

	Concurrency        int
	ContinueOnError    bool
	RunDeadlineSeconds int

	Outputs OutputsSpec
}
