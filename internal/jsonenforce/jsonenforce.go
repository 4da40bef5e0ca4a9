// Package jsonenforce implements JSON output enforcement (spec §4.8): parse
// the model's completion text, validate it against a step's output schema,
// and, on failure, reprompt with a deterministic repair instruction up to a
// bounded retry budget. Schema compilation and validation are delegated to
// github.com/santhosh-tekuri/jsonschema/v6, the same validator the teacher
// uses for tool-payload enforcement in registry/service.go.
package jsonenforce

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/weftrun/weft/internal/errs"
)

// Schema wraps a compiled JSON Schema document. Compile it once per step at
// pipeline construction time; Enforce reuses the compiled value across
// every unit.
type Schema struct {
	compiled *jsonschema.Schema
	raw      map[string]any
}

// CompileSchema compiles a JSON Schema document (already decoded to a Go
// value, e.g. via yaml.v3 or encoding/json) for repeated use by Enforce.
func CompileSchema(doc map[string]any) (*Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, errs.Wrap(errs.Config, err, "add schema resource")
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, errs.Wrap(errs.Config, err, "compile schema")
	}
	return &Schema{compiled: compiled, raw: doc}, nil
}

// Result is the outcome of an Enforce call.
type Result struct {
	// Value holds the parsed (and, if a schema was given, validated)
	// JSON value on success.
	Value any
	// RepairAttempts counts reprompts issued before success or
	// exhaustion.
	RepairAttempts int
	// ParseError is set when enforcement exhausted its retry budget
	// without producing a valid value; Value is nil in that case.
	ParseError string
	// RawText is the last completion text seen. It is returned to the
	// caller only: the pipeline runner's output record for a unit that
	// exhausts enforcement holds just the error kind and message.
	RawText string
}

// Repairer reprompts the model in regular mode (spec §4.8: "use regular
// mode for determinism") given the original user text and a repair
// instruction, returning the new completion text.
type Repairer func(ctx context.Context, repairInstruction string) (string, error)

// Enforce runs the parse/validate/repair loop (spec §4.8). schema may be
// nil when the step declares no output_schema, in which case only strict
// JSON parsing is enforced.
func Enforce(ctx context.Context, text string, schema *Schema, maxRetries int, repair Repairer) Result {
	attempt := 0
	current := text

	for {
		val, parseErr := parse(current)
		if parseErr == nil {
			if schema == nil {
				return Result{Value: val, RepairAttempts: attempt, RawText: current}
			}
			if validateErr := schema.compiled.Validate(val); validateErr == nil {
				return Result{Value: val, RepairAttempts: attempt, RawText: current}
			} else if attempt >= maxRetries || repair == nil {
				return Result{ParseError: "schema_validation_failed", RawText: current, RepairAttempts: attempt}
			} else {
				instruction := repairInstruction(current, validateErr.Error(), schema)
				next, err := repair(ctx, instruction)
				if err != nil {
					return Result{ParseError: "repair_call_failed", RawText: current, RepairAttempts: attempt}
				}
				attempt++
				current = next
				continue
			}
		}

		if attempt >= maxRetries || repair == nil {
			return Result{ParseError: "invalid_json", RawText: current, RepairAttempts: attempt}
		}
		instruction := repairInstruction(current, parseErr.Error(), schema)
		next, err := repair(ctx, instruction)
		if err != nil {
			return Result{ParseError: "repair_call_failed", RawText: current, RepairAttempts: attempt}
		}
		attempt++
		current = next
	}
}

func parse(text string) (any, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(text)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing content after JSON value")
	}
	return v, nil
}

// repairInstruction builds the deterministic repair system instruction
// (spec §4.8): it quotes the invalid text and, when a schema is present,
// names its required keys, and adds no examples beyond the failed output
// itself.
func repairInstruction(invalidText, reason string, schema *Schema) string {
	var b strings.Builder
	b.WriteString("Your previous response was not valid per the required output contract.\n")
	b.WriteString("Reason: ")
	b.WriteString(reason)
	b.WriteString("\nYour previous response was:\n")
	b.WriteString(invalidText)
	if schema != nil {
		if required, ok := schema.raw["required"].([]any); ok && len(required) > 0 {
			b.WriteString("\nRequired keys: ")
			for i, r := range required {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%v", r)
			}
		}
	}
	b.WriteString("\nRespond with corrected JSON only, matching the required contract exactly.")
	return b.String()
}
