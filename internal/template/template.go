// Package template resolves the ${...} interpolation language used by step
// prompt templates (spec §4.5): path lookups against a typed scope, a
// single join() builtin, pipe defaults, and canonical stringification. The
// syntax is deliberately small and is not a fit for text/template's
// action/pipeline model (arbitrary Go expressions, no native default-value
// pipe, different delimiter) or a general expression-language library, so
// it is hand-rolled as a single-pass scanner over ${...} spans.
package template

import (
	"encoding/json"
	"strings"

	"github.com/weftrun/weft/internal/errs"
)

// Scope is the typed variable namespace an interpolation resolves against.
// Document is populated for every unit; at most one of Chunk/Row is
// populated, matching the unit's kind.
type Scope struct {
	Document map[string]any
	Chunk    map[string]any
	Row      map[string]any
	RowIndex int
	// All holds prior step outputs across units, keyed by step output
	// name, bounded by AllJoinMaxChars when joined.
	All map[string][]any
	// Bindings carries the unit's earlier step outputs keyed by output
	// name, the step's evaluated input_bindings, retrieval results, and
	// image-group fields, already resolved to scalar/collection values.
	Bindings map[string]any
	RunID    string

	// AllJoinMaxChars caps the length of a join(all.x, "sep") result.
	// Zero means unbounded.
	AllJoinMaxChars int
}

// InlinePrefix marks a prompt_template value as literal template text
// rather than a "id#version" prompt registry reference.
const InlinePrefix = "inline:"

// IsInline reports whether template starts with the inline: prefix, and
// returns the text with the prefix and any single leading space stripped.
func IsInline(template string) (string, bool) {
	if !strings.HasPrefix(template, InlinePrefix) {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(template, InlinePrefix), " "), true
}

// Render performs a single interpolation pass over tmpl, replacing every
// ${...} span with its resolved, canonically-stringified value.
func Render(tmpl string, scope Scope) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "${")
		if start < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		start += i
		out.WriteString(tmpl[i:start])

		end := matchingBrace(tmpl, start+2)
		if end < 0 {
			return "", errs.New(errs.Processing, "unterminated ${...} starting at offset %d", start)
		}
		expr := tmpl[start+2 : end]
		val, err := resolveExpr(expr, scope)
		if err != nil {
			return "", err
		}
		out.WriteString(stringify(val))
		i = end + 1
	}
	return out.String(), nil
}

// matchingBrace returns the index of the "}" matching the "${" whose body
// starts at from, accounting for nested braces inside string literals
// within join(...) calls.
func matchingBrace(s string, from int) int {
	depth := 1
	inString := false
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return -1
}

func resolveExpr(expr string, scope Scope) (any, error) {
	expr = strings.TrimSpace(expr)

	path, def, hasDefault := splitDefault(expr)
	path = strings.TrimSpace(path)

	if strings.HasPrefix(path, "join(") && strings.HasSuffix(path, ")") {
		return resolveJoin(path, scope)
	}
	if isCallSyntax(path) {
		return nil, errs.New(errs.Config, "unsupported call expression: %s", path)
	}

	val, ok := lookupPath(path, scope)
	if !ok {
		if hasDefault {
			return def, nil
		}
		return nil, errs.New(errs.Processing, "missing path: %s", path)
	}
	return val, nil
}

// splitDefault splits "path | \"default\"" into its path and unquoted
// default literal. Only a trailing double-quoted string literal is
// supported as a default.
func splitDefault(expr string) (path, def string, hasDefault bool) {
	idx := strings.LastIndex(expr, "|")
	if idx < 0 {
		return expr, "", false
	}
	rhs := strings.TrimSpace(expr[idx+1:])
	if len(rhs) >= 2 && strings.HasPrefix(rhs, `"`) && strings.HasSuffix(rhs, `"`) {
		return expr[:idx], rhs[1 : len(rhs)-1], true
	}
	return expr, "", false
}

func isCallSyntax(path string) bool {
	return strings.Contains(path, "(") || strings.Contains(path, ")")
}

func resolveJoin(call string, scope Scope) (any, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(call, "join("), ")")
	idx := strings.LastIndex(inner, ",")
	if idx < 0 {
		return nil, errs.New(errs.Config, "join() requires a path and separator: %s", call)
	}
	pathExpr := strings.TrimSpace(inner[:idx])
	sepExpr := strings.TrimSpace(inner[idx+1:])
	if len(sepExpr) < 2 || !strings.HasPrefix(sepExpr, `"`) || !strings.HasSuffix(sepExpr, `"`) {
		return nil, errs.New(errs.Config, "join() separator must be a quoted string: %s", call)
	}
	sep := sepExpr[1 : len(sepExpr)-1]

	val, ok := lookupPath(pathExpr, scope)
	if !ok {
		return nil, errs.New(errs.Processing, "missing path: %s", pathExpr)
	}
	items, ok := val.([]any)
	if !ok {
		return nil, errs.New(errs.Config, "join() target %s is not a list", pathExpr)
	}

	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = stringify(it)
	}
	joined := strings.Join(parts, sep)
	if scope.AllJoinMaxChars > 0 && len(joined) > scope.AllJoinMaxChars {
		joined = joined[:scope.AllJoinMaxChars]
	}
	return joined, nil
}

func lookupPath(path string, scope Scope) (any, bool) {
	segs := strings.Split(path, ".")
	if len(segs) == 0 {
		return nil, false
	}

	switch segs[0] {
	case "document":
		return lookupMap(scope.Document, segs[1:])
	case "chunk":
		return lookupMap(scope.Chunk, segs[1:])
	case "row":
		return lookupMap(scope.Row, segs[1:])
	case "row_index":
		return scope.RowIndex, true
	case "run_id":
		return scope.RunID, true
	case "all":
		if len(segs) < 2 {
			return nil, false
		}
		items, ok := scope.All[segs[1]]
		if !ok {
			return nil, false
		}
		return toAnySlice(items), true
	default:
		return lookupMap(scope.Bindings, segs)
	}
}

func toAnySlice(items []any) []any { return items }

func lookupMap(m map[string]any, segs []string) (any, bool) {
	if m == nil || len(segs) == 0 {
		return nil, false
	}
	var cur any = m
	for _, s := range segs {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = asMap[s]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// stringify renders a resolved value per the canonical rule: scalars as-is,
// maps/lists as compact JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int, int64, float64, bool:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		// encoding/json sorts map[string]any keys by default, giving
		// deterministic output for the canonical-stringification rule.
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
