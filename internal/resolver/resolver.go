// Package resolver substitutes {{variable}} placeholders in step templates.
//
// A variable is classified, in order: step output reference (step_N_output),
// company standard (exact or fuzzy match against a fixed registry of
// reserved names), then user input. Resolution is all-or-nothing — if any
// variable cannot be resolved, no substitution happens and a typed error
// identifies the first offending variable. Resolve is pure: same template
// and context always yield the same output, and resolving an already
// resolved string is a no-op (values containing {{...}} are not re-expanded
// because substitution happens in a single pass over the original template).
package resolver

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/contentmill/contentmill/pkg/models"
)

// tokenRegex matches {{ variable }} placeholders. The inner run is any run
// of non-"}" characters; surrounding whitespace is trimmed.
var tokenRegex = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// stepOutputRegex matches step output references: step_3_output.
var stepOutputRegex = regexp.MustCompile(`^step_(\d+)_output$`)

// standardNames is the fixed registry of reserved company-standard variable
// names. A template variable matching one of these (exactly, or fuzzily —
// case- and underscore-insensitive containment) resolves to the user's
// standard content, or empty when the user has none configured.
var standardNames = []string{
	"brand_voice",
	"tone_guidelines",
	"target_audience",
	"amazon_requirements",
	"walmart_requirements",
	"etsy_requirements",
	"platform_requirements",
	"image_style_guidelines",
	"photography_guidelines",
}

// Context carries everything a template may reference.
type Context struct {
	// Inputs are the user-supplied values, keyed by declared field name.
	Inputs map[string]models.InputValue

	// Required names the input fields a step declared as required.
	// Referencing one that is absent or empty is an error; optional
	// inputs resolve to "".
	Required map[string]bool

	// StepOutputs maps 1-based step order → completed output content.
	StepOutputs map[int]string

	// Standards maps standard name → content for the execution's user.
	Standards map[string]string
}

// UnresolvedVariableError reports a step output reference that cannot be
// satisfied (future step, or step without a completed output).
type UnresolvedVariableError struct {
	Name string
}

func (e *UnresolvedVariableError) Error() string {
	return "unresolved variable: {{" + e.Name + "}}"
}

// MissingInputError reports a required user input that is absent or empty.
type MissingInputError struct {
	Name string
}

func (e *MissingInputError) Error() string {
	return "missing required input: " + e.Name
}

// Resolve substitutes every {{variable}} in template using ctx. It collects
// all values first and substitutes only if every variable resolved, so a
// failed resolution never leaves a partially rendered template behind.
func Resolve(template string, ctx Context) (string, error) {
	matches := tokenRegex.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return template, nil
	}

	values := make(map[string]string, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if _, done := values[name]; done {
			continue
		}
		val, err := resolveOne(name, ctx)
		if err != nil {
			return "", err
		}
		values[name] = val
	}

	// Single pass over the original template: replacement values containing
	// {{...}} are emitted verbatim, never re-expanded.
	return tokenRegex.ReplaceAllStringFunc(template, func(tok string) string {
		name := strings.TrimSpace(tokenRegex.FindStringSubmatch(tok)[1])
		return values[name]
	}), nil
}

// Variables returns the distinct trimmed variable names referenced by a
// template, in order of first appearance.
func Variables(template string) []string {
	matches := tokenRegex.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var names []string
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// resolveOne classifies and resolves a single variable name.
func resolveOne(name string, ctx Context) (string, error) {
	// 1. Step output reference
	if m := stepOutputRegex.FindStringSubmatch(name); m != nil {
		order, _ := strconv.Atoi(m[1])
		out, ok := ctx.StepOutputs[order]
		if !ok {
			return "", &UnresolvedVariableError{Name: name}
		}
		return out, nil
	}

	// 2. Company standard
	if std, ok := MatchStandard(name); ok {
		return ctx.Standards[std], nil
	}

	// 3. User input
	val, ok := ctx.Inputs[name]
	if !ok || val.Empty() {
		if ctx.Required[name] {
			return "", &MissingInputError{Name: name}
		}
		return "", nil
	}
	return Flatten(val), nil
}

// MatchStandard reports whether a variable name addresses a company
// standard, returning the canonical standard name. Exact match wins;
// otherwise normalized containment in either direction (so
// "Brand_Voice_Notes" still finds brand_voice).
func MatchStandard(name string) (string, bool) {
	for _, std := range standardNames {
		if name == std {
			return std, true
		}
	}
	n := normalize(name)
	for _, std := range standardNames {
		s := normalize(std)
		if strings.Contains(n, s) || strings.Contains(s, n) {
			return std, true
		}
	}
	return "", false
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", "")
}

// Flatten renders an input value into prompt text. Image payloads flatten
// to a placeholder; the raw bytes travel out-of-band to vision-capable
// executors.
func Flatten(v models.InputValue) string {
	switch v.Type {
	case models.InputImage:
		name := v.ImageName
		if name == "" {
			name = "attached"
		}
		return "[Image: " + name + "]"
	case models.InputURLList:
		var urls []string
		for _, u := range v.URLs {
			if u != "" {
				urls = append(urls, u)
			}
		}
		return strings.Join(urls, "\n")
	case models.InputFile:
		return v.FileContent
	default:
		return v.Text
	}
}

// StandardNames returns the reserved standard variable registry. Served by
// the API so the recipe builder can offer them as autocomplete.
func StandardNames() []string {
	out := make([]string, len(standardNames))
	copy(out, standardNames)
	return out
}
