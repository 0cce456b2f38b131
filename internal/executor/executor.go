// Package executor defines the step executor contract and its registry.
//
// Each step type (ai, scraping, script, http, transform) maps to one
// Executor. The workflow runner resolves the step's templates, picks the
// executor by type, and runs it under the executor's own timeout. Executors
// never touch the store; they turn a resolved input into an Outcome and the
// runner records it.
package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/contentmill/contentmill/pkg/models"
	"github.com/invopop/jsonschema"
)

// Input is the fully resolved material an executor runs with. Prompt holds
// the rendered primary template (prompt, script stdin, request body,
// transform input depending on the step type), URL the rendered URL for
// steps that have one, and Vars the flattened variable values by name.
// Images carry raw image payloads for vision-capable executors.
type Input struct {
	Prompt string
	URL    string
	Vars   map[string]string
	Images []models.InputValue
}

// Outcome is what a successful execution produced.
type Outcome struct {
	Content         string
	Format          models.OutputFormat
	GeneratedImages []string
	Usage           models.TokenUsage
	Model           string
	Provider        string
}

// Executor runs one step type.
type Executor interface {
	// Type names the step type this executor serves.
	Type() models.StepType

	// Timeout is the per-attempt deadline the runner applies.
	Timeout() time.Duration

	// ConfigSchema describes the step's config block for the recipe builder.
	ConfigSchema() []Field

	// Execute runs the step. A returned error marks the attempt failed;
	// ctx carries the attempt deadline.
	Execute(ctx context.Context, step *models.RecipeStep, in Input) (*Outcome, error)
}

// Field is one config property of a step type, derived from the config
// struct's schema tags.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Descriptor is the API-facing summary of a registered executor.
type Descriptor struct {
	Type   models.StepType `json:"step_type"`
	Fields []Field         `json:"config_fields"`
}

// UnknownTypeError reports a step type no executor is registered for.
type UnknownTypeError struct {
	Type models.StepType
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("no executor registered for step type %q", e.Type)
}

// Registry holds the executors keyed by step type.
type Registry struct {
	execs map[models.StepType]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{execs: make(map[models.StepType]Executor)}
}

// Register adds an executor, replacing any previous one for the same type.
func (r *Registry) Register(e Executor) {
	r.execs[e.Type()] = e
}

// Get returns the executor for a step type.
func (r *Registry) Get(t models.StepType) (Executor, error) {
	e, ok := r.execs[t]
	if !ok {
		return nil, &UnknownTypeError{Type: t}
	}
	return e, nil
}

// Types lists the registered step types, sorted.
func (r *Registry) Types() []models.StepType {
	types := make([]models.StepType, 0, len(r.execs))
	for t := range r.execs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Describe returns the registered executors with their config schemas,
// sorted by type.
func (r *Registry) Describe() []Descriptor {
	descs := make([]Descriptor, 0, len(r.execs))
	for _, t := range r.Types() {
		descs = append(descs, Descriptor{
			Type:   t,
			Fields: r.execs[t].ConfigSchema(),
		})
	}
	return descs
}

// fieldsFor reflects a config struct into its Field list. Property order
// follows struct field order.
func fieldsFor(cfg any) []Field {
	reflector := jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(cfg)

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	var fields []Field
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		prop := pair.Value
		f := Field{
			Name:        pair.Key,
			Type:        prop.Type,
			Description: prop.Description,
			Required:    required[pair.Key],
		}
		for _, v := range prop.Enum {
			f.Enum = append(f.Enum, fmt.Sprint(v))
		}
		fields = append(fields, f)
	}
	return fields
}
