// Package models defines the domain types shared by the ContentMill engine:
// recipes, recipe steps with their typed per-executor configs, executions,
// step executions, company standards, and model providers.
package models

import (
	"fmt"
	"regexp"
	"time"
)

// ── Recipe ───────────────────────────────────────────────────

// Recipe is a reusable, ordered template of workflow steps.
type Recipe struct {
	ID          string       `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Description string       `json:"description,omitempty" db:"description"`
	IsTemplate  bool         `json:"is_template" db:"is_template"`
	Steps       []RecipeStep `json:"steps"`
	CreatedBy   string       `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// Validate checks structural invariants: non-empty name, at least one step,
// unique 1-based ordering, and a well-formed config on every step.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("recipe name is required")
	}
	return ValidateSteps(r.Steps)
}

// ValidateSteps checks a step list for contiguous 1-based ordering and
// per-step config validity. Used both for persisted recipes and for
// caller-supplied override lists.
func ValidateSteps(steps []RecipeStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	seen := make(map[int]bool, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.Order < 1 || s.Order > len(steps) {
			return fmt.Errorf("step %q: order %d out of range 1..%d", s.Name, s.Order, len(steps))
		}
		if seen[s.Order] {
			return fmt.Errorf("step %q: duplicate order %d", s.Name, s.Order)
		}
		seen[s.Order] = true
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ── Recipe Step ──────────────────────────────────────────────

// StepType discriminates which executor handles a step.
type StepType string

const (
	StepAI        StepType = "ai"
	StepScraping  StepType = "scraping"
	StepScript    StepType = "script"
	StepHTTP      StepType = "http"
	StepTransform StepType = "transform"
)

// OutputFormat is the declared shape of a step's output content.
type OutputFormat string

const (
	FormatText     OutputFormat = "text"
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
	FormatImage    OutputFormat = "image"
)

// RecipeStep is one unit of work inside a recipe. Exactly one of the typed
// config blocks must be set, matching Type. Configs are parsed once when the
// step is decoded, never re-parsed from opaque JSON on each access.
type RecipeStep struct {
	ID           string       `json:"id,omitempty"`
	Order        int          `json:"order"` // 1-based, unique within a recipe
	Name         string       `json:"name"`
	Type         StepType     `json:"step_type"`
	OutputFormat OutputFormat `json:"output_format,omitempty"`

	// AutoApprove waives the human-review requirement on ai steps.
	AutoApprove bool `json:"auto_approve,omitempty"`

	AI        *AIStepConfig        `json:"ai,omitempty"`
	Scraping  *ScrapingStepConfig  `json:"scraping,omitempty"`
	Script    *ScriptStepConfig    `json:"script,omitempty"`
	HTTP      *HTTPStepConfig      `json:"http,omitempty"`
	Transform *TransformStepConfig `json:"transform,omitempty"`

	InputConfig []InputField `json:"input_config,omitempty"`

	// Checks are compliance rules applied to the step's output text. Any
	// violation forces the attempt into review, overriding AutoApprove.
	Checks []ContentCheck `json:"checks,omitempty"`
}

// Validate checks that the step carries exactly the config block its type
// requires, with that block's mandatory fields set.
func (s *RecipeStep) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step %d: name is required", s.Order)
	}
	if s.OutputFormat == "" {
		s.OutputFormat = FormatText
	}
	blocks := 0
	if s.AI != nil {
		blocks++
	}
	if s.Scraping != nil {
		blocks++
	}
	if s.Script != nil {
		blocks++
	}
	if s.HTTP != nil {
		blocks++
	}
	if s.Transform != nil {
		blocks++
	}
	if blocks != 1 {
		return fmt.Errorf("step %q: exactly one config block required, got %d", s.Name, blocks)
	}

	switch s.Type {
	case StepAI:
		if s.AI == nil {
			return fmt.Errorf("step %q: step_type ai requires an ai config", s.Name)
		}
		if s.AI.PromptTemplate == "" {
			return fmt.Errorf("step %q: ai config requires prompt_template", s.Name)
		}
		if s.AI.Model == "" {
			return fmt.Errorf("step %q: ai config requires model", s.Name)
		}
	case StepScraping:
		if s.Scraping == nil {
			return fmt.Errorf("step %q: step_type scraping requires a scraping config", s.Name)
		}
		if s.Scraping.ProductURL == "" {
			return fmt.Errorf("step %q: scraping config requires product_url", s.Name)
		}
	case StepScript:
		if s.Script == nil {
			return fmt.Errorf("step %q: step_type script requires a script config", s.Name)
		}
		if s.Script.Source == "" {
			return fmt.Errorf("step %q: script config requires source", s.Name)
		}
	case StepHTTP:
		if s.HTTP == nil {
			return fmt.Errorf("step %q: step_type http requires an http config", s.Name)
		}
		if s.HTTP.URL == "" {
			return fmt.Errorf("step %q: http config requires url", s.Name)
		}
	case StepTransform:
		if s.Transform == nil {
			return fmt.Errorf("step %q: step_type transform requires a transform config", s.Name)
		}
		if s.Transform.Expression == "" {
			return fmt.Errorf("step %q: transform config requires expression", s.Name)
		}
	default:
		return fmt.Errorf("step %q: unknown step_type %q", s.Name, s.Type)
	}

	for i := range s.Checks {
		if err := s.Checks[i].Validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	}
	return nil
}

// Template returns the step's primary body template — the string the step
// runner resolves and records as the prompt actually sent.
func (s *RecipeStep) Template() string {
	switch s.Type {
	case StepAI:
		return s.AI.PromptTemplate
	case StepHTTP:
		return s.HTTP.BodyTemplate
	case StepScript:
		return s.Script.InputTemplate
	case StepTransform:
		return s.Transform.InputTemplate
	default:
		return ""
	}
}

// URLTemplate returns the step's URL template for executors that target a
// resolved URL. Empty for step types without one.
func (s *RecipeStep) URLTemplate() string {
	switch s.Type {
	case StepScraping:
		return s.Scraping.ProductURL
	case StepHTTP:
		return s.HTTP.URL
	default:
		return ""
	}
}

// RequiresReview reports whether a successful run of this step must pause
// for human sign-off. Every ai step requires review unless explicitly marked
// auto-approve; deterministic step types complete directly.
func (s *RecipeStep) RequiresReview() bool {
	return s.Type == StepAI && !s.AutoApprove
}

// ── Step Configs ─────────────────────────────────────────────

// AIMode selects the ai executor's sub-mode.
type AIMode string

const (
	AIModeText     AIMode = "text"
	AIModeVision   AIMode = "vision"
	AIModeImageGen AIMode = "image_generation"
)

// AIStepConfig drives the ai executor.
type AIStepConfig struct {
	PromptTemplate string   `json:"prompt_template" jsonschema:"required,description=Prompt with {{variable}} placeholders"`
	Model          string   `json:"model" jsonschema:"required,description=Model identifier the catalog knows"`
	Mode           AIMode   `json:"mode,omitempty" jsonschema:"enum=text,enum=vision,enum=image_generation"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
}

// ScrapingStepConfig drives the review-scraping executor.
type ScrapingStepConfig struct {
	ProductURL string `json:"product_url" jsonschema:"required,description=Product page URL or {{variable}} reference"`
	Platform   string `json:"platform,omitempty" jsonschema:"enum=amazon,enum=walmart,enum=etsy,enum=bestbuy,description=Empty means detect from the URL"`
	MaxReviews int    `json:"max_reviews,omitempty"`
	MinRating  int    `json:"min_rating,omitempty"`
}

// ScriptStepConfig drives the script executor.
type ScriptStepConfig struct {
	Source        string `json:"source" jsonschema:"required,description=Script body sent to the runner"`
	Runtime       string `json:"runtime,omitempty" jsonschema:"enum=node,enum=python"`
	InputTemplate string `json:"input_template,omitempty" jsonschema:"description=Template resolved into the script's stdin"`
}

// HTTPStepConfig drives the generic http executor.
type HTTPStepConfig struct {
	Method       string            `json:"method,omitempty" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=PATCH,enum=DELETE"`
	URL          string            `json:"url" jsonschema:"required"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyTemplate string            `json:"body_template,omitempty"`
}

// TransformStepConfig drives the transform executor. Expression is evaluated
// with expr-lang against an environment of {input, vars}.
type TransformStepConfig struct {
	Expression    string `json:"expression" jsonschema:"required,description=Expression over input and vars"`
	InputTemplate string `json:"input_template,omitempty" jsonschema:"description=Template resolved into the expression input"`
}

// ── Content Checks ───────────────────────────────────────────

// CheckKind discriminates a content check rule.
type CheckKind string

const (
	CheckBannedPhrases   CheckKind = "banned_phrases"
	CheckRequiredPhrases CheckKind = "required_phrases"
	CheckMaxLength       CheckKind = "max_length"
	CheckPattern         CheckKind = "pattern"
	CheckPII             CheckKind = "pii"
)

// ContentCheck is one compliance rule evaluated against a step's output
// text. Which fields apply depends on Kind.
type ContentCheck struct {
	Kind          CheckKind `json:"kind"`
	Phrases       []string  `json:"phrases,omitempty"`        // banned_phrases, required_phrases
	CaseSensitive bool      `json:"case_sensitive,omitempty"` // banned_phrases, required_phrases
	MaxCharacters int       `json:"max_characters,omitempty"` // max_length
	MaxWords      int       `json:"max_words,omitempty"`      // max_length
	Pattern       string    `json:"pattern,omitempty"`        // pattern: violation when matched
	PIIPatterns   []string  `json:"pii_patterns,omitempty"`   // pii: empty means all built-ins
}

// Validate checks the rule is well formed at recipe-save time, so a bad
// pattern never surfaces mid-run.
func (c *ContentCheck) Validate() error {
	switch c.Kind {
	case CheckBannedPhrases, CheckRequiredPhrases:
		if len(c.Phrases) == 0 {
			return fmt.Errorf("check %s: phrases are required", c.Kind)
		}
	case CheckMaxLength:
		if c.MaxCharacters <= 0 && c.MaxWords <= 0 {
			return fmt.Errorf("check max_length: max_characters or max_words required")
		}
	case CheckPattern:
		if c.Pattern == "" {
			return fmt.Errorf("check pattern: pattern is required")
		}
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("check pattern: %v", err)
		}
	case CheckPII:
	default:
		return fmt.Errorf("unknown check kind %q", c.Kind)
	}
	return nil
}

// ── Input Config ─────────────────────────────────────────────

// InputType classifies a declared user-input variable.
type InputType string

const (
	InputText     InputType = "text"
	InputTextarea InputType = "textarea"
	InputImage    InputType = "image"
	InputURLList  InputType = "url_list"
	InputFile     InputType = "file"
)

// InputField declares one user-input variable a step consumes, plus its
// validation rules.
type InputField struct {
	Name         string    `json:"name"`
	Type         InputType `json:"type"`
	Label        string    `json:"label,omitempty"`
	Required     bool      `json:"required"`
	MinCount     int       `json:"min_count,omitempty"`      // url_list
	MaxCount     int       `json:"max_count,omitempty"`      // url_list
	MaxSizeBytes int64     `json:"max_size_bytes,omitempty"` // image/file payloads
}

// InputValue is one user-supplied input value. Which fields are populated
// depends on Type.
type InputValue struct {
	Type        InputType `json:"type"`
	Text        string    `json:"text,omitempty"`
	URLs        []string  `json:"urls,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	FileContent string    `json:"file_content,omitempty"`
	ImageName   string    `json:"image_name,omitempty"`
	ImageData   string    `json:"image_data,omitempty"` // base64
	ImageMIME   string    `json:"image_mime,omitempty"`
}

// Empty reports whether the value carries no usable content.
func (v InputValue) Empty() bool {
	switch v.Type {
	case InputURLList:
		for _, u := range v.URLs {
			if u != "" {
				return false
			}
		}
		return true
	case InputImage:
		return v.ImageData == ""
	case InputFile:
		return v.FileContent == ""
	default:
		return v.Text == ""
	}
}

// PayloadSize returns the byte size of the value's payload, for enforcing
// InputField.MaxSizeBytes. Base64 length is close enough for a size cap.
func (v InputValue) PayloadSize() int64 {
	switch v.Type {
	case InputImage:
		return int64(len(v.ImageData))
	case InputFile:
		return int64(len(v.FileContent))
	default:
		return int64(len(v.Text))
	}
}

// ── Execution ────────────────────────────────────────────────

// ExecutionStatus is the lifecycle state of a recipe run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// ExecutionInput is the persisted input of a run: the raw user values and
// the snapshotted effective step list. Snapshotting at start means later
// recipe edits never change an in-flight run.
type ExecutionInput struct {
	Values map[string]InputValue `json:"values,omitempty"`
	Steps  []RecipeStep          `json:"steps,omitempty"`
}

// Execution is one run of a recipe (or a caller-supplied step list) against
// specific inputs. Mutated only through the workflow engine.
type Execution struct {
	ID          string          `json:"id" db:"id"`
	RecipeID    string          `json:"recipe_id" db:"recipe_id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Status      ExecutionStatus `json:"status" db:"status"`
	CurrentStep int             `json:"current_step" db:"current_step"` // 1-based into the effective list
	Input       ExecutionInput  `json:"input"`
	Error       string          `json:"error,omitempty" db:"error"`

	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs   int64      `json:"duration_ms,omitempty" db:"duration_ms"`
	TotalTokens  int64      `json:"total_tokens,omitempty" db:"total_tokens"`
	TotalCostUSD float64    `json:"total_cost_usd,omitempty" db:"total_cost_usd"`
}

// EffectiveSteps returns the step list this run executes against.
func (e *Execution) EffectiveSteps() []RecipeStep {
	return e.Input.Steps
}

// StepAt returns the effective step with the given 1-based order, or nil.
func (e *Execution) StepAt(order int) *RecipeStep {
	for i := range e.Input.Steps {
		if e.Input.Steps[i].Order == order {
			return &e.Input.Steps[i]
		}
	}
	return nil
}

// ── Step Execution ───────────────────────────────────────────

// StepExecutionStatus is the lifecycle state of one step's attempt slot.
type StepExecutionStatus string

const (
	StepPending        StepExecutionStatus = "pending"
	StepRunning        StepExecutionStatus = "running"
	StepCompleted      StepExecutionStatus = "completed"
	StepFailed         StepExecutionStatus = "failed"
	StepAwaitingReview StepExecutionStatus = "awaiting_review"
)

// Live reports whether the slot is an in-flight attempt. At most one
// StepExecution exists per (execution, step order); retries overwrite the
// slot rather than appending rows.
func (s StepExecutionStatus) Live() bool {
	return s == StepPending || s == StepRunning || s == StepAwaitingReview
}

// StepOutput is the produced content of a finished step attempt.
type StepOutput struct {
	Content         string       `json:"content,omitempty"`
	Format          OutputFormat `json:"format,omitempty"`
	GeneratedImages []string     `json:"generated_images,omitempty"`
	Usage           TokenUsage   `json:"usage,omitempty"`
	Model           string       `json:"model,omitempty"`
	Provider        string       `json:"provider,omitempty"`
}

// StepExecution records one step's attempt slot within an execution.
type StepExecution struct {
	ID          string              `json:"id" db:"id"`
	ExecutionID string              `json:"execution_id" db:"execution_id"`
	StepOrder   int                 `json:"step_order" db:"step_order"`
	StepName    string              `json:"step_name" db:"step_name"`
	Status      StepExecutionStatus `json:"status" db:"status"`

	// Input holds the flattened variable values this attempt resolved;
	// Prompt is the fully resolved prompt actually sent, kept for audit
	// and edit-and-retry.
	Input  map[string]string `json:"input,omitempty"`
	Prompt string            `json:"prompt,omitempty" db:"prompt"`

	Output       *StepOutput `json:"output,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty" db:"error_message"`

	// Violations lists content check failures that forced this attempt
	// into review despite auto_approve.
	Violations []string `json:"violations,omitempty"`

	Approved bool `json:"approved" db:"approved"`
	Attempts int  `json:"attempts" db:"attempts"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TokenUsage is the provider-reported token/cost accounting for one call.
type TokenUsage struct {
	InputTokens   int64   `json:"input_tokens,omitempty"`
	OutputTokens  int64   `json:"output_tokens,omitempty"`
	TotalTokens   int64   `json:"total_tokens,omitempty"`
	EstimatedCost float64 `json:"estimated_cost_usd,omitempty"`
}

// ── Company Standard ─────────────────────────────────────────

// StandardKind groups company standards by what they guide.
type StandardKind string

const (
	StandardVoice    StandardKind = "voice"
	StandardPlatform StandardKind = "platform"
	StandardImage    StandardKind = "image"
)

// CompanyStandard is named reusable guidance (brand voice, platform
// requirements, image style) injected into prompts through reserved
// variable names. The engine only ever reads these.
type CompanyStandard struct {
	ID        string       `json:"id" db:"id"`
	UserID    string       `json:"user_id" db:"user_id"`
	Kind      StandardKind `json:"kind" db:"kind"`
	Name      string       `json:"name" db:"name"` // addressable variable name, e.g. brand_voice
	Content   string       `json:"content" db:"content"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// ── Model Provider ───────────────────────────────────────────

// ModelProvider is a configured LLM backend the ai executor dispatches to.
type ModelProvider struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Kind      string    `json:"kind" db:"kind"` // openai, anthropic, google, mock
	Endpoint  string    `json:"endpoint,omitempty" db:"endpoint"`
	APIKey    string    `json:"api_key,omitempty" db:"api_key"`
	Models    []string  `json:"models"`
	IsDefault bool      `json:"is_default" db:"is_default"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ProviderTestResult is returned by the provider connectivity test.
type ProviderTestResult struct {
	Provider  string `json:"provider"`
	Kind      string `json:"kind"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ── Model Capability ─────────────────────────────────────────

// ModelCapability describes what a known model supports and costs.
// Served by the catalog, consumed by the ai executor.
type ModelCapability struct {
	Provider         string  `json:"provider"` // provider kind
	Model            string  `json:"model"`
	SupportsVision   bool    `json:"supports_vision"`
	SupportsImageGen bool    `json:"supports_image_gen"`
	MaxOutputTokens  int     `json:"max_output_tokens,omitempty"`
	InputCostPer1K   float64 `json:"input_cost_per_1k,omitempty"`
	OutputCostPer1K  float64 `json:"output_cost_per_1k,omitempty"`
}
