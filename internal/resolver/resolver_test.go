package resolver_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/contentmill/contentmill/internal/resolver"
	"github.com/contentmill/contentmill/pkg/models"
)

func textInput(s string) models.InputValue {
	return models.InputValue{Type: models.InputText, Text: s}
}

func TestResolve_UserInputs(t *testing.T) {
	rc := resolver.Context{
		Inputs: map[string]models.InputValue{
			"product_name": textInput("Ergonomic Desk Chair"),
			"features":     textInput("lumbar support, mesh back"),
		},
	}
	got, err := resolver.Resolve("Write copy for {{product_name}}: {{features}}", rc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "Write copy for Ergonomic Desk Chair: lumbar support, mesh back"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolve_WhitespaceInsideBraces(t *testing.T) {
	rc := resolver.Context{
		Inputs: map[string]models.InputValue{"name": textInput("Widget")},
	}
	got, err := resolver.Resolve("{{ name }} and {{name}}", rc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "Widget and Widget" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_StepOutput(t *testing.T) {
	rc := resolver.Context{
		StepOutputs: map[int]string{1: "scraped reviews here"},
	}
	got, err := resolver.Resolve("Summarize: {{step_1_output}}", rc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "Summarize: scraped reviews here" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_FutureStepOutputFails(t *testing.T) {
	rc := resolver.Context{StepOutputs: map[int]string{1: "done"}}
	_, err := resolver.Resolve("{{step_3_output}}", rc)
	var unres *resolver.UnresolvedVariableError
	if !errors.As(err, &unres) {
		t.Fatalf("expected UnresolvedVariableError, got %v", err)
	}
	if unres.Name != "step_3_output" {
		t.Errorf("Name = %q, want step_3_output", unres.Name)
	}
}

func TestResolve_MissingRequiredInput(t *testing.T) {
	rc := resolver.Context{
		Required: map[string]bool{"product_name": true},
	}
	_, err := resolver.Resolve("{{product_name}}", rc)
	var missing *resolver.MissingInputError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingInputError, got %v", err)
	}
	if missing.Name != "product_name" {
		t.Errorf("Name = %q", missing.Name)
	}
}

func TestResolve_EmptyRequiredInputFails(t *testing.T) {
	rc := resolver.Context{
		Inputs:   map[string]models.InputValue{"title": textInput("")},
		Required: map[string]bool{"title": true},
	}
	_, err := resolver.Resolve("{{title}}", rc)
	var missing *resolver.MissingInputError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingInputError, got %v", err)
	}
}

func TestResolve_OptionalMissingResolvesEmpty(t *testing.T) {
	got, err := resolver.Resolve("a{{notes}}b", resolver.Context{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "ab" {
		t.Errorf("got %q, want ab", got)
	}
}

func TestResolve_AllOrNothing(t *testing.T) {
	rc := resolver.Context{
		Inputs: map[string]models.InputValue{"good": textInput("value")},
	}
	out, err := resolver.Resolve("{{good}} {{step_9_output}}", rc)
	if err == nil {
		t.Fatal("expected error")
	}
	if out != "" {
		t.Errorf("partial substitution leaked: %q", out)
	}
}

func TestResolve_Standards(t *testing.T) {
	rc := resolver.Context{
		Standards: map[string]string{
			"brand_voice":         "Friendly and direct.",
			"amazon_requirements": "Max 200 chars title.",
		},
	}

	tests := []struct {
		template string
		want     string
	}{
		{"{{brand_voice}}", "Friendly and direct."},
		{"{{Brand_Voice}}", "Friendly and direct."},
		{"{{brandvoice}}", "Friendly and direct."},
		{"{{amazon_requirements}}", "Max 200 chars title."},
		// configured user has no tone guidelines: resolves empty, not error
		{"x{{tone_guidelines}}y", "xy"},
	}
	for _, tt := range tests {
		got, err := resolver.Resolve(tt.template, rc)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.template, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestResolve_StandardBeatsInput(t *testing.T) {
	// A reserved standard name always reads from standards, even when a
	// user input with the same name exists.
	rc := resolver.Context{
		Inputs:    map[string]models.InputValue{"brand_voice": textInput("input value")},
		Standards: map[string]string{"brand_voice": "standard value"},
	}
	got, err := resolver.Resolve("{{brand_voice}}", rc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "standard value" {
		t.Errorf("got %q, want standard value", got)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	rc := resolver.Context{
		Inputs: map[string]models.InputValue{"name": textInput("Widget")},
	}
	once, err := resolver.Resolve("Hello {{name}}", rc)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	twice, err := resolver.Resolve(once, rc)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if once != twice {
		t.Errorf("not idempotent: %q vs %q", once, twice)
	}
}

func TestResolve_NameMayContainOpenBrace(t *testing.T) {
	// The token body is any run of non-"}" characters, so a stray "{"
	// stays part of the name; here it is an unknown optional input.
	got, err := resolver.Resolve("x{{we{ird}}y", resolver.Context{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "xy" {
		t.Errorf("got %q, want xy", got)
	}
}

func TestResolve_ValueContainingBracesNotReExpanded(t *testing.T) {
	rc := resolver.Context{
		Inputs: map[string]models.InputValue{
			"tricky": textInput("literal {{name}} inside"),
			"name":   textInput("X"),
		},
	}
	got, err := resolver.Resolve("{{tricky}}", rc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "literal {{name}} inside" {
		t.Errorf("got %q", got)
	}
}

func TestFlatten(t *testing.T) {
	img := models.InputValue{Type: models.InputImage, ImageName: "hero.png", ImageData: "xxx"}
	if got := resolver.Flatten(img); got != "[Image: hero.png]" {
		t.Errorf("image: got %q", got)
	}

	urls := models.InputValue{Type: models.InputURLList, URLs: []string{"https://a", "", "https://b"}}
	if got := resolver.Flatten(urls); got != "https://a\nhttps://b" {
		t.Errorf("url_list: got %q", got)
	}

	file := models.InputValue{Type: models.InputFile, FileName: "notes.txt", FileContent: "body text"}
	if got := resolver.Flatten(file); got != "body text" {
		t.Errorf("file: got %q", got)
	}
}

func TestVariables(t *testing.T) {
	got := resolver.Variables("{{a}} {{b}} {{ a }} plain {{c}}")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

func TestStandardNames_Copy(t *testing.T) {
	names := resolver.StandardNames()
	if len(names) == 0 {
		t.Fatal("empty registry")
	}
	names[0] = "mutated"
	if resolver.StandardNames()[0] == "mutated" {
		t.Error("StandardNames returned shared slice")
	}
	for _, n := range resolver.StandardNames() {
		if strings.ToLower(n) != n {
			t.Errorf("registry name %q not lowercase", n)
		}
	}
}
