package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/internal/executor"
	"github.com/contentmill/contentmill/pkg/models"
)

func testExecConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		AITimeout:           5 * time.Second,
		ScrapingTimeout:     5 * time.Second,
		ScriptTimeout:       5 * time.Second,
		HTTPTimeout:         5 * time.Second,
		TransformTimeout:    time.Second,
		ScraperPollInterval: 10 * time.Millisecond,
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register(executor.NewTransformExecutor(testExecConfig()))

	if _, err := reg.Get(models.StepTransform); err != nil {
		t.Fatalf("Get(transform): %v", err)
	}

	_, err := reg.Get(models.StepScraping)
	var unknown *executor.UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTypeError, got %v", err)
	}
	if unknown.Type != models.StepScraping {
		t.Errorf("Type = %q", unknown.Type)
	}
}

func TestRegistry_Describe(t *testing.T) {
	cfg := testExecConfig()
	reg := executor.NewRegistry()
	reg.Register(executor.NewTransformExecutor(cfg))
	reg.Register(executor.NewHTTPExecutor(cfg))

	descs := reg.Describe()
	if len(descs) != 2 {
		t.Fatalf("got %d descriptors", len(descs))
	}
	// sorted by type: http before transform
	if descs[0].Type != models.StepHTTP || descs[1].Type != models.StepTransform {
		t.Errorf("order: %v, %v", descs[0].Type, descs[1].Type)
	}

	var urlField *executor.Field
	for i := range descs[0].Fields {
		if descs[0].Fields[i].Name == "url" {
			urlField = &descs[0].Fields[i]
		}
	}
	if urlField == nil {
		t.Fatal("http descriptor missing url field")
	}
	if !urlField.Required {
		t.Error("url field should be required")
	}
}

func TestTransformExecutor(t *testing.T) {
	exec := executor.NewTransformExecutor(testExecConfig())

	tests := []struct {
		name       string
		expression string
		in         executor.Input
		want       string
		wantFormat models.OutputFormat
	}{
		{
			name:       "upper",
			expression: `upper(input)`,
			in:         executor.Input{Prompt: "hello"},
			want:       "HELLO",
			wantFormat: models.FormatText,
		},
		{
			name:       "split lines",
			expression: `split(input, "\n")`,
			in:         executor.Input{Prompt: "a\nb"},
			want:       `["a","b"]`,
			wantFormat: models.FormatJSON,
		},
		{
			name:       "vars access",
			expression: `vars["name"] + "!"`,
			in:         executor.Input{Vars: map[string]string{"name": "Widget"}},
			want:       "Widget!",
			wantFormat: models.FormatText,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &models.RecipeStep{
				Order: 1, Name: tt.name, Type: models.StepTransform,
				Transform: &models.TransformStepConfig{Expression: tt.expression},
			}
			out, err := exec.Execute(context.Background(), step, tt.in)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if out.Content != tt.want {
				t.Errorf("Content = %q, want %q", out.Content, tt.want)
			}
			if out.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", out.Format, tt.wantFormat)
			}
		})
	}
}

func TestTransformExecutor_BadExpression(t *testing.T) {
	exec := executor.NewTransformExecutor(testExecConfig())
	step := &models.RecipeStep{
		Order: 1, Name: "bad", Type: models.StepTransform,
		Transform: &models.TransformStepConfig{Expression: `nonsense(`},
	}
	if _, err := exec.Execute(context.Background(), step, executor.Input{}); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestHTTPExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("X-Token"); got != "secret" {
			t.Errorf("X-Token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	exec := executor.NewHTTPExecutor(testExecConfig())
	step := &models.RecipeStep{
		Order: 1, Name: "call", Type: models.StepHTTP,
		HTTP: &models.HTTPStepConfig{
			Method:  "POST",
			URL:     srv.URL,
			Headers: map[string]string{"X-Token": "secret"},
		},
	}
	out, err := exec.Execute(context.Background(), step, executor.Input{
		Prompt: `{"q":"test"}`,
		URL:    srv.URL,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != `{"ok":true}` {
		t.Errorf("Content = %q", out.Content)
	}
	if out.Format != models.FormatJSON {
		t.Errorf("Format = %q", out.Format)
	}
}

func TestHTTPExecutor_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	exec := executor.NewHTTPExecutor(testExecConfig())
	step := &models.RecipeStep{
		Order: 1, Name: "call", Type: models.StepHTTP,
		HTTP: &models.HTTPStepConfig{URL: srv.URL},
	}
	_, err := exec.Execute(context.Background(), step, executor.Input{URL: srv.URL})
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestScriptExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Source string `json:"source"`
			Input  string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Source == "" {
			t.Error("empty source")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"output":    "processed: " + req.Input,
			"exit_code": 0,
		})
	}))
	defer srv.Close()

	cfg := testExecConfig()
	cfg.ScriptRunnerEndpoint = srv.URL
	exec := executor.NewScriptExecutor(cfg)
	step := &models.RecipeStep{
		Order: 1, Name: "script", Type: models.StepScript,
		Script: &models.ScriptStepConfig{Source: "console.log(1)", Runtime: "node"},
	}
	out, err := exec.Execute(context.Background(), step, executor.Input{Prompt: "data"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Content != "processed: data" {
		t.Errorf("Content = %q", out.Content)
	}
}

func TestScriptExecutor_NonZeroExit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"output": "", "error": "SyntaxError", "exit_code": 1,
		})
	}))
	defer srv.Close()

	cfg := testExecConfig()
	cfg.ScriptRunnerEndpoint = srv.URL
	exec := executor.NewScriptExecutor(cfg)
	step := &models.RecipeStep{
		Order: 1, Name: "script", Type: models.StepScript,
		Script: &models.ScriptStepConfig{Source: "bad("},
	}
	if _, err := exec.Execute(context.Background(), step, executor.Input{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestScrapingExecutor_PollsUntilComplete(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/jobs":
			var req struct {
				Platform string `json:"platform"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if req.Platform != "amazon" {
				t.Errorf("platform = %q", req.Platform)
			}
			json.NewEncoder(w).Encode(map[string]any{"job_id": "job-1", "status": "queued"})
		case r.Method == "GET" && r.URL.Path == "/jobs/job-1":
			if polls.Add(1) < 3 {
				json.NewEncoder(w).Encode(map[string]any{"job_id": "job-1", "status": "running"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"job_id":  "job-1",
				"status":  "completed",
				"reviews": []map[string]any{{"rating": 5, "text": "great"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := testExecConfig()
	cfg.ScraperEndpoint = srv.URL
	exec := executor.NewScrapingExecutor(cfg)
	step := &models.RecipeStep{
		Order: 1, Name: "scrape", Type: models.StepScraping,
		Scraping: &models.ScrapingStepConfig{ProductURL: "https://www.amazon.com/dp/B0TEST"},
	}
	out, err := exec.Execute(context.Background(), step, executor.Input{
		URL: "https://www.amazon.com/dp/B0TEST",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if polls.Load() < 3 {
		t.Errorf("polls = %d, want >= 3", polls.Load())
	}
	if out.Format != models.FormatJSON {
		t.Errorf("Format = %q", out.Format)
	}
	if !strings.Contains(out.Content, "great") {
		t.Errorf("Content = %q", out.Content)
	}
}

func TestScrapingExecutor_JobFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			json.NewEncoder(w).Encode(map[string]any{"job_id": "job-2", "status": "queued"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"job_id": "job-2", "status": "failed", "error": "captcha wall",
		})
	}))
	defer srv.Close()

	cfg := testExecConfig()
	cfg.ScraperEndpoint = srv.URL
	exec := executor.NewScrapingExecutor(cfg)
	step := &models.RecipeStep{
		Order: 1, Name: "scrape", Type: models.StepScraping,
		Scraping: &models.ScrapingStepConfig{ProductURL: "https://www.etsy.com/listing/1"},
	}
	_, err := exec.Execute(context.Background(), step, executor.Input{URL: "https://www.etsy.com/listing/1"})
	if err == nil || !strings.Contains(err.Error(), "captcha wall") {
		t.Fatalf("expected job failure, got %v", err)
	}
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://www.amazon.com/dp/B0TEST", "amazon", false},
		{"https://www.amazon.co.uk/dp/B0TEST", "amazon", false},
		{"https://www.walmart.com/ip/12345", "walmart", false},
		{"https://www.etsy.com/listing/999", "etsy", false},
		{"https://www.bestbuy.com/site/1", "bestbuy", false},
		{"https://example.com/product", "", true},
		{"not a url", "", true},
	}
	for _, tt := range tests {
		got, err := executor.DetectPlatform(tt.url)
		if tt.wantErr {
			if err == nil {
				t.Errorf("DetectPlatform(%q): expected error", tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("DetectPlatform(%q): %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DetectPlatform(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
