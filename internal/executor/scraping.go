package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/pkg/models"
	"github.com/rs/zerolog/log"
)

// ScrapingExecutor runs scraping steps against the external scraper service:
// it submits a job for the product URL, then polls until the job finishes.
// The scraped reviews come back as a JSON array.
type ScrapingExecutor struct {
	endpoint     string
	pollInterval time.Duration
	timeout      time.Duration
	client       *http.Client
}

func NewScrapingExecutor(cfg config.ExecutorConfig) *ScrapingExecutor {
	return &ScrapingExecutor{
		endpoint:     strings.TrimRight(cfg.ScraperEndpoint, "/"),
		pollInterval: cfg.ScraperPollInterval,
		timeout:      cfg.ScrapingTimeout,
		client:       &http.Client{},
	}
}

func (e *ScrapingExecutor) Type() models.StepType  { return models.StepScraping }
func (e *ScrapingExecutor) Timeout() time.Duration { return e.timeout }
func (e *ScrapingExecutor) ConfigSchema() []Field  { return fieldsFor(&models.ScrapingStepConfig{}) }

// ── scraper service wire types ──────────────────────────────

type scrapeJobRequest struct {
	URL        string `json:"url"`
	Platform   string `json:"platform"`
	MaxReviews int    `json:"max_reviews,omitempty"`
	MinRating  int    `json:"min_rating,omitempty"`
}

type scrapeJobResponse struct {
	JobID   string          `json:"job_id"`
	Status  string          `json:"status"` // queued, running, completed, failed
	Reviews json.RawMessage `json:"reviews,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (e *ScrapingExecutor) Execute(ctx context.Context, step *models.RecipeStep, in Input) (*Outcome, error) {
	cfg := step.Scraping
	if cfg == nil {
		return nil, fmt.Errorf("scraping step %q has no scraping config", step.Name)
	}
	if e.endpoint == "" {
		return nil, fmt.Errorf("scraper endpoint not configured")
	}

	platform := cfg.Platform
	if platform == "" {
		detected, err := DetectPlatform(in.URL)
		if err != nil {
			return nil, err
		}
		platform = detected
	}

	jobID, err := e.startJob(ctx, scrapeJobRequest{
		URL:        in.URL,
		Platform:   platform,
		MaxReviews: cfg.MaxReviews,
		MinRating:  cfg.MinRating,
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("step", step.Name).
		Str("platform", platform).
		Str("job_id", jobID).
		Msg("Scrape job submitted")

	job, err := e.pollJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	content := "[]"
	if len(job.Reviews) > 0 {
		content = string(job.Reviews)
	}
	return &Outcome{
		Content: content,
		Format:  models.FormatJSON,
	}, nil
}

func (e *ScrapingExecutor) startJob(ctx context.Context, jobReq scrapeJobRequest) (string, error) {
	body, _ := json.Marshal(jobReq)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.endpoint+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("scraper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("scraper: submit job: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("scraper: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var job scrapeJobResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("scraper: decode response: %w", err)
	}
	if job.JobID == "" {
		return "", fmt.Errorf("scraper: no job id in response")
	}
	return job.JobID, nil
}

// pollJob checks the job until it reaches a final status. The poll interval
// is constant; ctx carries the overall attempt deadline.
func (e *ScrapingExecutor) pollJob(ctx context.Context, jobID string) (*scrapeJobResponse, error) {
	var job *scrapeJobResponse

	check := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, "GET", e.endpoint+"/jobs/"+jobID, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("scraper: create poll request: %w", err))
		}
		httpResp, err := e.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("scraper: poll job: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(httpResp.Body)
			return fmt.Errorf("scraper: poll status %d: %s", httpResp.StatusCode, string(respBody))
		}

		var j scrapeJobResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&j); err != nil {
			return fmt.Errorf("scraper: decode poll response: %w", err)
		}

		switch j.Status {
		case "completed":
			job = &j
			return nil
		case "failed":
			return backoff.Permanent(fmt.Errorf("scraper: job failed: %s", j.Error))
		default:
			return fmt.Errorf("scraper: job %s still %s", jobID, j.Status)
		}
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(e.pollInterval), ctx)
	if err := backoff.Retry(check, policy); err != nil {
		return nil, err
	}
	return job, nil
}

// DetectPlatform infers the review platform from a product URL's host.
func DetectPlatform(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid product url %q", rawURL)
	}
	host := strings.ToLower(u.Host)
	switch {
	case strings.Contains(host, "amazon."):
		return "amazon", nil
	case strings.Contains(host, "walmart."):
		return "walmart", nil
	case strings.Contains(host, "etsy."):
		return "etsy", nil
	case strings.Contains(host, "bestbuy."):
		return "bestbuy", nil
	}
	return "", fmt.Errorf("cannot detect platform from url host %q", u.Host)
}
