package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"TrialSync/internal/config"
	"TrialSync/internal/domain"
	"TrialSync/internal/ports"
)

// Client talks to the external dataset-analysis service. The transform is
// opaque: CSV bytes in, structured summary out.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Analyzer = (*Client)(nil)

// NewClient creates a reusable HTTP client from configuration.
func NewClient(cfg config.AnalyzerConfig) *Client {
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.URL, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Analyze uploads the downloaded dataset and decodes the structured summary.
func (c *Client) Analyze(ctx context.Context, localPath, fileName string) (domain.AnalysisSummary, error) {
	if c.endpoint == "" {
		return domain.AnalysisSummary{}, fmt.Errorf("analyzer misconfigured")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return domain.AnalysisSummary{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	endpoint := c.endpoint + "/analyze?file=" + url.QueryEscape(fileName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return domain.AnalysisSummary{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.AnalysisSummary{}, fmt.Errorf("analyze %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.AnalysisSummary{}, fmt.Errorf("analyzer error %s: %s",
			resp.Status, strings.TrimSpace(string(payload)))
	}

	var summary domain.AnalysisSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return domain.AnalysisSummary{}, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}
