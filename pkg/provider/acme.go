package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harborhq/aigateway/pkg/config"
	"github.com/sony/gobreaker"
)

// acmeProvider talks to the Acme analysis API over JSON/HTTP. All outbound
// calls run through a circuit breaker so a dead upstream fails fast instead
// of tying up request goroutines for the full timeout.
type acmeProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newAcme(cfg config.ProviderConfig) *acmeProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "provider-acme",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	return &acmeProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 60 * time.Second},
		breaker: cb,
	}
}

func (p *acmeProvider) Name() string { return "acme" }

type acmeAnalyzeRequest struct {
	Model   string                 `json:"model"`
	Kind    string                 `json:"kind"`
	Content string                 `json:"content"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type acmeAnalyzeResponse struct {
	Model        string          `json:"model"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Confidence   float64         `json:"confidence"`
	Result       json.RawMessage `json:"result"`
}

func (p *acmeProvider) Analyze(ctx context.Context, req *Request) (*Result, error) {
	payload := acmeAnalyzeRequest{
		Model:   p.model,
		Kind:    string(req.Kind),
		Content: req.Content,
		Context: req.Context,
	}

	var resp acmeAnalyzeResponse
	if err := p.post(ctx, "/v1/analyze", payload, &resp); err != nil {
		return nil, err
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}

	return &Result{
		Provider:     p.Name(),
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Confidence:   resp.Confidence,
		Raw:          resp.Result,
	}, nil
}

func (p *acmeProvider) ExtractSignals(ctx context.Context, content string) (*Result, error) {
	return p.Analyze(ctx, &Request{Kind: KindExtraction, Content: content})
}

func (p *acmeProvider) ScoreMatch(ctx context.Context, subject, target string) (*Result, error) {
	return p.Analyze(ctx, &Request{
		Kind:    KindScoring,
		Content: subject,
		Context: map[string]interface{}{"target": target},
	})
}

type acmeCompleteResponse struct {
	Text         string `json:"text"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

func (p *acmeProvider) Complete(ctx context.Context, prompt string) (*Completion, error) {
	payload := map[string]string{"model": p.model, "prompt": prompt}

	var resp acmeCompleteResponse
	if err := p.post(ctx, "/v1/complete", payload, &resp); err != nil {
		return nil, err
	}

	return &Completion{
		Text:         resp.Text,
		TotalTokens:  resp.InputTokens + resp.OutputTokens,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

func (p *acmeProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("acme health check returned %d", resp.StatusCode)
	}
	return nil
}

// post runs one JSON round trip through the circuit breaker.
func (p *acmeProvider) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("acme returned %d: %s", resp.StatusCode, truncate(data, 200))
		}
		return nil, json.Unmarshal(data, out)
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("acme circuit open: %w", err)
	}
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
