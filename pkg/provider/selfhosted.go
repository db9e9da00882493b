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

// selfHostedProvider targets an OpenAI-compatible chat-completions endpoint,
// typically an in-cluster inference server. Analysis kinds map to system
// prompts; token counts come from the usage block of the response.
type selfHostedProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newSelfHosted(cfg config.ProviderConfig) *selfHostedProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "provider-selfhosted",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	return &selfHostedProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 120 * time.Second},
		breaker: cb,
	}
}

func (p *selfHostedProvider) Name() string { return "selfhosted" }

var systemPrompts = map[AnalysisKind]string{
	KindGeneral:    "Analyze the following document and respond with a JSON object describing it.",
	KindExtraction: "Extract the key signals from the following document as a JSON list.",
	KindScoring:    "Score how well the subject matches the target. Respond with JSON {\"score\": 0..1}.",
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (p *selfHostedProvider) Analyze(ctx context.Context, req *Request) (*Result, error) {
	system, ok := systemPrompts[req.Kind]
	if !ok {
		system = systemPrompts[KindGeneral]
	}

	content := req.Content
	if target, ok := req.Context["target"].(string); ok && target != "" {
		content = fmt.Sprintf("Subject:\n%s\n\nTarget:\n%s", req.Content, target)
	}

	resp, err := p.chat(ctx, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: content},
	})
	if err != nil {
		return nil, err
	}

	confidence := 0.0
	var raw json.RawMessage
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		confidence = 1.0
		raw, _ = json.Marshal(resp.Choices[0].Message.Content)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}

	return &Result{
		Provider:     p.Name(),
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Confidence:   confidence,
		Raw:          raw,
	}, nil
}

func (p *selfHostedProvider) ExtractSignals(ctx context.Context, content string) (*Result, error) {
	return p.Analyze(ctx, &Request{Kind: KindExtraction, Content: content})
}

func (p *selfHostedProvider) ScoreMatch(ctx context.Context, subject, target string) (*Result, error) {
	return p.Analyze(ctx, &Request{
		Kind:    KindScoring,
		Content: subject,
		Context: map[string]interface{}{"target": target},
	})
}

func (p *selfHostedProvider) Complete(ctx context.Context, prompt string) (*Completion, error) {
	resp, err := p.chat(ctx, []chatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	return &Completion{
		Text:         text,
		TotalTokens:  resp.Usage.TotalTokens,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (p *selfHostedProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("selfhosted health check returned %d", resp.StatusCode)
	}
	return nil
}

func (p *selfHostedProvider) chat(ctx context.Context, messages []chatMessage) (*chatResponse, error) {
	body, err := json.Marshal(chatRequest{Model: p.model, Messages: messages})
	if err != nil {
		return nil, err
	}

	out, err := p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
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
			return nil, fmt.Errorf("selfhosted returned %d: %s", resp.StatusCode, truncate(data, 200))
		}

		var parsed chatResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, err
		}
		return &parsed, nil
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("selfhosted circuit open: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*chatResponse), nil
}
