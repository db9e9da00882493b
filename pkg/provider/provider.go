package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harborhq/aigateway/pkg/config"
)

// AnalysisKind selects the type of analysis a request asks for. It is part
// of the cache key, so two kinds never share cached results.
type AnalysisKind string

const (
	KindGeneral    AnalysisKind = "general"
	KindExtraction AnalysisKind = "extraction"
	KindScoring    AnalysisKind = "scoring"
)

// Request describes one provider call. Immutable once constructed: the same
// Request is used to call the provider and to derive the cache key.
type Request struct {
	Content string                 `json:"content"`
	Kind    AnalysisKind           `json:"kind"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Result is what every provider variant returns from an analysis call.
type Result struct {
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Confidence   float64         `json:"confidence"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// TotalTokens returns input + output tokens.
func (r *Result) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// Completion is the outcome of the raw prompt-call primitive.
type Completion struct {
	Text         string `json:"text"`
	TotalTokens  int64  `json:"total_tokens"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Provider is the fixed-shape abstraction over external generative-AI
// backends. One variant exists per provider tag; dispatch is closed and
// happens once, at construction time.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, req *Request) (*Result, error)
	ExtractSignals(ctx context.Context, content string) (*Result, error)
	ScoreMatch(ctx context.Context, subject, target string) (*Result, error)
	Complete(ctx context.Context, prompt string) (*Completion, error)
	HealthCheck(ctx context.Context) error
}

// ErrUnknownProvider is returned by New for an unrecognized provider tag.
var ErrUnknownProvider = errors.New("unknown provider")

// New constructs the provider variant selected by name.
func New(name string, cfg config.ProviderConfig) (Provider, error) {
	switch name {
	case "acme":
		return newAcme(cfg), nil
	case "selfhosted":
		return newSelfHosted(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}
