// Package genai adapts the Gemini API to core.ContentGenerator.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/target/inkwell/internal/core"
)

// DefaultModel is used when Options.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// Options configures a Generator.
type Options struct {
	// Required:
	APIKey string

	// Optional:
	Model      string
	BaseURL    string // overrides the API endpoint, used by tests and proxies
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Generator calls a Gemini model with JSON output constrained by the
// request's response schema.
type Generator struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// New creates a Generator backed by the Gemini API.
func New(ctx context.Context, opts Options) (*Generator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("API key is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Generator{
		client: client,
		model:  model,
		logger: logger.With("component", "genai_generator"),
	}, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string { return g.model }

// Generate sends one prompt and returns the model's raw text.
func (g *Generator) Generate(ctx context.Context, req core.GenerateRequest) (core.GenerateResponse, error) {
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), generateConfig(req))
	if err != nil {
		return core.GenerateResponse{}, fmt.Errorf("generate content: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return core.GenerateResponse{}, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return core.GenerateResponse{}, fmt.Errorf("model returned no text (finish reason %q)", finishReason(resp))
	}

	model := resp.ModelVersion
	if model == "" {
		model = g.model
	}

	attrs := []any{"model", model, "duration", time.Since(start), "finish_reason", finishReason(resp)}
	if u := resp.UsageMetadata; u != nil {
		attrs = append(attrs, "prompt_tokens", u.PromptTokenCount, "output_tokens", u.CandidatesTokenCount)
	}
	g.logger.DebugContext(ctx, "content generated", attrs...)

	return core.GenerateResponse{Raw: text, Model: model}, nil
}

func generateConfig(req core.GenerateRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(req.Temperature),
		MaxOutputTokens:  req.MaxTokens,
		ResponseMIMEType: "application/json",
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.ResponseSchema != nil {
		cfg.ResponseJsonSchema = req.ResponseSchema
	}
	return cfg
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	return string(resp.Candidates[0].FinishReason)
}
