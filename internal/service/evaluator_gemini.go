package service

import (
	"context"
	"fmt"
	"strings"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/util"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEvaluator 基于 Gemini 的评估实现
type GeminiEvaluator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiEvaluator(ctx context.Context, cfg config.AIConfig) (*GeminiEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai.api_key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = "gemini-1.5-flash"
	}
	m := client.GenerativeModel(name)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"

	return &GeminiEvaluator{client: client, model: m}, nil
}

func (e *GeminiEvaluator) Evaluate(ctx context.Context, qc QuestionContext, response string) (*Evaluation, error) {
	resp, err := e.model.GenerateContent(ctx, genai.Text(buildEvaluationPrompt(qc, response)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrEvaluationUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: empty candidate", util.ErrEvaluationUnavailable)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return parseEvaluation(b.String())
}

func (e *GeminiEvaluator) Close() error {
	return e.client.Close()
}
