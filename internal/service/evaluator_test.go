package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/util"
)

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		score   float64
		metrics map[string]float64
		wantErr bool
	}{
		{
			name:    "plain json",
			input:   `{"score": 7.5, "feedback": " Solid answer. ", "metrics": {"Clarity": 8, "depth": 6}}`,
			score:   7.5,
			metrics: map[string]float64{"clarity": 8, "depth": 6},
		},
		{
			name:    "markdown fenced",
			input:   "```json\n{\"score\": 9, \"feedback\": \"ok\", \"metrics\": {}}\n```",
			score:   9,
			metrics: map[string]float64{},
		},
		{
			name:    "clamped",
			input:   `{"score": 14, "feedback": "", "metrics": {"accuracy": -3}}`,
			score:   10,
			metrics: map[string]float64{"accuracy": 0},
		},
		{name: "no json", input: "I cannot grade this.", wantErr: true},
		{name: "broken json", input: `{"score": "high"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEvaluation(tt.input)
			if tt.wantErr {
				if !errors.Is(err, util.ErrEvaluationUnavailable) {
					t.Fatalf("err = %v, want ErrEvaluationUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEvaluation: %v", err)
			}
			if got.Score != tt.score {
				t.Fatalf("score = %v, want %v", got.Score, tt.score)
			}
			if len(got.Metrics) != len(tt.metrics) {
				t.Fatalf("metrics = %v, want %v", got.Metrics, tt.metrics)
			}
			for k, v := range tt.metrics {
				if got.Metrics[k] != v {
					t.Fatalf("metrics[%s] = %v, want %v", k, got.Metrics[k], v)
				}
			}
		})
	}
}

func TestBuildEvaluationPrompt(t *testing.T) {
	prompt := buildEvaluationPrompt(QuestionContext{
		Question:       "What is a goroutine?",
		Category:       "technical",
		ExpectedAnswer: "A lightweight thread managed by the Go runtime.",
		Criteria:       []string{"accuracy", "depth"},
		JobRole:        "Backend Engineer",
	}, "It is a green thread.")

	for _, want := range []string{"What is a goroutine?", "Reference answer:", "accuracy, depth", "Backend Engineer", "It is a green thread."} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestOpenAIEvaluator(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": `{"score": 8, "feedback": "Good.", "metrics": {"clarity": 9}}`}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEvaluator(config.AIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-test"})
	res, err := e.Evaluate(context.Background(), QuestionContext{Question: "Q"}, "A")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Score != 8 || res.Metrics["clarity"] != 9 || res.Feedback != "Good." {
		t.Fatalf("evaluation = %+v", res)
	}
	if got.Model != "gpt-test" || len(got.Messages) != 2 {
		t.Fatalf("request = %+v", got)
	}
}

func TestOpenAIEvaluatorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewOpenAIEvaluator(config.AIConfig{BaseURL: srv.URL, APIKey: "k"})
	if _, err := e.Evaluate(context.Background(), QuestionContext{Question: "Q"}, "A"); !errors.Is(err, util.ErrEvaluationUnavailable) {
		t.Fatalf("err = %v, want ErrEvaluationUnavailable", err)
	}
}

func TestNewEvaluatorFallback(t *testing.T) {
	e, err := NewEvaluator(context.Background(), config.AIConfig{Provider: "none"})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	if _, err := e.Evaluate(context.Background(), QuestionContext{}, "x"); !errors.Is(err, util.ErrEvaluationUnavailable) {
		t.Fatalf("err = %v, want ErrEvaluationUnavailable", err)
	}

	if _, err := NewEvaluator(context.Background(), config.AIConfig{Provider: "openai"}); err == nil {
		t.Fatalf("openai without api key should fail")
	}
}
