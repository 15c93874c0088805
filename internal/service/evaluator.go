package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"

	"gorm.io/datatypes"
)

// QuestionContext 评估时提供给评估方的题目上下文
type QuestionContext struct {
	Question       string
	Category       model.QuestionCategory
	ExpectedAnswer string
	Criteria       []string
	JobRole        string
	InterviewType  model.InterviewType
}

// Evaluation 评估结果，Score 取值 [0,10]
type Evaluation struct {
	Score    float64            `json:"score"`
	Feedback string             `json:"feedback"`
	Metrics  map[string]float64 `json:"metrics"`
}

// Evaluator 主观题评估能力（语言模型或人工）
type Evaluator interface {
	Evaluate(ctx context.Context, qc QuestionContext, response string) (*Evaluation, error)
}

// NewEvaluator 按配置选择评估方，构造失败时退化为不可用
func NewEvaluator(ctx context.Context, cfg config.AIConfig) (Evaluator, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return UnavailableEvaluator{}, fmt.Errorf("ai.api_key is empty")
		}
		return NewOpenAIEvaluator(cfg), nil
	case "gemini":
		e, err := NewGeminiEvaluator(ctx, cfg)
		if err != nil {
			return UnavailableEvaluator{}, err
		}
		return e, nil
	}
	return UnavailableEvaluator{}, nil
}

// UnavailableEvaluator 未配置评估服务时使用，所有作答进入人工复核
type UnavailableEvaluator struct{}

func (UnavailableEvaluator) Evaluate(context.Context, QuestionContext, string) (*Evaluation, error) {
	return nil, util.ErrEvaluationUnavailable
}

func buildEvaluationPrompt(qc QuestionContext, response string) string {
	var b strings.Builder
	b.WriteString("You are an experienced interviewer grading a candidate's answer.\n")
	if qc.JobRole != "" {
		fmt.Fprintf(&b, "Role: %s\n", qc.JobRole)
	}
	if qc.InterviewType != "" {
		fmt.Fprintf(&b, "Interview type: %s\n", qc.InterviewType)
	}
	fmt.Fprintf(&b, "Question category: %s\n", qc.Category)
	fmt.Fprintf(&b, "Question: %s\n", qc.Question)
	if qc.ExpectedAnswer != "" {
		fmt.Fprintf(&b, "Reference answer: %s\n", qc.ExpectedAnswer)
	}
	if len(qc.Criteria) > 0 {
		fmt.Fprintf(&b, "Criteria: %s\n", strings.Join(qc.Criteria, ", "))
	}
	fmt.Fprintf(&b, "\nCandidate answer:\n%s\n\n", response)
	b.WriteString("Reply with JSON only, no markdown: {\"score\": <0-10>, \"feedback\": \"<2-4 sentences>\", \"metrics\": {\"<criterion>\": <0-10>}}")
	return b.String()
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// parseEvaluation 解析模型输出，容忍 markdown 代码块包裹
func parseEvaluation(text string) (*Evaluation, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in model output", util.ErrEvaluationUnavailable)
	}

	var out Evaluation
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrEvaluationUnavailable, err)
	}
	if math.IsNaN(out.Score) {
		return nil, fmt.Errorf("%w: invalid score", util.ErrEvaluationUnavailable)
	}

	out.Score = clampScore(out.Score)
	metrics := make(map[string]float64, len(out.Metrics))
	for k, v := range out.Metrics {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || math.IsNaN(v) {
			continue
		}
		metrics[k] = clampScore(v)
	}
	out.Metrics = metrics
	out.Feedback = strings.TrimSpace(out.Feedback)
	return &out, nil
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(model.MaxResponseScore, util.Round2(v)))
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newMetrics(m map[string]float64) datatypes.JSONType[map[string]float64] {
	if m == nil {
		m = map[string]float64{}
	}
	return datatypes.NewJSONType(m)
}
