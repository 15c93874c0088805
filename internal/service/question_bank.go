package service

import (
	"fmt"
	"os"
	"strings"

	"prepwise_backend/internal/model"

	"gopkg.in/yaml.v3"
)

type BankQuestion struct {
	Category       model.QuestionCategory `yaml:"category"`
	Text           string                 `yaml:"text"`
	ExpectedAnswer string                 `yaml:"expected_answer"`
	Criteria       []string               `yaml:"criteria"`
}

// QuestionBank 自定义面试的出题来源
type QuestionBank struct {
	SkillQuestions []BankQuestion                         `yaml:"skill_questions"`
	ByType         map[model.InterviewType][]BankQuestion `yaml:"by_type"`
}

func LoadQuestionBank(path string) (*QuestionBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	return ParseQuestionBank(data)
}

func ParseQuestionBank(data []byte) (*QuestionBank, error) {
	var bank QuestionBank
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	if len(bank.SkillQuestions) == 0 && len(bank.ByType) == 0 {
		return nil, fmt.Errorf("question bank is empty")
	}
	return &bank, nil
}

// DefaultQuestionBank 题库文件缺失时的兜底
func DefaultQuestionBank() *QuestionBank {
	return &QuestionBank{
		SkillQuestions: []BankQuestion{
			{Category: model.CategoryTechnical, Text: "Explain the core concepts of {skill} and where you have applied them.", Criteria: []string{"accuracy", "depth", "examples"}},
		},
		ByType: map[model.InterviewType][]BankQuestion{
			model.InterviewMixed: {
				{Category: model.CategoryBehavioral, Text: "Tell me about a challenging problem you solved recently.", Criteria: []string{"clarity", "ownership", "outcome"}},
			},
		},
	}
}

// Generate 先按技能出题，再用面试类型题补足；结果确定，便于复现
func (b *QuestionBank) Generate(interviewType model.InterviewType, skills []string, n int) []model.InterviewQuestion {
	if n <= 0 {
		return nil
	}

	var out []model.InterviewQuestion
	add := func(q BankQuestion, skill string) {
		text := strings.ReplaceAll(q.Text, "{skill}", skill)
		for _, existing := range out {
			if existing.Text == text {
				return
			}
		}
		tags := []string{string(q.Category)}
		if skill != "" {
			tags = []string{strings.ToLower(skill)}
		}
		out = append(out, model.InterviewQuestion{
			Position:           len(out) + 1,
			Category:           q.Category,
			Text:               text,
			ExpectedAnswer:     strings.ReplaceAll(q.ExpectedAnswer, "{skill}", skill),
			EvaluationCriteria: q.Criteria,
			Tags:               tags,
			MaxScore:           model.MaxResponseScore,
			TimeLimitSeconds:   300,
		})
	}

	skillSlots := (n + 1) / 2
	if len(b.ByType[interviewType]) == 0 && len(b.ByType[model.InterviewMixed]) == 0 {
		skillSlots = n
	}
	for i, skill := range dedupeSkills(skills) {
		if len(out) >= skillSlots || len(b.SkillQuestions) == 0 {
			break
		}
		add(b.SkillQuestions[i%len(b.SkillQuestions)], skill)
	}

	pool := b.ByType[interviewType]
	if interviewType != model.InterviewMixed {
		pool = append(append([]BankQuestion{}, pool...), b.ByType[model.InterviewMixed]...)
	}
	for _, q := range pool {
		if len(out) >= n {
			break
		}
		add(q, "")
	}
	return out
}

func dedupeSkills(skills []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range skills {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
