// Package scoring 实现单题评分规则，纯函数，不访问存储。
package scoring

import (
	"strings"
)

// Kind 题目类型
type Kind string

const (
	SingleChoice   Kind = "single_choice"
	MultipleChoice Kind = "multiple_choice"
	TrueFalse      Kind = "true_false"
	ShortAnswer    Kind = "short_answer"
	Code           Kind = "code"
)

// Objective 客观题按集合比对，主观题按子串匹配
func (k Kind) Objective() bool {
	switch k {
	case SingleChoice, MultipleChoice, TrueFalse:
		return true
	}
	return false
}

func (k Kind) Valid() bool {
	switch k {
	case SingleChoice, MultipleChoice, TrueFalse, ShortAnswer, Code:
		return true
	}
	return false
}

// Item 评分所需的题目快照
type Item struct {
	Kind      Kind
	Canonical []string
	Points    float64
	Penalty   float64
}

// Result 单题评分结果
type Result struct {
	Correct bool    `json:"isCorrect"`
	Points  float64 `json:"pointsAwarded"`
}

// Grade 对一次作答评分。空作答永远不正确，配置了扣分时返回 -Penalty。
// 主观题只要任一标准答案是作答文本的子串即判对，这是已知的弱判定。
func Grade(item Item, submitted []string) Result {
	answers := Normalize(submitted)
	if len(answers) == 0 {
		return Result{Correct: false, Points: deduction(item)}
	}

	var correct bool
	if item.Kind.Objective() {
		correct = sameSet(answers, Normalize(item.Canonical))
	} else {
		correct = containsAny(strings.Join(answers, " "), Normalize(item.Canonical))
	}

	if correct {
		return Result{Correct: true, Points: item.Points}
	}
	return Result{Correct: false, Points: deduction(item)}
}

// Normalize 去除首尾空白并转小写，丢弃空串
func Normalize(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func deduction(item Item) float64 {
	if item.Penalty > 0 {
		return -item.Penalty
	}
	return 0
}

func sameSet(a, b []string) bool {
	if len(b) == 0 {
		return false
	}
	left := toSet(a)
	right := toSet(b)
	if len(left) != len(right) {
		return false
	}
	for k := range left {
		if _, ok := right[k]; !ok {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func containsAny(text string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(text, c) {
			return true
		}
	}
	return false
}
