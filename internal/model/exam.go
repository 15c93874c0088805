package model

import (
	"time"

	"prepwise_backend/internal/scoring"

	"gorm.io/datatypes"
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// swagger:model Exam
type Exam struct {
	BaseModel
	Title              string     `gorm:"size:200;not null" json:"title"`
	Description        string     `gorm:"type:text" json:"description"`
	Category           string     `gorm:"size:50;index" json:"category"`
	Difficulty         Difficulty `gorm:"size:20;default:'medium'" json:"difficulty"`
	DurationMinutes    int        `gorm:"default:0" json:"durationMinutes"` // 0 表示不限时
	PassingPoints      float64    `gorm:"default:0" json:"passingPoints"`
	IsPublished        bool       `gorm:"default:false;index" json:"isPublished"`
	PublishedAt        *time.Time `json:"publishedAt"`
	IsPremium          bool       `gorm:"default:false" json:"isPremium"`
	AllowReview        bool       `gorm:"default:true" json:"allowReview"`
	RandomizeQuestions bool       `gorm:"default:false" json:"randomizeQuestions"`
	CreatedBy          uint       `gorm:"index" json:"createdBy"`

	// 统计字段，由完成的尝试异步刷新
	TotalAttempts int64   `gorm:"default:0" json:"totalAttempts"`
	AverageScore  float64 `gorm:"default:0" json:"averageScore"`

	Questions []Question `gorm:"foreignKey:ExamID" json:"questions,omitempty"`
}

func (Exam) TableName() string {
	return "exams"
}

// TotalPoints 满分为所有题目分值之和
func (e *Exam) TotalPoints() float64 {
	total := 0.0
	for _, q := range e.Questions {
		total += q.Points
	}
	return total
}

type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// swagger:model Question
type Question struct {
	ID             uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	ExamID         uint                        `gorm:"not null;uniqueIndex:idx_exam_question_position,priority:1" json:"examId"`
	Position       int                         `gorm:"not null;uniqueIndex:idx_exam_question_position,priority:2" json:"position"`
	Type           scoring.Kind                `gorm:"size:20;not null" json:"type"`
	Text           string                      `gorm:"type:text;not null" json:"text"`
	Options        datatypes.JSONSlice[Option] `json:"options"`
	CorrectAnswers datatypes.JSONSlice[string] `json:"correctAnswers"`
	Points         float64                     `gorm:"not null;default:1" json:"points"`
	NegativePoints float64                     `gorm:"default:0" json:"negativePoints"`
	Explanation    string                      `gorm:"type:text" json:"explanation"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	CreatedAt      time.Time                   `json:"createdAt"`
	UpdatedAt      time.Time                   `json:"updatedAt"`
}

func (Question) TableName() string {
	return "exam_questions"
}

func (q *Question) ScoringItem() scoring.Item {
	return scoring.Item{
		Kind:      q.Type,
		Canonical: q.CorrectAnswers,
		Points:    q.Points,
		Penalty:   q.NegativePoints,
	}
}

func (q *Question) Definition() scoring.Definition {
	ids := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		ids = append(ids, o.ID)
	}
	return scoring.Definition{
		Kind:      q.Type,
		OptionIDs: ids,
		Canonical: q.CorrectAnswers,
		Points:    q.Points,
		Penalty:   q.NegativePoints,
	}
}
