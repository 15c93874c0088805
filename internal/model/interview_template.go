package model

import (
	"gorm.io/datatypes"
)

// TemplateQuestion 模板内的题目规格，使用模板时复制为 InterviewQuestion
type TemplateQuestion struct {
	Category           QuestionCategory `json:"category"`
	Text               string           `json:"text"`
	ExpectedAnswer     string           `json:"expectedAnswer,omitempty"`
	EvaluationCriteria []string         `json:"evaluationCriteria,omitempty"`
	Tags               []string         `json:"tags,omitempty"`
	TimeLimitSeconds   int              `json:"timeLimitSeconds,omitempty"`
}

// swagger:model InterviewTemplate
type InterviewTemplate struct {
	BaseModel
	Title           string                                `gorm:"size:200;not null" json:"title"`
	Description     string                                `gorm:"type:text" json:"description"`
	InterviewType   InterviewType                         `gorm:"size:20;not null" json:"interviewType"`
	JobRole         string                                `gorm:"size:100" json:"jobRole"`
	Difficulty      Difficulty                            `gorm:"size:20;default:'medium'" json:"difficulty"`
	DurationMinutes int                                   `gorm:"default:30" json:"durationMinutes"`
	PassingScore    float64                               `gorm:"default:0" json:"passingScore"` // 0 表示取满分的 60%
	Questions       datatypes.JSONSlice[TemplateQuestion] `json:"questions"`
	IsActive        bool                                  `gorm:"default:true;index" json:"isActive"`
	IsPremium       bool                                  `gorm:"default:false" json:"isPremium"`
	TimesUsed       int64                                 `gorm:"default:0" json:"timesUsed"`
	AverageScore    float64                               `gorm:"default:0" json:"averageScore"`
	CreatedBy       uint                                  `json:"createdBy"`
}

func (InterviewTemplate) TableName() string {
	return "interview_templates"
}
