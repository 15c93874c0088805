package model

import (
	"time"

	"gorm.io/datatypes"
)

type InterviewType string

const (
	InterviewTechnical    InterviewType = "technical"
	InterviewBehavioral   InterviewType = "behavioral"
	InterviewSystemDesign InterviewType = "system_design"
	InterviewHR           InterviewType = "hr"
	InterviewMixed        InterviewType = "mixed"
)

type QuestionCategory string

const (
	CategoryTechnical    QuestionCategory = "technical"
	CategoryBehavioral   QuestionCategory = "behavioral"
	CategoryCoding       QuestionCategory = "coding"
	CategorySystemDesign QuestionCategory = "system_design"
	CategorySituational  QuestionCategory = "situational"
)

// MaxResponseScore 单题评估分上限
const MaxResponseScore = 10.0

// swagger:model Interview
type Interview struct {
	ID         uint  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint  `gorm:"not null;index" json:"userId"`
	TemplateID *uint `gorm:"index" json:"templateId"`

	Title          string                      `gorm:"size:200;not null" json:"title"`
	InterviewType  InterviewType               `gorm:"size:20;not null" json:"interviewType"`
	JobRole        string                      `gorm:"size:100" json:"jobRole"`
	Company        string                      `gorm:"size:100" json:"company"`
	Difficulty     Difficulty                  `gorm:"size:20;default:'medium'" json:"difficulty"`
	RequiredSkills datatypes.JSONSlice[string] `json:"requiredSkills"`

	Status    AttemptStatus `gorm:"size:20;not null;index" json:"status"`
	ActiveKey *string       `gorm:"size:64;uniqueIndex" json:"-"`

	ScheduledAt     *time.Time `json:"scheduledAt"`
	StartedAt       *time.Time `json:"startedAt"`
	DeadlineAt      *time.Time `json:"deadlineAt"`
	EndedAt         *time.Time `json:"endedAt"`
	DurationMinutes int        `gorm:"default:30" json:"durationMinutes"`
	Expired         bool       `gorm:"default:false" json:"expired"`

	TotalScore   float64 `gorm:"default:0" json:"totalScore"`
	MaxScore     float64 `gorm:"default:0" json:"maxScore"`
	PassingScore float64 `gorm:"default:0" json:"passingScore"`
	Percentage   float64 `gorm:"default:0" json:"percentage"`
	Passed       bool    `gorm:"default:false" json:"passed"`

	OverallFeedback string                      `gorm:"type:text" json:"overallFeedback"`
	Strengths       datatypes.JSONSlice[string] `json:"strengths"`
	Weaknesses      datatypes.JSONSlice[string] `json:"weaknesses"`
	Recommendations datatypes.JSONSlice[string] `json:"recommendations"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Questions []InterviewQuestion `gorm:"foreignKey:InterviewID" json:"questions,omitempty"`
}

func (Interview) TableName() string {
	return "interviews"
}

func (i *Interview) PastDeadline(now time.Time) bool {
	return i.DeadlineAt != nil && now.After(*i.DeadlineAt)
}

// swagger:model InterviewQuestion
type InterviewQuestion struct {
	ID                 uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	InterviewID        uint                        `gorm:"not null;uniqueIndex:idx_interview_question_position,priority:1" json:"interviewId"`
	Position           int                         `gorm:"not null;uniqueIndex:idx_interview_question_position,priority:2" json:"position"`
	Category           QuestionCategory            `gorm:"size:20;not null" json:"category"`
	Text               string                      `gorm:"type:text;not null" json:"text"`
	ExpectedAnswer     string                      `gorm:"type:text" json:"-"`
	EvaluationCriteria datatypes.JSONSlice[string] `json:"evaluationCriteria"`
	Tags               datatypes.JSONSlice[string] `json:"tags"`
	MaxScore           float64                     `gorm:"default:10" json:"maxScore"`
	TimeLimitSeconds   int                         `gorm:"default:300" json:"timeLimitSeconds"`
	CreatedAt          time.Time                   `json:"createdAt"`
}

func (InterviewQuestion) TableName() string {
	return "interview_questions"
}

type EvaluationStatus string

const (
	EvaluationPending     EvaluationStatus = "pending"
	EvaluationDone        EvaluationStatus = "evaluated"
	EvaluationNeedsReview EvaluationStatus = "needs_review"
)

// swagger:model InterviewResponse
type InterviewResponse struct {
	ID                   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	InterviewID          uint   `gorm:"not null;uniqueIndex:idx_response_interview_question,priority:1" json:"interviewId"`
	QuestionID           uint   `gorm:"not null;uniqueIndex:idx_response_interview_question,priority:2" json:"questionId"`
	ResponseText         string `gorm:"type:text" json:"responseText"`
	Code                 string `gorm:"type:text" json:"code"`
	MediaURL             string `gorm:"size:500" json:"mediaUrl"`
	MediaDurationSeconds int    `gorm:"default:0" json:"mediaDurationSeconds"`
	TimeTakenSeconds     int    `gorm:"default:0" json:"timeTakenSeconds"`
	// 每次覆盖提交递增，用于丢弃过期的异步评估结果
	Revision int `gorm:"default:0" json:"revision"`

	Score            float64                                 `gorm:"default:0" json:"score"`
	Feedback         string                                  `gorm:"type:text" json:"feedback"`
	Metrics          datatypes.JSONType[map[string]float64] `json:"metrics"`
	EvaluationStatus EvaluationStatus                        `gorm:"size:20;default:'pending';index" json:"evaluationStatus"`
	NeedsReview      bool                                    `gorm:"default:false" json:"needsReview"`
	ReviewedBy       *uint                                   `json:"reviewedBy"`
	EvaluatedAt      *time.Time                              `json:"evaluatedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (InterviewResponse) TableName() string {
	return "interview_responses"
}

// Content 交给评估服务的作答文本
func (r *InterviewResponse) Content() string {
	switch {
	case r.ResponseText != "" && r.Code != "":
		return r.ResponseText + "\n\n" + r.Code
	case r.Code != "":
		return r.Code
	default:
		return r.ResponseText
	}
}
