package model

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	StatusScheduled  AttemptStatus = "scheduled"
	StatusInProgress AttemptStatus = "in_progress"
	StatusCompleted  AttemptStatus = "completed"
	StatusAbandoned  AttemptStatus = "abandoned"
	StatusCancelled  AttemptStatus = "cancelled"
)

func (s AttemptStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned || s == StatusCancelled
}

// swagger:model ExamAttempt
type ExamAttempt struct {
	ID     uint `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint `gorm:"not null;index:idx_attempt_user_exam,priority:1" json:"userId"`
	ExamID uint `gorm:"not null;index:idx_attempt_user_exam,priority:2" json:"examId"`

	Status AttemptStatus `gorm:"size:20;not null;index" json:"status"`
	// 仅在进行中时有值，唯一索引保证同一用户同一试卷最多一个进行中的尝试
	ActiveKey *string `gorm:"size:64;uniqueIndex" json:"-"`

	StartedAt        time.Time  `json:"startedAt"`
	DeadlineAt       *time.Time `json:"deadlineAt"`
	EndedAt          *time.Time `json:"endedAt"`
	TimeTakenSeconds int        `gorm:"default:0" json:"timeTakenSeconds"`
	Expired          bool       `gorm:"default:false" json:"expired"`

	TotalPoints    float64 `json:"totalPoints"`
	PassingPoints  float64 `json:"passingPoints"`
	PointsObtained float64 `gorm:"default:0" json:"pointsObtained"`
	Percentage     float64 `gorm:"default:0" json:"percentage"`
	Passed         bool    `gorm:"default:false" json:"passed"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Exam    *Exam    `gorm:"foreignKey:ExamID" json:"exam,omitempty"`
	Answers []Answer `gorm:"foreignKey:AttemptID" json:"answers,omitempty"`
}

func (ExamAttempt) TableName() string {
	return "exam_attempts"
}

// PastDeadline 到期判断在读写时惰性进行
func (a *ExamAttempt) PastDeadline(now time.Time) bool {
	return a.DeadlineAt != nil && now.After(*a.DeadlineAt)
}

// swagger:model Answer
type Answer struct {
	ID               uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	AttemptID        uint                        `gorm:"not null;uniqueIndex:idx_answer_attempt_question,priority:1" json:"attemptId"`
	QuestionID       uint                        `gorm:"not null;uniqueIndex:idx_answer_attempt_question,priority:2" json:"questionId"`
	UserAnswer       datatypes.JSONSlice[string] `json:"userAnswer"`
	IsCorrect        bool                        `gorm:"default:false" json:"isCorrect"`
	PointsAwarded    float64                     `gorm:"default:0" json:"pointsAwarded"`
	TimeSpentSeconds int                         `gorm:"default:0" json:"timeSpentSeconds"`
	CreatedAt        time.Time                   `json:"createdAt"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
}

func (Answer) TableName() string {
	return "exam_answers"
}
