package model

import (
	"time"

	"gorm.io/datatypes"
)

// swagger:model UserAnalytics
type UserAnalytics struct {
	ID     uint `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint `gorm:"not null;uniqueIndex" json:"userId"`

	ExamStats      ExamSummary      `gorm:"embedded;embeddedPrefix:exam_" json:"examStats"`
	InterviewStats InterviewSummary `gorm:"embedded;embeddedPrefix:interview_" json:"interviewStats"`

	CurrentStreakDays int        `gorm:"default:0" json:"currentStreakDays"`
	LongestStreakDays int        `gorm:"default:0" json:"longestStreakDays"`
	LastActivityDate  string     `gorm:"size:10" json:"lastActivityDate"` // yyyy-mm-dd

	SkillScores datatypes.JSONType[map[string]float64] `json:"skillScores"`
	StrongAreas datatypes.JSONSlice[string]            `json:"strongAreas"`
	WeakAreas   datatypes.JSONSlice[string]            `json:"weakAreas"`

	LastCalculatedAt *time.Time `json:"lastCalculatedAt"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (UserAnalytics) TableName() string {
	return "user_analytics"
}

type ExamSummary struct {
	Completed        int64   `gorm:"column:completed;default:0" json:"completed"`
	Passed           int64   `gorm:"column:passed;default:0" json:"passed"`
	AverageScore     float64 `gorm:"column:average_score;default:0" json:"averageScore"`
	MaxScore         float64 `gorm:"column:max_score;default:0" json:"maxScore"`
	TotalTimeSeconds int64   `gorm:"column:total_time_seconds;default:0" json:"totalTimeSeconds"`
}

type InterviewSummary struct {
	Total            int64   `gorm:"column:total;default:0" json:"total"`
	Completed        int64   `gorm:"column:completed;default:0" json:"completed"`
	AverageScore     float64 `gorm:"column:average_score;default:0" json:"averageScore"`
	TotalTimeSeconds int64   `gorm:"column:total_time_seconds;default:0" json:"totalTimeSeconds"`
}

type ActivityType string

const (
	ActivityLogin              ActivityType = "login"
	ActivityExamStarted        ActivityType = "exam_started"
	ActivityExamCompleted      ActivityType = "exam_completed"
	ActivityInterviewStarted   ActivityType = "interview_started"
	ActivityInterviewCompleted ActivityType = "interview_completed"
	ActivitySubscription       ActivityType = "subscription_changed"
)

func (t ActivityType) Valid() bool {
	switch t {
	case ActivityLogin, ActivityExamStarted, ActivityExamCompleted,
		ActivityInterviewStarted, ActivityInterviewCompleted, ActivitySubscription:
		return true
	}
	return false
}

// swagger:model ActivityLog
type ActivityLog struct {
	ID           uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint              `gorm:"not null;index:idx_activity_user_time,priority:1" json:"userId"`
	ActivityType ActivityType      `gorm:"size:30;not null" json:"activityType"`
	Description  string            `gorm:"size:255" json:"description"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	CreatedAt    time.Time         `gorm:"index:idx_activity_user_time,priority:2" json:"createdAt"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}
