package repository

import (
	"context"

	"prepwise_backend/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AnalyticsRepository struct {
	DB *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{DB: db}
}

// ItemScoreRow 单题得分与其标签，用于技能汇总
type ItemScoreRow struct {
	Tags      datatypes.JSONSlice[string]
	Awarded   float64
	Available float64
}

func (r *AnalyticsRepository) FindSnapshot(ctx context.Context, userID uint) (*model.UserAnalytics, error) {
	var snap model.UserAnalytics
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&snap).Error; err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveStats 只写统计列，不覆盖连续打卡字段
func (r *AnalyticsRepository) SaveStats(ctx context.Context, snap *model.UserAnalytics) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"exam_completed", "exam_passed", "exam_average_score", "exam_max_score", "exam_total_time_seconds",
			"interview_total", "interview_completed", "interview_average_score", "interview_total_time_seconds",
			"skill_scores", "strong_areas", "weak_areas", "last_calculated_at", "updated_at",
		}),
	}).Create(snap).Error
}

// UpdateStreak 在事务内读取并更新连续打卡字段，apply 返回 false 表示无变化
func (r *AnalyticsRepository) UpdateStreak(ctx context.Context, userID uint, apply func(*model.UserAnalytics) bool) (*model.UserAnalytics, bool, error) {
	var snap model.UserAnalytics
	changed := false
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ?", userID).
			Attrs(model.UserAnalytics{UserID: userID}).
			FirstOrCreate(&snap).Error
		if err != nil {
			return err
		}
		if !apply(&snap) {
			return nil
		}
		changed = true
		return tx.Model(&snap).Select("current_streak_days", "longest_streak_days", "last_activity_date").Updates(&snap).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &snap, changed, nil
}

func (r *AnalyticsRepository) ListExamAttempts(ctx context.Context, userID uint) ([]model.ExamAttempt, error) {
	var attempts []model.ExamAttempt
	err := r.DB.WithContext(ctx).
		Preload("Exam", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("user_id = ? AND status = ?", userID, model.StatusCompleted).
		Order("id asc").
		Find(&attempts).Error
	return attempts, err
}

func (r *AnalyticsRepository) ListExamItemScores(ctx context.Context, userID uint) ([]ItemScoreRow, error) {
	var rows []ItemScoreRow
	err := r.DB.WithContext(ctx).
		Table("exam_answers a").
		Select("q.tags AS tags, a.points_awarded AS awarded, q.points AS available").
		Joins("JOIN exam_attempts t ON t.id = a.attempt_id").
		Joins("JOIN exam_questions q ON q.id = a.question_id").
		Where("t.user_id = ? AND t.status = ?", userID, model.StatusCompleted).
		Order("a.id asc").
		Scan(&rows).Error
	return rows, err
}

func (r *AnalyticsRepository) ListInterviews(ctx context.Context, userID uint) ([]model.Interview, error) {
	var interviews []model.Interview
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id asc").
		Find(&interviews).Error
	return interviews, err
}

func (r *AnalyticsRepository) ListInterviewItemScores(ctx context.Context, userID uint) ([]ItemScoreRow, error) {
	var rows []ItemScoreRow
	err := r.DB.WithContext(ctx).
		Table("interview_responses r").
		Select("q.tags AS tags, r.score AS awarded, q.max_score AS available").
		Joins("JOIN interviews i ON i.id = r.interview_id").
		Joins("JOIN interview_questions q ON q.id = r.question_id").
		Where("i.user_id = ? AND i.status = ? AND r.evaluation_status = ?", userID, model.StatusCompleted, model.EvaluationDone).
		Order("r.id asc").
		Scan(&rows).Error
	return rows, err
}

func (r *AnalyticsRepository) CreateActivity(ctx context.Context, log *model.ActivityLog) error {
	return r.DB.WithContext(ctx).Create(log).Error
}

func (r *AnalyticsRepository) ListActivities(ctx context.Context, userID uint, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []model.ActivityLog
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
