package repository

import (
	"context"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExamAttemptRepository struct {
	DB *gorm.DB
}

func NewExamAttemptRepository(db *gorm.DB) *ExamAttemptRepository {
	return &ExamAttemptRepository{DB: db}
}

type AttemptFilter struct {
	UserID uint
	ExamID uint
	Status model.AttemptStatus
	Page   int
	Limit  int
}

// CreateAttempt 依赖 active_key 唯一索引完成原子的检查并创建
func (r *ExamAttemptRepository) CreateAttempt(ctx context.Context, attempt *model.ExamAttempt) error {
	err := r.DB.WithContext(ctx).Omit("Exam", "Answers").Create(attempt).Error
	if isDuplicateKey(err) {
		return util.ErrAlreadyInProgress
	}
	return err
}

func (r *ExamAttemptRepository) FindActiveAttempt(ctx context.Context, userID, examID uint) (*model.ExamAttempt, error) {
	var attempt model.ExamAttempt
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND exam_id = ? AND status = ?", userID, examID, model.StatusInProgress).
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *ExamAttemptRepository) FindAttempt(ctx context.Context, id uint) (*model.ExamAttempt, error) {
	var attempt model.ExamAttempt
	if err := r.DB.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *ExamAttemptRepository) ListAnswers(ctx context.Context, attemptID uint) ([]model.Answer, error) {
	var answers []model.Answer
	err := r.DB.WithContext(ctx).Where("attempt_id = ?", attemptID).Order("question_id asc").Find(&answers).Error
	return answers, err
}

// SaveAnswer 仅在尝试仍进行中时写入，同一题重复提交覆盖旧答案。
// 先对尝试行做条件更新，与 FinalizeAttempt 互斥。
func (r *ExamAttemptRepository) SaveAnswer(ctx context.Context, answer *model.Answer) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ExamAttempt{}).
			Where("id = ? AND status = ?", answer.AttemptID, model.StatusInProgress).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return util.ErrInvalidState
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_answer", "is_correct", "points_awarded", "time_spent_seconds", "updated_at"}),
		}).Create(answer).Error
	})
}

// FinalizeAttempt 在事务中将尝试从进行中切换为完成，并由 score 计算成绩
func (r *ExamAttemptRepository) FinalizeAttempt(ctx context.Context, id uint, score func(*model.ExamAttempt, []model.Answer)) (*model.ExamAttempt, error) {
	var attempt model.ExamAttempt
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ExamAttempt{}).
			Where("id = ? AND status = ?", id, model.StatusInProgress).
			Updates(map[string]interface{}{"status": model.StatusCompleted, "active_key": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return util.ErrInvalidState
		}

		if err := tx.First(&attempt, id).Error; err != nil {
			return err
		}
		var answers []model.Answer
		if err := tx.Where("attempt_id = ?", id).Find(&answers).Error; err != nil {
			return err
		}

		score(&attempt, answers)
		return tx.Model(&attempt).Select(
			"ended_at", "time_taken_seconds", "expired",
			"points_obtained", "percentage", "passed",
		).Updates(&attempt).Error
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// AbandonAttempt 只允许从进行中放弃
func (r *ExamAttemptRepository) AbandonAttempt(ctx context.Context, id uint, at time.Time) error {
	res := r.DB.WithContext(ctx).Model(&model.ExamAttempt{}).
		Where("id = ? AND status = ?", id, model.StatusInProgress).
		Updates(map[string]interface{}{"status": model.StatusAbandoned, "active_key": nil, "ended_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrInvalidState
	}
	return nil
}

func (r *ExamAttemptRepository) ListAttempts(ctx context.Context, f AttemptFilter) ([]model.ExamAttempt, int64, error) {
	query := r.DB.WithContext(ctx).Model(&model.ExamAttempt{}).Where("user_id = ?", f.UserID)
	if f.ExamID != 0 {
		query = query.Where("exam_id = ?", f.ExamID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	var attempts []model.ExamAttempt
	err := query.Preload("Exam").
		Order("started_at desc, id desc").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&attempts).Error
	return attempts, total, err
}
