package repository

import (
	"context"
	"database/sql"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InterviewRepository struct {
	DB *gorm.DB
}

func NewInterviewRepository(db *gorm.DB) *InterviewRepository {
	return &InterviewRepository{DB: db}
}

type InterviewFilter struct {
	UserID uint
	Status model.AttemptStatus
	Type   model.InterviewType
	Page   int
	Limit  int
}

// CreateInterview 面试与题目一并写入
func (r *InterviewRepository) CreateInterview(ctx context.Context, interview *model.Interview) error {
	return r.DB.WithContext(ctx).Create(interview).Error
}

func (r *InterviewRepository) FindInterview(ctx context.Context, id uint) (*model.Interview, error) {
	var interview model.Interview
	err := r.DB.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc")
		}).
		First(&interview, id).Error
	if err != nil {
		return nil, err
	}
	return &interview, nil
}

func (r *InterviewRepository) FindActiveInterview(ctx context.Context, userID uint, key string) (*model.Interview, error) {
	var interview model.Interview
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND active_key = ?", userID, key).
		First(&interview).Error
	if err != nil {
		return nil, err
	}
	return &interview, nil
}

// StartInterview scheduled -> in_progress，active_key 冲突表示已有进行中的同模板面试
func (r *InterviewRepository) StartInterview(ctx context.Context, interview *model.Interview) error {
	res := r.DB.WithContext(ctx).Model(&model.Interview{}).
		Where("id = ? AND status = ?", interview.ID, model.StatusScheduled).
		Updates(map[string]interface{}{
			"status":      model.StatusInProgress,
			"active_key":  interview.ActiveKey,
			"started_at":  interview.StartedAt,
			"deadline_at": interview.DeadlineAt,
		})
	if isDuplicateKey(res.Error) {
		return util.ErrAlreadyInProgress
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrInvalidState
	}
	return nil
}

// SaveResponse 仅在面试进行中时写入；覆盖提交会把评估状态重置为 pending
func (r *InterviewRepository) SaveResponse(ctx context.Context, resp *model.InterviewResponse) (*model.InterviewResponse, error) {
	var stored model.InterviewResponse
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Interview{}).
			Where("id = ? AND status = ?", resp.InterviewID, model.StatusInProgress).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return util.ErrInvalidState
		}

		set := clause.AssignmentColumns([]string{
			"response_text", "code", "media_url", "media_duration_seconds", "time_taken_seconds",
			"score", "feedback", "metrics", "evaluation_status", "needs_review", "evaluated_at", "updated_at",
		})
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: "revision"},
			Value:  gorm.Expr("interview_responses.revision + 1"),
		})
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "interview_id"}, {Name: "question_id"}},
			DoUpdates: set,
		}).Create(resp).Error
		if err != nil {
			return err
		}

		return tx.Where("interview_id = ? AND question_id = ?", resp.InterviewID, resp.QuestionID).First(&stored).Error
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *InterviewRepository) FindResponse(ctx context.Context, interviewID, questionID uint) (*model.InterviewResponse, error) {
	var resp model.InterviewResponse
	err := r.DB.WithContext(ctx).
		Where("interview_id = ? AND question_id = ?", interviewID, questionID).
		First(&resp).Error
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *InterviewRepository) FindResponseByID(ctx context.Context, id uint) (*model.InterviewResponse, error) {
	var resp model.InterviewResponse
	if err := r.DB.WithContext(ctx).First(&resp, id).Error; err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *InterviewRepository) ListResponses(ctx context.Context, interviewID uint) ([]model.InterviewResponse, error) {
	var responses []model.InterviewResponse
	err := r.DB.WithContext(ctx).Where("interview_id = ?", interviewID).Order("question_id asc").Find(&responses).Error
	return responses, err
}

// UpdateEvaluation 写入评估结果。revision 不一致说明作答已被覆盖，旧评估结果丢弃
func (r *InterviewRepository) UpdateEvaluation(ctx context.Context, resp *model.InterviewResponse) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.InterviewResponse{}).
		Where("id = ? AND revision = ?", resp.ID, resp.Revision).
		Updates(map[string]interface{}{
			"score":             resp.Score,
			"feedback":          resp.Feedback,
			"metrics":           resp.Metrics,
			"evaluation_status": resp.EvaluationStatus,
			"needs_review":      resp.NeedsReview,
			"evaluated_at":      resp.EvaluatedAt,
			"reviewed_by":       resp.ReviewedBy,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FinalizeInterview in_progress -> completed，在同一事务内计算成绩
func (r *InterviewRepository) FinalizeInterview(ctx context.Context, id uint, score func(*model.Interview, []model.InterviewResponse)) (*model.Interview, error) {
	var interview model.Interview
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Interview{}).
			Where("id = ? AND status = ?", id, model.StatusInProgress).
			Updates(map[string]interface{}{"status": model.StatusCompleted, "active_key": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return util.ErrInvalidState
		}
		return r.rescore(tx, id, &interview, score)
	})
	if err != nil {
		return nil, err
	}
	return &interview, nil
}

// RescoreInterview 已完成面试的迟到评估或人工复核后重新汇总成绩
func (r *InterviewRepository) RescoreInterview(ctx context.Context, id uint, score func(*model.Interview, []model.InterviewResponse)) (*model.Interview, error) {
	var interview model.Interview
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.rescore(tx, id, &interview, score)
	})
	if err != nil {
		return nil, err
	}
	return &interview, nil
}

func (r *InterviewRepository) rescore(tx *gorm.DB, id uint, interview *model.Interview, score func(*model.Interview, []model.InterviewResponse)) error {
	err := tx.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	}).First(interview, id).Error
	if err != nil {
		return err
	}
	var responses []model.InterviewResponse
	if err := tx.Where("interview_id = ?", id).Find(&responses).Error; err != nil {
		return err
	}

	score(interview, responses)
	return tx.Model(interview).Select(
		"ended_at", "expired", "total_score", "max_score", "percentage", "passed",
		"overall_feedback", "strengths", "weaknesses", "recommendations",
	).Updates(interview).Error
}

// TransitionInterview 从给定状态之一切换到终态，不计分
func (r *InterviewRepository) TransitionInterview(ctx context.Context, id uint, to model.AttemptStatus, at time.Time, from ...model.AttemptStatus) error {
	res := r.DB.WithContext(ctx).Model(&model.Interview{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{"status": to, "active_key": nil, "ended_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrInvalidState
	}
	return nil
}

func (r *InterviewRepository) ListInterviews(ctx context.Context, f InterviewFilter) ([]model.Interview, int64, error) {
	query := r.DB.WithContext(ctx).Model(&model.Interview{}).Where("user_id = ?", f.UserID)
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		query = query.Where("interview_type = ?", f.Type)
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

	var interviews []model.Interview
	err := query.Order("created_at desc, id desc").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&interviews).Error
	return interviews, total, err
}

func (r *InterviewRepository) CreateTemplate(ctx context.Context, t *model.InterviewTemplate) error {
	return r.DB.WithContext(ctx).Create(t).Error
}

func (r *InterviewRepository) UpdateTemplate(ctx context.Context, t *model.InterviewTemplate) error {
	return r.DB.WithContext(ctx).Save(t).Error
}

func (r *InterviewRepository) FindTemplate(ctx context.Context, id uint) (*model.InterviewTemplate, error) {
	var t model.InterviewTemplate
	if err := r.DB.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *InterviewRepository) ListTemplates(ctx context.Context, activeOnly bool, interviewType model.InterviewType) ([]model.InterviewTemplate, error) {
	query := r.DB.WithContext(ctx).Model(&model.InterviewTemplate{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if interviewType != "" {
		query = query.Where("interview_type = ?", interviewType)
	}
	var templates []model.InterviewTemplate
	err := query.Order("times_used desc, id asc").Find(&templates).Error
	return templates, err
}

func (r *InterviewRepository) IncrementTemplateUsage(ctx context.Context, id uint) error {
	return r.DB.WithContext(ctx).Model(&model.InterviewTemplate{}).
		Where("id = ?", id).
		UpdateColumn("times_used", gorm.Expr("times_used + 1")).Error
}

// RefreshTemplateStats 模板平均得分率取自已完成的面试
func (r *InterviewRepository) RefreshTemplateStats(ctx context.Context, id uint) error {
	var avg sql.NullFloat64
	err := r.DB.WithContext(ctx).Model(&model.Interview{}).
		Select("AVG(percentage)").
		Where("template_id = ? AND status = ?", id, model.StatusCompleted).
		Row().Scan(&avg)
	if err != nil {
		return err
	}
	return r.DB.WithContext(ctx).Model(&model.InterviewTemplate{}).
		Where("id = ?", id).
		UpdateColumn("average_score", avg.Float64).Error
}
