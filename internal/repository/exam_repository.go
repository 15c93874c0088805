package repository

import (
	"context"
	"database/sql"
	"time"

	"prepwise_backend/internal/model"

	"gorm.io/gorm"
)

type ExamRepository struct {
	DB *gorm.DB
}

func NewExamRepository(db *gorm.DB) *ExamRepository {
	return &ExamRepository{DB: db}
}

type ExamFilter struct {
	PublishedOnly bool
	Category      string
	Difficulty    string
	Search        string
	Page          int
	Limit         int
}

func (r *ExamRepository) CreateExam(ctx context.Context, exam *model.Exam) error {
	return r.DB.WithContext(ctx).Create(exam).Error
}

func (r *ExamRepository) UpdateExam(ctx context.Context, exam *model.Exam) error {
	return r.DB.WithContext(ctx).Omit("Questions").Save(exam).Error
}

// FindExam 按题目顺序预加载题目
func (r *ExamRepository) FindExam(ctx context.Context, id uint) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc")
		}).
		First(&exam, id).Error
	if err != nil {
		return nil, err
	}
	return &exam, nil
}

func (r *ExamRepository) ListExams(ctx context.Context, f ExamFilter) ([]model.Exam, int64, error) {
	query := r.DB.WithContext(ctx).Model(&model.Exam{})
	if f.PublishedOnly {
		query = query.Where("is_published = ?", true)
	}
	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.Difficulty != "" {
		query = query.Where("difficulty = ?", f.Difficulty)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", like, like)
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

	var exams []model.Exam
	err := query.Order("created_at desc").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&exams).Error
	return exams, total, err
}

func (r *ExamRepository) PublishExam(ctx context.Context, id uint, at time.Time) error {
	return r.DB.WithContext(ctx).Model(&model.Exam{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_published": true, "published_at": at}).Error
}

func (r *ExamRepository) CreateQuestion(ctx context.Context, q *model.Question) error {
	return r.DB.WithContext(ctx).Create(q).Error
}

func (r *ExamRepository) FindQuestion(ctx context.Context, id uint) (*model.Question, error) {
	var q model.Question
	if err := r.DB.WithContext(ctx).First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *ExamRepository) UpdateQuestion(ctx context.Context, q *model.Question) error {
	return r.DB.WithContext(ctx).Save(q).Error
}

func (r *ExamRepository) DeleteQuestion(ctx context.Context, id uint) error {
	return r.DB.WithContext(ctx).Delete(&model.Question{}, id).Error
}

// NextQuestionPosition 追加题目时使用的序号
func (r *ExamRepository) NextQuestionPosition(ctx context.Context, examID uint) (int, error) {
	var maxPos sql.NullInt64
	err := r.DB.WithContext(ctx).Model(&model.Question{}).
		Where("exam_id = ?", examID).
		Select("MAX(position)").
		Row().Scan(&maxPos)
	if err != nil {
		return 0, err
	}
	return int(maxPos.Int64) + 1, nil
}

// RefreshExamStats 重新统计完成次数与平均得分率
func (r *ExamRepository) RefreshExamStats(ctx context.Context, examID uint) error {
	var stats struct {
		Total   int64
		Average *float64
	}
	err := r.DB.WithContext(ctx).Model(&model.ExamAttempt{}).
		Select("COUNT(*) AS total, AVG(percentage) AS average").
		Where("exam_id = ? AND status = ?", examID, model.StatusCompleted).
		Scan(&stats).Error
	if err != nil {
		return err
	}

	avg := 0.0
	if stats.Average != nil {
		avg = *stats.Average
	}
	return r.DB.WithContext(ctx).Model(&model.Exam{}).
		Where("id = ?", examID).
		UpdateColumns(map[string]interface{}{"total_attempts": stats.Total, "average_score": avg}).Error
}
