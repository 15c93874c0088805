package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/repository"
	"prepwise_backend/internal/scoring"
	"prepwise_backend/internal/util"

	"github.com/jinzhu/copier"
)

// ExamAuthoringStore 试卷及题目的持久化
type ExamAuthoringStore interface {
	CreateExam(ctx context.Context, exam *model.Exam) error
	UpdateExam(ctx context.Context, exam *model.Exam) error
	FindExam(ctx context.Context, id uint) (*model.Exam, error)
	ListExams(ctx context.Context, f repository.ExamFilter) ([]model.Exam, int64, error)
	PublishExam(ctx context.Context, id uint, at time.Time) error
	CreateQuestion(ctx context.Context, q *model.Question) error
	FindQuestion(ctx context.Context, id uint) (*model.Question, error)
	UpdateQuestion(ctx context.Context, q *model.Question) error
	DeleteQuestion(ctx context.Context, id uint) error
	NextQuestionPosition(ctx context.Context, examID uint) (int, error)
}

type ExamService struct {
	Repo ExamAuthoringStore
	now  func() time.Time
}

func NewExamService(repo ExamAuthoringStore) *ExamService {
	return &ExamService{Repo: repo, now: time.Now}
}

type ExamRequest struct {
	Title              string           `json:"title" binding:"required,max=200"`
	Description        string           `json:"description"`
	Category           string           `json:"category" binding:"max=50"`
	Difficulty         model.Difficulty `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	DurationMinutes    int              `json:"durationMinutes" binding:"min=0"`
	PassingPoints      *float64         `json:"passingPoints"`
	IsPremium          bool             `json:"isPremium"`
	AllowReview        *bool            `json:"allowReview"`
	RandomizeQuestions bool             `json:"randomizeQuestions"`
}

type QuestionRequest struct {
	Type           scoring.Kind   `json:"type" binding:"required"`
	Text           string         `json:"text" binding:"required"`
	Options        []model.Option `json:"options"`
	CorrectAnswers []string       `json:"correctAnswers"`
	Points         float64        `json:"points"`
	NegativePoints float64        `json:"negativePoints"`
	Explanation    string         `json:"explanation"`
	Tags           []string       `json:"tags"`
}

// ExamView 考生可见的试卷，不含答案
type ExamView struct {
	ID              uint             `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Category        string           `json:"category"`
	Difficulty      model.Difficulty `json:"difficulty"`
	DurationMinutes int              `json:"durationMinutes"`
	PassingPoints   float64          `json:"passingPoints"`
	IsPremium       bool             `json:"isPremium"`
	TotalAttempts   int64            `json:"totalAttempts"`
	AverageScore    float64          `json:"averageScore"`
	TotalPoints     float64          `json:"totalPoints"`
	QuestionCount   int              `json:"questionCount"`
	Questions       []QuestionView   `json:"questions,omitempty" copier:"-"`
}

type QuestionView struct {
	ID       uint           `json:"id"`
	Position int            `json:"position"`
	Type     scoring.Kind   `json:"type"`
	Text     string         `json:"text"`
	Options  []model.Option `json:"options"`
	Points   float64        `json:"points"`
	Tags     []string       `json:"tags"`
}

func toExamView(exam *model.Exam, withQuestions bool) (ExamView, error) {
	var view ExamView
	if err := copier.Copy(&view, exam); err != nil {
		return view, fmt.Errorf("build exam view: %w", err)
	}
	view.TotalPoints = exam.TotalPoints()
	view.QuestionCount = len(exam.Questions)
	if withQuestions {
		view.Questions = toQuestionViews(exam.Questions)
	}
	return view, nil
}

func toQuestionViews(questions []model.Question) []QuestionView {
	views := make([]QuestionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, QuestionView{
			ID:       q.ID,
			Position: q.Position,
			Type:     q.Type,
			Text:     q.Text,
			Options:  q.Options,
			Points:   q.Points,
			Tags:     q.Tags,
		})
	}
	return views
}

func (s *ExamService) CreateExam(ctx context.Context, adminID uint, req ExamRequest) (*model.Exam, error) {
	exam := &model.Exam{CreatedBy: adminID, AllowReview: true, Difficulty: model.Medium}
	applyExamRequest(exam, req)
	if err := s.Repo.CreateExam(ctx, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

func (s *ExamService) UpdateExam(ctx context.Context, id uint, req ExamRequest) (*model.Exam, error) {
	exam, err := s.Repo.FindExam(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if exam.IsPublished {
		return nil, util.ErrDefinitionPublished
	}
	applyExamRequest(exam, req)
	if err := s.Repo.UpdateExam(ctx, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

func applyExamRequest(exam *model.Exam, req ExamRequest) {
	exam.Title = strings.TrimSpace(req.Title)
	exam.Description = req.Description
	exam.Category = strings.TrimSpace(req.Category)
	if req.Difficulty != "" {
		exam.Difficulty = req.Difficulty
	}
	exam.DurationMinutes = req.DurationMinutes
	exam.IsPremium = req.IsPremium
	exam.RandomizeQuestions = req.RandomizeQuestions
	if req.AllowReview != nil {
		exam.AllowReview = *req.AllowReview
	}
	if req.PassingPoints != nil {
		exam.PassingPoints = *req.PassingPoints
	}
}

func (s *ExamService) AddQuestion(ctx context.Context, examID uint, req QuestionRequest) (*model.Question, error) {
	exam, err := s.Repo.FindExam(ctx, examID)
	if err != nil {
		return nil, translate(err)
	}
	if exam.IsPublished {
		return nil, util.ErrDefinitionPublished
	}

	q := &model.Question{ExamID: examID}
	if err := applyQuestionRequest(q, req); err != nil {
		return nil, err
	}
	pos, err := s.Repo.NextQuestionPosition(ctx, examID)
	if err != nil {
		return nil, err
	}
	q.Position = pos
	if err := s.Repo.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *ExamService) UpdateQuestion(ctx context.Context, questionID uint, req QuestionRequest) (*model.Question, error) {
	q, err := s.editableQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if err := applyQuestionRequest(q, req); err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *ExamService) DeleteQuestion(ctx context.Context, questionID uint) error {
	q, err := s.editableQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	return s.Repo.DeleteQuestion(ctx, q.ID)
}

func (s *ExamService) editableQuestion(ctx context.Context, questionID uint) (*model.Question, error) {
	q, err := s.Repo.FindQuestion(ctx, questionID)
	if err != nil {
		return nil, translate(err)
	}
	exam, err := s.Repo.FindExam(ctx, q.ExamID)
	if err != nil {
		return nil, translate(err)
	}
	if exam.IsPublished {
		return nil, util.ErrDefinitionPublished
	}
	return q, nil
}

func applyQuestionRequest(q *model.Question, req QuestionRequest) error {
	points := req.Points
	if points == 0 {
		points = 1
	}
	q.Type = req.Type
	q.Text = strings.TrimSpace(req.Text)
	q.Options = req.Options
	q.CorrectAnswers = req.CorrectAnswers
	q.Points = points
	q.NegativePoints = req.NegativePoints
	q.Explanation = req.Explanation
	q.Tags = normalizeTags(req.Tags)

	if q.Text == "" {
		return fmt.Errorf("%w: question text is required", util.ErrInvalidInput)
	}
	if err := scoring.Validate(q.Definition()); err != nil {
		return fmt.Errorf("%w: %v", util.ErrInvalidInput, err)
	}
	return nil
}

// Publish 发布后试卷不可再修改
func (s *ExamService) Publish(ctx context.Context, id uint) (*model.Exam, error) {
	exam, err := s.Repo.FindExam(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if exam.IsPublished {
		return nil, util.ErrDefinitionPublished
	}
	if len(exam.Questions) == 0 {
		return nil, fmt.Errorf("%w: exam has no questions", util.ErrInvalidInput)
	}
	for i := range exam.Questions {
		if err := scoring.Validate(exam.Questions[i].Definition()); err != nil {
			return nil, fmt.Errorf("%w: question %d: %v", util.ErrInvalidInput, exam.Questions[i].ID, err)
		}
	}

	// 未设置及格线时取满分的 60%
	if exam.PassingPoints <= 0 {
		exam.PassingPoints = util.Round2(exam.TotalPoints() * 0.6)
		if err := s.Repo.UpdateExam(ctx, exam); err != nil {
			return nil, err
		}
	}

	now := s.now()
	if err := s.Repo.PublishExam(ctx, id, now); err != nil {
		return nil, translate(err)
	}
	exam.IsPublished = true
	exam.PublishedAt = &now
	return exam, nil
}

func (s *ExamService) ListPublished(ctx context.Context, f repository.ExamFilter) ([]ExamView, int64, error) {
	f.PublishedOnly = true
	exams, total, err := s.Repo.ListExams(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	views := make([]ExamView, 0, len(exams))
	for i := range exams {
		view, err := toExamView(&exams[i], false)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, view)
	}
	return views, total, nil
}

func (s *ExamService) ListAll(ctx context.Context, f repository.ExamFilter) ([]model.Exam, int64, error) {
	return s.Repo.ListExams(ctx, f)
}

// GetPublished 未发布的试卷对考生不可见
func (s *ExamService) GetPublished(ctx context.Context, id uint) (*ExamView, error) {
	exam, err := s.Repo.FindExam(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if !exam.IsPublished {
		return nil, util.ErrNotFound
	}
	view, err := toExamView(exam, false)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *ExamService) GetForAdmin(ctx context.Context, id uint) (*model.Exam, error) {
	exam, err := s.Repo.FindExam(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return exam, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
