package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/repository"
	"prepwise_backend/internal/scoring"
	"prepwise_backend/internal/util"
	"prepwise_backend/pkg/logger"
	"prepwise_backend/pkg/monitoring"
	"prepwise_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ExamReader 尝试流程对试卷的只读访问
type ExamReader interface {
	FindExam(ctx context.Context, id uint) (*model.Exam, error)
	RefreshExamStats(ctx context.Context, examID uint) error
}

// AttemptStore 考试尝试的持久化
type AttemptStore interface {
	CreateAttempt(ctx context.Context, attempt *model.ExamAttempt) error
	FindActiveAttempt(ctx context.Context, userID, examID uint) (*model.ExamAttempt, error)
	FindAttempt(ctx context.Context, id uint) (*model.ExamAttempt, error)
	ListAnswers(ctx context.Context, attemptID uint) ([]model.Answer, error)
	SaveAnswer(ctx context.Context, answer *model.Answer) error
	FinalizeAttempt(ctx context.Context, id uint, score func(*model.ExamAttempt, []model.Answer)) (*model.ExamAttempt, error)
	AbandonAttempt(ctx context.Context, id uint, at time.Time) error
	ListAttempts(ctx context.Context, f repository.AttemptFilter) ([]model.ExamAttempt, int64, error)
}

type ExamAttemptService struct {
	Exams    ExamReader
	Attempts AttemptStore
	Quota    QuotaGate
	Tracker  ActivityTracker
	Dispatch Dispatcher
	now      func() time.Time
}

func NewExamAttemptService(exams ExamReader, attempts AttemptStore, quota QuotaGate, tracker ActivityTracker) *ExamAttemptService {
	return &ExamAttemptService{
		Exams:    exams,
		Attempts: attempts,
		Quota:    quota,
		Tracker:  tracker,
		Dispatch: goDispatch,
		now:      time.Now,
	}
}

type AnswerInput struct {
	QuestionID       uint               `json:"questionId" binding:"required"`
	Answer           model.AnswerValues `json:"answer"`
	TimeSpentSeconds int                `json:"timeSpentSeconds" binding:"min=0"`
}

// AttemptView 进行中的尝试及考生可见的题目
type AttemptView struct {
	Attempt   *model.ExamAttempt `json:"attempt"`
	Questions []QuestionView     `json:"questions"`
	Answers   map[uint][]string  `json:"answers"`
}

type QuestionResult struct {
	QuestionID     uint         `json:"questionId"`
	Position       int          `json:"position"`
	Type           scoring.Kind `json:"type"`
	Text           string       `json:"text"`
	UserAnswer     []string     `json:"userAnswer"`
	CorrectAnswers []string     `json:"correctAnswers,omitempty"`
	Explanation    string       `json:"explanation,omitempty"`
	IsCorrect      bool         `json:"isCorrect"`
	PointsAwarded  float64      `json:"pointsAwarded"`
	Points         float64      `json:"points"`
}

type AttemptResult struct {
	Attempt   *model.ExamAttempt `json:"attempt"`
	Breakdown []QuestionResult   `json:"breakdown"`
}

// Start 开始一次考试，同一用户同一试卷仅允许一个进行中的尝试
func (s *ExamAttemptService) Start(ctx context.Context, userID, examID uint) (*AttemptView, error) {
	ctx, span := tracing.StartSpan(ctx, "exam.start", attribute.Int64("exam.id", int64(examID)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	exam, err := s.Exams.FindExam(ctx, examID)
	if err != nil {
		err = translate(err)
		return nil, err
	}
	if !exam.IsPublished {
		err = util.ErrNotFound
		return nil, err
	}

	existing, findErr := s.Attempts.FindActiveAttempt(ctx, userID, examID)
	if findErr == nil {
		err = &util.AlreadyInProgressError{AttemptID: existing.ID}
		return nil, err
	}
	if findErr = translate(findErr); !errors.Is(findErr, util.ErrNotFound) {
		err = findErr
		return nil, err
	}
	if err = requirePremium(ctx, s.Quota, userID, exam.IsPremium); err != nil {
		return nil, err
	}

	allowed, err := s.Quota.CanStart(ctx, userID, util.KindExam)
	if err != nil {
		return nil, err
	}
	if !allowed {
		err = util.ErrQuotaExceeded
		return nil, err
	}
	// 先占用额度，创建失败时归还
	if err = s.Quota.RecordUsage(ctx, userID, util.KindExam); err != nil {
		return nil, err
	}

	now := s.now()
	attempt := &model.ExamAttempt{
		UserID:        userID,
		ExamID:        examID,
		Status:        model.StatusInProgress,
		ActiveKey:     model.ActiveKey(util.KindExam, userID, examID),
		StartedAt:     now,
		TotalPoints:   exam.TotalPoints(),
		PassingPoints: exam.PassingPoints,
	}
	if exam.DurationMinutes > 0 {
		deadline := now.Add(time.Duration(exam.DurationMinutes) * time.Minute)
		attempt.DeadlineAt = &deadline
	}

	if err = s.Attempts.CreateAttempt(ctx, attempt); err != nil {
		logSideEffect("release_usage", userID, s.Quota.ReleaseUsage(ctx, userID, util.KindExam))
		if errors.Is(err, util.ErrAlreadyInProgress) {
			// 并发开始时另一请求已创建
			if existing, findErr := s.Attempts.FindActiveAttempt(ctx, userID, examID); findErr == nil {
				err = &util.AlreadyInProgressError{AttemptID: existing.ID}
			}
		}
		return nil, err
	}

	monitoring.AttemptsStarted.WithLabelValues(util.KindExam).Inc()
	s.Dispatch(func() {
		bg, cancel := background()
		defer cancel()
		logSideEffect("log_activity", userID, s.Tracker.LogActivity(bg, userID, model.ActivityExamStarted,
			fmt.Sprintf("Started exam %s", exam.Title), map[string]interface{}{"examId": examID, "attemptId": attempt.ID}))
	})

	return &AttemptView{
		Attempt:   attempt,
		Questions: orderQuestions(exam, attempt.ID),
		Answers:   map[uint][]string{},
	}, nil
}

// orderQuestions 开启乱序时以尝试 ID 为种子，保证同一尝试顺序稳定
func orderQuestions(exam *model.Exam, attemptID uint) []QuestionView {
	views := toQuestionViews(exam.Questions)
	if exam.RandomizeQuestions {
		r := rand.New(rand.NewSource(int64(attemptID)))
		r.Shuffle(len(views), func(i, j int) { views[i], views[j] = views[j], views[i] })
	}
	return views
}

// ownedAttempt 他人的尝试按不存在处理
func (s *ExamAttemptService) ownedAttempt(ctx context.Context, userID, attemptID uint) (*model.ExamAttempt, error) {
	attempt, err := s.Attempts.FindAttempt(ctx, attemptID)
	if err != nil {
		return nil, translate(err)
	}
	if attempt.UserID != userID {
		return nil, util.ErrNotFound
	}
	return attempt, nil
}

func (s *ExamAttemptService) GetAttempt(ctx context.Context, userID, attemptID uint) (*AttemptView, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	exam, err := s.Exams.FindExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, translate(err)
	}
	answers, err := s.Attempts.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}
	saved := make(map[uint][]string, len(answers))
	for _, a := range answers {
		saved[a.QuestionID] = a.UserAnswer
	}
	return &AttemptView{Attempt: attempt, Questions: orderQuestions(exam, attempt.ID), Answers: saved}, nil
}

// SubmitResponse 保存或覆盖某题的作答，重复提交相同答案结果不变
func (s *ExamAttemptService) SubmitResponse(ctx context.Context, userID, attemptID uint, in AnswerInput) (*model.Answer, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.StatusInProgress {
		return nil, util.ErrInvalidState
	}
	if attempt.PastDeadline(s.now()) {
		return nil, util.ErrAttemptExpired
	}

	exam, err := s.Exams.FindExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, translate(err)
	}
	q := findQuestion(exam, in.QuestionID)
	if q == nil {
		return nil, util.ErrItemNotFound
	}
	return s.saveAnswer(ctx, attempt.ID, q, in)
}

func (s *ExamAttemptService) saveAnswer(ctx context.Context, attemptID uint, q *model.Question, in AnswerInput) (*model.Answer, error) {
	submitted := scoring.Normalize(in.Answer)
	res := scoring.Grade(q.ScoringItem(), submitted)
	answer := &model.Answer{
		AttemptID:        attemptID,
		QuestionID:       q.ID,
		UserAnswer:       submitted,
		IsCorrect:        res.Correct,
		PointsAwarded:    res.Points,
		TimeSpentSeconds: in.TimeSpentSeconds,
	}
	if err := s.Attempts.SaveAnswer(ctx, answer); err != nil {
		return nil, err
	}
	return answer, nil
}

func findQuestion(exam *model.Exam, questionID uint) *model.Question {
	for i := range exam.Questions {
		if exam.Questions[i].ID == questionID {
			return &exam.Questions[i]
		}
	}
	return nil
}

// SubmitAll 批量保存作答后完成考试；已超时则直接按已保存的作答结算
func (s *ExamAttemptService) SubmitAll(ctx context.Context, userID, attemptID uint, inputs []AnswerInput) (*model.ExamAttempt, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.StatusInProgress {
		return nil, util.ErrInvalidState
	}

	if !attempt.PastDeadline(s.now()) {
		exam, err := s.Exams.FindExam(ctx, attempt.ExamID)
		if err != nil {
			return nil, translate(err)
		}
		questions := make([]*model.Question, len(inputs))
		for i, in := range inputs {
			if questions[i] = findQuestion(exam, in.QuestionID); questions[i] == nil {
				return nil, fmt.Errorf("%w: question %d", util.ErrItemNotFound, in.QuestionID)
			}
		}
		for i, in := range inputs {
			if _, err := s.saveAnswer(ctx, attempt.ID, questions[i], in); err != nil {
				return nil, err
			}
		}
	}
	return s.Complete(ctx, userID, attemptID)
}

// Complete 结算考试，只有进行中的尝试可以完成
func (s *ExamAttemptService) Complete(ctx context.Context, userID, attemptID uint) (*model.ExamAttempt, error) {
	ctx, span := tracing.StartSpan(ctx, "exam.complete", attribute.Int64("attempt.id", int64(attemptID)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.StatusInProgress {
		err = util.ErrInvalidState
		return nil, err
	}

	now := s.now()
	expired := attempt.PastDeadline(now)
	done, err := s.Attempts.FinalizeAttempt(ctx, attempt.ID, func(a *model.ExamAttempt, answers []model.Answer) {
		scoreAttempt(a, answers, now, expired)
	})
	if err != nil {
		return nil, err
	}

	monitoring.AttemptsCompleted.WithLabelValues(util.KindExam, strconv.FormatBool(done.Passed)).Inc()
	logger.Log.Info("Exam attempt completed",
		zap.Uint("attempt_id", done.ID),
		zap.Uint("user_id", userID),
		zap.Float64("percentage", done.Percentage),
		zap.Bool("expired", done.Expired))

	s.Dispatch(func() {
		bg, cancel := background()
		defer cancel()
		logSideEffect("log_activity", userID, s.Tracker.LogActivity(bg, userID, model.ActivityExamCompleted,
			fmt.Sprintf("Completed exam with %.2f%%", done.Percentage),
			map[string]interface{}{"examId": done.ExamID, "attemptId": done.ID, "passed": done.Passed}))
		_, recomputeErr := s.Tracker.Recompute(bg, userID)
		logSideEffect("recompute_analytics", userID, recomputeErr)
		logSideEffect("refresh_exam_stats", userID, s.Exams.RefreshExamStats(bg, done.ExamID))
	})
	return done, nil
}

// scoreAttempt 汇总得分；超时结算时用时截止到截止时间
func scoreAttempt(a *model.ExamAttempt, answers []model.Answer, now time.Time, expired bool) {
	end := now
	if expired && a.DeadlineAt != nil {
		end = *a.DeadlineAt
	}
	a.EndedAt = &end
	a.Expired = expired
	a.TimeTakenSeconds = int(end.Sub(a.StartedAt).Seconds())

	obtained := 0.0
	for _, ans := range answers {
		obtained += ans.PointsAwarded
	}
	a.PointsObtained = util.Round2(obtained)
	a.Percentage = 0
	if a.TotalPoints > 0 {
		a.Percentage = util.Round2(obtained / a.TotalPoints * 100)
	}
	a.Passed = obtained >= a.PassingPoints
}

func (s *ExamAttemptService) Abandon(ctx context.Context, userID, attemptID uint) error {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return err
	}
	if attempt.Status != model.StatusInProgress {
		return util.ErrInvalidState
	}
	return s.Attempts.AbandonAttempt(ctx, attempt.ID, s.now())
}

// Results 完成后的成绩明细，试卷不允许回顾时不返回标准答案
func (s *ExamAttemptService) Results(ctx context.Context, userID, attemptID uint) (*AttemptResult, error) {
	attempt, err := s.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.StatusCompleted {
		return nil, util.ErrInvalidState
	}
	exam, err := s.Exams.FindExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, translate(err)
	}
	answers, err := s.Attempts.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[uint]model.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	breakdown := make([]QuestionResult, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		r := QuestionResult{
			QuestionID: q.ID,
			Position:   q.Position,
			Type:       q.Type,
			Text:       q.Text,
			UserAnswer: []string{},
			Points:     q.Points,
		}
		if a, ok := byQuestion[q.ID]; ok {
			r.UserAnswer = a.UserAnswer
			r.IsCorrect = a.IsCorrect
			r.PointsAwarded = a.PointsAwarded
		}
		if exam.AllowReview {
			r.CorrectAnswers = q.CorrectAnswers
			r.Explanation = q.Explanation
		}
		breakdown = append(breakdown, r)
	}
	return &AttemptResult{Attempt: attempt, Breakdown: breakdown}, nil
}

func (s *ExamAttemptService) MyAttempts(ctx context.Context, userID uint, f repository.AttemptFilter) ([]model.ExamAttempt, int64, error) {
	f.UserID = userID
	return s.Attempts.ListAttempts(ctx, f)
}
