package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/model"
	"prepwise_backend/internal/repository"
	"prepwise_backend/internal/util"
	"prepwise_backend/pkg/logger"
	"prepwise_backend/pkg/monitoring"
	"prepwise_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InterviewStore 面试会话、作答与模板的持久化
type InterviewStore interface {
	CreateInterview(ctx context.Context, interview *model.Interview) error
	FindInterview(ctx context.Context, id uint) (*model.Interview, error)
	FindActiveInterview(ctx context.Context, userID uint, key string) (*model.Interview, error)
	StartInterview(ctx context.Context, interview *model.Interview) error
	SaveResponse(ctx context.Context, resp *model.InterviewResponse) (*model.InterviewResponse, error)
	FindResponse(ctx context.Context, interviewID, questionID uint) (*model.InterviewResponse, error)
	FindResponseByID(ctx context.Context, id uint) (*model.InterviewResponse, error)
	ListResponses(ctx context.Context, interviewID uint) ([]model.InterviewResponse, error)
	UpdateEvaluation(ctx context.Context, resp *model.InterviewResponse) (bool, error)
	FinalizeInterview(ctx context.Context, id uint, score func(*model.Interview, []model.InterviewResponse)) (*model.Interview, error)
	RescoreInterview(ctx context.Context, id uint, score func(*model.Interview, []model.InterviewResponse)) (*model.Interview, error)
	TransitionInterview(ctx context.Context, id uint, to model.AttemptStatus, at time.Time, from ...model.AttemptStatus) error
	ListInterviews(ctx context.Context, f repository.InterviewFilter) ([]model.Interview, int64, error)

	CreateTemplate(ctx context.Context, t *model.InterviewTemplate) error
	UpdateTemplate(ctx context.Context, t *model.InterviewTemplate) error
	FindTemplate(ctx context.Context, id uint) (*model.InterviewTemplate, error)
	ListTemplates(ctx context.Context, activeOnly bool, interviewType model.InterviewType) ([]model.InterviewTemplate, error)
	IncrementTemplateUsage(ctx context.Context, id uint) error
	RefreshTemplateStats(ctx context.Context, id uint) error
}

// MediaProber 读取录音/录像时长
type MediaProber func(path string) (*util.MediaInfo, error)

type InterviewService struct {
	Repo      InterviewStore
	Quota     QuotaGate
	Tracker   ActivityTracker
	Evaluator Evaluator
	Bank      *QuestionBank
	Storage   MediaStorage
	Probe     MediaProber
	Dispatch  Dispatcher

	// 为空时在请求内同步评估
	queue *EvaluationQueue

	questionsPerSession int
	evaluationTimeout   time.Duration
	now                 func() time.Time
}

func NewInterviewService(repo InterviewStore, quota QuotaGate, tracker ActivityTracker, evaluator Evaluator, bank *QuestionBank, storage MediaStorage, cfg *config.Config) *InterviewService {
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	perSession := cfg.Interview.QuestionsPerSession
	if perSession <= 0 {
		perSession = 5
	}
	return &InterviewService{
		Repo:                repo,
		Quota:               quota,
		Tracker:             tracker,
		Evaluator:           evaluator,
		Bank:                bank,
		Storage:             storage,
		Probe:               util.GetMediaInfo,
		Dispatch:            goDispatch,
		questionsPerSession: perSession,
		evaluationTimeout:   timeout,
		now:                 time.Now,
	}
}

// StartWorkers 启用异步评估
func (s *InterviewService) StartWorkers(workers, queueSize int) {
	s.queue = NewEvaluationQueue(queueSize, s.evaluate)
	s.queue.Start(workers)
}

func (s *InterviewService) StopWorkers() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

type TemplateRequest struct {
	Title           string                   `json:"title" binding:"required,max=200"`
	Description     string                   `json:"description"`
	InterviewType   model.InterviewType      `json:"interviewType" binding:"required,oneof=technical behavioral system_design hr mixed"`
	JobRole         string                   `json:"jobRole"`
	Difficulty      model.Difficulty         `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	DurationMinutes int                      `json:"durationMinutes" binding:"min=0"`
	PassingScore    float64                  `json:"passingScore" binding:"min=0"`
	Questions       []model.TemplateQuestion `json:"questions" binding:"required,min=1"`
	IsActive        *bool                    `json:"isActive"`
	IsPremium       bool                     `json:"isPremium"`
}

type ScheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt"`
}

type CustomInterviewRequest struct {
	Title           string              `json:"title" binding:"required,max=200"`
	InterviewType   model.InterviewType `json:"interviewType" binding:"required,oneof=technical behavioral system_design hr mixed"`
	JobRole         string              `json:"jobRole"`
	Company         string              `json:"company"`
	Difficulty      model.Difficulty    `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
	Skills          []string            `json:"skills"`
	DurationMinutes int                 `json:"durationMinutes" binding:"min=0"`
	QuestionCount   int                 `json:"questionCount" binding:"min=0,max=20"`
	ScheduledAt     *time.Time          `json:"scheduledAt"`
}

type ResponseInput struct {
	QuestionID       uint   `json:"questionId" binding:"required"`
	ResponseText     string `json:"responseText"`
	Code             string `json:"code"`
	TimeTakenSeconds int    `json:"timeTakenSeconds" binding:"min=0"`
}

type ReviewRequest struct {
	Score    float64            `json:"score" binding:"min=0,max=10"`
	Feedback string             `json:"feedback"`
	Metrics  map[string]float64 `json:"metrics"`
}

// ---- 模板 ----

func (s *InterviewService) CreateTemplate(ctx context.Context, adminID uint, req TemplateRequest) (*model.InterviewTemplate, error) {
	t := &model.InterviewTemplate{CreatedBy: adminID, IsActive: true, Difficulty: model.Medium, DurationMinutes: 30}
	if err := applyTemplateRequest(t, req); err != nil {
		return nil, err
	}
	if err := s.Repo.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *InterviewService) UpdateTemplate(ctx context.Context, id uint, req TemplateRequest) (*model.InterviewTemplate, error) {
	t, err := s.Repo.FindTemplate(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if err := applyTemplateRequest(t, req); err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func applyTemplateRequest(t *model.InterviewTemplate, req TemplateRequest) error {
	if len(req.Questions) == 0 {
		return fmt.Errorf("%w: template needs at least one question", util.ErrInvalidInput)
	}
	questions := make([]model.TemplateQuestion, 0, len(req.Questions))
	for i, q := range req.Questions {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			return fmt.Errorf("%w: question %d has no text", util.ErrInvalidInput, i+1)
		}
		if q.Category == "" {
			q.Category = model.CategoryTechnical
		}
		q.Tags = normalizeTags(q.Tags)
		questions = append(questions, q)
	}

	t.Title = strings.TrimSpace(req.Title)
	t.Description = req.Description
	t.InterviewType = req.InterviewType
	t.JobRole = req.JobRole
	if req.Difficulty != "" {
		t.Difficulty = req.Difficulty
	}
	if req.DurationMinutes > 0 {
		t.DurationMinutes = req.DurationMinutes
	}
	t.PassingScore = req.PassingScore
	t.Questions = questions
	t.IsPremium = req.IsPremium
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	return nil
}

func (s *InterviewService) ListTemplates(ctx context.Context, interviewType model.InterviewType) ([]model.InterviewTemplate, error) {
	templates, err := s.Repo.ListTemplates(ctx, true, interviewType)
	if err != nil {
		return nil, err
	}
	// 列表中不暴露参考答案
	for i := range templates {
		for j := range templates[i].Questions {
			templates[i].Questions[j].ExpectedAnswer = ""
		}
	}
	return templates, nil
}

func (s *InterviewService) ListAllTemplates(ctx context.Context) ([]model.InterviewTemplate, error) {
	return s.Repo.ListTemplates(ctx, false, "")
}

// ---- 会话创建 ----

// UseTemplate 按模板创建一场待开始的面试，题目从模板复制
func (s *InterviewService) UseTemplate(ctx context.Context, userID, templateID uint, req ScheduleRequest) (*model.Interview, error) {
	t, err := s.Repo.FindTemplate(ctx, templateID)
	if err != nil {
		return nil, translate(err)
	}
	if !t.IsActive {
		return nil, util.ErrNotFound
	}
	if err := requirePremium(ctx, s.Quota, userID, t.IsPremium); err != nil {
		return nil, err
	}

	questions := make([]model.InterviewQuestion, 0, len(t.Questions))
	for i, q := range t.Questions {
		limit := q.TimeLimitSeconds
		if limit <= 0 {
			limit = 300
		}
		questions = append(questions, model.InterviewQuestion{
			Position:           i + 1,
			Category:           q.Category,
			Text:               q.Text,
			ExpectedAnswer:     q.ExpectedAnswer,
			EvaluationCriteria: q.EvaluationCriteria,
			Tags:               q.Tags,
			MaxScore:           model.MaxResponseScore,
			TimeLimitSeconds:   limit,
		})
	}

	interview := &model.Interview{
		UserID:          userID,
		TemplateID:      &t.ID,
		Title:           t.Title,
		InterviewType:   t.InterviewType,
		JobRole:         t.JobRole,
		Difficulty:      t.Difficulty,
		DurationMinutes: t.DurationMinutes,
		PassingScore:    t.PassingScore,
		Questions:       questions,
	}
	if err := s.schedule(ctx, interview, req.ScheduledAt); err != nil {
		return nil, err
	}
	if err := s.Repo.IncrementTemplateUsage(ctx, t.ID); err != nil {
		logger.Log.Warn("Failed to increment template usage", zap.Uint("template_id", t.ID), zap.Error(err))
	}
	return interview, nil
}

// CreateInterview 按岗位技能从题库生成自定义面试
func (s *InterviewService) CreateInterview(ctx context.Context, userID uint, req CustomInterviewRequest) (*model.Interview, error) {
	n := req.QuestionCount
	if n == 0 {
		n = s.questionsPerSession
	}
	questions := s.Bank.Generate(req.InterviewType, req.Skills, n)
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions available for %s", util.ErrInvalidInput, req.InterviewType)
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = model.Medium
	}
	duration := req.DurationMinutes
	if duration == 0 {
		duration = 30
	}
	interview := &model.Interview{
		UserID:          userID,
		Title:           strings.TrimSpace(req.Title),
		InterviewType:   req.InterviewType,
		JobRole:         req.JobRole,
		Company:         req.Company,
		Difficulty:      difficulty,
		RequiredSkills:  dedupeSkills(req.Skills),
		DurationMinutes: duration,
		Questions:       questions,
	}
	if err := s.schedule(ctx, interview, req.ScheduledAt); err != nil {
		return nil, err
	}
	return interview, nil
}

func (s *InterviewService) schedule(ctx context.Context, interview *model.Interview, at *time.Time) error {
	interview.Status = model.StatusScheduled
	when := s.now()
	if at != nil {
		when = *at
	}
	interview.ScheduledAt = &when
	interview.MaxScore = maxScoreOf(interview.Questions)
	// 未设置及格线时取满分的 60%
	if interview.PassingScore <= 0 {
		interview.PassingScore = util.Round2(interview.MaxScore * 0.6)
	}
	return s.Repo.CreateInterview(ctx, interview)
}

func maxScoreOf(questions []model.InterviewQuestion) float64 {
	total := 0.0
	for _, q := range questions {
		total += questionMax(q)
	}
	return total
}

func questionMax(q model.InterviewQuestion) float64 {
	if q.MaxScore <= 0 {
		return model.MaxResponseScore
	}
	return q.MaxScore
}

// ---- 状态机 ----

func (s *InterviewService) owned(ctx context.Context, userID, interviewID uint) (*model.Interview, error) {
	interview, err := s.Repo.FindInterview(ctx, interviewID)
	if err != nil {
		return nil, translate(err)
	}
	if interview.UserID != userID {
		return nil, util.ErrNotFound
	}
	return interview, nil
}

func (s *InterviewService) GetInterview(ctx context.Context, userID, interviewID uint) (*model.Interview, []model.InterviewResponse, error) {
	interview, err := s.owned(ctx, userID, interviewID)
	if err != nil {
		return nil, nil, err
	}
	responses, err := s.Repo.ListResponses(ctx, interview.ID)
	if err != nil {
		return nil, nil, err
	}
	return interview, responses, nil
}

// Start scheduled -> in_progress；同一模板同一用户只允许一场进行中的面试
func (s *InterviewService) Start(ctx context.Context, userID, interviewID uint) (*model.Interview, error) {
	ctx, span := tracing.StartSpan(ctx, "interview.start", attribute.Int64("interview.id", int64(interviewID)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	interview, err := s.owned(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	if interview.Status != model.StatusScheduled {
		err = util.ErrInvalidState
		return nil, err
	}

	if interview.TemplateID != nil {
		interview.ActiveKey = model.ActiveKey(util.KindInterview, userID, *interview.TemplateID)
		existing, findErr := s.Repo.FindActiveInterview(ctx, userID, *interview.ActiveKey)
		if findErr == nil {
			err = &util.AlreadyInProgressError{AttemptID: existing.ID}
			return nil, err
		}
		if findErr = translate(findErr); !errors.Is(findErr, util.ErrNotFound) {
			err = findErr
			return nil, err
		}
	}

	allowed, err := s.Quota.CanStart(ctx, userID, util.KindInterview)
	if err != nil {
		return nil, err
	}
	if !allowed {
		err = util.ErrQuotaExceeded
		return nil, err
	}
	if err = s.Quota.RecordUsage(ctx, userID, util.KindInterview); err != nil {
		return nil, err
	}

	now := s.now()
	interview.StartedAt = &now
	if interview.DurationMinutes > 0 {
		deadline := now.Add(time.Duration(interview.DurationMinutes) * time.Minute)
		interview.DeadlineAt = &deadline
	}
	if err = s.Repo.StartInterview(ctx, interview); err != nil {
		logSideEffect("release_usage", userID, s.Quota.ReleaseUsage(ctx, userID, util.KindInterview))
		if errors.Is(err, util.ErrAlreadyInProgress) && interview.ActiveKey != nil {
			if existing, findErr := s.Repo.FindActiveInterview(ctx, userID, *interview.ActiveKey); findErr == nil {
				err = &util.AlreadyInProgressError{AttemptID: existing.ID}
			}
		}
		return nil, err
	}
	interview.Status = model.StatusInProgress

	monitoring.AttemptsStarted.WithLabelValues(util.KindInterview).Inc()
	s.Dispatch(func() {
		bg, cancel := background()
		defer cancel()
		logSideEffect("log_activity", userID, s.Tracker.LogActivity(bg, userID, model.ActivityInterviewStarted,
			fmt.Sprintf("Started interview %s", interview.Title), map[string]interface{}{"interviewId": interview.ID}))
	})
	return interview, nil
}

// writable 进行中且未超时的面试才能写入作答
func (s *InterviewService) writable(ctx context.Context, userID, interviewID, questionID uint) (*model.Interview, *model.InterviewQuestion, error) {
	interview, err := s.owned(ctx, userID, interviewID)
	if err != nil {
		return nil, nil, err
	}
	if interview.Status != model.StatusInProgress {
		return nil, nil, util.ErrInvalidState
	}
	if interview.PastDeadline(s.now()) {
		return nil, nil, util.ErrAttemptExpired
	}
	for i := range interview.Questions {
		if interview.Questions[i].ID == questionID {
			return interview, &interview.Questions[i], nil
		}
	}
	return nil, nil, util.ErrItemNotFound
}

// SubmitResponse 保存作答并安排评估；覆盖提交会作废旧的评估
func (s *InterviewService) SubmitResponse(ctx context.Context, userID, interviewID uint, in ResponseInput) (*model.InterviewResponse, error) {
	interview, q, err := s.writable(ctx, userID, interviewID, in.QuestionID)
	if err != nil {
		return nil, err
	}

	resp := &model.InterviewResponse{
		InterviewID:      interview.ID,
		QuestionID:       q.ID,
		ResponseText:     strings.TrimSpace(in.ResponseText),
		Code:             in.Code,
		TimeTakenSeconds: in.TimeTakenSeconds,
		EvaluationStatus: model.EvaluationPending,
	}
	// 文字作答不覆盖已上传的录音
	if existing, findErr := s.Repo.FindResponse(ctx, interview.ID, q.ID); findErr == nil {
		resp.MediaURL = existing.MediaURL
		resp.MediaDurationSeconds = existing.MediaDurationSeconds
	}

	stored, err := s.Repo.SaveResponse(ctx, resp)
	if err != nil {
		return nil, err
	}
	return s.scheduleEvaluation(ctx, stored)
}

type MediaUpload struct {
	QuestionID  uint
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadMedia 保存录音/录像作为作答，无文字时转人工复核
func (s *InterviewService) UploadMedia(ctx context.Context, userID, interviewID uint, upload MediaUpload) (*model.InterviewResponse, error) {
	interview, q, err := s.writable(ctx, userID, interviewID, upload.QuestionID)
	if err != nil {
		return nil, err
	}
	if upload.Size > util.MaxMediaSize {
		return nil, fmt.Errorf("%w: media exceeds %d bytes", util.ErrInvalidInput, util.MaxMediaSize)
	}
	if !util.HasAllowedExtension(upload.Filename, util.AllowedMediaExtensions) {
		return nil, fmt.Errorf("%w: unsupported media extension", util.ErrInvalidInput)
	}

	// 按文件头嗅探类型，读过的部分再拼回去
	var head bytes.Buffer
	sniffed, err := util.ValidateMimeType(io.TeeReader(upload.Body, &head), util.AllowedMediaMimeTypes)
	if err != nil {
		if errors.Is(err, util.ErrInvalidFileType) {
			return nil, fmt.Errorf("%w: unsupported media content %s", util.ErrInvalidInput, sniffed)
		}
		return nil, err
	}
	body := io.MultiReader(&head, upload.Body)
	contentType := upload.ContentType
	if contentType == "" {
		contentType = sniffed
	}

	tmp, err := os.CreateTemp("", "interview-media-*"+filepath.Ext(upload.Filename))
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	written, err := io.Copy(tmp, io.LimitReader(body, util.MaxMediaSize+1))
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if written > util.MaxMediaSize {
		tmp.Close()
		return nil, fmt.Errorf("%w: media exceeds %d bytes", util.ErrInvalidInput, util.MaxMediaSize)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	duration := 0
	if info, probeErr := s.Probe(tmp.Name()); probeErr == nil {
		duration = info.DurationSeconds()
	} else {
		logger.Log.Warn("Failed to probe media", zap.String("file", upload.Filename), zap.Error(probeErr))
	}

	key := MediaKey(userID, interview.ID, q.ID, upload.Filename, s.now())
	url, err := s.Storage.Put(ctx, key, tmp.Name(), contentType)
	if err != nil {
		return nil, fmt.Errorf("store media: %w", err)
	}

	resp := &model.InterviewResponse{
		InterviewID:          interview.ID,
		QuestionID:           q.ID,
		MediaURL:             url,
		MediaDurationSeconds: duration,
		TimeTakenSeconds:     duration,
		EvaluationStatus:     model.EvaluationPending,
	}
	if existing, findErr := s.Repo.FindResponse(ctx, interview.ID, q.ID); findErr == nil {
		resp.ResponseText = existing.ResponseText
		resp.Code = existing.Code
	}
	stored, err := s.Repo.SaveResponse(ctx, resp)
	if err != nil {
		if rmErr := s.Storage.Remove(ctx, key); rmErr != nil {
			logger.Log.Warn("Failed to remove orphaned media", zap.String("key", key), zap.Error(rmErr))
		}
		return nil, err
	}
	return s.scheduleEvaluation(ctx, stored)
}

func (s *InterviewService) scheduleEvaluation(ctx context.Context, resp *model.InterviewResponse) (*model.InterviewResponse, error) {
	if strings.TrimSpace(resp.Content()) == "" {
		if resp.MediaURL != "" {
			// 录音暂无转写，交给人工
			return s.markNeedsReview(ctx, resp, "Recorded answer awaiting manual review.")
		}
		now := s.now()
		resp.Score = 0
		resp.Feedback = "No answer provided."
		resp.EvaluationStatus = model.EvaluationDone
		resp.NeedsReview = false
		resp.EvaluatedAt = &now
		if _, err := s.Repo.UpdateEvaluation(ctx, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}

	job := EvaluationJob{ResponseID: resp.ID, Revision: resp.Revision}
	if s.queue != nil {
		if s.queue.Enqueue(job) {
			return resp, nil
		}
		logger.Log.Warn("Evaluation queue full", zap.Uint("response_id", resp.ID))
		monitoring.Evaluations.WithLabelValues("skipped").Inc()
		return s.markNeedsReview(ctx, resp, "Automatic evaluation is busy; awaiting manual review.")
	}

	s.evaluate(ctx, job)
	updated, err := s.Repo.FindResponseByID(ctx, resp.ID)
	if err != nil {
		return resp, nil
	}
	return updated, nil
}

func (s *InterviewService) markNeedsReview(ctx context.Context, resp *model.InterviewResponse, feedback string) (*model.InterviewResponse, error) {
	resp.Score = 0
	resp.Feedback = feedback
	resp.EvaluationStatus = model.EvaluationNeedsReview
	resp.NeedsReview = true
	if _, err := s.Repo.UpdateEvaluation(ctx, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// evaluate 评估一个作答版本；作答已被覆盖时丢弃结果，面试已完成时重新汇总
func (s *InterviewService) evaluate(ctx context.Context, job EvaluationJob) {
	ctx, span := tracing.StartSpan(ctx, "interview.evaluate", attribute.Int64("response.id", int64(job.ResponseID)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	resp, err := s.Repo.FindResponseByID(ctx, job.ResponseID)
	if err != nil {
		logger.Log.Error("Evaluation target missing", zap.Uint("response_id", job.ResponseID), zap.Error(err))
		return
	}
	if resp.Revision != job.Revision {
		monitoring.Evaluations.WithLabelValues("stale").Inc()
		return
	}
	interview, err := s.Repo.FindInterview(ctx, resp.InterviewID)
	if err != nil {
		logger.Log.Error("Evaluation interview missing", zap.Uint("interview_id", resp.InterviewID), zap.Error(err))
		return
	}
	var q *model.InterviewQuestion
	for i := range interview.Questions {
		if interview.Questions[i].ID == resp.QuestionID {
			q = &interview.Questions[i]
		}
	}
	if q == nil {
		err = util.ErrItemNotFound
		return
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.evaluationTimeout)
	started := time.Now()
	result, evalErr := s.Evaluator.Evaluate(evalCtx, QuestionContext{
		Question:       q.Text,
		Category:       q.Category,
		ExpectedAnswer: q.ExpectedAnswer,
		Criteria:       q.EvaluationCriteria,
		JobRole:        interview.JobRole,
		InterviewType:  interview.InterviewType,
	}, resp.Content())
	cancel()
	monitoring.EvaluationDuration.Observe(time.Since(started).Seconds())

	now := s.now()
	if evalErr != nil {
		logger.Log.Warn("Evaluation failed, marking for review", zap.Uint("response_id", resp.ID), zap.Error(evalErr))
		monitoring.Evaluations.WithLabelValues("failed").Inc()
		resp.Score = 0
		resp.Feedback = "Automatic evaluation unavailable; awaiting manual review."
		resp.EvaluationStatus = model.EvaluationNeedsReview
		resp.NeedsReview = true
	} else {
		monitoring.Evaluations.WithLabelValues("ok").Inc()
		resp.Score = util.Round2(result.Score / model.MaxResponseScore * questionMax(*q))
		resp.Feedback = result.Feedback
		resp.Metrics = newMetrics(result.Metrics)
		resp.EvaluationStatus = model.EvaluationDone
		resp.NeedsReview = false
		resp.EvaluatedAt = &now
	}

	applied, err := s.Repo.UpdateEvaluation(ctx, resp)
	if err != nil || !applied {
		return
	}
	s.rescoreIfCompleted(ctx, interview.UserID, resp.InterviewID)
}

// rescoreIfCompleted 迟到的评估结果计入已完成面试的总分
func (s *InterviewService) rescoreIfCompleted(ctx context.Context, userID, interviewID uint) {
	current, err := s.Repo.FindInterview(ctx, interviewID)
	if err != nil || current.Status != model.StatusCompleted {
		return
	}
	if _, err := s.Repo.RescoreInterview(ctx, interviewID, summarizeInterview); err != nil {
		logger.Log.Error("Failed to rescore interview", zap.Uint("interview_id", interviewID), zap.Error(err))
		return
	}
	s.Dispatch(func() {
		bg, cancel := background()
		defer cancel()
		_, recomputeErr := s.Tracker.Recompute(bg, userID)
		logSideEffect("recompute_analytics", userID, recomputeErr)
	})
}

// Complete 结算面试；超时的面试按已保存的作答结算
func (s *InterviewService) Complete(ctx context.Context, userID, interviewID uint) (*model.Interview, error) {
	ctx, span := tracing.StartSpan(ctx, "interview.complete", attribute.Int64("interview.id", int64(interviewID)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	interview, err := s.owned(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	if interview.Status != model.StatusInProgress {
		err = util.ErrInvalidState
		return nil, err
	}

	now := s.now()
	expired := interview.PastDeadline(now)
	done, err := s.Repo.FinalizeInterview(ctx, interview.ID, func(i *model.Interview, responses []model.InterviewResponse) {
		end := now
		if expired && i.DeadlineAt != nil {
			end = *i.DeadlineAt
		}
		i.EndedAt = &end
		i.Expired = expired
		summarizeInterview(i, responses)
	})
	if err != nil {
		return nil, err
	}

	monitoring.AttemptsCompleted.WithLabelValues(util.KindInterview, strconv.FormatBool(done.Passed)).Inc()
	logger.Log.Info("Interview completed",
		zap.Uint("interview_id", done.ID),
		zap.Uint("user_id", userID),
		zap.Float64("total_score", done.TotalScore),
		zap.Bool("expired", done.Expired))

	s.Dispatch(func() {
		bg, cancel := background()
		defer cancel()
		logSideEffect("log_activity", userID, s.Tracker.LogActivity(bg, userID, model.ActivityInterviewCompleted,
			fmt.Sprintf("Completed interview with score %.2f", done.TotalScore),
			map[string]interface{}{"interviewId": done.ID, "passed": done.Passed}))
		_, recomputeErr := s.Tracker.Recompute(bg, userID)
		logSideEffect("recompute_analytics", userID, recomputeErr)
		if done.TemplateID != nil {
			logSideEffect("refresh_template_stats", userID, s.Repo.RefreshTemplateStats(bg, *done.TemplateID))
		}
	})
	return done, nil
}

func (s *InterviewService) Abandon(ctx context.Context, userID, interviewID uint) error {
	interview, err := s.owned(ctx, userID, interviewID)
	if err != nil {
		return err
	}
	if interview.Status != model.StatusInProgress && interview.Status != model.StatusScheduled {
		return util.ErrInvalidState
	}
	return s.Repo.TransitionInterview(ctx, interview.ID, model.StatusAbandoned, s.now(), model.StatusScheduled, model.StatusInProgress)
}

func (s *InterviewService) Cancel(ctx context.Context, userID, interviewID uint) error {
	interview, err := s.owned(ctx, userID, interviewID)
	if err != nil {
		return err
	}
	if interview.Status != model.StatusScheduled {
		return util.ErrInvalidState
	}
	return s.Repo.TransitionInterview(ctx, interview.ID, model.StatusCancelled, s.now(), model.StatusScheduled)
}

func (s *InterviewService) GetResponse(ctx context.Context, userID, interviewID, questionID uint) (*model.InterviewResponse, error) {
	if _, err := s.owned(ctx, userID, interviewID); err != nil {
		return nil, err
	}
	resp, err := s.Repo.FindResponse(ctx, interviewID, questionID)
	if err != nil {
		return nil, translate(err)
	}
	return resp, nil
}

func (s *InterviewService) MyInterviews(ctx context.Context, userID uint, f repository.InterviewFilter) ([]model.Interview, int64, error) {
	f.UserID = userID
	return s.Repo.ListInterviews(ctx, f)
}

// ReviewResponse 人工评分，覆盖自动评估结果
func (s *InterviewService) ReviewResponse(ctx context.Context, reviewerID, responseID uint, req ReviewRequest) (*model.InterviewResponse, error) {
	resp, err := s.Repo.FindResponseByID(ctx, responseID)
	if err != nil {
		return nil, translate(err)
	}
	interview, err := s.Repo.FindInterview(ctx, resp.InterviewID)
	if err != nil {
		return nil, translate(err)
	}
	qMax := model.MaxResponseScore
	for _, q := range interview.Questions {
		if q.ID == resp.QuestionID {
			qMax = questionMax(q)
		}
	}

	now := s.now()
	resp.Score = util.Round2(clampScore(req.Score) / model.MaxResponseScore * qMax)
	resp.Feedback = strings.TrimSpace(req.Feedback)
	if req.Metrics != nil {
		metrics := make(map[string]float64, len(req.Metrics))
		for k, v := range req.Metrics {
			metrics[strings.ToLower(strings.TrimSpace(k))] = clampScore(v)
		}
		resp.Metrics = newMetrics(metrics)
	}
	resp.EvaluationStatus = model.EvaluationDone
	resp.NeedsReview = false
	resp.ReviewedBy = &reviewerID
	resp.EvaluatedAt = &now

	applied, err := s.Repo.UpdateEvaluation(ctx, resp)
	if err != nil {
		return nil, err
	}
	if !applied {
		// 复核期间作答被覆盖
		return nil, util.ErrInvalidState
	}
	s.rescoreIfCompleted(ctx, interview.UserID, interview.ID)
	return resp, nil
}

// summarizeInterview 汇总分数并生成整体反馈，只依赖传入的数据
func summarizeInterview(i *model.Interview, responses []model.InterviewResponse) {
	byQuestion := make(map[uint]model.InterviewResponse, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}

	total, maxScore, normalized := 0.0, 0.0, 0.0
	evaluated, pending, unanswered := 0, 0, 0
	metricSum := map[string]float64{}
	metricCount := map[string]int{}
	for _, q := range i.Questions {
		qMax := questionMax(q)
		maxScore += qMax
		r, ok := byQuestion[q.ID]
		if !ok {
			unanswered++
			continue
		}
		total += r.Score
		if r.EvaluationStatus != model.EvaluationDone {
			pending++
			continue
		}
		evaluated++
		normalized += r.Score / qMax * model.MaxResponseScore
		for k, v := range r.Metrics.Data() {
			metricSum[k] += v
			metricCount[k]++
		}
	}

	i.TotalScore = util.Round2(total)
	i.MaxScore = util.Round2(maxScore)
	i.Percentage = 0
	if maxScore > 0 {
		i.Percentage = util.Round2(total / maxScore * 100)
	}
	passing := i.PassingScore
	if passing <= 0 {
		passing = maxScore * 0.6
	}
	i.Passed = total >= passing

	strengths, weaknesses, recommendations := []string{}, []string{}, []string{}
	averages := make(map[string]float64, len(metricSum))
	for k, sum := range metricSum {
		averages[k] = sum / float64(metricCount[k])
	}
	for _, k := range sortedKeys(averages) {
		label := strings.ReplaceAll(k, "_", " ")
		switch {
		case averages[k] >= 7:
			strengths = append(strengths, label)
		case averages[k] < 5:
			weaknesses = append(weaknesses, label)
			recommendations = append(recommendations, "Practice improving your "+label+".")
		}
	}
	if unanswered > 0 {
		recommendations = append(recommendations, fmt.Sprintf("Answer every question; %d were left unanswered.", unanswered))
	}

	var feedback string
	switch {
	case evaluated == 0:
		feedback = "Your responses are awaiting evaluation."
	case normalized/float64(evaluated) >= 8:
		feedback = "Excellent performance! You demonstrated strong skills across the interview."
	case normalized/float64(evaluated) >= 6:
		feedback = "Good performance with room for improvement in some areas."
	default:
		feedback = "Keep practicing. Focus on the areas identified for improvement."
	}
	if evaluated > 0 && pending > 0 {
		feedback += " Some responses are still awaiting review."
	}

	sort.Strings(strengths)
	sort.Strings(weaknesses)
	i.OverallFeedback = feedback
	i.Strengths = strengths
	i.Weaknesses = weaknesses
	i.Recommendations = recommendations
}
