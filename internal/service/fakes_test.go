package service

import (
	"context"
	"sync"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/repository"
	"prepwise_backend/internal/scoring"
	"prepwise_backend/internal/util"

	"gorm.io/gorm"
)

func syncDispatch(task func()) { task() }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type fakeExamStore struct {
	mu        sync.Mutex
	exams     map[uint]*model.Exam
	questions map[uint]*model.Question
	nextID    uint
	refreshed []uint
}

func newFakeExamStore() *fakeExamStore {
	return &fakeExamStore{exams: map[uint]*model.Exam{}, questions: map[uint]*model.Question{}}
}

func (f *fakeExamStore) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeExamStore) CreateExam(_ context.Context, exam *model.Exam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	exam.ID = f.id()
	cp := *exam
	f.exams[exam.ID] = &cp
	return nil
}

func (f *fakeExamStore) UpdateExam(_ context.Context, exam *model.Exam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *exam
	cp.Questions = nil
	f.exams[exam.ID] = &cp
	return nil
}

func (f *fakeExamStore) FindExam(_ context.Context, id uint) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exams[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *e
	cp.Questions = nil
	for pos := 1; pos <= len(f.questions); pos++ {
		for _, q := range f.questions {
			if q.ExamID == id && q.Position == pos {
				cp.Questions = append(cp.Questions, *q)
			}
		}
	}
	return &cp, nil
}

func (f *fakeExamStore) ListExams(_ context.Context, filter repository.ExamFilter) ([]model.Exam, int64, error) {
	var out []model.Exam
	for id := uint(1); id <= f.nextID; id++ {
		if e, ok := f.exams[id]; ok && (!filter.PublishedOnly || e.IsPublished) {
			out = append(out, *e)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeExamStore) PublishExam(_ context.Context, id uint, at time.Time) error {
	e := f.exams[id]
	e.IsPublished = true
	e.PublishedAt = &at
	return nil
}

func (f *fakeExamStore) CreateQuestion(_ context.Context, q *model.Question) error {
	q.ID = f.id()
	cp := *q
	f.questions[q.ID] = &cp
	return nil
}

func (f *fakeExamStore) FindQuestion(_ context.Context, id uint) (*model.Question, error) {
	q, ok := f.questions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeExamStore) UpdateQuestion(_ context.Context, q *model.Question) error {
	cp := *q
	f.questions[q.ID] = &cp
	return nil
}

func (f *fakeExamStore) DeleteQuestion(_ context.Context, id uint) error {
	delete(f.questions, id)
	return nil
}

func (f *fakeExamStore) NextQuestionPosition(_ context.Context, examID uint) (int, error) {
	max := 0
	for _, q := range f.questions {
		if q.ExamID == examID && q.Position > max {
			max = q.Position
		}
	}
	return max + 1, nil
}

func (f *fakeExamStore) RefreshExamStats(_ context.Context, examID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, examID)
	return nil
}

// seedExam 发布一份 n 道单选题的试卷，每题 points 分，正确选项为 "a"
func (f *fakeExamStore) seedExam(n int, points, passing float64, duration int) *model.Exam {
	exam := &model.Exam{Title: "Go basics", Category: "go", IsPublished: true, PassingPoints: passing, DurationMinutes: duration, AllowReview: true}
	f.CreateExam(context.Background(), exam)
	for i := 1; i <= n; i++ {
		f.CreateQuestion(context.Background(), &model.Question{
			ExamID:         exam.ID,
			Position:       i,
			Type:           scoring.SingleChoice,
			Text:           "question",
			Options:        []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
			CorrectAnswers: []string{"a"},
			Points:         points,
			Tags:           []string{"go"},
		})
	}
	exam, _ = f.FindExam(context.Background(), exam.ID)
	return exam
}

type fakeAttemptStore struct {
	mu        sync.Mutex
	attempts  map[uint]*model.ExamAttempt
	answers   map[uint]map[uint]model.Answer
	nextID    uint
	findErr   error
	createErr error
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{attempts: map[uint]*model.ExamAttempt{}, answers: map[uint]map[uint]model.Answer{}}
}

func (f *fakeAttemptStore) CreateAttempt(_ context.Context, attempt *model.ExamAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, a := range f.attempts {
		if a.ActiveKey != nil && attempt.ActiveKey != nil && *a.ActiveKey == *attempt.ActiveKey {
			return util.ErrAlreadyInProgress
		}
	}
	f.nextID++
	attempt.ID = f.nextID
	cp := *attempt
	f.attempts[attempt.ID] = &cp
	return nil
}

func (f *fakeAttemptStore) FindActiveAttempt(_ context.Context, userID, examID uint) (*model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, a := range f.attempts {
		if a.UserID == userID && a.ExamID == examID && a.Status == model.StatusInProgress {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAttemptStore) FindAttempt(_ context.Context, id uint) (*model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttemptStore) ListAnswers(_ context.Context, attemptID uint) ([]model.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Answer
	for _, a := range f.answers[attemptID] {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAttemptStore) SaveAnswer(_ context.Context, answer *model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[answer.AttemptID]
	if !ok || a.Status != model.StatusInProgress {
		return util.ErrInvalidState
	}
	if f.answers[answer.AttemptID] == nil {
		f.answers[answer.AttemptID] = map[uint]model.Answer{}
	}
	f.answers[answer.AttemptID][answer.QuestionID] = *answer
	return nil
}

func (f *fakeAttemptStore) FinalizeAttempt(_ context.Context, id uint, score func(*model.ExamAttempt, []model.Answer)) (*model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Status != model.StatusInProgress {
		return nil, util.ErrInvalidState
	}
	a.Status = model.StatusCompleted
	a.ActiveKey = nil
	var answers []model.Answer
	for _, ans := range f.answers[id] {
		answers = append(answers, ans)
	}
	score(a, answers)
	cp := *a
	return &cp, nil
}

func (f *fakeAttemptStore) AbandonAttempt(_ context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Status != model.StatusInProgress {
		return util.ErrInvalidState
	}
	a.Status = model.StatusAbandoned
	a.ActiveKey = nil
	a.EndedAt = &at
	return nil
}

func (f *fakeAttemptStore) ListAttempts(_ context.Context, filter repository.AttemptFilter) ([]model.ExamAttempt, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExamAttempt
	for id := uint(1); id <= f.nextID; id++ {
		if a := f.attempts[id]; a != nil && a.UserID == filter.UserID {
			out = append(out, *a)
		}
	}
	return out, int64(len(out)), nil
}

type fakeQuota struct {
	mu      sync.Mutex
	allow   bool
	premium bool
	// 非空时 RecordUsage 直接失败，模拟并发请求已占满额度
	recordErr error
	started   map[string]int
	released  map[string]int
}

func newFakeQuota(allow bool) *fakeQuota {
	return &fakeQuota{allow: allow, started: map[string]int{}, released: map[string]int{}}
}

func (f *fakeQuota) CanStart(context.Context, uint, string) (bool, error) {
	return f.allow, nil
}

func (f *fakeQuota) HasPremium(context.Context, uint) (bool, error) {
	return f.premium, nil
}

func (f *fakeQuota) RecordUsage(_ context.Context, _ uint, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.started[kind]++
	return nil
}

func (f *fakeQuota) ReleaseUsage(_ context.Context, _ uint, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[kind]--
	f.released[kind]++
	return nil
}

type fakeTracker struct {
	mu         sync.Mutex
	activities []model.ActivityType
	recomputes int
}

func (f *fakeTracker) LogActivity(_ context.Context, _ uint, activity model.ActivityType, _ string, _ map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, activity)
	return nil
}

func (f *fakeTracker) Recompute(context.Context, uint) (*model.UserAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputes++
	return &model.UserAnalytics{}, nil
}
