package service

import (
	"context"
	"sync"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/repository"
	"prepwise_backend/internal/util"

	"gorm.io/gorm"
)

type fakeInterviewStore struct {
	mu         sync.Mutex
	interviews map[uint]*model.Interview
	responses  map[uint]*model.InterviewResponse
	templates  map[uint]*model.InterviewTemplate
	nextID     uint
	usage      map[uint]int
	findErr    error
}

func newFakeInterviewStore() *fakeInterviewStore {
	return &fakeInterviewStore{
		interviews: map[uint]*model.Interview{},
		responses:  map[uint]*model.InterviewResponse{},
		templates:  map[uint]*model.InterviewTemplate{},
		usage:      map[uint]int{},
	}
}

func (f *fakeInterviewStore) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeInterviewStore) copyInterview(i *model.Interview) *model.Interview {
	cp := *i
	cp.Questions = append([]model.InterviewQuestion(nil), i.Questions...)
	return &cp
}

func (f *fakeInterviewStore) CreateInterview(_ context.Context, interview *model.Interview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	interview.ID = f.id()
	for i := range interview.Questions {
		interview.Questions[i].ID = f.id()
		interview.Questions[i].InterviewID = interview.ID
	}
	f.interviews[interview.ID] = f.copyInterview(interview)
	return nil
}

func (f *fakeInterviewStore) FindInterview(_ context.Context, id uint) (*model.Interview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.interviews[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return f.copyInterview(i), nil
}

func (f *fakeInterviewStore) FindActiveInterview(_ context.Context, userID uint, key string) (*model.Interview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, i := range f.interviews {
		if i.UserID == userID && i.ActiveKey != nil && *i.ActiveKey == key {
			return f.copyInterview(i), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeInterviewStore) StartInterview(_ context.Context, interview *model.Interview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.interviews[interview.ID]
	if stored == nil || stored.Status != model.StatusScheduled {
		return util.ErrInvalidState
	}
	if interview.ActiveKey != nil {
		for _, other := range f.interviews {
			if other.ActiveKey != nil && *other.ActiveKey == *interview.ActiveKey {
				return util.ErrAlreadyInProgress
			}
		}
	}
	stored.Status = model.StatusInProgress
	stored.ActiveKey = interview.ActiveKey
	stored.StartedAt = interview.StartedAt
	stored.DeadlineAt = interview.DeadlineAt
	return nil
}

func (f *fakeInterviewStore) SaveResponse(_ context.Context, resp *model.InterviewResponse) (*model.InterviewResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.interviews[resp.InterviewID]
	if i == nil || i.Status != model.StatusInProgress {
		return nil, util.ErrInvalidState
	}
	for _, existing := range f.responses {
		if existing.InterviewID == resp.InterviewID && existing.QuestionID == resp.QuestionID {
			revision := existing.Revision + 1
			id := existing.ID
			*existing = *resp
			existing.ID = id
			existing.Revision = revision
			cp := *existing
			return &cp, nil
		}
	}
	resp.ID = f.id()
	cp := *resp
	f.responses[resp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeInterviewStore) FindResponse(_ context.Context, interviewID, questionID uint) (*model.InterviewResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.responses {
		if r.InterviewID == interviewID && r.QuestionID == questionID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeInterviewStore) FindResponseByID(_ context.Context, id uint) (*model.InterviewResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.responses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeInterviewStore) ListResponses(_ context.Context, interviewID uint) ([]model.InterviewResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responsesOf(interviewID), nil
}

func (f *fakeInterviewStore) responsesOf(interviewID uint) []model.InterviewResponse {
	var out []model.InterviewResponse
	for id := uint(1); id <= f.nextID; id++ {
		if r := f.responses[id]; r != nil && r.InterviewID == interviewID {
			out = append(out, *r)
		}
	}
	return out
}

func (f *fakeInterviewStore) UpdateEvaluation(_ context.Context, resp *model.InterviewResponse) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.responses[resp.ID]
	if r == nil || r.Revision != resp.Revision {
		return false, nil
	}
	r.Score = resp.Score
	r.Feedback = resp.Feedback
	r.Metrics = resp.Metrics
	r.EvaluationStatus = resp.EvaluationStatus
	r.NeedsReview = resp.NeedsReview
	r.EvaluatedAt = resp.EvaluatedAt
	r.ReviewedBy = resp.ReviewedBy
	return true, nil
}

func (f *fakeInterviewStore) FinalizeInterview(_ context.Context, id uint, score func(*model.Interview, []model.InterviewResponse)) (*model.Interview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.interviews[id]
	if i == nil || i.Status != model.StatusInProgress {
		return nil, util.ErrInvalidState
	}
	i.Status = model.StatusCompleted
	i.ActiveKey = nil
	score(i, f.responsesOf(id))
	return f.copyInterview(i), nil
}

func (f *fakeInterviewStore) RescoreInterview(_ context.Context, id uint, score func(*model.Interview, []model.InterviewResponse)) (*model.Interview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.interviews[id]
	if i == nil {
		return nil, gorm.ErrRecordNotFound
	}
	score(i, f.responsesOf(id))
	return f.copyInterview(i), nil
}

func (f *fakeInterviewStore) TransitionInterview(_ context.Context, id uint, to model.AttemptStatus, at time.Time, from ...model.AttemptStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.interviews[id]
	if i == nil {
		return util.ErrInvalidState
	}
	for _, s := range from {
		if i.Status == s {
			i.Status = to
			i.ActiveKey = nil
			i.EndedAt = &at
			return nil
		}
	}
	return util.ErrInvalidState
}

func (f *fakeInterviewStore) ListInterviews(_ context.Context, filter repository.InterviewFilter) ([]model.Interview, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Interview
	for id := uint(1); id <= f.nextID; id++ {
		if i := f.interviews[id]; i != nil && i.UserID == filter.UserID {
			out = append(out, *i)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeInterviewStore) CreateTemplate(_ context.Context, t *model.InterviewTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = f.id()
	cp := *t
	f.templates[t.ID] = &cp
	return nil
}

func (f *fakeInterviewStore) UpdateTemplate(_ context.Context, t *model.InterviewTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.templates[t.ID] = &cp
	return nil
}

func (f *fakeInterviewStore) FindTemplate(_ context.Context, id uint) (*model.InterviewTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeInterviewStore) ListTemplates(_ context.Context, activeOnly bool, interviewType model.InterviewType) ([]model.InterviewTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.InterviewTemplate
	for id := uint(1); id <= f.nextID; id++ {
		t := f.templates[id]
		if t == nil || (activeOnly && !t.IsActive) || (interviewType != "" && t.InterviewType != interviewType) {
			continue
		}
		cp := *t
		cp.Questions = append([]model.TemplateQuestion(nil), t.Questions...)
		out = append(out, cp)
	}
	return out, nil
}

func (f *fakeInterviewStore) IncrementTemplateUsage(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[id]++
	return nil
}

func (f *fakeInterviewStore) RefreshTemplateStats(context.Context, uint) error {
	return nil
}

// scriptedEvaluator 按脚本返回评估结果
type scriptedEvaluator struct {
	mu     sync.Mutex
	result *Evaluation
	err    error
	calls  int
}

func (e *scriptedEvaluator) Evaluate(context.Context, QuestionContext, string) (*Evaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	cp := *e.result
	return &cp, nil
}

type memoryMediaStorage struct {
	mu   sync.Mutex
	keys []string
}

func (m *memoryMediaStorage) Put(_ context.Context, key, _ string, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return "/uploads/" + key, nil
}

func (m *memoryMediaStorage) Remove(context.Context, string) error {
	return nil
}
