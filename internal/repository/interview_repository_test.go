package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"
	"prepwise_backend/pkg/database/dbtest"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func seedInterview(t *testing.T, db *gorm.DB, userID uint, templateID *uint) *model.Interview {
	t.Helper()
	interview := &model.Interview{
		UserID:        userID,
		TemplateID:    templateID,
		Title:         "Backend mock",
		InterviewType: model.InterviewTechnical,
		Status:        model.StatusScheduled,
		MaxScore:      20,
		PassingScore:  12,
		Questions: []model.InterviewQuestion{
			{Position: 1, Category: model.CategoryTechnical, Text: "Q1", Tags: []string{"go"}, MaxScore: 10},
			{Position: 2, Category: model.CategoryBehavioral, Text: "Q2", Tags: []string{"teamwork"}, MaxScore: 10},
		},
	}
	if err := NewInterviewRepository(db).CreateInterview(context.Background(), interview); err != nil {
		t.Fatalf("CreateInterview: %v", err)
	}
	return interview
}

func start(t *testing.T, repo *InterviewRepository, i *model.Interview, key *string) error {
	t.Helper()
	now := time.Now()
	i.ActiveKey = key
	i.StartedAt = &now
	return repo.StartInterview(context.Background(), i)
}

func TestStartInterviewPerTemplate(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewInterviewRepository(db)
	templateID := uint(5)
	key := model.ActiveKey(util.KindInterview, 1, templateID)

	first := seedInterview(t, db, 1, &templateID)
	second := seedInterview(t, db, 1, &templateID)
	if err := start(t, repo, first, key); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if err := start(t, repo, second, key); !errors.Is(err, util.ErrAlreadyInProgress) {
		t.Fatalf("second start err = %v, want ErrAlreadyInProgress", err)
	}
	if err := start(t, repo, first, key); !errors.Is(err, util.ErrInvalidState) {
		t.Fatalf("restart err = %v, want ErrInvalidState", err)
	}

	active, err := repo.FindActiveInterview(context.Background(), 1, *key)
	if err != nil || active.ID != first.ID {
		t.Fatalf("FindActiveInterview = %v, %v", active, err)
	}
}

func TestResponseRevisionGuardsEvaluation(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	repo := NewInterviewRepository(db)
	interview := seedInterview(t, db, 1, nil)
	if err := start(t, repo, interview, nil); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	qid := interview.Questions[0].ID

	first, err := repo.SaveResponse(ctx, &model.InterviewResponse{
		InterviewID: interview.ID, QuestionID: qid, ResponseText: "v1",
		EvaluationStatus: model.EvaluationPending,
	})
	if err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	second, err := repo.SaveResponse(ctx, &model.InterviewResponse{
		InterviewID: interview.ID, QuestionID: qid, ResponseText: "v2",
		EvaluationStatus: model.EvaluationPending,
	})
	if err != nil {
		t.Fatalf("SaveResponse overwrite: %v", err)
	}
	if second.ID != first.ID || second.Revision != first.Revision+1 || second.ResponseText != "v2" {
		t.Fatalf("overwrite = %+v (first %+v)", second, first)
	}

	now := time.Now()
	stale := *first
	stale.Score = 3
	stale.EvaluationStatus = model.EvaluationDone
	stale.EvaluatedAt = &now
	stale.Metrics = datatypes.NewJSONType(map[string]float64{})
	applied, err := repo.UpdateEvaluation(ctx, &stale)
	if err != nil || applied {
		t.Fatalf("stale UpdateEvaluation = %v, %v, want false", applied, err)
	}

	current := *second
	current.Score = 8
	current.EvaluationStatus = model.EvaluationDone
	current.EvaluatedAt = &now
	current.Metrics = datatypes.NewJSONType(map[string]float64{"clarity": 8})
	applied, err = repo.UpdateEvaluation(ctx, &current)
	if err != nil || !applied {
		t.Fatalf("UpdateEvaluation = %v, %v, want true", applied, err)
	}

	got, _ := repo.FindResponse(ctx, interview.ID, qid)
	if got.Score != 8 || got.EvaluationStatus != model.EvaluationDone || got.Metrics.Data()["clarity"] != 8 {
		t.Fatalf("stored response = %+v", got)
	}
}

func TestFinalizeAndRescoreInterview(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	repo := NewInterviewRepository(db)
	interview := seedInterview(t, db, 1, nil)
	start(t, repo, interview, nil)

	repo.SaveResponse(ctx, &model.InterviewResponse{
		InterviewID: interview.ID, QuestionID: interview.Questions[0].ID,
		ResponseText: "answer", Score: 7, EvaluationStatus: model.EvaluationDone,
	})

	sum := func(i *model.Interview, responses []model.InterviewResponse) {
		end := time.Now()
		i.EndedAt = &end
		i.TotalScore = 0
		for _, r := range responses {
			i.TotalScore += r.Score
		}
		i.Percentage = i.TotalScore * 100 / i.MaxScore
		i.Passed = i.TotalScore >= i.PassingScore
	}

	final, err := repo.FinalizeInterview(ctx, interview.ID, sum)
	if err != nil {
		t.Fatalf("FinalizeInterview: %v", err)
	}
	if final.Status != model.StatusCompleted || final.TotalScore != 7 || final.Passed {
		t.Fatalf("final = %+v", final)
	}
	if _, err := repo.FinalizeInterview(ctx, interview.ID, sum); !errors.Is(err, util.ErrInvalidState) {
		t.Fatalf("second finalize err = %v, want ErrInvalidState", err)
	}
	if _, err := repo.SaveResponse(ctx, &model.InterviewResponse{InterviewID: interview.ID, QuestionID: interview.Questions[1].ID}); !errors.Is(err, util.ErrInvalidState) {
		t.Fatalf("SaveResponse after completion err = %v, want ErrInvalidState", err)
	}

	// 迟到的评估直接写库后重新汇总
	db.Model(&model.InterviewResponse{}).Where("interview_id = ?", interview.ID).Update("score", 9)
	rescored, err := repo.RescoreInterview(ctx, interview.ID, sum)
	if err != nil {
		t.Fatalf("RescoreInterview: %v", err)
	}
	if rescored.TotalScore != 9 || rescored.Percentage != 45 {
		t.Fatalf("rescored = %v / %v", rescored.TotalScore, rescored.Percentage)
	}
}

func TestTransitionInterview(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	repo := NewInterviewRepository(db)
	interview := seedInterview(t, db, 1, nil)

	if err := repo.TransitionInterview(ctx, interview.ID, model.StatusCancelled, time.Now(), model.StatusScheduled); err != nil {
		t.Fatalf("cancel scheduled: %v", err)
	}
	err := repo.TransitionInterview(ctx, interview.ID, model.StatusAbandoned, time.Now(), model.StatusScheduled, model.StatusInProgress)
	if !errors.Is(err, util.ErrInvalidState) {
		t.Fatalf("abandon cancelled err = %v, want ErrInvalidState", err)
	}
}
