package repository

import (
	"context"
	"testing"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/pkg/database/dbtest"

	"gorm.io/datatypes"
)

func TestSaveStatsKeepsStreak(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	repo := NewAnalyticsRepository(db)

	snap, changed, err := repo.UpdateStreak(ctx, 3, func(s *model.UserAnalytics) bool {
		s.CurrentStreakDays = 4
		s.LongestStreakDays = 9
		s.LastActivityDate = "2024-03-10"
		return true
	})
	if err != nil || !changed || snap.CurrentStreakDays != 4 {
		t.Fatalf("UpdateStreak = %+v, %v, %v", snap, changed, err)
	}

	now := time.Now()
	stats := &model.UserAnalytics{
		UserID:           3,
		ExamStats:        model.ExamSummary{Completed: 2, Passed: 1, AverageScore: 65},
		SkillScores:      datatypes.NewJSONType(map[string]float64{"go": 80}),
		StrongAreas:      []string{"go"},
		LastCalculatedAt: &now,
	}
	if err := repo.SaveStats(ctx, stats); err != nil {
		t.Fatalf("SaveStats: %v", err)
	}

	got, err := repo.FindSnapshot(ctx, 3)
	if err != nil {
		t.Fatalf("FindSnapshot: %v", err)
	}
	if got.ExamStats.Completed != 2 || got.SkillScores.Data()["go"] != 80 {
		t.Fatalf("stats = %+v", got)
	}
	if got.CurrentStreakDays != 4 || got.LongestStreakDays != 9 || got.LastActivityDate != "2024-03-10" {
		t.Fatalf("streak overwritten: %+v", got)
	}

	_, changed, _ = repo.UpdateStreak(ctx, 3, func(*model.UserAnalytics) bool { return false })
	if changed {
		t.Fatalf("no-op streak update reported change")
	}
}

func TestActivitiesNewestFirst(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	repo := NewAnalyticsRepository(db)

	for _, d := range []string{"first", "second", "third"} {
		if err := repo.CreateActivity(ctx, &model.ActivityLog{UserID: 1, ActivityType: model.ActivityLogin, Description: d}); err != nil {
			t.Fatalf("CreateActivity: %v", err)
		}
	}
	logs, err := repo.ListActivities(ctx, 1, 2)
	if err != nil || len(logs) != 2 {
		t.Fatalf("ListActivities = %d, %v", len(logs), err)
	}
	if logs[0].Description != "third" {
		t.Fatalf("first log = %q, want third", logs[0].Description)
	}
}
