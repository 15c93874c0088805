package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"
	"prepwise_backend/pkg/database/dbtest"
)

const testSecret = "app-test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	cfg.JWT.Secret = testSecret
	cfg.AI.Provider = "none"
	cfg.Storage.Type = "local"
	cfg.Storage.LocalPath = t.TempDir()
	cfg.Quota.FreeExams = 5
	cfg.Quota.FreeInterviews = 1
	cfg.RateLimit.MaxRequests = 1000
	cfg.RateLimit.WindowMinutes = 1
	cfg.Analytics.StrongThreshold = 75
	cfg.Analytics.WeakThreshold = 50

	a := Build(cfg, dbtest.Open(t), nil)
	inline := func(task func()) { task() }
	a.services.attempt.Dispatch = inline
	a.services.interview.Dispatch = inline
	return a
}

func token(t *testing.T, userID uint, role model.UserRole) string {
	t.Helper()
	tok, err := util.GenerateJWT(userID, role, fmt.Sprintf("u%d@example.com", userID), testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return tok
}

func call(t *testing.T, a *App, method, path, tok string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
}

func TestHealthAndPlansArePublic(t *testing.T) {
	a := newTestApp(t)

	code, env := call(t, a, http.MethodGet, "/api/health", "", nil)
	if code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", code)
	}
	var health struct {
		Components map[string]string `json:"components"`
	}
	decode(t, env.Data, &health)
	if health.Components["cache"] != "disabled" {
		t.Errorf("cache = %q, want disabled", health.Components["cache"])
	}

	code, env = call(t, a, http.MethodGet, "/api/plans", "", nil)
	if code != http.StatusOK {
		t.Fatalf("plans status = %d, want 200", code)
	}
	var plans []model.PaymentPlan
	decode(t, env.Data, &plans)
	if len(plans) == 0 {
		t.Error("expected seeded plans")
	}
}

func TestRouteProtection(t *testing.T) {
	a := newTestApp(t)

	if code, _ := call(t, a, http.MethodGet, "/api/exams", "", nil); code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", code)
	}
	candidate := token(t, 7, model.Candidate)
	if code, _ := call(t, a, http.MethodGet, "/api/admin/exams", candidate, nil); code != http.StatusForbidden {
		t.Errorf("candidate admin status = %d, want 403", code)
	}
	if code, _ := call(t, a, http.MethodGet, "/api/exams", candidate, nil); code != http.StatusOK {
		t.Errorf("candidate status = %d, want 200", code)
	}
}

func TestExamFlow(t *testing.T) {
	a := newTestApp(t)
	admin := token(t, 1, model.Admin)
	candidate := token(t, 2, model.Candidate)

	code, env := call(t, a, http.MethodPost, "/api/admin/exams", admin, map[string]interface{}{
		"title":    "Go basics",
		"category": "go",
	})
	if code != http.StatusCreated {
		t.Fatalf("create exam status = %d (%s), want 201", code, env.Message)
	}
	var exam model.Exam
	decode(t, env.Data, &exam)

	questions := []map[string]interface{}{
		{
			"type":           "single_choice",
			"text":           "Which keyword starts a goroutine?",
			"options":        []map[string]string{{"id": "a", "text": "go"}, {"id": "b", "text": "async"}},
			"correctAnswers": []string{"a"},
			"points":         2,
		},
		{
			"type":           "true_false",
			"text":           "Maps are safe for concurrent writes.",
			"correctAnswers": []string{"false"},
			"points":         2,
		},
	}
	ids := make([]uint, 0, len(questions))
	for _, q := range questions {
		code, env = call(t, a, http.MethodPost, fmt.Sprintf("/api/admin/exams/%d/questions", exam.ID), admin, q)
		if code != http.StatusCreated {
			t.Fatalf("add question status = %d (%s), want 201", code, env.Message)
		}
		var created model.Question
		decode(t, env.Data, &created)
		ids = append(ids, created.ID)
	}

	// 未发布的试卷考生不可见
	if code, _ = call(t, a, http.MethodGet, fmt.Sprintf("/api/exams/%d", exam.ID), candidate, nil); code != http.StatusNotFound {
		t.Errorf("draft exam status = %d, want 404", code)
	}
	if code, env = call(t, a, http.MethodPost, fmt.Sprintf("/api/admin/exams/%d/publish", exam.ID), admin, nil); code != http.StatusOK {
		t.Fatalf("publish status = %d (%s), want 200", code, env.Message)
	}
	if code, _ = call(t, a, http.MethodPost, fmt.Sprintf("/api/admin/exams/%d/questions", exam.ID), admin, questions[0]); code != http.StatusConflict {
		t.Errorf("edit published status = %d, want 409", code)
	}

	code, env = call(t, a, http.MethodPost, fmt.Sprintf("/api/exams/%d/start", exam.ID), candidate, nil)
	if code != http.StatusCreated {
		t.Fatalf("start status = %d (%s), want 201", code, env.Message)
	}
	var view struct {
		Attempt model.ExamAttempt `json:"attempt"`
	}
	decode(t, env.Data, &view)
	attemptID := view.Attempt.ID

	code, env = call(t, a, http.MethodPost, fmt.Sprintf("/api/exams/%d/start", exam.ID), candidate, nil)
	if code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", code)
	}
	var conflict struct {
		AttemptID uint `json:"attemptId"`
	}
	decode(t, env.Data, &conflict)
	if conflict.AttemptID != attemptID {
		t.Errorf("conflict attemptId = %d, want %d", conflict.AttemptID, attemptID)
	}

	other := token(t, 3, model.Candidate)
	if code, _ = call(t, a, http.MethodGet, fmt.Sprintf("/api/attempts/%d", attemptID), other, nil); code != http.StatusForbidden && code != http.StatusNotFound {
		t.Errorf("foreign attempt status = %d, want 403 or 404", code)
	}

	code, env = call(t, a, http.MethodPost, fmt.Sprintf("/api/attempts/%d/answers", attemptID), candidate, map[string]interface{}{
		"questionId": ids[0],
		"answer":     "a",
	})
	if code != http.StatusOK {
		t.Fatalf("answer status = %d (%s), want 200", code, env.Message)
	}
	code, env = call(t, a, http.MethodPost, fmt.Sprintf("/api/attempts/%d/answers", attemptID), candidate, map[string]interface{}{
		"questionId": ids[1],
		"answer":     true,
	})
	if code != http.StatusOK {
		t.Fatalf("answer status = %d (%s), want 200", code, env.Message)
	}

	code, env = call(t, a, http.MethodPost, fmt.Sprintf("/api/attempts/%d/complete", attemptID), candidate, nil)
	if code != http.StatusOK {
		t.Fatalf("complete status = %d (%s), want 200", code, env.Message)
	}
	var done model.ExamAttempt
	decode(t, env.Data, &done)
	if done.Status != model.StatusCompleted {
		t.Errorf("status = %s, want %s", done.Status, model.StatusCompleted)
	}
	if done.PointsObtained != 2 || done.Percentage != 50 {
		t.Errorf("score = %v (%v%%), want 2 (50%%)", done.PointsObtained, done.Percentage)
	}

	if code, _ = call(t, a, http.MethodPost, fmt.Sprintf("/api/attempts/%d/complete", attemptID), candidate, nil); code != http.StatusConflict {
		t.Errorf("second complete status = %d, want 409", code)
	}

	code, env = call(t, a, http.MethodGet, fmt.Sprintf("/api/attempts/%d/results", attemptID), candidate, nil)
	if code != http.StatusOK {
		t.Fatalf("results status = %d (%s), want 200", code, env.Message)
	}
	var result struct {
		Breakdown []struct {
			QuestionID uint `json:"questionId"`
			IsCorrect  bool `json:"isCorrect"`
		} `json:"breakdown"`
	}
	decode(t, env.Data, &result)
	if len(result.Breakdown) != 2 {
		t.Fatalf("breakdown len = %d, want 2", len(result.Breakdown))
	}
}

func TestBillingLookupRoutes(t *testing.T) {
	a := newTestApp(t)

	code, env := call(t, a, http.MethodGet, "/api/plans/featured", "", nil)
	if code != http.StatusOK {
		t.Fatalf("featured status = %d, want 200", code)
	}
	var featured []model.PaymentPlan
	decode(t, env.Data, &featured)
	if len(featured) != 1 || featured[0].Name != "Premium" {
		t.Fatalf("featured = %+v, want Premium only", featured)
	}

	owner := token(t, 7, model.Candidate)
	other := token(t, 8, model.Candidate)
	admin := token(t, 1, model.Admin)

	code, env = call(t, a, http.MethodPost, "/api/subscription", owner, map[string]uint{"planId": featured[0].ID})
	if code != http.StatusCreated {
		t.Fatalf("subscribe status = %d, want 201", code)
	}
	var res struct {
		Payment model.Payment `json:"payment"`
	}
	decode(t, env.Data, &res)
	paymentPath := fmt.Sprintf("/api/payments/%d", res.Payment.ID)

	if code, _ := call(t, a, http.MethodGet, paymentPath, other, nil); code != http.StatusNotFound {
		t.Fatalf("other user's payment status = %d, want 404", code)
	}
	code, env = call(t, a, http.MethodGet, paymentPath, owner, nil)
	var payment model.Payment
	decode(t, env.Data, &payment)
	if code != http.StatusOK || payment.Status != model.PaymentPending {
		t.Fatalf("payment = %d %+v, want pending", code, payment)
	}

	code, env = call(t, a, http.MethodPost, fmt.Sprintf("/api/admin/payments/%d/confirm", res.Payment.ID), admin, nil)
	if code != http.StatusOK {
		t.Fatalf("confirm status = %d, want 200", code)
	}
	var invoice model.Invoice
	decode(t, env.Data, &invoice)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/invoices/%d/download", invoice.ID), nil)
	req.Header.Set("Authorization", "Bearer "+owner)
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("download status = %d, want 200", w.Code)
	}
	want := fmt.Sprintf(`attachment; filename="%s.json"`, invoice.InvoiceNumber)
	if got := w.Header().Get("Content-Disposition"); got != want {
		t.Fatalf("Content-Disposition = %q, want %q", got, want)
	}
	if code, _ := call(t, a, http.MethodGet, fmt.Sprintf("/api/invoices/%d/download", invoice.ID), other, nil); code != http.StatusNotFound {
		t.Fatalf("other user's invoice status = %d, want 404", code)
	}
}

func TestLogActivityRoute(t *testing.T) {
	a := newTestApp(t)
	tok := token(t, 7, model.Candidate)

	code, env := call(t, a, http.MethodPost, "/api/analytics/activities", tok, map[string]interface{}{
		"activityType": "exam_started",
		"description":  "Opened practice set",
		"metadata":     map[string]interface{}{"source": "mobile"},
	})
	if code != http.StatusCreated {
		t.Fatalf("log activity status = %d, want 201", code)
	}
	var entry model.ActivityLog
	decode(t, env.Data, &entry)
	if entry.UserID != 7 || entry.ActivityType != model.ActivityExamStarted || entry.Metadata["source"] != "mobile" {
		t.Fatalf("entry = %+v", entry)
	}

	if code, _ := call(t, a, http.MethodPost, "/api/analytics/activities", tok, map[string]string{"activityType": "teleported"}); code != http.StatusBadRequest {
		t.Fatalf("unknown type status = %d, want 400", code)
	}

	code, env = call(t, a, http.MethodGet, "/api/analytics/activities", tok, nil)
	var logs []model.ActivityLog
	decode(t, env.Data, &logs)
	found := false
	for _, l := range logs {
		if l.Description == "Opened practice set" {
			found = true
		}
	}
	if code != http.StatusOK || !found {
		t.Fatalf("activities = %d %+v, want the reported entry", code, logs)
	}
}
