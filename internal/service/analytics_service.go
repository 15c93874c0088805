package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/model"
	"prepwise_backend/internal/repository"
	"prepwise_backend/internal/util"
	"prepwise_backend/pkg/logger"
	"prepwise_backend/pkg/monitoring"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AnalyticsStore 分析快照、活动日志以及汇总所需的只读查询
type AnalyticsStore interface {
	FindSnapshot(ctx context.Context, userID uint) (*model.UserAnalytics, error)
	SaveStats(ctx context.Context, snap *model.UserAnalytics) error
	UpdateStreak(ctx context.Context, userID uint, apply func(*model.UserAnalytics) bool) (*model.UserAnalytics, bool, error)
	ListExamAttempts(ctx context.Context, userID uint) ([]model.ExamAttempt, error)
	ListExamItemScores(ctx context.Context, userID uint) ([]repository.ItemScoreRow, error)
	ListInterviews(ctx context.Context, userID uint) ([]model.Interview, error)
	ListInterviewItemScores(ctx context.Context, userID uint) ([]repository.ItemScoreRow, error)
	CreateActivity(ctx context.Context, log *model.ActivityLog) error
	ListActivities(ctx context.Context, userID uint, limit int) ([]model.ActivityLog, error)
}

// SnapshotCache 快照缓存，未启用 redis 时为空实现
type SnapshotCache interface {
	Get(ctx context.Context, userID uint) (*model.UserAnalytics, bool)
	Set(ctx context.Context, snap *model.UserAnalytics, ttl time.Duration) error
	Delete(ctx context.Context, userID uint) error
}

// AnalyticsPolicy 汇总参数，支持配置热更新
type AnalyticsPolicy struct {
	StaleAfter      time.Duration
	StrongThreshold float64
	WeakThreshold   float64
}

func PolicyFromConfig(cfg config.AnalyticsConfig) AnalyticsPolicy {
	return AnalyticsPolicy{
		StaleAfter:      cfg.StaleAfter(),
		StrongThreshold: cfg.StrongThreshold,
		WeakThreshold:   cfg.WeakThreshold,
	}
}

type AnalyticsService struct {
	Store AnalyticsStore
	Cache SnapshotCache

	mu     sync.RWMutex
	policy AnalyticsPolicy
	group  singleflight.Group
	now    func() time.Time

	// 每次显式重算请求递增，只接受在请求之后开始加载的结果
	genMu sync.Mutex
	gens  map[uint]uint64
}

const recomputeTimeout = 30 * time.Second

type recomputeResult struct {
	snap *model.UserAnalytics
	gen  uint64
}

func NewAnalyticsService(store AnalyticsStore, cache SnapshotCache, cfg config.AnalyticsConfig) *AnalyticsService {
	return &AnalyticsService{
		Store:  store,
		Cache:  cache,
		policy: PolicyFromConfig(cfg),
		now:    time.Now,
		gens:   make(map[uint]uint64),
	}
}

func (s *AnalyticsService) SetPolicy(p AnalyticsPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

func (s *AnalyticsService) Policy() AnalyticsPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// ---- 纯汇总 ----

type AggregateInput struct {
	ExamAttempts   []model.ExamAttempt
	ExamItems      []repository.ItemScoreRow
	Interviews     []model.Interview
	InterviewItems []repository.ItemScoreRow
}

// Aggregate 只由输入决定结果，不含 UserID、打卡与计算时间
func Aggregate(in AggregateInput, p AnalyticsPolicy) *model.UserAnalytics {
	out := &model.UserAnalytics{}

	exam := &out.ExamStats
	percentSum := 0.0
	for _, a := range in.ExamAttempts {
		if a.Status != model.StatusCompleted {
			continue
		}
		exam.Completed++
		if a.Passed {
			exam.Passed++
		}
		percentSum += a.Percentage
		if exam.Completed == 1 || a.Percentage > exam.MaxScore {
			exam.MaxScore = a.Percentage
		}
		exam.TotalTimeSeconds += int64(a.TimeTakenSeconds)
	}
	if exam.Completed > 0 {
		exam.AverageScore = util.Round2(percentSum / float64(exam.Completed))
	}

	interview := &out.InterviewStats
	scoreSum := 0.0
	for _, i := range in.Interviews {
		interview.Total++
		if i.Status != model.StatusCompleted {
			continue
		}
		interview.Completed++
		scoreSum += i.TotalScore
		if i.StartedAt != nil && i.EndedAt != nil && i.EndedAt.After(*i.StartedAt) {
			interview.TotalTimeSeconds += int64(i.EndedAt.Sub(*i.StartedAt).Seconds())
		}
	}
	if interview.Completed > 0 {
		interview.AverageScore = util.Round2(scoreSum / float64(interview.Completed))
	}

	skills := SkillScores(append(append([]repository.ItemScoreRow{}, in.ExamItems...), in.InterviewItems...))
	strong, weak := []string{}, []string{}
	for _, tag := range sortedKeys(skills) {
		switch {
		case skills[tag] >= p.StrongThreshold:
			strong = append(strong, tag)
		case skills[tag] < p.WeakThreshold:
			weak = append(weak, tag)
		}
	}
	out.SkillScores = datatypes.NewJSONType(skills)
	out.StrongAreas = strong
	out.WeakAreas = weak
	return out
}

// SkillScores 每个标签的得分率（百分制）
func SkillScores(rows []repository.ItemScoreRow) map[string]float64 {
	awarded := map[string]float64{}
	available := map[string]float64{}
	for _, r := range rows {
		if r.Available <= 0 {
			continue
		}
		for _, tag := range r.Tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			awarded[tag] += r.Awarded
			available[tag] += r.Available
		}
	}
	out := make(map[string]float64, len(available))
	for tag, total := range available {
		out[tag] = util.Round2(awarded[tag] / total * 100)
	}
	return out
}

// ApplyStreak 以自然日更新连续天数，同一天重复调用无变化
func ApplyStreak(snap *model.UserAnalytics, now time.Time) bool {
	today := now.Format(util.DateFormat)
	if snap.LastActivityDate == today {
		return false
	}
	if snap.LastActivityDate == now.AddDate(0, 0, -1).Format(util.DateFormat) {
		snap.CurrentStreakDays++
	} else {
		snap.CurrentStreakDays = 1
	}
	if snap.CurrentStreakDays > snap.LongestStreakDays {
		snap.LongestStreakDays = snap.CurrentStreakDays
	}
	snap.LastActivityDate = today
	return true
}

// ---- 快照 ----

// Recompute 重新汇总并写入；失败时保留原快照。
// 已在进行中的重算可能早于调用方的写入，结果不被采纳时会再跑一轮。
func (s *AnalyticsService) Recompute(ctx context.Context, userID uint) (*model.UserAnalytics, error) {
	return s.sharedRecompute(ctx, userID, s.generation(userID, true))
}

func (s *AnalyticsService) generation(userID uint, bump bool) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens == nil {
		s.gens = make(map[uint]uint64)
	}
	if bump {
		s.gens[userID]++
	}
	return s.gens[userID]
}

// sharedRecompute 同一用户的重算合并执行，want 为可接受的最小代数。
// 合并的任务与发起请求的生命周期解绑，调用方取消只影响自己的等待。
func (s *AnalyticsService) sharedRecompute(ctx context.Context, userID uint, want uint64) (*model.UserAnalytics, error) {
	key := strconv.FormatUint(uint64(userID), 10)
	for {
		ch := s.group.DoChan(key, func() (interface{}, error) {
			started := s.generation(userID, false)
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recomputeTimeout)
			defer cancel()
			snap, err := s.recompute(rctx, userID)
			return recomputeResult{snap: snap, gen: started}, err
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}

		r, _ := res.Val.(recomputeResult)
		if r.gen < want {
			continue
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return r.snap, nil
	}
}

func (s *AnalyticsService) recompute(ctx context.Context, userID uint) (*model.UserAnalytics, error) {
	var in AggregateInput
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		in.ExamAttempts, err = s.Store.ListExamAttempts(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		in.ExamItems, err = s.Store.ListExamItemScores(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		in.Interviews, err = s.Store.ListInterviews(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		in.InterviewItems, err = s.Store.ListInterviewItemScores(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		monitoring.AnalyticsRecomputes.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("load analytics inputs: %w", err)
	}

	policy := s.Policy()
	snap := Aggregate(in, policy)
	snap.UserID = userID
	now := s.now()
	snap.LastCalculatedAt = &now
	if err := s.Store.SaveStats(ctx, snap); err != nil {
		monitoring.AnalyticsRecomputes.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("save analytics: %w", err)
	}
	monitoring.AnalyticsRecomputes.WithLabelValues("ok").Inc()

	// 重新读取以带上打卡字段
	stored, err := s.Store.FindSnapshot(ctx, userID)
	if err != nil {
		return snap, nil
	}
	if err := s.Cache.Set(ctx, stored, policy.StaleAfter); err != nil {
		logger.Log.Warn("Failed to cache analytics snapshot", zap.Uint("user_id", userID), zap.Error(err))
	}
	return stored, nil
}

func (s *AnalyticsService) fresh(snap *model.UserAnalytics) bool {
	return snap.LastCalculatedAt != nil && s.now().Sub(*snap.LastCalculatedAt) < s.Policy().StaleAfter
}

// Snapshot 过期时惰性重算；重算失败返回旧快照和错误
func (s *AnalyticsService) Snapshot(ctx context.Context, userID uint) (*model.UserAnalytics, error) {
	if cached, ok := s.Cache.Get(ctx, userID); ok && s.fresh(cached) {
		return cached, nil
	}

	prior, err := s.Store.FindSnapshot(ctx, userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if prior != nil && s.fresh(prior) {
		return prior, nil
	}

	snap, err := s.sharedRecompute(ctx, userID, 0)
	if err != nil {
		logger.Log.Error("Analytics recompute failed", zap.Uint("user_id", userID), zap.Error(err))
		return prior, err
	}
	return snap, nil
}

// ---- 活动与打卡 ----

// LogActivity 记录一次学习行为并更新连续打卡
func (s *AnalyticsService) LogActivity(ctx context.Context, userID uint, activity model.ActivityType, description string, metadata map[string]interface{}) error {
	_, err := s.RecordActivity(ctx, userID, activity, description, metadata)
	return err
}

// RecordActivity 写入行为日志并推进连续天数，未知类型返回 ErrInvalidInput
func (s *AnalyticsService) RecordActivity(ctx context.Context, userID uint, activity model.ActivityType, description string, metadata map[string]interface{}) (*model.ActivityLog, error) {
	if !activity.Valid() {
		return nil, fmt.Errorf("%w: unknown activity type %q", util.ErrInvalidInput, activity)
	}
	entry := &model.ActivityLog{
		UserID:       userID,
		ActivityType: activity,
		Description:  description,
		Metadata:     datatypes.JSONMap(metadata),
		CreatedAt:    s.now(),
	}
	if err := s.Store.CreateActivity(ctx, entry); err != nil {
		return nil, err
	}
	if _, err := s.touchStreak(ctx, userID); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordDailyVisit 每个自然日的首次访问记一次登录
func (s *AnalyticsService) RecordDailyVisit(ctx context.Context, userID uint) error {
	changed, err := s.touchStreak(ctx, userID)
	if err != nil || !changed {
		return err
	}
	return s.Store.CreateActivity(ctx, &model.ActivityLog{
		UserID:       userID,
		ActivityType: model.ActivityLogin,
		Description:  "Daily visit",
		CreatedAt:    s.now(),
	})
}

func (s *AnalyticsService) touchStreak(ctx context.Context, userID uint) (bool, error) {
	now := s.now()
	_, changed, err := s.Store.UpdateStreak(ctx, userID, func(snap *model.UserAnalytics) bool {
		return ApplyStreak(snap, now)
	})
	if err != nil {
		return false, err
	}
	if changed {
		if err := s.Cache.Delete(ctx, userID); err != nil {
			logger.Log.Warn("Failed to evict analytics cache", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return changed, nil
}

// ---- 报表 ----

type Dashboard struct {
	Snapshot         *model.UserAnalytics `json:"snapshot"`
	Stale            bool                 `json:"stale"`
	RecentActivities []model.ActivityLog  `json:"recentActivities"`
	RecentAttempts   []model.ExamAttempt  `json:"recentAttempts"`
}

func (s *AnalyticsService) Dashboard(ctx context.Context, userID uint) (*Dashboard, error) {
	snap, err := s.Snapshot(ctx, userID)
	if snap == nil && err != nil {
		return nil, err
	}
	activities, actErr := s.Store.ListActivities(ctx, userID, 10)
	if actErr != nil {
		return nil, actErr
	}
	attempts, actErr := s.Store.ListExamAttempts(ctx, userID)
	if actErr != nil {
		return nil, actErr
	}
	if snap == nil {
		snap = &model.UserAnalytics{UserID: userID}
	}
	return &Dashboard{
		Snapshot:         snap,
		Stale:            err != nil,
		RecentActivities: activities,
		RecentAttempts:   latestAttempts(attempts, 5),
	}, nil
}

type ScoreBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

type CategoryStat struct {
	Category     string  `json:"category"`
	Attempts     int     `json:"attempts"`
	AverageScore float64 `json:"averageScore"`
	PassRate     float64 `json:"passRate"`
}

type ExamStatsReport struct {
	Distribution []ScoreBucket       `json:"distribution"`
	ByCategory   []CategoryStat      `json:"byCategory"`
	Recent       []model.ExamAttempt `json:"recent"`
}

// ExamStats 成绩分布（每 10 分一档）与按类别统计
func (s *AnalyticsService) ExamStats(ctx context.Context, userID uint) (*ExamStatsReport, error) {
	attempts, err := s.Store.ListExamAttempts(ctx, userID)
	if err != nil {
		return nil, err
	}

	buckets := make([]ScoreBucket, 10)
	for i := range buckets {
		hi := i*10 + 9
		if i == 9 {
			hi = 100
		}
		buckets[i].Range = fmt.Sprintf("%d-%d", i*10, hi)
	}
	type acc struct {
		n, passed int
		sum       float64
	}
	byCategory := map[string]*acc{}
	for _, a := range attempts {
		idx := int(a.Percentage) / 10
		if idx > 9 {
			idx = 9
		}
		if idx < 0 {
			idx = 0
		}
		buckets[idx].Count++

		category := "uncategorized"
		if a.Exam != nil && a.Exam.Category != "" {
			category = a.Exam.Category
		}
		c := byCategory[category]
		if c == nil {
			c = &acc{}
			byCategory[category] = c
		}
		c.n++
		c.sum += a.Percentage
		if a.Passed {
			c.passed++
		}
	}

	categories := make([]string, 0, len(byCategory))
	for k := range byCategory {
		categories = append(categories, k)
	}
	sort.Strings(categories)
	stats := make([]CategoryStat, 0, len(categories))
	for _, k := range categories {
		c := byCategory[k]
		stats = append(stats, CategoryStat{
			Category:     k,
			Attempts:     c.n,
			AverageScore: util.Round2(c.sum / float64(c.n)),
			PassRate:     util.Round2(float64(c.passed) / float64(c.n) * 100),
		})
	}

	return &ExamStatsReport{Distribution: buckets, ByCategory: stats, Recent: latestAttempts(attempts, 10)}, nil
}

// latestAttempts 取按 id 升序列表的最后 n 条，新的在前
func latestAttempts(attempts []model.ExamAttempt, n int) []model.ExamAttempt {
	if len(attempts) > n {
		attempts = attempts[len(attempts)-n:]
	}
	out := make([]model.ExamAttempt, 0, len(attempts))
	for i := len(attempts) - 1; i >= 0; i-- {
		out = append(out, attempts[i])
	}
	return out
}

type InterviewTypeStat struct {
	InterviewType model.InterviewType `json:"interviewType"`
	Total         int                 `json:"total"`
	Completed     int                 `json:"completed"`
	AverageScore  float64             `json:"averageScore"`
	PassRate      float64             `json:"passRate"`
}

// InterviewStats 按面试类型统计，平均分使用百分比
func (s *AnalyticsService) InterviewStats(ctx context.Context, userID uint) ([]InterviewTypeStat, error) {
	interviews, err := s.Store.ListInterviews(ctx, userID)
	if err != nil {
		return nil, err
	}
	byType := map[model.InterviewType]*InterviewTypeStat{}
	sums := map[model.InterviewType]float64{}
	passed := map[model.InterviewType]int{}
	for _, i := range interviews {
		st := byType[i.InterviewType]
		if st == nil {
			st = &InterviewTypeStat{InterviewType: i.InterviewType}
			byType[i.InterviewType] = st
		}
		st.Total++
		if i.Status != model.StatusCompleted {
			continue
		}
		st.Completed++
		sums[i.InterviewType] += i.Percentage
		if i.Passed {
			passed[i.InterviewType]++
		}
	}

	out := make([]InterviewTypeStat, 0, len(byType))
	for t, st := range byType {
		if st.Completed > 0 {
			st.AverageScore = util.Round2(sums[t] / float64(st.Completed))
			st.PassRate = util.Round2(float64(passed[t]) / float64(st.Completed) * 100)
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].InterviewType < out[b].InterviewType })
	return out, nil
}

type TrendPoint struct {
	Period       string  `json:"period"`
	Exams        int     `json:"exams"`
	Interviews   int     `json:"interviews"`
	AverageScore float64 `json:"averageScore"`
}

// PerformanceTrend 按日/周/月聚合完成记录，返回最近 limit 个周期
func (s *AnalyticsService) PerformanceTrend(ctx context.Context, userID uint, period string, limit int) ([]TrendPoint, error) {
	keyOf, err := periodKey(period)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 12
	}

	var attempts []model.ExamAttempt
	var interviews []model.Interview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attempts, err = s.Store.ListExamAttempts(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		interviews, err = s.Store.ListInterviews(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	points := map[string]*TrendPoint{}
	sums := map[string]float64{}
	point := func(t time.Time) *TrendPoint {
		k := keyOf(t)
		p := points[k]
		if p == nil {
			p = &TrendPoint{Period: k}
			points[k] = p
		}
		return p
	}
	for _, a := range attempts {
		if a.EndedAt == nil {
			continue
		}
		p := point(*a.EndedAt)
		p.Exams++
		sums[p.Period] += a.Percentage
	}
	for _, i := range interviews {
		if i.Status != model.StatusCompleted || i.EndedAt == nil {
			continue
		}
		p := point(*i.EndedAt)
		p.Interviews++
		sums[p.Period] += i.Percentage
	}

	keys := make([]string, 0, len(points))
	for k := range points {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	out := make([]TrendPoint, 0, len(keys))
	for _, k := range keys {
		p := points[k]
		p.AverageScore = util.Round2(sums[k] / float64(p.Exams+p.Interviews))
		out = append(out, *p)
	}
	return out, nil
}

func periodKey(period string) (func(time.Time) string, error) {
	switch period {
	case "", "weekly":
		return func(t time.Time) string {
			year, week := t.ISOWeek()
			return fmt.Sprintf("%d-W%02d", year, week)
		}, nil
	case "daily":
		return func(t time.Time) string { return t.Format(util.DateFormat) }, nil
	case "monthly":
		return func(t time.Time) string { return t.Format("2006-01") }, nil
	}
	return nil, fmt.Errorf("%w: unknown period %q", util.ErrInvalidInput, period)
}

func (s *AnalyticsService) Activities(ctx context.Context, userID uint, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Store.ListActivities(ctx, userID, limit)
}
