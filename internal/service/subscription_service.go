package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"
	"prepwise_backend/pkg/logger"

	"go.uber.org/zap"
)

// SubscriptionStore 套餐、订阅、支付与发票的持久化
type SubscriptionStore interface {
	ListPlans(ctx context.Context) ([]model.PaymentPlan, error)
	FindPlan(ctx context.Context, id uint) (*model.PaymentPlan, error)
	FindCurrentSubscription(ctx context.Context, userID uint) (*model.Subscription, error)
	FindSubscription(ctx context.Context, id uint) (*model.Subscription, error)
	FindLatestSubscription(ctx context.Context, userID uint) (*model.Subscription, error)
	CreateSubscription(ctx context.Context, sub *model.Subscription, payment *model.Payment) error
	SaveSubscription(ctx context.Context, sub *model.Subscription) error
	RollOverPeriod(ctx context.Context, sub *model.Subscription, prevPeriod int) (bool, error)
	MarkExpired(ctx context.Context, id uint) error
	IncrementUsage(ctx context.Context, subscriptionID uint, kind string, limit *int) (bool, error)
	DecrementUsage(ctx context.Context, subscriptionID uint, kind string) error
	CountStartedSince(ctx context.Context, userID uint, kind string, since time.Time) (int64, error)
	FindPayment(ctx context.Context, id uint) (*model.Payment, error)
	CompletePayment(ctx context.Context, paymentID uint, invoice *model.Invoice, sub *model.Subscription, at time.Time) error
	ListPayments(ctx context.Context, userID uint) ([]model.Payment, error)
	ListInvoices(ctx context.Context, userID uint) ([]model.Invoice, error)
	FindInvoice(ctx context.Context, id uint) (*model.Invoice, error)
}

// SubscriptionService 实现额度检查与订阅计费
type SubscriptionService struct {
	Repo    SubscriptionStore
	Tracker ActivityTracker

	mu   sync.RWMutex
	free config.QuotaConfig
	now  func() time.Time
}

func NewSubscriptionService(repo SubscriptionStore, tracker ActivityTracker, free config.QuotaConfig) *SubscriptionService {
	return &SubscriptionService{Repo: repo, Tracker: tracker, free: free, now: time.Now}
}

// current 返回有效订阅并完成惰性周期滚动；没有有效订阅时返回 nil
func (s *SubscriptionService) current(ctx context.Context, userID uint) (*model.Subscription, error) {
	sub, err := s.Repo.FindCurrentSubscription(ctx, userID)
	if err != nil {
		if errors.Is(translate(err), util.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	now := s.now()
	if !sub.IsActive(now) {
		if err := s.Repo.MarkExpired(ctx, sub.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := s.rollOver(ctx, sub, now); err != nil {
		return nil, err
	}
	return sub, nil
}

// rollOver 跨过计费周期时清零用量，并发调用只有一个生效
func (s *SubscriptionService) rollOver(ctx context.Context, sub *model.Subscription, now time.Time) error {
	if sub.CurrentPeriodEnd == nil || now.Before(*sub.CurrentPeriodEnd) || sub.Plan == nil {
		return nil
	}
	prev := sub.UsagePeriod
	for sub.CurrentPeriodEnd != nil && !now.Before(*sub.CurrentPeriodEnd) {
		next, ok := sub.Plan.BillingPeriod.Next(*sub.CurrentPeriodEnd)
		if !ok {
			break
		}
		sub.CurrentPeriodStart = *sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &next
		sub.UsagePeriod++
	}
	if sub.UsagePeriod == prev {
		return nil
	}

	applied, err := s.Repo.RollOverPeriod(ctx, sub, prev)
	if err != nil {
		return err
	}
	if !applied {
		fresh, err := s.Repo.FindSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		*sub = *fresh
		return nil
	}
	sub.ExamsUsed = 0
	sub.InterviewsUsed = 0
	return nil
}

// SetQuota 配置热更新时调整免费额度
func (s *SubscriptionService) SetQuota(free config.QuotaConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = free
}

func (s *SubscriptionService) freeQuota() config.QuotaConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.free
}

func monthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

// CanStart 检查本周期是否还有额度
func (s *SubscriptionService) CanStart(ctx context.Context, userID uint, kind string) (bool, error) {
	sub, err := s.current(ctx, userID)
	if err != nil {
		return false, err
	}
	if sub == nil {
		free := s.freeQuota()
		limit := free.FreeExams
		if kind == util.KindInterview {
			limit = free.FreeInterviews
		}
		used, err := s.Repo.CountStartedSince(ctx, userID, kind, monthStart(s.now()))
		if err != nil {
			return false, err
		}
		return used < int64(limit), nil
	}

	limit, used := limitFor(sub, kind)
	return limit == nil || used < *limit, nil
}

func limitFor(sub *model.Subscription, kind string) (*int, int) {
	if sub.Plan == nil {
		return nil, 0
	}
	if kind == util.KindInterview {
		return sub.Plan.MaxInterviews, sub.InterviewsUsed
	}
	return sub.Plan.MaxExams, sub.ExamsUsed
}

// RecordUsage 订阅用户在套餐上限内原子累加用量，已达上限返回 ErrQuotaExceeded；
// 免费用户的用量由开始记录推算
func (s *SubscriptionService) RecordUsage(ctx context.Context, userID uint, kind string) error {
	sub, err := s.current(ctx, userID)
	if err != nil || sub == nil {
		return err
	}
	limit, _ := limitFor(sub, kind)
	applied, err := s.Repo.IncrementUsage(ctx, sub.ID, kind, limit)
	if err != nil {
		return err
	}
	if !applied {
		return util.ErrQuotaExceeded
	}
	return nil
}

// ReleaseUsage 归还开始失败时占用的额度
func (s *SubscriptionService) ReleaseUsage(ctx context.Context, userID uint, kind string) error {
	sub, err := s.current(ctx, userID)
	if err != nil || sub == nil {
		return err
	}
	return s.Repo.DecrementUsage(ctx, sub.ID, kind)
}

// HasPremium 是否持有付费套餐
func (s *SubscriptionService) HasPremium(ctx context.Context, userID uint) (bool, error) {
	sub, err := s.current(ctx, userID)
	if err != nil || sub == nil {
		return false, err
	}
	return sub.Plan != nil && sub.Plan.Price.IsPositive(), nil
}

func (s *SubscriptionService) ListPlans(ctx context.Context) ([]model.PaymentPlan, error) {
	return s.Repo.ListPlans(ctx)
}

// FeaturedPlans 推荐展示的在售套餐
func (s *SubscriptionService) FeaturedPlans(ctx context.Context) ([]model.PaymentPlan, error) {
	plans, err := s.Repo.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	featured := make([]model.PaymentPlan, 0, len(plans))
	for _, plan := range plans {
		if plan.IsFeatured {
			featured = append(featured, plan)
		}
	}
	return featured, nil
}

type UsageView struct {
	ExamsUsed       int  `json:"examsUsed"`
	ExamsLimit      *int `json:"examsLimit"`
	InterviewsUsed  int  `json:"interviewsUsed"`
	InterviewsLimit *int `json:"interviewsLimit"`
}

type SubscriptionView struct {
	Subscription *model.Subscription `json:"subscription"`
	Usage        UsageView           `json:"usage"`
}

// MySubscription 当前订阅与本周期用量，无订阅时返回免费额度
func (s *SubscriptionService) MySubscription(ctx context.Context, userID uint) (*SubscriptionView, error) {
	sub, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		view := &SubscriptionView{Subscription: sub}
		view.Usage.ExamsLimit, view.Usage.ExamsUsed = limitFor(sub, util.KindExam)
		view.Usage.InterviewsLimit, view.Usage.InterviewsUsed = limitFor(sub, util.KindInterview)
		return view, nil
	}

	since := monthStart(s.now())
	exams, err := s.Repo.CountStartedSince(ctx, userID, util.KindExam, since)
	if err != nil {
		return nil, err
	}
	interviews, err := s.Repo.CountStartedSince(ctx, userID, util.KindInterview, since)
	if err != nil {
		return nil, err
	}
	free := s.freeQuota()
	examLimit, interviewLimit := free.FreeExams, free.FreeInterviews
	return &SubscriptionView{Usage: UsageView{
		ExamsUsed:       int(exams),
		ExamsLimit:      &examLimit,
		InterviewsUsed:  int(interviews),
		InterviewsLimit: &interviewLimit,
	}}, nil
}

type SubscribeResult struct {
	Subscription *model.Subscription `json:"subscription"`
	Payment      *model.Payment      `json:"payment,omitempty"`
}

// Subscribe 免费套餐立即生效；付费套餐生成待支付订单，支付确认后生效
func (s *SubscriptionService) Subscribe(ctx context.Context, userID, planID uint) (*SubscribeResult, error) {
	plan, err := s.Repo.FindPlan(ctx, planID)
	if err != nil {
		return nil, translate(err)
	}
	if !plan.IsActive {
		return nil, util.ErrNotFound
	}

	now := s.now()
	sub := &model.Subscription{
		UserID:             userID,
		PlanID:             plan.ID,
		StartDate:          now,
		CurrentPeriodStart: now,
		AutoRenew:          plan.BillingPeriod != model.BillingLifetime,
		Plan:               plan,
	}
	if next, ok := plan.BillingPeriod.Next(now); ok {
		sub.CurrentPeriodEnd = &next
	}

	var payment *model.Payment
	if plan.Price.IsPositive() {
		sub.Status = model.SubscriptionPastDue
		payment = &model.Payment{
			UserID:        userID,
			TransactionID: model.NewReference("TXN", 12),
			Amount:        plan.Price,
			Currency:      plan.Currency,
			Status:        model.PaymentPending,
			Description:   fmt.Sprintf("%s (%s)", plan.Name, plan.BillingPeriod),
		}
	} else {
		sub.Status = model.SubscriptionActive
	}

	if err := s.Repo.CreateSubscription(ctx, sub, payment); err != nil {
		return nil, err
	}
	s.logChange(ctx, userID, fmt.Sprintf("Subscribed to %s", plan.Name), sub)
	return &SubscribeResult{Subscription: sub, Payment: payment}, nil
}

// ConfirmPayment 确认支付、开具发票并激活订阅；重复确认返回 ErrInvalidState
func (s *SubscriptionService) ConfirmPayment(ctx context.Context, paymentID uint) (*model.Invoice, error) {
	payment, err := s.Repo.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, translate(err)
	}
	if payment.Status != model.PaymentPending {
		return nil, util.ErrInvalidState
	}

	now := s.now()
	var sub *model.Subscription
	if payment.SubscriptionID != nil {
		sub, err = s.Repo.FindSubscription(ctx, *payment.SubscriptionID)
		if err != nil {
			return nil, translate(err)
		}
		// 周期从支付完成时开始计算
		sub.Status = model.SubscriptionActive
		sub.StartDate = now
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = nil
		if sub.Plan != nil {
			if next, ok := sub.Plan.BillingPeriod.Next(now); ok {
				sub.CurrentPeriodEnd = &next
			}
		}
	}

	invoice := &model.Invoice{
		UserID:        payment.UserID,
		PaymentID:     payment.ID,
		InvoiceNumber: model.NewReference("INV-"+now.Format("20060102"), 8),
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Status:        "paid",
		IssuedAt:      now,
	}
	if err := s.Repo.CompletePayment(ctx, payment.ID, invoice, sub, now); err != nil {
		return nil, err
	}
	logger.Log.Info("Payment confirmed",
		zap.Uint("payment_id", payment.ID),
		zap.String("transaction_id", payment.TransactionID),
		zap.String("amount", payment.Amount.StringFixed(2)))
	if sub != nil {
		s.logChange(ctx, payment.UserID, "Subscription activated", sub)
	}
	return invoice, nil
}

// Cancel 取消当前订阅，立即失效
func (s *SubscriptionService) Cancel(ctx context.Context, userID uint) (*model.Subscription, error) {
	sub, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, util.ErrNoActiveSubscription
	}
	now := s.now()
	sub.Status = model.SubscriptionCancelled
	sub.AutoRenew = false
	sub.CancelledAt = &now
	sub.EndDate = &now
	if err := s.Repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.logChange(ctx, userID, "Subscription cancelled", sub)
	return sub, nil
}

// Renew 以最近一次订阅的套餐重新订阅
func (s *SubscriptionService) Renew(ctx context.Context, userID uint) (*SubscribeResult, error) {
	latest, err := s.Repo.FindLatestSubscription(ctx, userID)
	if err != nil {
		if errors.Is(translate(err), util.ErrNotFound) {
			return nil, util.ErrNoActiveSubscription
		}
		return nil, err
	}
	return s.Subscribe(ctx, userID, latest.PlanID)
}

func (s *SubscriptionService) Payments(ctx context.Context, userID uint) ([]model.Payment, error) {
	return s.Repo.ListPayments(ctx, userID)
}

func (s *SubscriptionService) Invoices(ctx context.Context, userID uint) ([]model.Invoice, error) {
	return s.Repo.ListInvoices(ctx, userID)
}

// Payment 查询支付单状态，他人的支付单按不存在处理
func (s *SubscriptionService) Payment(ctx context.Context, userID, paymentID uint) (*model.Payment, error) {
	payment, err := s.Repo.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, translate(err)
	}
	if payment.UserID != userID {
		return nil, util.ErrNotFound
	}
	return payment, nil
}

func (s *SubscriptionService) Invoice(ctx context.Context, userID, invoiceID uint) (*model.Invoice, error) {
	invoice, err := s.Repo.FindInvoice(ctx, invoiceID)
	if err != nil {
		return nil, translate(err)
	}
	if invoice.UserID != userID {
		return nil, util.ErrNotFound
	}
	return invoice, nil
}

func (s *SubscriptionService) logChange(ctx context.Context, userID uint, description string, sub *model.Subscription) {
	if s.Tracker == nil {
		return
	}
	err := s.Tracker.LogActivity(ctx, userID, model.ActivitySubscription, description, map[string]interface{}{
		"subscriptionId": sub.ID,
		"planId":         sub.PlanID,
		"status":         string(sub.Status),
	})
	logSideEffect("log_activity", userID, err)
}
