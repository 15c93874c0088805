package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fakeSubscriptionStore struct {
	plans    map[uint]*model.PaymentPlan
	subs     map[uint]*model.Subscription
	payments map[uint]*model.Payment
	invoices []model.Invoice
	started  map[string]int64
	nextID   uint
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{
		plans:    map[uint]*model.PaymentPlan{},
		subs:     map[uint]*model.Subscription{},
		payments: map[uint]*model.Payment{},
		started:  map[string]int64{},
	}
}

func (f *fakeSubscriptionStore) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeSubscriptionStore) addPlan(price string, period model.BillingPeriod, maxExams *int) *model.PaymentPlan {
	plan := &model.PaymentPlan{
		Name:          "Plan " + price,
		PlanType:      model.PlanBasic,
		BillingPeriod: period,
		Price:         decimal.RequireFromString(price),
		Currency:      "USD",
		MaxExams:      maxExams,
		IsActive:      true,
	}
	plan.ID = f.id()
	f.plans[plan.ID] = plan
	return plan
}

func (f *fakeSubscriptionStore) withPlan(sub *model.Subscription) *model.Subscription {
	cp := *sub
	if plan, ok := f.plans[sub.PlanID]; ok {
		p := *plan
		cp.Plan = &p
	}
	return &cp
}

func (f *fakeSubscriptionStore) ListPlans(context.Context) ([]model.PaymentPlan, error) {
	var out []model.PaymentPlan
	for _, p := range f.plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSubscriptionStore) FindPlan(_ context.Context, id uint) (*model.PaymentPlan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeSubscriptionStore) FindCurrentSubscription(_ context.Context, userID uint) (*model.Subscription, error) {
	var best *model.Subscription
	for _, s := range f.subs {
		if s.UserID != userID || (s.Status != model.SubscriptionActive && s.Status != model.SubscriptionTrial) {
			continue
		}
		if best == nil || s.ID > best.ID {
			best = s
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.withPlan(best), nil
}

func (f *fakeSubscriptionStore) FindSubscription(_ context.Context, id uint) (*model.Subscription, error) {
	s, ok := f.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return f.withPlan(s), nil
}

func (f *fakeSubscriptionStore) FindLatestSubscription(_ context.Context, userID uint) (*model.Subscription, error) {
	var best *model.Subscription
	for _, s := range f.subs {
		if s.UserID == userID && (best == nil || s.ID > best.ID) {
			best = s
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.withPlan(best), nil
}

func (f *fakeSubscriptionStore) cancelOthers(userID, keepID uint) {
	for _, s := range f.subs {
		if s.UserID == userID && s.ID != keepID && (s.Status == model.SubscriptionActive || s.Status == model.SubscriptionTrial) {
			s.Status = model.SubscriptionCancelled
		}
	}
}

func (f *fakeSubscriptionStore) CreateSubscription(_ context.Context, sub *model.Subscription, payment *model.Payment) error {
	if sub.Status == model.SubscriptionActive {
		f.cancelOthers(sub.UserID, 0)
	}
	sub.ID = f.id()
	stored := *sub
	stored.Plan = nil
	f.subs[sub.ID] = &stored
	if payment != nil {
		payment.ID = f.id()
		payment.SubscriptionID = &sub.ID
		cp := *payment
		f.payments[payment.ID] = &cp
	}
	return nil
}

func (f *fakeSubscriptionStore) SaveSubscription(_ context.Context, sub *model.Subscription) error {
	cp := *sub
	cp.Plan = nil
	f.subs[sub.ID] = &cp
	return nil
}

func (f *fakeSubscriptionStore) RollOverPeriod(_ context.Context, sub *model.Subscription, prevPeriod int) (bool, error) {
	s := f.subs[sub.ID]
	if s.UsagePeriod != prevPeriod {
		return false, nil
	}
	s.UsagePeriod = sub.UsagePeriod
	s.CurrentPeriodStart = sub.CurrentPeriodStart
	s.CurrentPeriodEnd = sub.CurrentPeriodEnd
	s.ExamsUsed = 0
	s.InterviewsUsed = 0
	return true, nil
}

func (f *fakeSubscriptionStore) MarkExpired(_ context.Context, id uint) error {
	f.subs[id].Status = model.SubscriptionExpired
	return nil
}

func (f *fakeSubscriptionStore) usageOf(id uint, kind string) *int {
	if kind == util.KindInterview {
		return &f.subs[id].InterviewsUsed
	}
	return &f.subs[id].ExamsUsed
}

func (f *fakeSubscriptionStore) IncrementUsage(_ context.Context, id uint, kind string, limit *int) (bool, error) {
	used := f.usageOf(id, kind)
	if limit != nil && *used >= *limit {
		return false, nil
	}
	*used++
	return true, nil
}

func (f *fakeSubscriptionStore) DecrementUsage(_ context.Context, id uint, kind string) error {
	if used := f.usageOf(id, kind); *used > 0 {
		*used--
	}
	return nil
}

func (f *fakeSubscriptionStore) CountStartedSince(_ context.Context, _ uint, kind string, _ time.Time) (int64, error) {
	return f.started[kind], nil
}

func (f *fakeSubscriptionStore) FindPayment(_ context.Context, id uint) (*model.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeSubscriptionStore) CompletePayment(_ context.Context, paymentID uint, invoice *model.Invoice, sub *model.Subscription, at time.Time) error {
	p := f.payments[paymentID]
	if p == nil || p.Status != model.PaymentPending {
		return util.ErrInvalidState
	}
	p.Status = model.PaymentCompleted
	p.CompletedAt = &at
	invoice.ID = f.id()
	f.invoices = append(f.invoices, *invoice)
	if sub != nil {
		f.cancelOthers(sub.UserID, sub.ID)
		cp := *sub
		cp.Plan = nil
		f.subs[sub.ID] = &cp
	}
	return nil
}

func (f *fakeSubscriptionStore) ListPayments(_ context.Context, userID uint) ([]model.Payment, error) {
	var out []model.Payment
	for _, p := range f.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeSubscriptionStore) ListInvoices(_ context.Context, userID uint) ([]model.Invoice, error) {
	var out []model.Invoice
	for _, inv := range f.invoices {
		if inv.UserID == userID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeSubscriptionStore) FindInvoice(_ context.Context, id uint) (*model.Invoice, error) {
	for _, inv := range f.invoices {
		if inv.ID == id {
			cp := inv
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func intPtr(v int) *int { return &v }

func newTestSubscriptionService(store *fakeSubscriptionStore, now time.Time) (*SubscriptionService, *fakeTracker) {
	tracker := &fakeTracker{}
	svc := NewSubscriptionService(store, tracker, config.QuotaConfig{FreeExams: 2, FreeInterviews: 1})
	svc.now = fixedClock(now)
	return svc, tracker
}

func TestFreeTierMonthlyLimit(t *testing.T) {
	store := newFakeSubscriptionStore()
	svc, _ := newTestSubscriptionService(store, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	store.started[util.KindExam] = 1
	ok, err := svc.CanStart(ctx, 1, util.KindExam)
	if err != nil || !ok {
		t.Fatalf("CanStart = %v, %v, want true", ok, err)
	}
	store.started[util.KindExam] = 2
	if ok, _ := svc.CanStart(ctx, 1, util.KindExam); ok {
		t.Fatalf("CanStart after free limit = true, want false")
	}
	if ok, _ := svc.CanStart(ctx, 1, util.KindInterview); !ok {
		t.Fatalf("interview quota is independent of exams")
	}
	if premium, _ := svc.HasPremium(ctx, 1); premium {
		t.Fatalf("HasPremium without subscription = true")
	}

	view, err := svc.MySubscription(ctx, 1)
	if err != nil {
		t.Fatalf("MySubscription: %v", err)
	}
	if view.Subscription != nil || view.Usage.ExamsUsed != 2 || *view.Usage.ExamsLimit != 2 {
		t.Fatalf("free usage = %+v", view.Usage)
	}

	svc.SetQuota(config.QuotaConfig{FreeExams: 5, FreeInterviews: 1})
	if ok, _ := svc.CanStart(ctx, 1, util.KindExam); !ok {
		t.Fatalf("CanStart after raising free quota = false")
	}
}

func TestFreePlanActivatesImmediately(t *testing.T) {
	store := newFakeSubscriptionStore()
	plan := store.addPlan("0", model.BillingMonthly, intPtr(1))
	svc, tracker := newTestSubscriptionService(store, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	res, err := svc.Subscribe(ctx, 1, plan.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if res.Payment != nil || res.Subscription.Status != model.SubscriptionActive {
		t.Fatalf("free plan result = %+v", res)
	}
	if len(tracker.activities) != 1 || tracker.activities[0] != model.ActivitySubscription {
		t.Fatalf("activities = %v", tracker.activities)
	}

	if err := svc.RecordUsage(ctx, 1, util.KindExam); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if ok, _ := svc.CanStart(ctx, 1, util.KindExam); ok {
		t.Fatalf("CanStart after plan limit = true, want false")
	}
	if premium, _ := svc.HasPremium(ctx, 1); premium {
		t.Fatalf("free plan counted as premium")
	}
}

func TestUnlimitedPlan(t *testing.T) {
	store := newFakeSubscriptionStore()
	plan := store.addPlan("0", model.BillingLifetime, nil)
	svc, _ := newTestSubscriptionService(store, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if _, err := svc.Subscribe(ctx, 1, plan.ID); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := svc.RecordUsage(ctx, 1, util.KindExam); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	if ok, _ := svc.CanStart(ctx, 1, util.KindExam); !ok {
		t.Fatalf("unlimited plan rejected start")
	}
}

func TestPeriodRolloverResetsUsage(t *testing.T) {
	store := newFakeSubscriptionStore()
	plan := store.addPlan("0", model.BillingMonthly, intPtr(2))
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestSubscriptionService(store, start)
	ctx := context.Background()

	res, err := svc.Subscribe(ctx, 1, plan.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	svc.RecordUsage(ctx, 1, util.KindExam)
	svc.RecordUsage(ctx, 1, util.KindExam)
	if ok, _ := svc.CanStart(ctx, 1, util.KindExam); ok {
		t.Fatalf("CanStart at limit = true")
	}

	// 跨过两个周期
	svc.now = fixedClock(time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))
	if ok, err := svc.CanStart(ctx, 1, util.KindExam); err != nil || !ok {
		t.Fatalf("CanStart after rollover = %v, %v, want true", ok, err)
	}
	stored := store.subs[res.Subscription.ID]
	if stored.UsagePeriod != 2 || stored.ExamsUsed != 0 {
		t.Fatalf("stored period = %d used = %d, want 2 and 0", stored.UsagePeriod, stored.ExamsUsed)
	}
	wantStart := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	if !stored.CurrentPeriodStart.Equal(wantStart) {
		t.Fatalf("period start = %v, want %v", stored.CurrentPeriodStart, wantStart)
	}

	// 再次检查不会重复滚动
	if _, err := svc.CanStart(ctx, 1, util.KindExam); err != nil {
		t.Fatalf("CanStart: %v", err)
	}
	if store.subs[res.Subscription.ID].UsagePeriod != 2 {
		t.Fatalf("rollover applied twice")
	}
}

func TestExpiredSubscriptionFallsBackToFreeTier(t *testing.T) {
	store := newFakeSubscriptionStore()
	plan := store.addPlan("0", model.BillingMonthly, nil)
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestSubscriptionService(store, now)
	ctx := context.Background()

	res, _ := svc.Subscribe(ctx, 1, plan.ID)
	end := now.Add(time.Hour)
	store.subs[res.Subscription.ID].EndDate = &end

	svc.now = fixedClock(now.Add(2 * time.Hour))
	store.started[util.KindExam] = 2
	if ok, _ := svc.CanStart(ctx, 1, util.KindExam); ok {
		t.Fatalf("expired subscription still grants quota")
	}
	if got := store.subs[res.Subscription.ID].Status; got != model.SubscriptionExpired {
		t.Fatalf("status = %s, want expired", got)
	}
}

func TestPaidPlanRequiresPayment(t *testing.T) {
	store := newFakeSubscriptionStore()
	plan := store.addPlan("19.99", model.BillingMonthly, nil)
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestSubscriptionService(store, now)
	ctx := context.Background()

	res, err := svc.Subscribe(ctx, 1, plan.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if res.Subscription.Status != model.SubscriptionPastDue || res.Payment == nil {
		t.Fatalf("paid subscribe = %+v", res)
	}
	if res.Payment.Status != model.PaymentPending || len(res.Payment.TransactionID) != len("TXN-")+12 {
		t.Fatalf("payment = %+v", res.Payment)
	}
	if premium, _ := svc.HasPremium(ctx, 1); premium {
		t.Fatalf("unpaid subscription is premium")
	}

	svc.now = fixedClock(now.Add(time.Hour))
	invoice, err := svc.ConfirmPayment(ctx, res.Payment.ID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if !invoice.Amount.Equal(decimal.RequireFromString("19.99")) || invoice.InvoiceNumber[:12] != "INV-20240310" {
		t.Fatalf("invoice = %+v", invoice)
	}
	if premium, _ := svc.HasPremium(ctx, 1); !premium {
		t.Fatalf("HasPremium after payment = false")
	}
	sub := store.subs[res.Subscription.ID]
	if sub.Status != model.SubscriptionActive || sub.CurrentPeriodEnd == nil {
		t.Fatalf("subscription after payment = %+v", sub)
	}

	if _, err := svc.ConfirmPayment(ctx, res.Payment.ID); !errors.Is(err, util.ErrInvalidState) {
		t.Fatalf("second confirm err = %v, want ErrInvalidState", err)
	}
	invoices, _ := svc.Invoices(ctx, 1)
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(invoices))
	}
}

func TestPaymentReplacesPreviousSubscription(t *testing.T) {
	store := newFakeSubscriptionStore()
	free := store.addPlan("0", model.BillingMonthly, intPtr(1))
	paid := store.addPlan("9.00", model.BillingMonthly, nil)
	svc, _ := newTestSubscriptionService(store, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, _ := svc.Subscribe(ctx, 1, free.ID)
	upgrade, _ := svc.Subscribe(ctx, 1, paid.ID)
	if store.subs[first.Subscription.ID].Status != model.SubscriptionActive {
		t.Fatalf("pending upgrade cancelled the current plan")
	}
	if _, err := svc.ConfirmPayment(ctx, upgrade.Payment.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if store.subs[first.Subscription.ID].Status != model.SubscriptionCancelled {
		t.Fatalf("previous subscription status = %s, want cancelled", store.subs[first.Subscription.ID].Status)
	}
	view, _ := svc.MySubscription(ctx, 1)
	if view.Subscription.ID != upgrade.Subscription.ID || view.Usage.ExamsLimit != nil {
		t.Fatalf("current subscription = %+v", view)
	}
}

func TestCancelAndRenew(t *testing.T) {
	store := newFakeSubscriptionStore()
	plan := store.addPlan("0", model.BillingMonthly, intPtr(3))
	svc, _ := newTestSubscriptionService(store, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if _, err := svc.Cancel(ctx, 1); !errors.Is(err, util.ErrNoActiveSubscription) {
		t.Fatalf("Cancel without subscription err = %v", err)
	}
	if _, err := svc.Renew(ctx, 1); !errors.Is(err, util.ErrNoActiveSubscription) {
		t.Fatalf("Renew without history err = %v", err)
	}

	svc.Subscribe(ctx, 1, plan.ID)
	sub, err := svc.Cancel(ctx, 1)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sub.Status != model.SubscriptionCancelled || sub.AutoRenew || sub.CancelledAt == nil {
		t.Fatalf("cancelled subscription = %+v", sub)
	}
	if view, _ := svc.MySubscription(ctx, 1); view.Subscription != nil {
		t.Fatalf("cancelled subscription still current")
	}

	res, err := svc.Renew(ctx, 1)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if res.Subscription.PlanID != plan.ID || res.Subscription.Status != model.SubscriptionActive {
		t.Fatalf("renewed = %+v", res.Subscription)
	}
}

func TestSubscribeInactivePlan(t *testing.T) {
	store := newFakeSubscriptionStore()
	plan := store.addPlan("5", model.BillingMonthly, nil)
	plan.IsActive = false
	svc, _ := newTestSubscriptionService(store, time.Now())
	if _, err := svc.Subscribe(context.Background(), 1, plan.ID); !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Subscribe(context.Background(), 1, 999); !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordUsageStopsAtPlanLimit(t *testing.T) {
	store := newFakeSubscriptionStore()
	plan := store.addPlan("0", model.BillingMonthly, intPtr(2))
	svc, _ := newTestSubscriptionService(store, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	res, err := svc.Subscribe(ctx, 1, plan.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.RecordUsage(ctx, 1, util.KindExam); err != nil {
			t.Fatalf("RecordUsage #%d: %v", i+1, err)
		}
	}
	if err := svc.RecordUsage(ctx, 1, util.KindExam); !errors.Is(err, util.ErrQuotaExceeded) {
		t.Fatalf("RecordUsage over limit = %v, want ErrQuotaExceeded", err)
	}
	if used := store.subs[res.Subscription.ID].ExamsUsed; used != 2 {
		t.Fatalf("ExamsUsed = %d, want 2", used)
	}

	if err := svc.ReleaseUsage(ctx, 1, util.KindExam); err != nil {
		t.Fatalf("ReleaseUsage: %v", err)
	}
	if err := svc.RecordUsage(ctx, 1, util.KindExam); err != nil {
		t.Fatalf("RecordUsage after release: %v", err)
	}
}

func TestPaymentAndInvoiceVisibleToOwnerOnly(t *testing.T) {
	store := newFakeSubscriptionStore()
	plan := store.addPlan("19.99", model.BillingMonthly, nil)
	svc, _ := newTestSubscriptionService(store, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	res, err := svc.Subscribe(ctx, 1, plan.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	payment, err := svc.Payment(ctx, 1, res.Payment.ID)
	if err != nil || payment.Status != model.PaymentPending {
		t.Fatalf("Payment = %+v, %v, want pending", payment, err)
	}
	invoice, err := svc.ConfirmPayment(ctx, res.Payment.ID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if payment, _ = svc.Payment(ctx, 1, res.Payment.ID); payment.Status != model.PaymentCompleted {
		t.Fatalf("payment status = %s, want completed", payment.Status)
	}
	got, err := svc.Invoice(ctx, 1, invoice.ID)
	if err != nil || got.InvoiceNumber != invoice.InvoiceNumber {
		t.Fatalf("Invoice = %+v, %v", got, err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"other user's payment", func() error { _, err := svc.Payment(ctx, 2, res.Payment.ID); return err }},
		{"missing payment", func() error { _, err := svc.Payment(ctx, 1, 999); return err }},
		{"other user's invoice", func() error { _, err := svc.Invoice(ctx, 2, invoice.ID); return err }},
		{"missing invoice", func() error { _, err := svc.Invoice(ctx, 1, 999); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, util.ErrNotFound) {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestFeaturedPlans(t *testing.T) {
	store := newFakeSubscriptionStore()
	store.addPlan("0", model.BillingMonthly, intPtr(3))
	pro := store.addPlan("29.00", model.BillingMonthly, nil)
	pro.IsFeatured = true
	svc, _ := newTestSubscriptionService(store, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	plans, err := svc.FeaturedPlans(context.Background())
	if err != nil {
		t.Fatalf("FeaturedPlans: %v", err)
	}
	if len(plans) != 1 || plans[0].ID != pro.ID {
		t.Fatalf("featured = %+v, want plan %d", plans, pro.ID)
	}
}
