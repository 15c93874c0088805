package repository

import (
	"context"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"

	"gorm.io/gorm"
)

type SubscriptionRepository struct {
	DB *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{DB: db}
}

func (r *SubscriptionRepository) ListPlans(ctx context.Context) ([]model.PaymentPlan, error) {
	var plans []model.PaymentPlan
	err := r.DB.WithContext(ctx).Where("is_active = ?", true).Order("price asc, id asc").Find(&plans).Error
	return plans, err
}

func (r *SubscriptionRepository) FindPlan(ctx context.Context, id uint) (*model.PaymentPlan, error) {
	var plan model.PaymentPlan
	if err := r.DB.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindCurrentSubscription 最近一条 active/trial 订阅
func (r *SubscriptionRepository) FindCurrentSubscription(ctx context.Context, userID uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.DB.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ? AND status IN ?", userID, []model.SubscriptionStatus{model.SubscriptionActive, model.SubscriptionTrial}).
		Order("start_date desc, id desc").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscription 新订阅直接生效时取消用户的其他有效订阅；待支付的订阅在支付完成时再切换
func (r *SubscriptionRepository) CreateSubscription(ctx context.Context, sub *model.Subscription, payment *model.Payment) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sub.Status == model.SubscriptionActive || sub.Status == model.SubscriptionTrial {
			if err := cancelOthers(tx, sub.UserID, 0, sub.StartDate); err != nil {
				return err
			}
		}
		if err := tx.Omit("Plan").Create(sub).Error; err != nil {
			return err
		}
		if payment == nil {
			return nil
		}
		payment.SubscriptionID = &sub.ID
		return tx.Create(payment).Error
	})
}

// cancelOthers 同一用户只保留一个有效订阅
func cancelOthers(tx *gorm.DB, userID, keepID uint, at time.Time) error {
	return tx.Model(&model.Subscription{}).
		Where("user_id = ? AND id <> ? AND status IN ?", userID, keepID, []model.SubscriptionStatus{model.SubscriptionActive, model.SubscriptionTrial}).
		Updates(map[string]interface{}{"status": model.SubscriptionCancelled, "cancelled_at": at, "auto_renew": false}).Error
}

func (r *SubscriptionRepository) FindSubscription(ctx context.Context, id uint) (*model.Subscription, error) {
	var sub model.Subscription
	if err := r.DB.WithContext(ctx).Preload("Plan").First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindLatestSubscription 任意状态的最近一条订阅
func (r *SubscriptionRepository) FindLatestSubscription(ctx context.Context, userID uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.DB.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ?", userID).
		Order("start_date desc, id desc").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	return r.DB.WithContext(ctx).Omit("Plan").Save(sub).Error
}

// RollOverPeriod 进入新计费周期时清零用量；以周期序号为条件，并发滚动只生效一次
func (r *SubscriptionRepository) RollOverPeriod(ctx context.Context, sub *model.Subscription, prevPeriod int) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ? AND usage_period = ?", sub.ID, prevPeriod).
		Updates(map[string]interface{}{
			"usage_period":         sub.UsagePeriod,
			"current_period_start": sub.CurrentPeriodStart,
			"current_period_end":   sub.CurrentPeriodEnd,
			"exams_used":           0,
			"interviews_used":      0,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *SubscriptionRepository) MarkExpired(ctx context.Context, id uint) error {
	return r.DB.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ?", id).
		Update("status", model.SubscriptionExpired).Error
}

func usageColumn(kind string) string {
	if kind == util.KindInterview {
		return "interviews_used"
	}
	return "exams_used"
}

// IncrementUsage 在上限内原子自增用量计数，limit 为空表示不限；返回是否计入
func (r *SubscriptionRepository) IncrementUsage(ctx context.Context, subscriptionID uint, kind string, limit *int) (bool, error) {
	column := usageColumn(kind)
	query := r.DB.WithContext(ctx).Model(&model.Subscription{}).Where("id = ?", subscriptionID)
	if limit != nil {
		query = query.Where(column+" < ?", *limit)
	}
	result := query.UpdateColumn(column, gorm.Expr(column+" + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DecrementUsage 归还一次用量，不会减到负数
func (r *SubscriptionRepository) DecrementUsage(ctx context.Context, subscriptionID uint, kind string) error {
	column := usageColumn(kind)
	return r.DB.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ? AND "+column+" > 0", subscriptionID).
		UpdateColumn(column, gorm.Expr(column+" - 1")).Error
}

// CountStartedSince 无订阅用户按开始记录计算本月用量
func (r *SubscriptionRepository) CountStartedSince(ctx context.Context, userID uint, kind string, since time.Time) (int64, error) {
	var count int64
	var err error
	if kind == util.KindInterview {
		err = r.DB.WithContext(ctx).Model(&model.Interview{}).
			Where("user_id = ? AND started_at >= ?", userID, since).
			Count(&count).Error
	} else {
		err = r.DB.WithContext(ctx).Model(&model.ExamAttempt{}).
			Where("user_id = ? AND started_at >= ?", userID, since).
			Count(&count).Error
	}
	return count, err
}

func (r *SubscriptionRepository) FindPayment(ctx context.Context, id uint) (*model.Payment, error) {
	var payment model.Payment
	if err := r.DB.WithContext(ctx).First(&payment, id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *SubscriptionRepository) CreatePayment(ctx context.Context, payment *model.Payment) error {
	return r.DB.WithContext(ctx).Create(payment).Error
}

// CompletePayment pending -> completed，开具发票；sub 非空时在同一事务内激活该订阅
func (r *SubscriptionRepository) CompletePayment(ctx context.Context, paymentID uint, invoice *model.Invoice, sub *model.Subscription, at time.Time) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Payment{}).
			Where("id = ? AND status = ?", paymentID, model.PaymentPending).
			Updates(map[string]interface{}{"status": model.PaymentCompleted, "completed_at": at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return util.ErrInvalidState
		}
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}
		if sub == nil {
			return nil
		}
		if err := cancelOthers(tx, sub.UserID, sub.ID, at); err != nil {
			return err
		}
		return tx.Omit("Plan").Save(sub).Error
	})
}

func (r *SubscriptionRepository) ListPayments(ctx context.Context, userID uint) ([]model.Payment, error) {
	var payments []model.Payment
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc, id desc").Find(&payments).Error
	return payments, err
}

func (r *SubscriptionRepository) ListInvoices(ctx context.Context, userID uint) ([]model.Invoice, error) {
	var invoices []model.Invoice
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("issued_at desc, id desc").Find(&invoices).Error
	return invoices, err
}

func (r *SubscriptionRepository) FindInvoice(ctx context.Context, id uint) (*model.Invoice, error) {
	var invoice model.Invoice
	if err := r.DB.WithContext(ctx).First(&invoice, id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}
