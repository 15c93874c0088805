package service

import (
	"context"
	"errors"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"
	"prepwise_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// QuotaGate 订阅额度检查，由 SubscriptionService 实现
type QuotaGate interface {
	CanStart(ctx context.Context, userID uint, kind string) (bool, error)
	RecordUsage(ctx context.Context, userID uint, kind string) error
	ReleaseUsage(ctx context.Context, userID uint, kind string) error
	HasPremium(ctx context.Context, userID uint) (bool, error)
}

// ActivityTracker 记录学习行为并触发分析重算，由 AnalyticsService 实现
type ActivityTracker interface {
	LogActivity(ctx context.Context, userID uint, activity model.ActivityType, description string, metadata map[string]interface{}) error
	Recompute(ctx context.Context, userID uint) (*model.UserAnalytics, error)
}

// Dispatcher 执行最终一致的副作用，默认起协程，测试中可同步执行
type Dispatcher func(task func())

func goDispatch(task func()) {
	go task()
}

// background 副作用不受请求取消影响
func background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// translate 将存储层的未找到错误统一为 util.ErrNotFound
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.ErrNotFound
	}
	return err
}

func logSideEffect(name string, userID uint, err error) {
	if err != nil {
		logger.Log.Warn("side effect failed", zap.String("task", name), zap.Uint("user_id", userID), zap.Error(err))
	}
}

// requirePremium 付费内容需要有效的付费订阅
func requirePremium(ctx context.Context, quota QuotaGate, userID uint, premium bool) error {
	if !premium {
		return nil
	}
	ok, err := quota.HasPremium(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return util.ErrNoActiveSubscription
	}
	return nil
}
