package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"prepwise_backend/internal/model"

	"github.com/go-redis/redis/v8"
)

// AnalyticsCache 用户分析快照的 redis 缓存，client 为 nil 时全部 miss
type AnalyticsCache struct {
	client *redis.Client
}

func NewAnalyticsCache(client *redis.Client) *AnalyticsCache {
	return &AnalyticsCache{client: client}
}

func analyticsKey(userID uint) string {
	return fmt.Sprintf("analytics:snapshot:%d", userID)
}

func (c *AnalyticsCache) Get(ctx context.Context, userID uint) (*model.UserAnalytics, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, analyticsKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var snap model.UserAnalytics
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

func (c *AnalyticsCache) Set(ctx context.Context, snap *model.UserAnalytics, ttl time.Duration) error {
	if c == nil || c.client == nil || ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, analyticsKey(snap.UserID), data, ttl).Err()
}

func (c *AnalyticsCache) Delete(ctx context.Context, userID uint) error {
	if c == nil || c.client == nil {
		return nil
	}
	err := c.client.Del(ctx, analyticsKey(userID)).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}
