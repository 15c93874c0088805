package middleware

import (
	"context"
	"strings"
	"time"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/util"
	"prepwise_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthMiddleware 校验 Bearer 令牌，媒体回放等场景允许 ?token= 传参
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, secret)
		if err != nil {
			logger.Log.Debug("JWT parse failed", zap.String("path", c.FullPath()), zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}

// RoleMiddleware 管理员拥有全部权限
func RoleMiddleware(roles ...model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := util.GetUserFromContext(c)
		if user == nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		hasRole := user.Role == model.Admin
		for _, role := range roles {
			if user.Role == role {
				hasRole = true
				break
			}
		}

		if !hasRole {
			util.Forbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// VisitRecorder 记录每日访问以维护连续打卡
type VisitRecorder interface {
	RecordDailyVisit(ctx context.Context, userID uint) error
}

// ActivityMiddleware 异步记录访问，不阻塞请求
func ActivityMiddleware(recorder VisitRecorder, dispatch func(func())) gin.HandlerFunc {
	if dispatch == nil {
		dispatch = func(task func()) { go task() }
	}
	return func(c *gin.Context) {
		claims := util.GetUserFromContext(c)
		if claims != nil {
			userID := claims.UserID
			dispatch(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := recorder.RecordDailyVisit(ctx, userID); err != nil {
					logger.Log.Warn("Record daily visit failed", zap.Uint("user_id", userID), zap.Error(err))
				}
			})
		}
		c.Next()
	}
}
