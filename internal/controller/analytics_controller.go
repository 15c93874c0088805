package controller

import (
	"strconv"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/service"
	"prepwise_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AnalyticsController struct {
	AnalyticsService *service.AnalyticsService
}

func NewAnalyticsController(analyticsService *service.AnalyticsService) *AnalyticsController {
	return &AnalyticsController{AnalyticsService: analyticsService}
}

// @Summary 获取分析概览
// @Description 快照过期时自动重算，重算失败时返回旧快照并标记 stale
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.Dashboard}
// @Router /api/analytics/dashboard [get]
func (c *AnalyticsController) GetDashboard(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	dashboard, err := c.AnalyticsService.Dashboard(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, dashboard)
}

// @Summary 立即重算分析快照
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=model.UserAnalytics}
// @Router /api/analytics/refresh [post]
func (c *AnalyticsController) Recompute(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	snap, err := c.AnalyticsService.Recompute(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, snap)
}

// @Summary 考试统计
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.ExamStatsReport}
// @Router /api/analytics/exams [get]
func (c *AnalyticsController) GetExamStats(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	report, err := c.AnalyticsService.ExamStats(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

// @Summary 面试统计
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]service.InterviewTypeStat}
// @Router /api/analytics/interviews [get]
func (c *AnalyticsController) GetInterviewStats(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	stats, err := c.AnalyticsService.InterviewStats(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}

// @Summary 成绩趋势
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param period query string false "daily/weekly/monthly" default(weekly)
// @Param limit query int false "返回的周期数" default(12)
// @Success 200 {object} util.Response{data=[]service.TrendPoint}
// @Router /api/analytics/trends [get]
func (c *AnalyticsController) GetTrend(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "12"))
	points, err := c.AnalyticsService.PerformanceTrend(ctx.Request.Context(), user.UserID, ctx.DefaultQuery("period", "weekly"), limit)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, points)
}

// @Summary 最近活动
// @Tags 分析
// @Produce json
// @Security BearerAuth
// @Param limit query int false "数量" default(20)
// @Success 200 {object} util.Response{data=[]model.ActivityLog}
// @Router /api/analytics/activities [get]
func (c *AnalyticsController) GetActivities(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	logs, err := c.AnalyticsService.Activities(ctx.Request.Context(), user.UserID, limit)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, logs)
}

type logActivityRequest struct {
	ActivityType model.ActivityType     `json:"activityType" binding:"required"`
	Description  string                 `json:"description" binding:"max=255"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// @Summary 上报学习行为
// @Tags 分析
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body logActivityRequest true "行为"
// @Success 201 {object} util.Response{data=model.ActivityLog}
// @Failure 400 {object} util.Response
// @Router /api/analytics/activities [post]
func (c *AnalyticsController) LogActivity(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req logActivityRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	entry, err := c.AnalyticsService.RecordActivity(ctx.Request.Context(), user.UserID, req.ActivityType, req.Description, req.Metadata)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, entry)
}
