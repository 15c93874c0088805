package controller

import (
	"prepwise_backend/internal/model"
	"prepwise_backend/internal/repository"
	"prepwise_backend/internal/service"
	"prepwise_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	Service *service.ExamAttemptService
}

func NewAttemptController(svc *service.ExamAttemptService) *AttemptController {
	return &AttemptController{Service: svc}
}

type submitAllRequest struct {
	Answers []service.AnswerInput `json:"answers" binding:"dive"`
}

// @Summary 开始考试
// @Description 同一试卷同时只能有一个进行中的尝试，冲突时返回已有尝试ID
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param id path int true "试卷ID"
// @Success 201 {object} util.Response{data=service.AttemptView}
// @Failure 402 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/exams/{id}/start [post]
func (c *AttemptController) StartAttempt(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	examID, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	view, err := c.Service.Start(ctx.Request.Context(), user.UserID, examID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, view)
}

// @Summary 我的考试记录
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param examId query int false "试卷ID"
// @Param status query string false "状态"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/attempts [get]
func (c *AttemptController) MyAttempts(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	page, limit := pageQuery(ctx)
	f := repository.AttemptFilter{
		ExamID: util.MustParseUint(ctx.Query("examId")),
		Status: model.AttemptStatus(ctx.Query("status")),
		Page:   page,
		Limit:  limit,
	}
	attempts, total, err := c.Service.MyAttempts(ctx.Request.Context(), user.UserID, f)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: attempts, Total: total, Page: page, Limit: limit})
}

// @Summary 获取进行中的考试
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param id path int true "尝试ID"
// @Success 200 {object} util.Response{data=service.AttemptView}
// @Router /api/attempts/{id} [get]
func (c *AttemptController) GetAttempt(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	view, err := c.Service.GetAttempt(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 提交单题答案
// @Description 重复提交同一题覆盖旧答案
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "尝试ID"
// @Param body body service.AnswerInput true "答案"
// @Success 200 {object} util.Response{data=model.Answer}
// @Failure 410 {object} util.Response
// @Router /api/attempts/{id}/answers [post]
func (c *AttemptController) SubmitAnswer(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.AnswerInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	answer, err := c.Service.SubmitResponse(ctx.Request.Context(), user.UserID, id, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// @Summary 批量提交并交卷
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "尝试ID"
// @Param body body submitAllRequest true "全部答案"
// @Success 200 {object} util.Response{data=model.ExamAttempt}
// @Router /api/attempts/{id}/submit [post]
func (c *AttemptController) SubmitAll(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req submitAllRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	attempt, err := c.Service.SubmitAll(ctx.Request.Context(), user.UserID, id, req.Answers)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// @Summary 交卷
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param id path int true "尝试ID"
// @Success 200 {object} util.Response{data=model.ExamAttempt}
// @Router /api/attempts/{id}/complete [post]
func (c *AttemptController) Complete(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	attempt, err := c.Service.Complete(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// @Summary 放弃考试
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param id path int true "尝试ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/abandon [post]
func (c *AttemptController) Abandon(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Service.Abandon(ctx.Request.Context(), user.UserID, id); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 考试结果
// @Description 试卷允许回顾时返回正确答案与解析
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param id path int true "尝试ID"
// @Success 200 {object} util.Response{data=service.AttemptResult}
// @Router /api/attempts/{id}/results [get]
func (c *AttemptController) Results(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	result, err := c.Service.Results(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, result)
}
