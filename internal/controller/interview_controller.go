package controller

import (
	"net/http"

	"prepwise_backend/internal/model"
	"prepwise_backend/internal/repository"
	"prepwise_backend/internal/service"
	"prepwise_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type InterviewController struct {
	Service *service.InterviewService
}

func NewInterviewController(svc *service.InterviewService) *InterviewController {
	return &InterviewController{Service: svc}
}

// @Summary 面试模板列表
// @Tags 模拟面试
// @Produce json
// @Security BearerAuth
// @Param type query string false "面试类型"
// @Success 200 {object} util.Response{data=[]model.InterviewTemplate}
// @Router /api/interview-templates [get]
func (c *InterviewController) ListTemplates(ctx *gin.Context) {
	templates, err := c.Service.ListTemplates(ctx.Request.Context(), model.InterviewType(ctx.Query("type")))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, templates)
}

// @Summary 使用模板创建面试
// @Tags 模拟面试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "模板ID"
// @Param body body service.ScheduleRequest false "预约时间"
// @Success 201 {object} util.Response{data=model.Interview}
// @Router /api/interview-templates/{id}/use [post]
func (c *InterviewController) UseTemplate(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.ScheduleRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}
	interview, err := c.Service.UseTemplate(ctx.Request.Context(), user.UserID, id, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, interview)
}

// @Summary 按技能自定义面试
// @Tags 模拟面试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.CustomInterviewRequest true "面试设置"
// @Success 201 {object} util.Response{data=model.Interview}
// @Router /api/interviews [post]
func (c *InterviewController) CreateInterview(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req service.CustomInterviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	interview, err := c.Service.CreateInterview(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, interview)
}

// @Summary 我的面试
// @Tags 模拟面试
// @Produce json
// @Security BearerAuth
// @Param status query string false "状态"
// @Param type query string false "面试类型"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/interviews [get]
func (c *InterviewController) MyInterviews(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	page, limit := pageQuery(ctx)
	f := repository.InterviewFilter{
		Status: model.AttemptStatus(ctx.Query("status")),
		Type:   model.InterviewType(ctx.Query("type")),
		Page:   page,
		Limit:  limit,
	}
	interviews, total, err := c.Service.MyInterviews(ctx.Request.Context(), user.UserID, f)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: interviews, Total: total, Page: page, Limit: limit})
}

// @Summary 面试详情
// @Tags 模拟面试
// @Produce json
// @Security BearerAuth
// @Param id path int true "面试ID"
// @Success 200 {object} util.Response
// @Router /api/interviews/{id} [get]
func (c *InterviewController) GetInterview(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	interview, responses, err := c.Service.GetInterview(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"interview": interview, "responses": responses})
}

// @Summary 开始面试
// @Tags 模拟面试
// @Produce json
// @Security BearerAuth
// @Param id path int true "面试ID"
// @Success 200 {object} util.Response{data=model.Interview}
// @Failure 402 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/interviews/{id}/start [post]
func (c *InterviewController) Start(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	interview, err := c.Service.Start(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, interview)
}

// @Summary 提交作答
// @Description 文字或代码作答，评估异步进行
// @Tags 模拟面试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "面试ID"
// @Param body body service.ResponseInput true "作答"
// @Success 200 {object} util.Response{data=model.InterviewResponse}
// @Router /api/interviews/{id}/responses [post]
func (c *InterviewController) SubmitResponse(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.ResponseInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	resp, err := c.Service.SubmitResponse(ctx.Request.Context(), user.UserID, id, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, resp)
}

// @Summary 上传录音/录像作答
// @Tags 模拟面试
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path int true "面试ID"
// @Param questionId path int true "题目ID"
// @Param file formData file true "媒体文件"
// @Success 200 {object} util.Response{data=model.InterviewResponse}
// @Failure 413 {object} util.Response
// @Router /api/interviews/{id}/responses/{questionId}/media [post]
func (c *InterviewController) UploadMedia(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	questionID, ok := pathID(ctx, "questionId")
	if !ok {
		return
	}
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}
	if fileHeader.Size > util.MaxMediaSize {
		util.Error(ctx, http.StatusRequestEntityTooLarge, "media file too large")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer file.Close()

	resp, err := c.Service.UploadMedia(ctx.Request.Context(), user.UserID, id, service.MediaUpload{
		QuestionID:  questionID,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        file,
	})
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, resp)
}

// @Summary 查看单题作答与评估
// @Tags 模拟面试
// @Produce json
// @Security BearerAuth
// @Param id path int true "面试ID"
// @Param questionId path int true "题目ID"
// @Success 200 {object} util.Response{data=model.InterviewResponse}
// @Router /api/interviews/{id}/responses/{questionId} [get]
func (c *InterviewController) GetResponse(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	questionID, ok := pathID(ctx, "questionId")
	if !ok {
		return
	}
	resp, err := c.Service.GetResponse(ctx.Request.Context(), user.UserID, id, questionID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, resp)
}

// @Summary 结束面试
// @Tags 模拟面试
// @Produce json
// @Security BearerAuth
// @Param id path int true "面试ID"
// @Success 200 {object} util.Response{data=model.Interview}
// @Router /api/interviews/{id}/complete [post]
func (c *InterviewController) Complete(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	interview, err := c.Service.Complete(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, interview)
}

// @Summary 放弃面试
// @Tags 模拟面试
// @Produce json
// @Security BearerAuth
// @Param id path int true "面试ID"
// @Success 200 {object} util.Response
// @Router /api/interviews/{id}/abandon [post]
func (c *InterviewController) Abandon(ctx *gin.Context) {
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

// @Summary 取消预约的面试
// @Tags 模拟面试
// @Produce json
// @Security BearerAuth
// @Param id path int true "面试ID"
// @Success 200 {object} util.Response
// @Router /api/interviews/{id}/cancel [post]
func (c *InterviewController) Cancel(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.Service.Cancel(ctx.Request.Context(), user.UserID, id); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 管理端：全部面试模板
// @Tags 面试管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.InterviewTemplate}
// @Router /api/admin/interview-templates [get]
func (c *InterviewController) ListAllTemplates(ctx *gin.Context) {
	templates, err := c.Service.ListAllTemplates(ctx.Request.Context())
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, templates)
}

// @Summary 创建面试模板
// @Tags 面试管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.TemplateRequest true "模板"
// @Success 201 {object} util.Response{data=model.InterviewTemplate}
// @Router /api/admin/interview-templates [post]
func (c *InterviewController) CreateTemplate(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req service.TemplateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	t, err := c.Service.CreateTemplate(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, t)
}

// @Summary 更新面试模板
// @Tags 面试管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "模板ID"
// @Param body body service.TemplateRequest true "模板"
// @Success 200 {object} util.Response{data=model.InterviewTemplate}
// @Router /api/admin/interview-templates/{id} [put]
func (c *InterviewController) UpdateTemplate(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.TemplateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	t, err := c.Service.UpdateTemplate(ctx.Request.Context(), id, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, t)
}

// @Summary 人工复核作答
// @Tags 面试管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "作答ID"
// @Param body body service.ReviewRequest true "评分"
// @Success 200 {object} util.Response{data=model.InterviewResponse}
// @Router /api/admin/responses/{id}/review [post]
func (c *InterviewController) ReviewResponse(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.ReviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	resp, err := c.Service.ReviewResponse(ctx.Request.Context(), user.UserID, id, req)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, resp)
}
