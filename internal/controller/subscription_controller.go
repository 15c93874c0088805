package controller

import (
	"fmt"

	"prepwise_backend/internal/service"
	"prepwise_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type SubscriptionController struct {
	Service *service.SubscriptionService
}

func NewSubscriptionController(svc *service.SubscriptionService) *SubscriptionController {
	return &SubscriptionController{Service: svc}
}

type subscribeRequest struct {
	PlanID uint `json:"planId" binding:"required"`
}

// @Summary 套餐列表
// @Tags 订阅
// @Produce json
// @Success 200 {object} util.Response{data=[]model.PaymentPlan}
// @Router /api/plans [get]
func (c *SubscriptionController) ListPlans(ctx *gin.Context) {
	plans, err := c.Service.ListPlans(ctx.Request.Context())
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, plans)
}

// @Summary 推荐套餐
// @Tags 订阅
// @Produce json
// @Success 200 {object} util.Response{data=[]model.PaymentPlan}
// @Router /api/plans/featured [get]
func (c *SubscriptionController) FeaturedPlans(ctx *gin.Context) {
	plans, err := c.Service.FeaturedPlans(ctx.Request.Context())
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, plans)
}

// @Summary 当前订阅与用量
// @Tags 订阅
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.SubscriptionView}
// @Router /api/subscription [get]
func (c *SubscriptionController) MySubscription(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	view, err := c.Service.MySubscription(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 订阅套餐
// @Description 付费套餐返回待支付订单，支付确认后生效
// @Tags 订阅
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body subscribeRequest true "套餐"
// @Success 201 {object} util.Response{data=service.SubscribeResult}
// @Router /api/subscription [post]
func (c *SubscriptionController) Subscribe(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req subscribeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	res, err := c.Service.Subscribe(ctx.Request.Context(), user.UserID, req.PlanID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, res)
}

// @Summary 取消订阅
// @Tags 订阅
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=model.Subscription}
// @Router /api/subscription/cancel [post]
func (c *SubscriptionController) Cancel(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	sub, err := c.Service.Cancel(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, sub)
}

// @Summary 续订最近的套餐
// @Tags 订阅
// @Produce json
// @Security BearerAuth
// @Success 201 {object} util.Response{data=service.SubscribeResult}
// @Router /api/subscription/renew [post]
func (c *SubscriptionController) Renew(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	res, err := c.Service.Renew(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, res)
}

// @Summary 支付记录
// @Tags 订阅
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.Payment}
// @Router /api/payments [get]
func (c *SubscriptionController) Payments(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	payments, err := c.Service.Payments(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, payments)
}

// @Summary 查询支付状态
// @Tags 订阅
// @Produce json
// @Security BearerAuth
// @Param id path int true "支付ID"
// @Success 200 {object} util.Response{data=model.Payment}
// @Failure 404 {object} util.Response
// @Router /api/payments/{id} [get]
func (c *SubscriptionController) PaymentStatus(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	payment, err := c.Service.Payment(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, payment)
}

// @Summary 发票
// @Tags 订阅
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.Invoice}
// @Router /api/invoices [get]
func (c *SubscriptionController) Invoices(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	invoices, err := c.Service.Invoices(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, invoices)
}

// @Summary 下载发票
// @Description 以附件形式返回发票数据
// @Tags 订阅
// @Produce json
// @Security BearerAuth
// @Param id path int true "发票ID"
// @Success 200 {object} util.Response{data=model.Invoice}
// @Failure 404 {object} util.Response
// @Router /api/invoices/{id}/download [get]
func (c *SubscriptionController) DownloadInvoice(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	invoice, err := c.Service.Invoice(ctx.Request.Context(), user.UserID, id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, invoice.InvoiceNumber))
	util.Success(ctx, invoice)
}

// @Summary 管理端：确认支付
// @Description 支付网关回调或人工对账后调用，开具发票并激活订阅
// @Tags 订阅管理
// @Produce json
// @Security BearerAuth
// @Param id path int true "支付ID"
// @Success 200 {object} util.Response{data=model.Invoice}
// @Failure 409 {object} util.Response
// @Router /api/admin/payments/{id}/confirm [post]
func (c *SubscriptionController) ConfirmPayment(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	invoice, err := c.Service.ConfirmPayment(ctx.Request.Context(), id)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, invoice)
}
