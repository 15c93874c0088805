package app

import (
	"prepwise_backend/docs"
	"prepwise_backend/internal/config"
	"prepwise_backend/internal/middleware"
	"prepwise_backend/internal/model"
	"prepwise_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, s *services, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.GET("/plans", c.subscription.ListPlans)
		public.GET("/plans/featured", c.subscription.FeaturedPlans)
	}

	// 2. 考生接口
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.ActivityMiddleware(s.analytics, nil))
	{
		a.registerCandidateRoutes(authGroup, c)
	}

	// 3. 管理员接口
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.RoleMiddleware(model.Admin))
	{
		a.registerAdminRoutes(admin, c)
	}
}

func (a *App) registerCandidateRoutes(rg *gin.RouterGroup, c *controllers) {
	// 考试
	rg.GET("/exams", c.exam.ListExams)
	rg.GET("/exams/:id", c.exam.GetExam)
	rg.POST("/exams/:id/start", c.attempt.StartAttempt)
	rg.GET("/attempts", c.attempt.MyAttempts)
	rg.GET("/attempts/:id", c.attempt.GetAttempt)
	rg.POST("/attempts/:id/answers", c.attempt.SubmitAnswer)
	rg.POST("/attempts/:id/submit", c.attempt.SubmitAll)
	rg.POST("/attempts/:id/complete", c.attempt.Complete)
	rg.POST("/attempts/:id/abandon", c.attempt.Abandon)
	rg.GET("/attempts/:id/results", c.attempt.Results)

	// 模拟面试
	rg.GET("/interview-templates", c.interview.ListTemplates)
	rg.POST("/interview-templates/:id/use", c.interview.UseTemplate)
	rg.POST("/interviews", c.interview.CreateInterview)
	rg.GET("/interviews", c.interview.MyInterviews)
	rg.GET("/interviews/:id", c.interview.GetInterview)
	rg.POST("/interviews/:id/start", c.interview.Start)
	rg.POST("/interviews/:id/responses", c.interview.SubmitResponse)
	rg.POST("/interviews/:id/responses/:questionId/media", c.interview.UploadMedia)
	rg.GET("/interviews/:id/responses/:questionId", c.interview.GetResponse)
	rg.POST("/interviews/:id/complete", c.interview.Complete)
	rg.POST("/interviews/:id/abandon", c.interview.Abandon)
	rg.POST("/interviews/:id/cancel", c.interview.Cancel)

	// 分析
	rg.GET("/analytics/dashboard", c.analytics.GetDashboard)
	rg.POST("/analytics/refresh", c.analytics.Recompute)
	rg.GET("/analytics/exams", c.analytics.GetExamStats)
	rg.GET("/analytics/interviews", c.analytics.GetInterviewStats)
	rg.GET("/analytics/trends", c.analytics.GetTrend)
	rg.GET("/analytics/activities", c.analytics.GetActivities)
	rg.POST("/analytics/activities", c.analytics.LogActivity)

	// 订阅
	rg.GET("/subscription", c.subscription.MySubscription)
	rg.POST("/subscription", c.subscription.Subscribe)
	rg.POST("/subscription/cancel", c.subscription.Cancel)
	rg.POST("/subscription/renew", c.subscription.Renew)
	rg.GET("/payments", c.subscription.Payments)
	rg.GET("/payments/:id", c.subscription.PaymentStatus)
	rg.GET("/invoices", c.subscription.Invoices)
	rg.GET("/invoices/:id/download", c.subscription.DownloadInvoice)
}

func (a *App) registerAdminRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/exams", c.exam.ListAllExams)
	rg.POST("/exams", c.exam.CreateExam)
	rg.GET("/exams/:id", c.exam.GetAdminExam)
	rg.PUT("/exams/:id", c.exam.UpdateExam)
	rg.POST("/exams/:id/publish", c.exam.PublishExam)
	rg.POST("/exams/:id/questions", c.exam.AddQuestion)
	rg.PUT("/questions/:id", c.exam.UpdateQuestion)
	rg.DELETE("/questions/:id", c.exam.DeleteQuestion)

	rg.GET("/interview-templates", c.interview.ListAllTemplates)
	rg.POST("/interview-templates", c.interview.CreateTemplate)
	rg.PUT("/interview-templates/:id", c.interview.UpdateTemplate)
	rg.POST("/responses/:id/review", c.interview.ReviewResponse)

	rg.POST("/payments/:id/confirm", c.subscription.ConfirmPayment)
}
