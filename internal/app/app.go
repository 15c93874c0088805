package app

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/controller"
	"prepwise_backend/internal/repository"
	"prepwise_backend/internal/service"
	"prepwise_backend/pkg/configwatcher"
	"prepwise_backend/pkg/database"
	"prepwise_backend/pkg/logger"
	"prepwise_backend/pkg/monitoring"
	"prepwise_backend/pkg/security"
	"prepwise_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	limiter         *security.Limiter
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	exam         *repository.ExamRepository
	attempt      *repository.ExamAttemptRepository
	interview    *repository.InterviewRepository
	analytics    *repository.AnalyticsRepository
	subscription *repository.SubscriptionRepository
	cache        *repository.AnalyticsCache
}

type services struct {
	exam         *service.ExamService
	attempt      *service.ExamAttemptService
	interview    *service.InterviewService
	analytics    *service.AnalyticsService
	subscription *service.SubscriptionService
	evaluator    service.Evaluator
}

type controllers struct {
	exam         *controller.ExamController
	attempt      *controller.AttemptController
	interview    *controller.InterviewController
	analytics    *controller.AnalyticsController
	subscription *controller.SubscriptionController
	health       *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) applyConfig(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	return &repositories{
		exam:         repository.NewExamRepository(db),
		attempt:      repository.NewExamAttemptRepository(db),
		interview:    repository.NewInterviewRepository(db),
		analytics:    repository.NewAnalyticsRepository(db),
		subscription: repository.NewSubscriptionRepository(db),
		cache:        repository.NewAnalyticsCache(rdb),
	}
}

func loadQuestionBank(path string) *service.QuestionBank {
	bank, err := service.LoadQuestionBank(path)
	if err != nil {
		logger.Log.Warn("Question bank unavailable, using built-in questions", zap.String("path", path), zap.Error(err))
		return service.DefaultQuestionBank()
	}
	return bank
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}

	evaluator, err := service.NewEvaluator(context.Background(), cfg.AI)
	if err != nil {
		logger.Log.Warn("Evaluator unavailable, responses will need manual review", zap.String("provider", cfg.AI.Provider), zap.Error(err))
	}
	s.evaluator = evaluator

	s.analytics = service.NewAnalyticsService(repos.analytics, repos.cache, cfg.Analytics)
	s.subscription = service.NewSubscriptionService(repos.subscription, s.analytics, cfg.Quota)
	s.exam = service.NewExamService(repos.exam)
	s.attempt = service.NewExamAttemptService(repos.exam, repos.attempt, s.subscription, s.analytics)
	s.interview = service.NewInterviewService(
		repos.interview,
		s.subscription,
		s.analytics,
		evaluator,
		loadQuestionBank(cfg.Interview.QuestionBank),
		service.NewMediaStorage(&cfg.Storage),
		cfg,
	)

	a.RegisterConfigCallback(func(c *config.Config) {
		s.analytics.SetPolicy(service.PolicyFromConfig(c.Analytics))
		s.subscription.SetQuota(c.Quota)
	})
	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		exam:         controller.NewExamController(s.exam),
		attempt:      controller.NewAttemptController(s.attempt),
		interview:    controller.NewInterviewController(s.interview),
		analytics:    controller.NewAnalyticsController(s.analytics),
		subscription: controller.NewSubscriptionController(s.subscription),
		health:       controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	a.limiter = security.NewLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute)
	a.RegisterConfigCallback(func(c *config.Config) {
		a.limiter.SetRate(c.RateLimit.MaxRequests, time.Duration(c.RateLimit.WindowMinutes)*time.Minute)
	})
	router.Use(a.limiter.Middleware())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// Build 组装路由与服务，不负责建立数据库连接，测试直接传入内存库
func Build(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db, rdb)
	app.services = app.initServices(repos, cfg)
	ctrls := app.initControllers(app.services, db, rdb)

	monitoring.Init()

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Server.Mode == gin.DebugMode {
		router.Use(gin.Logger())
	}
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, ctrls, app.services, cfg)

	if cfg.Storage.Type == "" || cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}
	return app
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	migrate := cfg.ForceMigrate || cfg.Server.Mode != gin.ReleaseMode
	db, err := database.InitDB(&cfg.Database, migrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}

	var tp *sdktrace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err = tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app := Build(cfg, db, rdb)
	app.tracer = tp

	if cfg.Evaluation.Async {
		app.services.interview.StartWorkers(cfg.Evaluation.Workers, cfg.Evaluation.QueueSize)
	}
	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:              ":" + a.Config.Server.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if a.Config.ConfigFile != "" {
		go func() {
			err := configwatcher.WatchConfig(watchCtx, a.Config.ConfigFile, config.LoadConfig, a.applyConfig)
			if err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	a.Close(ctx)

	logger.Log.Info("Server exiting")
}

// Close 停止评估队列后释放外部连接
func (a *App) Close(ctx context.Context) {
	if a.services != nil {
		a.services.interview.StopWorkers()
		if closer, ok := a.services.evaluator.(io.Closer); ok {
			closer.Close()
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	logger.Log.Sync()
}
