package app

import (
	"context"
	"courseforge_backend/internal/config"
	"courseforge_backend/internal/controller"
	"courseforge_backend/internal/repository"
	"courseforge_backend/internal/service"
	"courseforge_backend/pkg/configwatcher"
	"courseforge_backend/pkg/database"
	"courseforge_backend/pkg/logger"
	"courseforge_backend/pkg/monitoring"
	"courseforge_backend/pkg/security"
	"courseforge_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config     *config.Config
	Router     *gin.Engine
	DB         *gorm.DB
	Redis      *redis.Client
	dispatcher *service.AsynqDispatcher
	worker     *service.FulfillmentWorker
	tracer     *sdktrace.TracerProvider

	configCallbacks []func(*config.Config)
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

type repositories struct {
	user         *repository.UserRepository
	course       *repository.CourseRepository
	notification *repository.NotificationRepository
}

type services struct {
	auth         *service.AuthService
	storage      service.StorageProvider
	ai           *service.AIService
	generator    *service.GeneratorService
	planner      *service.MediaPlannerService
	images       *service.ImageGenService
	notification *service.NotificationService
	fulfillment  *service.FulfillmentService
	course       *service.CourseService
}

type controllers struct {
	auth         *controller.AuthController
	course       *controller.CourseController
	notification *controller.NotificationController
	health       *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:         repository.NewUserRepository(db),
		course:       repository.NewCourseRepository(db),
		notification: repository.NewNotificationRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageProvider(cfg.Storage)
	s.auth = service.NewAuthService(repos.user, cfg.JWT)
	s.ai = service.NewAIService(cfg.AI)
	s.generator = service.NewGeneratorService(s.ai, cfg.AI)
	s.planner = service.NewMediaPlannerService(s.ai, cfg.AI)
	s.images = service.NewImageGenService(cfg.ImageGen, s.storage)
	s.notification = service.NewNotificationService(repos.notification)
	s.fulfillment = service.NewFulfillmentService(
		repos.course,
		s.planner,
		s.images,
		s.notification,
		service.NewRedisRunLocker(rdb),
		cfg.ImageGen.RetryDelaySecs,
	)

	a.dispatcher = service.NewAsynqDispatcher(cfg.Redis)
	s.course = service.NewCourseService(repos.course, s.generator, a.dispatcher)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:         controller.NewAuthController(s.auth),
		course:       controller.NewCourseController(s.course),
		notification: controller.NewNotificationController(s.notification),
		health:       controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 600
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if cfg.MigrateOnly {
		logger.Log.Info("数据库迁移完成，按 -migrate-only 退出")
		os.Exit(0)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	controllers := app.initControllers(services, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("courseforge", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" || cfg.Storage.Type == "" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.worker = service.NewFulfillmentWorker(cfg.Redis, services.fulfillment, 4)
	if err := app.worker.Start(); err != nil {
		logger.Log.Fatal("Failed to start fulfillment worker", zap.Error(err))
	}

	// 候选模型列表支持配置热更新，改完 configs/config.yaml 不用重启
	app.RegisterConfigCallback(func(newCfg *config.Config) {
		services.generator.UpdateModels(newCfg.AI.GroundedModels, newCfg.AI.FastModels)
	})
	go configwatcher.WatchConfig("configs/config.yaml", cfg, func(raw interface{}) {
		newCfg, ok := raw.(*config.Config)
		if !ok {
			return
		}
		logger.Log.Info("配置文件已重新加载")
		for _, cb := range app.configCallbacks {
			cb(newCfg)
		}
	})

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 先停 HTTP，再停后台任务，最后清理追踪与日志
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if a.worker != nil {
		a.worker.Shutdown()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	logger.Log.Sync()

	log.Println("Server exiting")
}
