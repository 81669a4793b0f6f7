package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"planhub/internal/config"
	"planhub/internal/handlers"
	"planhub/internal/middleware"
	"planhub/internal/models"
	"planhub/internal/observability"
	"planhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 追踪（可选）
	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	}

	// 连接数据库
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			appLogger.Warnf("init gorm tracing: %v", err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		if cfg.Database.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		}
	}

	if err := db.AutoMigrate(
		&models.User{}, &models.Project{}, &models.Task{}, &models.Milestone{},
		&models.Notification{}, &models.ActivityLog{},
		&models.AutomationRule{}, &models.RuleExecution{}, &models.RuleTemplate{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 实时推送 hub
	hub := services.NewStreamHub()
	go hub.Run()

	// 引擎协作方
	mutator := services.NewGormMutator(db)
	notifier := services.NewDBNotifier(db, appLogger)
	notifier.SetHub(hub)
	mailer := services.NewLogMailer(appLogger)
	webhooks := services.NewHTTPWebhookClient(cfg.Webhook, appLogger)

	// 引擎装配
	matcher := services.NewTriggerMatcher(db, appLogger)
	executor := services.NewActionExecutor(db, appLogger, cfg.Engine,
		mutator, notifier, mailer, webhooks, nil)
	executor.SetHub(hub)
	engine := services.NewRuleEngine(db, appLogger, matcher, executor)

	// 业务服务
	ruleService := services.NewRuleService(db, appLogger, cfg.Engine.DefaultTimezone)
	executionService := services.NewExecutionService(db, appLogger)
	templateService := services.NewTemplateService(db, appLogger, cfg.Engine.DefaultTimezone)
	if err := templateService.Seed(context.Background()); err != nil {
		appLogger.Warnf("seed templates: %v", err)
	}

	// 后台调度器（schedule 触发器与 due_soon/overdue 扫描）
	workerCtx, stopWorker := context.WithCancel(context.Background())
	scheduleWorker := services.NewScheduleWorker(db, appLogger, engine, cfg.Engine)
	go scheduleWorker.Start(workerCtx)

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware("planhub"))
	}

	eventHandler := handlers.NewEventHandler(engine, appLogger)
	handlers.RegisterHealthRoutes(r, handlers.NewHealthHandler(db, hub))
	handlers.RegisterWebhookRoutes(r, eventHandler)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))
	handlers.RegisterRuleRoutes(api, handlers.NewRuleHandler(ruleService, appLogger))
	handlers.RegisterExecutionRoutes(api, handlers.NewExecutionHandler(executionService, appLogger))
	handlers.RegisterTemplateRoutes(api, handlers.NewTemplateHandler(templateService, appLogger))
	handlers.RegisterEventRoutes(api, eventHandler)
	handlers.RegisterStreamRoutes(api, hub)

	// 启动服务器
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	go func() {
		appLogger.Infof("Starting server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}

	// 等待进行中的执行落库后再退出
	engine.Wait()
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			appLogger.Warnf("shutdown tracing: %v", err)
		}
	}
	appLogger.Info("Server exited")
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
