package cli

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
	"planhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the planhub engine and API server",
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Project{}, &models.Task{}, &models.Milestone{},
		&models.Notification{}, &models.ActivityLog{},
		&models.AutomationRule{}, &models.RuleExecution{}, &models.RuleTemplate{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	hub := services.NewStreamHub()
	go hub.Run()

	notifier := services.NewDBNotifier(db, appLogger)
	notifier.SetHub(hub)

	matcher := services.NewTriggerMatcher(db, appLogger)
	executor := services.NewActionExecutor(db, appLogger, cfg.Engine,
		services.NewGormMutator(db), notifier, services.NewLogMailer(appLogger),
		services.NewHTTPWebhookClient(cfg.Webhook, appLogger), nil)
	executor.SetHub(hub)
	engine := services.NewRuleEngine(db, appLogger, matcher, executor)

	ruleService := services.NewRuleService(db, appLogger, cfg.Engine.DefaultTimezone)
	executionService := services.NewExecutionService(db, appLogger)
	templateService := services.NewTemplateService(db, appLogger, cfg.Engine.DefaultTimezone)
	if err := templateService.Seed(context.Background()); err != nil {
		appLogger.Warnf("seed templates: %v", err)
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := services.NewScheduleWorker(db, appLogger, engine, cfg.Engine)
	go worker.Start(workerCtx)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	eventHandler := handlers.NewEventHandler(engine, appLogger)
	handlers.RegisterHealthRoutes(router, handlers.NewHealthHandler(db, hub))
	handlers.RegisterWebhookRoutes(router, eventHandler)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))
	handlers.RegisterRuleRoutes(api, handlers.NewRuleHandler(ruleService, appLogger))
	handlers.RegisterExecutionRoutes(api, handlers.NewExecutionHandler(executionService, appLogger))
	handlers.RegisterTemplateRoutes(api, handlers.NewTemplateHandler(templateService, appLogger))
	handlers.RegisterEventRoutes(api, eventHandler)
	handlers.RegisterStreamRoutes(api, hub)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	engine.Wait()

	appLogger.Info("Server exited")
}
