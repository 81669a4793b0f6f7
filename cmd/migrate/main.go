package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"planhub/internal/config"
	"planhub/internal/models"
	"planhub/internal/services"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Task{},
		&models.Milestone{},
		&models.Notification{},
		&models.ActivityLog{},
		&models.AutomationRule{},
		&models.RuleExecution{},
		&models.RuleTemplate{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	log.Println("Creating additional indexes...")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_rules_project_active ON automation_rules(project_id, is_active)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_rules_next_execution ON automation_rules(next_execution_at) WHERE next_execution_at IS NOT NULL")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_rule_started ON rule_executions(rule_id, started_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_status_started ON rule_executions(status, started_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date) WHERE due_date IS NOT NULL")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at)")

	log.Println("Additional indexes created successfully!")

	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding templates and demo data...")
		templateService := services.NewTemplateService(db, nil, cfg.Engine.DefaultTimezone)
		if err := templateService.Seed(context.Background()); err != nil {
			log.Fatalf("Failed to seed templates: %v", err)
		}
		seedDemoData(db)
		log.Println("Seed completed successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDemoData(db *gorm.DB) {
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		admin = models.User{
			ID:       "seed-admin",
			Username: "admin",
			Email:    "admin@planhub.local",
			Name:     "系统管理员",
			Role:     "admin",
		}
		db.Create(&admin)
		log.Println("Created default admin user")
	}

	var demo models.Project
	if err := db.Where("name = ?", "Demo Project").First(&demo).Error; err != nil {
		demo = models.Project{
			ID:      "seed-demo-project",
			Name:    "Demo Project",
			Status:  "active",
			OwnerID: admin.ID,
		}
		db.Create(&demo)
		log.Println("Created demo project")
	}
}
