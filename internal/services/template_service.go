package services

import (
	"context"
	"time"

	"planhub/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TemplateService 规则模板目录与实例化
type TemplateService struct {
	db              *gorm.DB
	logger          *logrus.Logger
	defaultTimezone string
}

func NewTemplateService(db *gorm.DB, logger *logrus.Logger, defaultTimezone string) *TemplateService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TemplateService{db: db, logger: logger, defaultTimezone: defaultTimezone}
}

// Seed inserts the builtin catalog, skipping templates that already
// exist by name so operator edits to rating/featured survive restarts.
func (s *TemplateService) Seed(ctx context.Context) error {
	for _, tpl := range builtinTemplates() {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.RuleTemplate{}).
			Where("name = ?", tpl.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := s.db.WithContext(ctx).Create(&tpl).Error; err != nil {
			return err
		}
		s.logger.Debugf("automation: seeded template %q", tpl.Name)
	}
	return nil
}

func (s *TemplateService) List(ctx context.Context, category string) ([]models.RuleTemplate, error) {
	query := s.db.WithContext(ctx).Model(&models.RuleTemplate{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	var templates []models.RuleTemplate
	if err := query.Order("is_featured DESC, usage_count DESC, name ASC").
		Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

func (s *TemplateService) Get(ctx context.Context, id string) (*models.RuleTemplate, error) {
	var tpl models.RuleTemplate
	if err := s.db.WithContext(ctx).First(&tpl, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Instantiate creates an independent rule from a template. The copy is
// deep: later edits to the template never affect instantiated rules.
func (s *TemplateService) Instantiate(ctx context.Context, templateID, projectID, userID string) (*models.AutomationRule, error) {
	tpl, err := s.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}

	var trigger models.Trigger
	if err := decodeJSON(tpl.Trigger, &trigger); err != nil {
		return nil, err
	}
	var conditions []models.Condition
	if len(tpl.Conditions) > 0 {
		if err := decodeJSON(tpl.Conditions, &conditions); err != nil {
			return nil, err
		}
	}
	var actions []models.Action
	if err := decodeJSON(tpl.Actions, &actions); err != nil {
		return nil, err
	}
	for i := range actions {
		actions[i].ID = uuid.NewString()
	}

	rule := &models.AutomationRule{
		ID:              uuid.NewString(),
		Name:            tpl.Name,
		Description:     tpl.Description,
		ProjectID:       projectID,
		CreatedBy:       userID,
		IsActive:        true,
		Priority:        "medium",
		AllowConcurrent: true,
		Trigger:         mustJSON(trigger),
		Conditions:      mustJSON(conditions),
		Actions:         mustJSON(actions),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if trigger.Kind == models.TriggerSchedule {
		next, err := NextExecution(trigger.Schedule, time.Now(), s.defaultTimezone)
		if err != nil {
			return nil, err
		}
		rule.NextExecutionAt = &next
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rule).Error; err != nil {
			return err
		}
		return tx.Model(&models.RuleTemplate{}).
			Where("id = ?", tpl.ID).
			Update("usage_count", gorm.Expr("usage_count + 1")).Error
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}
