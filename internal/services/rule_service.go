package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"planhub/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RuleService 自动化规则的 CRUD 与生命周期管理
type RuleService struct {
	db              *gorm.DB
	logger          *logrus.Logger
	defaultTimezone string
}

func NewRuleService(db *gorm.DB, logger *logrus.Logger, defaultTimezone string) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleService{db: db, logger: logger, defaultTimezone: defaultTimezone}
}

// RuleCreateRequest 创建规则的请求
type RuleCreateRequest struct {
	Name            string             `json:"name" binding:"required"`
	Description     string             `json:"description"`
	ProjectID       string             `json:"project_id" binding:"required"`
	Priority        string             `json:"priority"`
	Tags            []string           `json:"tags"`
	AllowConcurrent *bool              `json:"allow_concurrent"`
	Trigger         models.Trigger     `json:"trigger" binding:"required"`
	Conditions      []models.Condition `json:"conditions"`
	Actions         []models.Action    `json:"actions" binding:"required"`
}

// RuleUpdateRequest 更新规则的请求（指针字段表示可选）
type RuleUpdateRequest struct {
	Name            *string             `json:"name"`
	Description     *string             `json:"description"`
	Priority        *string             `json:"priority"`
	Tags            []string            `json:"tags"`
	AllowConcurrent *bool               `json:"allow_concurrent"`
	Trigger         *models.Trigger     `json:"trigger"`
	Conditions      *[]models.Condition `json:"conditions"`
	Actions         *[]models.Action    `json:"actions"`
}

// RuleListRequest 规则列表请求
type RuleListRequest struct {
	ProjectID string `form:"project_id"`
	Active    *bool  `form:"active"`
	Page      int    `form:"page,default=1"`
	PageSize  int    `form:"page_size,default=20"`
}

var validTriggerKinds = map[string]bool{
	models.TriggerEntityCreated:    true,
	models.TriggerEntityUpdated:    true,
	models.TriggerEntityMoved:      true,
	models.TriggerDueSoon:          true,
	models.TriggerOverdue:          true,
	models.TriggerMilestoneReached: true,
	models.TriggerProjectUpdated:   true,
	models.TriggerSchedule:         true,
	models.TriggerWebhook:          true,
}

var validActionTypes = map[string]bool{
	models.ActionUpdateFields:     true,
	models.ActionCreateEntity:     true,
	models.ActionAssignUser:       true,
	models.ActionSetDueDate:       true,
	models.ActionAddLabel:         true,
	models.ActionRemoveLabel:      true,
	models.ActionSendNotification: true,
	models.ActionSendEmail:        true,
	models.ActionMoveStatus:       true,
	models.ActionArchiveEntity:    true,
	models.ActionCallWebhook:      true,
	models.ActionCustomScript:     true,
}

func validateTrigger(trig *models.Trigger) error {
	if !validTriggerKinds[trig.Kind] {
		return fmt.Errorf("unsupported trigger kind: %s", trig.Kind)
	}
	switch trig.Kind {
	case models.TriggerSchedule:
		if trig.Schedule == nil {
			return fmt.Errorf("schedule trigger requires a schedule spec")
		}
	case models.TriggerWebhook:
		if trig.Webhook == nil || trig.Webhook.Secret == "" {
			return fmt.Errorf("webhook trigger requires a secret")
		}
	case models.TriggerDueSoon:
		if trig.DaysBefore < 0 {
			return fmt.Errorf("days_before must be >= 0")
		}
	}
	return nil
}

func validateActions(actions []models.Action) error {
	if len(actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	for i, act := range actions {
		if !validActionTypes[act.Type] {
			return fmt.Errorf("action %d: unsupported type %s", i, act.Type)
		}
		if act.DelaySeconds < 0 || act.RetryCount < 0 || act.RetryDelaySeconds < 0 {
			return fmt.Errorf("action %d: delay and retry settings must be >= 0", i)
		}
	}
	return nil
}

// Create validates and stores a new rule. Schedule triggers get their
// first next_execution_at computed here.
func (s *RuleService) Create(ctx context.Context, userID string, req *RuleCreateRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := validateTrigger(&req.Trigger); err != nil {
		return nil, err
	}
	if err := validateActions(req.Actions); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}
	if priority != "low" && priority != "medium" && priority != "high" {
		return nil, fmt.Errorf("invalid priority: %s", priority)
	}

	actions := withActionIDs(req.Actions)
	allowConcurrent := true
	if req.AllowConcurrent != nil {
		allowConcurrent = *req.AllowConcurrent
	}

	rule := &models.AutomationRule{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Description:     req.Description,
		ProjectID:       req.ProjectID,
		CreatedBy:       userID,
		IsActive:        true,
		Priority:        priority,
		Tags:            strings.Join(req.Tags, ","),
		AllowConcurrent: allowConcurrent,
		Trigger:         mustJSON(req.Trigger),
		Conditions:      mustJSON(req.Conditions),
		Actions:         mustJSON(actions),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	if req.Trigger.Kind == models.TriggerSchedule {
		next, err := NextExecution(req.Trigger.Schedule, time.Now(), s.defaultTimezone)
		if err != nil {
			return nil, err
		}
		rule.NextExecutionAt = &next
	}

	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	s.logger.Infof("automation: created rule %q (%s)", rule.Name, rule.ID)
	return rule, nil
}

func (s *RuleService) Get(ctx context.Context, id string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *RuleService) List(ctx context.Context, req *RuleListRequest) ([]models.AutomationRule, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AutomationRule{})
	if req.ProjectID != "" {
		query = query.Where("project_id = ?", req.ProjectID)
	}
	if req.Active != nil {
		query = query.Where("is_active = ?", *req.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if req.PageSize > 0 {
		page := req.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * req.PageSize).Limit(req.PageSize)
	}

	var rules []models.AutomationRule
	if err := query.Order("created_at DESC").Find(&rules).Error; err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// Update applies a partial edit. Edits take effect for the next event
// only; in-flight executions keep the snapshot they matched against.
func (s *RuleService) Update(ctx context.Context, id string, req *RuleUpdateRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, err
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Priority != nil {
		if *req.Priority != "low" && *req.Priority != "medium" && *req.Priority != "high" {
			return nil, fmt.Errorf("invalid priority: %s", *req.Priority)
		}
		rule.Priority = *req.Priority
	}
	if req.Tags != nil {
		rule.Tags = strings.Join(req.Tags, ",")
	}
	if req.AllowConcurrent != nil {
		rule.AllowConcurrent = *req.AllowConcurrent
	}
	if req.Trigger != nil {
		if err := validateTrigger(req.Trigger); err != nil {
			return nil, err
		}
		rule.Trigger = mustJSON(req.Trigger)
		if req.Trigger.Kind == models.TriggerSchedule {
			next, err := NextExecution(req.Trigger.Schedule, time.Now(), s.defaultTimezone)
			if err != nil {
				return nil, err
			}
			rule.NextExecutionAt = &next
		} else {
			rule.NextExecutionAt = nil
		}
	}
	if req.Conditions != nil {
		rule.Conditions = mustJSON(*req.Conditions)
	}
	if req.Actions != nil {
		if err := validateActions(*req.Actions); err != nil {
			return nil, err
		}
		rule.Actions = mustJSON(withActionIDs(*req.Actions))
	}
	rule.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// SetActive toggles the rule. Deactivation is also the cancellation
// signal observed by in-flight executions.
func (s *RuleService) SetActive(ctx context.Context, id string, active bool) error {
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": active, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// Delete soft-deletes the rule; it stops matching immediately.
func (s *RuleService) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// Duplicate clones a rule with fresh identifiers and zeroed counters.
func (s *RuleService) Duplicate(ctx context.Context, id, userID string) (*models.AutomationRule, error) {
	var src models.AutomationRule
	if err := s.db.WithContext(ctx).First(&src, "id = ?", id).Error; err != nil {
		return nil, err
	}

	actions, err := src.DecodeActions()
	if err != nil {
		return nil, err
	}
	for i := range actions {
		actions[i].ID = uuid.NewString()
	}

	clone := &models.AutomationRule{
		ID:              uuid.NewString(),
		Name:            src.Name + " (copy)",
		Description:     src.Description,
		ProjectID:       src.ProjectID,
		CreatedBy:       userID,
		IsActive:        false, // 复制出的规则默认停用，待用户确认
		Priority:        src.Priority,
		Tags:            src.Tags,
		AllowConcurrent: src.AllowConcurrent,
		Trigger:         src.Trigger,
		Conditions:      src.Conditions,
		Actions:         mustJSON(actions),
		NextExecutionAt: src.NextExecutionAt,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(clone).Error; err != nil {
		return nil, err
	}
	return clone, nil
}

// DryRun evaluates a rule's conditions against a caller-supplied event
// and snapshot without executing anything.
func (s *RuleService) DryRun(ctx context.Context, id string, evt Event, snapshot EntitySnapshot) (bool, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	conds, err := rule.DecodeConditions()
	if err != nil {
		return false, err
	}
	return EvaluateConditions(conds, evt, snapshot), nil
}

func withActionIDs(actions []models.Action) []models.Action {
	out := make([]models.Action, len(actions))
	copy(out, actions)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}
