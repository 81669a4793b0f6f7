package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Trigger kinds. A trigger carries exactly one kind; only the fields
// relevant to that kind are populated.
const (
	TriggerEntityCreated    = "entity_created"
	TriggerEntityUpdated    = "entity_updated"
	TriggerEntityMoved      = "entity_moved"
	TriggerDueSoon          = "due_soon"
	TriggerOverdue          = "overdue"
	TriggerMilestoneReached = "milestone_reached"
	TriggerProjectUpdated   = "project_updated"
	TriggerSchedule         = "schedule"
	TriggerWebhook          = "webhook"
)

// ScheduleSpec 定时触发配置
type ScheduleSpec struct {
	Frequency  string   `json:"frequency"`            // daily, weekly, monthly, cron
	TimeOfDay  string   `json:"time_of_day"`          // "09:00", 24h clock
	Days       []string `json:"days,omitempty"`       // weekly: mon..sun
	DayOfMonth int      `json:"day_of_month,omitempty"` // monthly: 1..28
	Cron       string   `json:"cron,omitempty"`       // custom cron expression
	Timezone   string   `json:"timezone,omitempty"`
}

// WebhookSpec 入站 Webhook 触发配置
type WebhookSpec struct {
	Secret string `json:"secret"`
}

// Trigger is the tagged variant stored on a rule. Filter slices are
// implicit ANDs; an empty slice accepts any value.
type Trigger struct {
	Kind       string   `json:"kind"`
	EntityType string   `json:"entity_type,omitempty"` // task, milestone, project; empty = any
	Statuses   []string `json:"statuses,omitempty"`
	Priorities []string `json:"priorities,omitempty"`
	Assignees  []string `json:"assignees,omitempty"`
	Labels     []string `json:"labels,omitempty"`

	DaysBefore int `json:"days_before,omitempty"` // due_soon only

	Schedule *ScheduleSpec `json:"schedule,omitempty"` // schedule only
	Webhook  *WebhookSpec  `json:"webhook,omitempty"`  // webhook only
}

// Condition node kinds and operators.
const (
	ConditionField      = "field"
	ConditionUserRole   = "user_role"
	ConditionTimeWindow = "time_window"
	ConditionGroup      = "group"

	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpExists      = "exists"
	OpMissing     = "missing"

	LogicAnd = "and"
	LogicOr  = "or"
)

// Condition is one node of the boolean expression tree. Top-level
// conditions form a left-to-right chain: each node's Logic says how it
// joins the accumulated result ("and" when empty). Group nodes combine
// Children with Op ("and"/"or").
type Condition struct {
	Kind  string      `json:"kind"`
	Field string      `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`

	Roles []string `json:"roles,omitempty"` // user_role only

	WithinHours float64 `json:"within_hours,omitempty"` // time_window only

	Logic    string      `json:"logic,omitempty"`
	Children []Condition `json:"children,omitempty"` // group only
}

// Action types.
const (
	ActionUpdateFields     = "update_fields"
	ActionCreateEntity     = "create_entity"
	ActionAssignUser       = "assign_user"
	ActionSetDueDate       = "set_due_date"
	ActionAddLabel         = "add_label"
	ActionRemoveLabel      = "remove_label"
	ActionSendNotification = "send_notification"
	ActionSendEmail        = "send_email"
	ActionMoveStatus       = "move_status"
	ActionArchiveEntity    = "archive_entity"
	ActionCallWebhook      = "call_webhook"
	ActionCustomScript     = "custom_script"
)

// Action describes one step of a rule's ordered action list.
type Action struct {
	ID                string                 `json:"id,omitempty"`
	Type              string                 `json:"type"`
	Params            map[string]interface{} `json:"params,omitempty"`
	DelaySeconds      int                    `json:"delay_seconds,omitempty"`
	RetryCount        int                    `json:"retry_count,omitempty"`
	RetryDelaySeconds int                    `json:"retry_delay_seconds,omitempty"`
}

// AutomationRule 自动化规则定义
type AutomationRule struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	Name            string         `gorm:"not null" json:"name"`
	Description     string         `gorm:"type:text" json:"description"`
	ProjectID       string         `gorm:"index;size:36" json:"project_id"`
	CreatedBy       string         `gorm:"size:36" json:"created_by"`
	IsActive        bool           `gorm:"default:true" json:"is_active"`
	Priority        string         `gorm:"default:'medium'" json:"priority"` // low, medium, high
	Tags            string         `json:"tags"` // 标签，逗号分隔
	AllowConcurrent bool           `gorm:"default:true" json:"allow_concurrent"`
	Trigger         datatypes.JSON `gorm:"not null" json:"trigger"`
	Conditions      datatypes.JSON `json:"conditions"`
	Actions         datatypes.JSON `gorm:"not null" json:"actions"`
	ExecutionCount  int64          `gorm:"default:0" json:"execution_count"`
	LastExecutedAt  *time.Time     `json:"last_executed_at"`
	NextExecutionAt *time.Time     `gorm:"index" json:"next_execution_at"` // schedule triggers only
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// DecodeTrigger unpacks the stored trigger variant.
func (r *AutomationRule) DecodeTrigger() (Trigger, error) {
	var t Trigger
	if len(r.Trigger) == 0 {
		return t, fmt.Errorf("rule %s: empty trigger", r.ID)
	}
	if err := json.Unmarshal(r.Trigger, &t); err != nil {
		return t, fmt.Errorf("rule %s: invalid trigger: %w", r.ID, err)
	}
	return t, nil
}

// DecodeConditions unpacks the stored condition list. A missing column
// decodes to an empty list (vacuously satisfied).
func (r *AutomationRule) DecodeConditions() ([]Condition, error) {
	if len(r.Conditions) == 0 {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal(r.Conditions, &conds); err != nil {
		return nil, fmt.Errorf("rule %s: invalid conditions: %w", r.ID, err)
	}
	return conds, nil
}

// DecodeActions unpacks the stored action list.
func (r *AutomationRule) DecodeActions() ([]Action, error) {
	var acts []Action
	if len(r.Actions) == 0 {
		return nil, fmt.Errorf("rule %s: empty actions", r.ID)
	}
	if err := json.Unmarshal(r.Actions, &acts); err != nil {
		return nil, fmt.Errorf("rule %s: invalid actions: %w", r.ID, err)
	}
	return acts, nil
}

// Execution statuses.
const (
	ExecutionPending   = "pending"
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionCancelled = "cancelled"
)

// TerminalExecutionStatus reports whether a status admits no further
// transitions.
func TerminalExecutionStatus(status string) bool {
	switch status {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// ActionResult 单个动作的执行结果，序列化进执行记录供审计
type ActionResult struct {
	ActionID string `json:"action_id,omitempty"`
	Type     string `json:"type"`
	Status   string `json:"status"` // succeeded, failed, skipped
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// RuleExecution 规则执行记录（幂等键 rule_id + event_id）
type RuleExecution struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	RuleID           string         `gorm:"size:36;uniqueIndex:idx_rule_event;index" json:"rule_id"`
	EventID          string         `gorm:"size:128;uniqueIndex:idx_rule_event" json:"event_id"`
	Status           string         `gorm:"index;default:'pending'" json:"status"` // pending, running, completed, failed, cancelled
	TriggerData      datatypes.JSON `json:"trigger_data"`
	AffectedEntities datatypes.JSON `json:"affected_entities"` // ids grouped by entity kind
	ActionResults    datatypes.JSON `json:"action_results"`
	ActionsExecuted  int            `gorm:"default:0" json:"actions_executed"`
	ActionsSucceeded int            `gorm:"default:0" json:"actions_succeeded"`
	ActionsFailed    int            `gorm:"default:0" json:"actions_failed"`
	ErrorMessage     string         `json:"error_message"`
	ErrorDetails     string         `gorm:"type:text" json:"error_details"`
	ExecutionTimeMs  int64          `gorm:"default:0" json:"execution_time_ms"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
	CreatedAt        time.Time      `json:"created_at"`

	Rule AutomationRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
}

// DecodeActionResults unpacks the per-action audit trail.
func (e *RuleExecution) DecodeActionResults() ([]ActionResult, error) {
	if len(e.ActionResults) == 0 {
		return nil, nil
	}
	var results []ActionResult
	if err := json.Unmarshal(e.ActionResults, &results); err != nil {
		return nil, fmt.Errorf("execution %s: invalid action results: %w", e.ID, err)
	}
	return results, nil
}

// RuleTemplate 规则模板目录条目（只读原型，实例化时深拷贝）
type RuleTemplate struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	Name          string         `gorm:"unique;not null" json:"name"`
	Description   string         `gorm:"type:text" json:"description"`
	Category      string         `gorm:"index" json:"category"` // tasks, notifications, scheduling, integrations
	Trigger       datatypes.JSON `gorm:"not null" json:"trigger"`
	Conditions    datatypes.JSON `json:"conditions"`
	Actions       datatypes.JSON `gorm:"not null" json:"actions"`
	Difficulty    string         `gorm:"default:'beginner'" json:"difficulty"` // beginner, intermediate, advanced
	EstimatedTime string         `json:"estimated_time"`
	UsageCount    int64          `gorm:"default:0" json:"usage_count"`
	Rating        float64        `gorm:"default:0" json:"rating"`
	IsOfficial    bool           `gorm:"default:false" json:"is_official"`
	IsFeatured    bool           `gorm:"default:false" json:"is_featured"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
