package services

import (
	"context"
	"fmt"
	"time"

	"planhub/internal/config"
	"planhub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// dueSoonHorizonDays bounds the due-date scan; per-rule day offsets are
// applied by the trigger matcher.
const dueSoonHorizonDays = 30

// ScheduleWorker turns the wall clock into engine events: schedule
// ticks for rules whose next execution time has arrived, and due_soon /
// overdue events scanned from task due dates.
type ScheduleWorker struct {
	db     *gorm.DB
	logger *logrus.Logger
	engine *RuleEngine
	cfg    config.EngineConfig
}

func NewScheduleWorker(db *gorm.DB, logger *logrus.Logger, engine *RuleEngine, cfg config.EngineConfig) *ScheduleWorker {
	if logger == nil {
		logger = logrus.New()
	}
	return &ScheduleWorker{db: db, logger: logger, engine: engine, cfg: cfg}
}

// Start runs both loops until the context is cancelled.
func (w *ScheduleWorker) Start(ctx context.Context) {
	w.logger.Info("Starting automation schedule worker")

	scheduleTicker := time.NewTicker(w.cfg.ScheduleTick)
	dueTicker := time.NewTicker(w.cfg.DueSoonTick)
	defer scheduleTicker.Stop()
	defer dueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Automation schedule worker stopped")
			return
		case <-scheduleTicker.C:
			if err := w.fireDueSchedules(ctx, time.Now()); err != nil {
				w.logger.Errorf("schedule tick: %v", err)
			}
		case <-dueTicker.C:
			if err := w.scanDueDates(ctx, time.Now()); err != nil {
				w.logger.Errorf("due date scan: %v", err)
			}
		}
	}
}

// fireDueSchedules emits one synthetic event per schedule rule whose
// next_execution_at has arrived, then advances the rule's schedule. The
// event id is derived from the firing slot, so a tick racing a restart
// dedupes through the engine's idempotency key.
func (w *ScheduleWorker) fireDueSchedules(ctx context.Context, now time.Time) error {
	var rules []models.AutomationRule
	if err := w.db.WithContext(ctx).
		Where("is_active = ? AND next_execution_at IS NOT NULL AND next_execution_at <= ?", true, now).
		Find(&rules).Error; err != nil {
		return err
	}

	for _, rule := range rules {
		trig, err := rule.DecodeTrigger()
		if err != nil || trig.Kind != models.TriggerSchedule {
			continue
		}

		evt := Event{
			ID:         fmt.Sprintf("schedule:%s:%d", rule.ID, rule.NextExecutionAt.Unix()),
			Kind:       models.TriggerSchedule,
			ProjectID:  rule.ProjectID,
			OccurredAt: now,
			Payload:    map[string]interface{}{"rule_id": rule.ID},
		}
		if err := w.engine.OnEvent(ctx, evt); err != nil {
			w.logger.Errorf("schedule fire for rule %s: %v", rule.ID, err)
			continue
		}

		next, err := NextExecution(trig.Schedule, now, w.cfg.DefaultTimezone)
		if err != nil {
			w.logger.Warnf("schedule advance for rule %s: %v", rule.ID, err)
			continue
		}
		if err := w.db.WithContext(ctx).Model(&models.AutomationRule{}).
			Where("id = ?", rule.ID).
			Update("next_execution_at", next).Error; err != nil {
			w.logger.Errorf("schedule advance for rule %s: %v", rule.ID, err)
		}
	}
	return nil
}

// scanDueDates emits due_soon and overdue events for open tasks. Event
// ids carry the scan date, so each task fires at most once per day per
// rule regardless of the tick interval.
func (w *ScheduleWorker) scanDueDates(ctx context.Context, now time.Time) error {
	horizon := now.AddDate(0, 0, dueSoonHorizonDays)
	var tasks []models.Task
	if err := w.db.WithContext(ctx).
		Where("archived = ? AND status <> ? AND due_date IS NOT NULL AND due_date <= ?", false, "done", horizon).
		Find(&tasks).Error; err != nil {
		return err
	}

	day := now.Format("2006-01-02")
	for _, task := range tasks {
		kind := models.TriggerDueSoon
		daysUntil := int(task.DueDate.Sub(now).Hours() / 24)
		if task.DueDate.Before(now) {
			kind = models.TriggerOverdue
		}

		evt := Event{
			ID:         fmt.Sprintf("%s:%s:%s", kind, task.ID, day),
			Kind:       kind,
			EntityType: "task",
			EntityID:   task.ID,
			ProjectID:  task.ProjectID,
			OccurredAt: now,
			Payload:    taskSnapshot(task, daysUntil),
		}
		if err := w.engine.OnEvent(ctx, evt); err != nil {
			w.logger.Errorf("due date event for task %s: %v", task.ID, err)
		}
	}
	return nil
}

func taskSnapshot(task models.Task, daysUntil int) map[string]interface{} {
	snapshot := map[string]interface{}{
		"title":          task.Title,
		"status":         task.Status,
		"priority":       task.Priority,
		"labels":         task.Labels,
		"days_until_due": daysUntil,
	}
	if task.AssigneeID != nil {
		snapshot["assignee_id"] = *task.AssigneeID
	}
	if task.DueDate != nil {
		snapshot["due_date"] = *task.DueDate
	}
	return snapshot
}
