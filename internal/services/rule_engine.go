package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"planhub/internal/metrics"
	"planhub/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RuleEngine orchestrates rule firing: trigger matching, condition
// evaluation, execution bookkeeping and dispatch to the executor.
type RuleEngine struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	matcher  *TriggerMatcher
	executor *ActionExecutor

	wg sync.WaitGroup
}

func NewRuleEngine(db *gorm.DB, logger *logrus.Logger, matcher *TriggerMatcher, executor *ActionExecutor) *RuleEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleEngine{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("planhub.automation.engine"),
		matcher:  matcher,
		executor: executor,
	}
}

// OnEvent matches, evaluates and dispatches the event. It does not
// block on action execution: each matched rule runs in its own
// goroutine. Only persistence failures are returned; everything else
// is handled locally (logged, skipped, or resolved by idempotency).
func (e *RuleEngine) OnEvent(ctx context.Context, evt Event) error {
	ctx, span := e.tracer.Start(ctx, "automation.on_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", evt.ID),
		attribute.String("event.kind", evt.Kind),
	)
	metrics.IncEventSeen()

	if evt.ID == "" {
		return fmt.Errorf("event without id")
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	rules, err := e.matcher.Match(ctx, evt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("match rules: %w", err)
	}

	snapshot := EntitySnapshot(evt.Payload)
	for _, rule := range rules {
		conds, err := rule.DecodeConditions()
		if err != nil {
			e.logger.Warnf("automation: %v", err)
			continue
		}
		if !EvaluateConditions(conds, evt, snapshot) {
			// non-matches are not audited, to bound storage growth
			continue
		}
		metrics.IncRuleMatched()

		execution, created, err := e.createExecution(ctx, rule, evt)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("create execution for rule %s: %w", rule.ID, err)
		}
		if !created {
			metrics.IncDuplicateEvent()
			e.logger.Debugf("automation: duplicate event %s for rule %s, reusing execution %s",
				evt.ID, rule.ID, execution.ID)
			continue
		}

		e.logger.Infof("automation: rule %q matched event %s, execution %s", rule.Name, evt.ID, execution.ID)
		e.dispatch(ctx, execution.ID)
	}
	return nil
}

// createExecution inserts the pending record under the idempotency key
// (rule_id, event_id) in a single conflict-tolerant statement. A
// redelivered event resolves to the existing record, never a duplicate.
func (e *RuleEngine) createExecution(ctx context.Context, rule models.AutomationRule, evt Event) (*models.RuleExecution, bool, error) {
	execution := &models.RuleExecution{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		EventID:     evt.ID,
		Status:      models.ExecutionPending,
		TriggerData: mustJSON(evt),
		StartedAt:   time.Now(),
		CreatedAt:   time.Now(),
	}

	result := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_id"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(execution)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		var existing models.RuleExecution
		if err := e.db.WithContext(ctx).
			Where("rule_id = ? AND event_id = ?", rule.ID, evt.ID).
			First(&existing).Error; err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}

	// fired-for-real bookkeeping on the rule itself
	now := time.Now()
	if err := e.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", rule.ID).
		Updates(map[string]interface{}{
			"execution_count":  gorm.Expr("execution_count + 1"),
			"last_executed_at": now,
		}).Error; err != nil {
		e.logger.Warnf("automation: bump execution count for rule %s: %v", rule.ID, err)
	}
	return execution, true, nil
}

// dispatch hands the execution to the executor on its own goroutine.
// The event source's context must not cancel in-flight actions.
func (e *RuleEngine) dispatch(ctx context.Context, executionID string) {
	runCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.executor.Run(runCtx, executionID); err != nil {
			e.logger.Errorf("automation: execution %s: %v", executionID, err)
		}
	}()
}

// Wait blocks until all dispatched executions have finished. Used for
// graceful shutdown and by tests.
func (e *RuleEngine) Wait() { e.wg.Wait() }
