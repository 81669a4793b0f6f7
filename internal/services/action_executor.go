package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"planhub/internal/config"
	"planhub/internal/metrics"
	"planhub/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActionExecutor runs an execution's actions in declared order with
// per-action delay and fixed retry backoff. Retry here is deliberately
// non-exponential: each action declares its own count and spacing.
type ActionExecutor struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	mutator  EntityMutator
	notifier Notifier
	mailer   Mailer
	webhooks WebhookClient
	scripts  ScriptRunner
	hub      *StreamHub
	maxDelay time.Duration

	// sleep is context-aware and replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// ruleLocks serializes executions of rules marked non-concurrent.
	ruleLocks sync.Map
}

func NewActionExecutor(db *gorm.DB, logger *logrus.Logger, cfg config.EngineConfig,
	mutator EntityMutator, notifier Notifier, mailer Mailer, webhooks WebhookClient, scripts ScriptRunner) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	if scripts == nil {
		scripts = NewDisabledScriptRunner()
	}
	return &ActionExecutor{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("planhub.automation.executor"),
		mutator:  mutator,
		notifier: notifier,
		mailer:   mailer,
		webhooks: webhooks,
		scripts:  scripts,
		maxDelay: cfg.MaxActionDelay,
		sleep:    sleepContext,
	}
}

// SetHub 注入可选的实时推送 hub
func (x *ActionExecutor) SetHub(hub *StreamHub) { x.hub = hub }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives the execution to a terminal state and returns the updated
// record. Partial-failure policy: an action that exhausts its retries
// is recorded and the list continues. Only persistence failures
// propagate to the caller.
func (x *ActionExecutor) Run(ctx context.Context, executionID string) (*models.RuleExecution, error) {
	ctx, span := x.tracer.Start(ctx, "automation.run_execution")
	defer span.End()
	span.SetAttributes(attribute.String("execution.id", executionID))

	var execution models.RuleExecution
	if err := x.db.WithContext(ctx).First(&execution, "id = ?", executionID).Error; err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	if models.TerminalExecutionStatus(execution.Status) {
		return &execution, nil
	}

	var rule models.AutomationRule
	if err := x.db.WithContext(ctx).Unscoped().First(&rule, "id = ?", execution.RuleID).Error; err != nil {
		return nil, fmt.Errorf("load rule: %w", err)
	}

	if !rule.AllowConcurrent {
		mu := x.lockFor(rule.ID)
		mu.Lock()
		defer mu.Unlock()
	}

	actions, err := rule.DecodeActions()
	if err != nil {
		// malformed action data is a hard failure for this execution
		return x.finish(ctx, &execution, models.ExecutionFailed, time.Now(), nil, err.Error())
	}

	started := time.Now()
	execution.Status = models.ExecutionRunning
	execution.StartedAt = started
	if err := x.db.WithContext(ctx).Model(&execution).
		Updates(map[string]interface{}{"status": models.ExecutionRunning, "started_at": started}).Error; err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	x.publish(&execution)

	var evt Event
	if len(execution.TriggerData) > 0 {
		if err := json.Unmarshal(execution.TriggerData, &evt); err != nil {
			x.logger.Warnf("automation: execution %s has unreadable trigger data: %v", execution.ID, err)
		}
	}
	snapshot := EntitySnapshot(evt.Payload)
	if snapshot == nil {
		snapshot = EntitySnapshot{}
	}

	results := make([]models.ActionResult, 0, len(actions))
	affected := map[string][]string{}
	cancelled := false

	for _, act := range actions {
		// cooperative cancellation: deactivating the rule stops the
		// list before the next action starts
		if x.ruleDeactivated(ctx, rule.ID) {
			cancelled = true
			results = append(results, models.ActionResult{
				ActionID: act.ID, Type: act.Type, Status: "skipped",
			})
			continue
		}

		if act.DelaySeconds > 0 {
			delay := time.Duration(act.DelaySeconds) * time.Second
			if x.maxDelay > 0 && delay > x.maxDelay {
				delay = x.maxDelay
			}
			if err := x.sleep(ctx, delay); err != nil {
				cancelled = true
				results = append(results, models.ActionResult{
					ActionID: act.ID, Type: act.Type, Status: "skipped",
				})
				continue
			}
		}

		result := x.runWithRetry(ctx, act, evt, snapshot, affected)
		results = append(results, result)
		execution.ActionsExecuted++
		if result.Status == "succeeded" {
			execution.ActionsSucceeded++
		} else {
			execution.ActionsFailed++
			metrics.IncActionFailure()
			if execution.ErrorMessage == "" {
				execution.ErrorMessage = fmt.Sprintf("action %s failed: %s", act.Type, result.Error)
			}
		}
	}

	status := models.ExecutionCompleted
	switch {
	case cancelled:
		status = models.ExecutionCancelled
	case execution.ActionsFailed > 0:
		status = models.ExecutionFailed
	}

	execution.AffectedEntities = mustJSON(affected)
	return x.finish(ctx, &execution, status, started, results, execution.ErrorMessage)
}

// runWithRetry attempts one action up to 1+RetryCount times with the
// declared fixed spacing between attempts.
func (x *ActionExecutor) runWithRetry(ctx context.Context, act models.Action, evt Event, snapshot EntitySnapshot, affected map[string][]string) models.ActionResult {
	ctx, span := x.tracer.Start(ctx, "automation.action")
	defer span.End()
	span.SetAttributes(attribute.String("action.type", act.Type))

	result := models.ActionResult{ActionID: act.ID, Type: act.Type}
	var lastErr error
	for attempt := 0; attempt <= act.RetryCount; attempt++ {
		result.Attempts = attempt + 1
		lastErr = x.executeAction(ctx, act, evt, snapshot, affected)
		if lastErr == nil {
			result.Status = "succeeded"
			return result
		}
		x.logger.Warnf("automation: action %s attempt %d/%d failed: %v",
			act.Type, attempt+1, act.RetryCount+1, lastErr)
		if attempt < act.RetryCount {
			if err := x.sleep(ctx, time.Duration(act.RetryDelaySeconds)*time.Second); err != nil {
				break
			}
		}
	}
	span.RecordError(lastErr)
	result.Status = "failed"
	result.Error = lastErr.Error()
	return result
}

func (x *ActionExecutor) executeAction(ctx context.Context, act models.Action, evt Event, snapshot EntitySnapshot, affected map[string][]string) error {
	entityType, entityID := targetEntity(act, evt)

	switch act.Type {
	case models.ActionUpdateFields:
		fields, _ := act.Params["fields"].(map[string]interface{})
		if len(fields) == 0 {
			return fmt.Errorf("fields param required")
		}
		rendered := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			if s, ok := v.(string); ok {
				rendered[k] = RenderTemplate(s, evt, snapshot)
			} else {
				rendered[k] = v
			}
		}
		if err := x.mutator.ApplyUpdate(ctx, entityType, entityID, rendered); err != nil {
			return err
		}
		markAffected(affected, entityType, entityID)
		return nil

	case models.ActionCreateEntity:
		kind := paramString(act, "entity_type")
		if kind == "" {
			return fmt.Errorf("entity_type param required")
		}
		fields, _ := act.Params["fields"].(map[string]interface{})
		rendered := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			if s, ok := v.(string); ok {
				rendered[k] = RenderTemplate(s, evt, snapshot)
			} else {
				rendered[k] = v
			}
		}
		if _, ok := rendered["project_id"]; !ok {
			rendered["project_id"] = evt.ProjectID
		}
		id, err := x.mutator.CreateEntity(ctx, kind, rendered)
		if err != nil {
			return err
		}
		markAffected(affected, kind, id)
		return nil

	case models.ActionAssignUser:
		userID := paramString(act, "user_id")
		if userID == "" {
			return fmt.Errorf("user_id param required")
		}
		if err := x.mutator.ApplyUpdate(ctx, entityType, entityID, map[string]interface{}{"assignee_id": userID}); err != nil {
			return err
		}
		markAffected(affected, entityType, entityID)
		return nil

	case models.ActionSetDueDate:
		var due time.Time
		if abs := paramString(act, "date"); abs != "" {
			parsed, err := time.Parse(time.RFC3339, abs)
			if err != nil {
				return fmt.Errorf("invalid date param: %w", err)
			}
			due = parsed
		} else if offset, ok := toFloat(act.Params["offset_days"]); ok {
			due = time.Now().AddDate(0, 0, int(offset))
		} else {
			return fmt.Errorf("date or offset_days param required")
		}
		if err := x.mutator.ApplyUpdate(ctx, entityType, entityID, map[string]interface{}{"due_date": due}); err != nil {
			return err
		}
		markAffected(affected, entityType, entityID)
		return nil

	case models.ActionAddLabel, models.ActionRemoveLabel:
		label := paramString(act, "label")
		if label == "" {
			return fmt.Errorf("label param required")
		}
		labels := editLabels(labelsCSV(snapshot["labels"]), label, act.Type == models.ActionAddLabel)
		if err := x.mutator.ApplyUpdate(ctx, entityType, entityID, map[string]interface{}{"labels": labels}); err != nil {
			return err
		}
		snapshot["labels"] = labels // later actions observe the change
		markAffected(affected, entityType, entityID)
		return nil

	case models.ActionSendNotification:
		userIDs := renderAll(paramStrings(act, "user_ids"), evt, snapshot)
		if len(userIDs) == 0 {
			return fmt.Errorf("user_ids param required")
		}
		title := RenderTemplate(paramString(act, "title"), evt, snapshot)
		message := RenderTemplate(paramString(act, "message"), evt, snapshot)
		return x.notifier.Notify(ctx, userIDs, title, message)

	case models.ActionSendEmail:
		recipients := renderAll(paramStrings(act, "recipients"), evt, snapshot)
		if len(recipients) == 0 {
			return fmt.Errorf("recipients param required")
		}
		subject := RenderTemplate(paramString(act, "subject"), evt, snapshot)
		body := RenderTemplate(paramString(act, "body"), evt, snapshot)
		return x.mailer.SendEmail(ctx, recipients, subject, body)

	case models.ActionMoveStatus:
		status := paramString(act, "status")
		if status == "" {
			return fmt.Errorf("status param required")
		}
		if err := x.mutator.MoveEntity(ctx, entityType, entityID, status); err != nil {
			return err
		}
		snapshot["status"] = status
		markAffected(affected, entityType, entityID)
		return nil

	case models.ActionArchiveEntity:
		if err := x.mutator.ArchiveEntity(ctx, entityType, entityID); err != nil {
			return err
		}
		markAffected(affected, entityType, entityID)
		return nil

	case models.ActionCallWebhook:
		url := paramString(act, "url")
		if url == "" {
			return fmt.Errorf("url param required")
		}
		headers := map[string]string{}
		if h, ok := act.Params["headers"].(map[string]interface{}); ok {
			for k, v := range h {
				headers[k] = stringify(v)
			}
		}
		body := RenderTemplate(paramString(act, "body"), evt, snapshot)
		status, err := x.webhooks.Call(ctx, url, strings.ToUpper(paramString(act, "method")), headers, body)
		if err != nil {
			return fmt.Errorf("webhook call: %w (status %d)", err, status)
		}
		return nil

	case models.ActionCustomScript:
		script := paramString(act, "script")
		if script == "" {
			return fmt.Errorf("script param required")
		}
		return x.scripts.Run(ctx, script, map[string]interface{}{
			"event":    evt,
			"snapshot": map[string]interface{}(snapshot),
		})

	default:
		return fmt.Errorf("unsupported action type: %s", act.Type)
	}
}

// finish writes the terminal record in one update so a crash cannot
// leave a half-written terminal state.
func (x *ActionExecutor) finish(ctx context.Context, execution *models.RuleExecution, status string, started time.Time, results []models.ActionResult, errMsg string) (*models.RuleExecution, error) {
	now := time.Now()
	execution.Status = status
	execution.CompletedAt = &now
	execution.ExecutionTimeMs = now.Sub(started).Milliseconds()
	execution.ErrorMessage = errMsg
	if results != nil {
		execution.ActionResults = mustJSON(results)
	}

	updates := map[string]interface{}{
		"status":            status,
		"completed_at":      now,
		"execution_time_ms": execution.ExecutionTimeMs,
		"actions_executed":  execution.ActionsExecuted,
		"actions_succeeded": execution.ActionsSucceeded,
		"actions_failed":    execution.ActionsFailed,
		"action_results":    execution.ActionResults,
		"affected_entities": execution.AffectedEntities,
		"error_message":     execution.ErrorMessage,
	}
	if err := x.db.WithContext(ctx).Model(&models.RuleExecution{}).
		Where("id = ?", execution.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("finish execution: %w", err)
	}

	metrics.IncExecution(status)
	x.publish(execution)
	return execution, nil
}

func (x *ActionExecutor) ruleDeactivated(ctx context.Context, ruleID string) bool {
	var active bool
	row := x.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", ruleID).Select("is_active").Row()
	if err := row.Scan(&active); err != nil {
		// deleted rule counts as deactivated
		return true
	}
	return !active
}

func (x *ActionExecutor) lockFor(ruleID string) *sync.Mutex {
	mu, _ := x.ruleLocks.LoadOrStore(ruleID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (x *ActionExecutor) publish(execution *models.RuleExecution) {
	if x.hub == nil {
		return
	}
	x.hub.Broadcast(StreamMessage{
		Type: "execution",
		Data: map[string]interface{}{
			"id":      execution.ID,
			"rule_id": execution.RuleID,
			"status":  execution.Status,
		},
		Timestamp: time.Now(),
	})
}

func targetEntity(act models.Action, evt Event) (string, string) {
	entityType := paramString(act, "entity_type")
	if entityType == "" {
		entityType = evt.EntityType
	}
	entityID := paramString(act, "entity_id")
	if entityID == "" {
		entityID = evt.EntityID
	}
	return entityType, entityID
}

func paramString(act models.Action, key string) string {
	if v, ok := act.Params[key]; ok && v != nil {
		return stringify(v)
	}
	return ""
}

func paramStrings(act models.Action, key string) []string {
	switch v := act.Params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringify(item))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// renderAll substitutes placeholders per entry and drops entries that
// render empty (an unset assignee, for example).
func renderAll(values []string, evt Event, snapshot EntitySnapshot) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if rendered := RenderTemplate(v, evt, snapshot); rendered != "" {
			out = append(out, rendered)
		}
	}
	return out
}

// labelsCSV normalizes the label field to the stored CSV form. Event
// payloads may carry labels as a JSON array rather than a string.
func labelsCSV(v interface{}) string {
	switch labels := v.(type) {
	case []string:
		return strings.Join(labels, ",")
	case []interface{}:
		parts := make([]string, 0, len(labels))
		for _, l := range labels {
			parts = append(parts, stringify(l))
		}
		return strings.Join(parts, ",")
	default:
		return stringify(v)
	}
}

func editLabels(csv, label string, add bool) string {
	var labels []string
	for _, l := range strings.Split(csv, ",") {
		if l = strings.TrimSpace(l); l != "" && l != label {
			labels = append(labels, l)
		}
	}
	if add {
		labels = append(labels, label)
	}
	return strings.Join(labels, ",")
}

func markAffected(affected map[string][]string, entityType, entityID string) {
	if entityType == "" || entityID == "" {
		return
	}
	for _, id := range affected[entityType] {
		if id == entityID {
			return
		}
	}
	affected[entityType] = append(affected[entityType], entityID)
}

func mustJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}

func decodeJSON(data datatypes.JSON, out interface{}) error {
	return json.Unmarshal(data, out)
}
