package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"planhub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TriggerMatcher selects the active rules interested in an event.
type TriggerMatcher struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTriggerMatcher(db *gorm.DB, logger *logrus.Logger) *TriggerMatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &TriggerMatcher{db: db, logger: logger}
}

var priorityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// Match returns the rules whose trigger accepts the event, ordered by
// rule priority (high, medium, low) with ties broken by creation order.
// Inactive rules are never considered. Malformed rule data is logged
// and skipped; nothing here panics past this boundary.
func (m *TriggerMatcher) Match(ctx context.Context, evt Event) ([]models.AutomationRule, error) {
	query := m.db.WithContext(ctx).Where("is_active = ?", true)
	if evt.ProjectID != "" {
		query = query.Where("project_id = ?", evt.ProjectID)
	}
	var rules []models.AutomationRule
	if err := query.Find(&rules).Error; err != nil {
		return nil, err
	}

	matched := make([]models.AutomationRule, 0, len(rules))
	for _, rule := range rules {
		trig, err := rule.DecodeTrigger()
		if err != nil {
			m.logger.Warnf("automation: skipping rule %s: %v", rule.ID, err)
			continue
		}
		if trig.Kind != evt.Kind {
			continue
		}
		if m.matchTrigger(rule, trig, evt) {
			matched = append(matched, rule)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		pi, pj := priorityRank[matched[i].Priority], priorityRank[matched[j].Priority]
		if pi != pj {
			return pi < pj
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (m *TriggerMatcher) matchTrigger(rule models.AutomationRule, trig models.Trigger, evt Event) bool {
	switch trig.Kind {
	case models.TriggerSchedule:
		return m.matchSchedule(rule, evt)
	case models.TriggerWebhook:
		return m.matchWebhook(rule, trig, evt)
	case models.TriggerDueSoon:
		if !matchEntityFilters(trig, evt) {
			return false
		}
		days, ok := toFloat(evt.Payload["days_until_due"])
		if !ok {
			return false
		}
		return int(days) <= trig.DaysBefore
	default:
		// entity_created/updated/moved, overdue, milestone_reached,
		// project_updated share the plain filter set
		return matchEntityFilters(trig, evt)
	}
}

// matchSchedule accepts the synthetic tick event fired for this rule
// once its next execution time has arrived.
func (m *TriggerMatcher) matchSchedule(rule models.AutomationRule, evt Event) bool {
	if ruleID, _ := evt.Payload["rule_id"].(string); ruleID != rule.ID {
		return false
	}
	if rule.NextExecutionAt == nil {
		return false
	}
	return !rule.NextExecutionAt.After(evt.OccurredAt)
}

// matchWebhook requires a valid HMAC signature over the raw inbound
// body. Verification failure is logged and treated as no-match.
func (m *TriggerMatcher) matchWebhook(rule models.AutomationRule, trig models.Trigger, evt Event) bool {
	if ruleID, _ := evt.Payload["rule_id"].(string); ruleID != rule.ID {
		return false
	}
	if trig.Webhook == nil || trig.Webhook.Secret == "" {
		m.logger.Warnf("automation: rule %s has webhook trigger without a secret", rule.ID)
		return false
	}
	body, _ := evt.Payload["raw_body"].(string)
	signature, _ := evt.Payload["signature"].(string)
	if !VerifyWebhookSignature(trig.Webhook.Secret, []byte(body), signature) {
		m.logger.Warnf("automation: rule %s webhook signature mismatch", rule.ID)
		return false
	}
	return true
}

// matchEntityFilters applies the trigger's declared sub-filters as an
// implicit AND; an empty filter accepts any value.
func matchEntityFilters(trig models.Trigger, evt Event) bool {
	if trig.EntityType != "" && trig.EntityType != evt.EntityType {
		return false
	}
	if !matchList(trig.Statuses, payloadString(evt, "status")) {
		return false
	}
	if !matchList(trig.Priorities, payloadString(evt, "priority")) {
		return false
	}
	if !matchList(trig.Assignees, payloadString(evt, "assignee_id")) {
		return false
	}
	return matchLabels(trig.Labels, evt)
}

// matchList: membership when the filter is non-empty.
func matchList(filter []string, value string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == value {
			return true
		}
	}
	return false
}

// matchLabels requires every declared label to be present on the entity.
func matchLabels(filter []string, evt Event) bool {
	if len(filter) == 0 {
		return true
	}
	have := map[string]bool{}
	switch labels := evt.Payload["labels"].(type) {
	case string:
		for _, l := range strings.Split(labels, ",") {
			have[strings.TrimSpace(l)] = true
		}
	case []string:
		for _, l := range labels {
			have[l] = true
		}
	case []interface{}:
		for _, l := range labels {
			have[stringify(l)] = true
		}
	}
	for _, want := range filter {
		if !have[want] {
			return false
		}
	}
	return true
}

func payloadString(evt Event, key string) string {
	if v, ok := evt.Payload[key]; ok && v != nil {
		return stringify(v)
	}
	return ""
}

// VerifyWebhookSignature checks a GitHub-style "sha256=<hex>" HMAC of
// the raw body.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	want, err := hex.DecodeString(signature)
	if err != nil || len(want) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(want, mac.Sum(nil))
}
