package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"planhub/internal/models"
)

// EvaluateConditions folds a rule's top-level condition list left to
// right. Each node joins the accumulated result with its Logic ("and"
// when unset), per the configured default of an implicit AND chain. An
// empty list is vacuously true. Evaluation is pure and total: a leaf
// that cannot resolve yields false, never an error.
func EvaluateConditions(conds []models.Condition, evt Event, snapshot EntitySnapshot) bool {
	if len(conds) == 0 {
		return true
	}
	result := evaluateNode(conds[0], evt, snapshot)
	for _, c := range conds[1:] {
		if c.Logic == models.LogicOr {
			if result {
				continue // short-circuit
			}
			result = evaluateNode(c, evt, snapshot)
		} else {
			if !result {
				continue // short-circuit
			}
			result = evaluateNode(c, evt, snapshot)
		}
	}
	return result
}

func evaluateNode(c models.Condition, evt Event, snapshot EntitySnapshot) bool {
	switch c.Kind {
	case models.ConditionGroup:
		return evaluateGroup(c, evt, snapshot)
	case models.ConditionUserRole:
		return evaluateUserRole(c, evt)
	case models.ConditionTimeWindow:
		return evaluateTimeWindow(c, evt, snapshot)
	case models.ConditionField, "":
		return evaluateField(c, evt, snapshot)
	default:
		return false
	}
}

func evaluateGroup(c models.Condition, evt Event, snapshot EntitySnapshot) bool {
	if c.Op == models.LogicOr {
		for _, child := range c.Children {
			if evaluateNode(child, evt, snapshot) {
				return true
			}
		}
		return false
	}
	// AND is the default combinator; empty groups are vacuously true.
	for _, child := range c.Children {
		if !evaluateNode(child, evt, snapshot) {
			return false
		}
	}
	return true
}

func evaluateUserRole(c models.Condition, evt Event) bool {
	if evt.ActorRole == "" {
		return false
	}
	for _, role := range c.Roles {
		if role == evt.ActorRole {
			return true
		}
	}
	return false
}

// evaluateTimeWindow reports whether the named timestamp field lies
// within WithinHours of the event's occurrence time. Using OccurredAt
// rather than the wall clock keeps evaluation deterministic for replay.
func evaluateTimeWindow(c models.Condition, evt Event, snapshot EntitySnapshot) bool {
	val, ok := resolveField(c.Field, evt, snapshot)
	if !ok {
		return false
	}
	ts, ok := toTime(val)
	if !ok {
		return false
	}
	window := time.Duration(c.WithinHours * float64(time.Hour))
	if window < 0 {
		window = -window
	}
	diff := evt.OccurredAt.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

func evaluateField(c models.Condition, evt Event, snapshot EntitySnapshot) bool {
	val, present := resolveField(c.Field, evt, snapshot)

	switch c.Op {
	case models.OpExists:
		return present
	case models.OpMissing:
		return !present
	}
	if !present {
		return false
	}

	switch c.Op {
	case models.OpEquals:
		return stringify(val) == stringify(c.Value)
	case models.OpNotEquals:
		return stringify(val) != stringify(c.Value)
	case models.OpContains:
		return containsValue(val, c.Value)
	case models.OpNotContains:
		return !containsValue(val, c.Value)
	case models.OpGreaterThan:
		a, aok := toFloat(val)
		b, bok := toFloat(c.Value)
		return aok && bok && a > b
	case models.OpLessThan:
		a, aok := toFloat(val)
		b, bok := toFloat(c.Value)
		return aok && bok && a < b
	default:
		return false
	}
}

// resolveField looks the field up in the entity snapshot first, then in
// event metadata and payload. The second return is the presence flag; an
// unresolved field is the "missing" sentinel, not an error. A present
// key holding nil still counts as missing.
func resolveField(name string, evt Event, snapshot EntitySnapshot) (interface{}, bool) {
	if name == "" {
		return nil, false
	}
	if v, ok := snapshot[name]; ok && v != nil {
		return v, true
	}
	switch name {
	case "event.kind":
		return evt.Kind, true
	case "event.entity_type":
		return evt.EntityType, true
	case "event.entity_id":
		return evt.EntityID, true
	case "event.project_id":
		return evt.ProjectID, true
	case "event.actor_id":
		if evt.ActorID == "" {
			return nil, false
		}
		return evt.ActorID, true
	}
	if v, ok := evt.Payload[name]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// containsValue: substring for strings, membership for sequences,
// false for anything else.
func containsValue(haystack, needle interface{}) bool {
	want := stringify(needle)
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, want)
	case []string:
		for _, item := range h {
			if item == want {
				return true
			}
		}
		return false
	case []interface{}:
		for _, item := range h {
			if stringify(item) == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// avoid "1e+06" style output for round JSON numbers
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
		return time.Time{}, false
	case float64:
		return time.Unix(int64(t), 0), true
	case int64:
		return time.Unix(t, 0), true
	default:
		return time.Time{}, false
	}
}
