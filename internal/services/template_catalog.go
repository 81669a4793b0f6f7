package services

import (
	"planhub/internal/models"
)

// builtinTemplates 官方模板目录，启动时写入数据库
func builtinTemplates() []models.RuleTemplate {
	return []models.RuleTemplate{
		{
			ID:          "tpl-notify-high-priority",
			Name:        "Notify assignee on high priority task",
			Description: "Sends an in-app notification to the assignee whenever a high priority task is created.",
			Category:    "notifications",
			Trigger: mustJSON(models.Trigger{
				Kind:       models.TriggerEntityCreated,
				EntityType: "task",
				Priorities: []string{"high"},
			}),
			Conditions: mustJSON([]models.Condition{}),
			Actions: mustJSON([]models.Action{
				{
					Type: models.ActionSendNotification,
					Params: map[string]interface{}{
						"user_ids": []string{"{entity.assignee_id}"},
						"title":    "High priority task: {entity.title}",
						"message":  "A high priority task was created in your project.",
					},
				},
			}),
			Difficulty:    "beginner",
			EstimatedTime: "2 minutes",
			IsOfficial:    true,
			IsFeatured:    true,
		},
		{
			ID:          "tpl-overdue-escalation",
			Name:        "Escalate overdue tasks",
			Description: "Bumps priority to high and adds an overdue label when a task passes its due date.",
			Category:    "tasks",
			Trigger: mustJSON(models.Trigger{
				Kind:       models.TriggerOverdue,
				EntityType: "task",
			}),
			Conditions: mustJSON([]models.Condition{
				{
					Kind:  models.ConditionField,
					Field: "status",
					Op:    models.OpNotEquals,
					Value: "done",
				},
			}),
			Actions: mustJSON([]models.Action{
				{
					Type: models.ActionUpdateFields,
					Params: map[string]interface{}{
						"fields": map[string]interface{}{"priority": "high"},
					},
				},
				{
					Type:   models.ActionAddLabel,
					Params: map[string]interface{}{"label": "overdue"},
				},
			}),
			Difficulty:    "beginner",
			EstimatedTime: "2 minutes",
			IsOfficial:    true,
			IsFeatured:    true,
		},
		{
			ID:          "tpl-due-soon-reminder",
			Name:        "Due date reminder",
			Description: "Notifies the assignee two days before a task is due.",
			Category:    "scheduling",
			Trigger: mustJSON(models.Trigger{
				Kind:       models.TriggerDueSoon,
				EntityType: "task",
				DaysBefore: 2,
			}),
			Conditions: mustJSON([]models.Condition{
				{
					Kind:  models.ConditionField,
					Field: "assignee_id",
					Op:    models.OpExists,
				},
			}),
			Actions: mustJSON([]models.Action{
				{
					Type: models.ActionSendNotification,
					Params: map[string]interface{}{
						"user_ids": []string{"{entity.assignee_id}"},
						"title":    "Task due soon: {entity.title}",
						"message":  "This task is due in {entity.days_until_due} day(s).",
					},
				},
			}),
			Difficulty:    "beginner",
			EstimatedTime: "3 minutes",
			IsOfficial:    true,
		},
		{
			ID:          "tpl-done-archive",
			Name:        "Archive completed tasks weekly",
			Description: "Every Monday morning, archives tasks that were moved to done.",
			Category:    "scheduling",
			Trigger: mustJSON(models.Trigger{
				Kind: models.TriggerSchedule,
				Schedule: &models.ScheduleSpec{
					Frequency: "weekly",
					TimeOfDay: "08:00",
					Days:      []string{"mon"},
				},
			}),
			Conditions: mustJSON([]models.Condition{}),
			Actions: mustJSON([]models.Action{
				{
					Type: models.ActionCustomScript,
					Params: map[string]interface{}{
						"script": "archive_done_tasks",
					},
				},
			}),
			Difficulty:    "advanced",
			EstimatedTime: "10 minutes",
			IsOfficial:    true,
		},
		{
			ID:          "tpl-moved-to-review",
			Name:        "Request review on status change",
			Description: "Notifies the project lead and labels the task when it moves into review.",
			Category:    "tasks",
			Trigger: mustJSON(models.Trigger{
				Kind:       models.TriggerEntityMoved,
				EntityType: "task",
				Statuses:   []string{"review"},
			}),
			Conditions: mustJSON([]models.Condition{}),
			Actions: mustJSON([]models.Action{
				{
					Type:   models.ActionAddLabel,
					Params: map[string]interface{}{"label": "needs-review"},
				},
				{
					Type: models.ActionSendNotification,
					Params: map[string]interface{}{
						"user_ids": []string{"{event.actor_id}"},
						"title":    "Review requested: {entity.title}",
						"message":  "{entity.title} moved to review.",
					},
				},
			}),
			Difficulty:    "intermediate",
			EstimatedTime: "5 minutes",
			IsOfficial:    true,
		},
		{
			ID:          "tpl-webhook-sync",
			Name:        "Sync task updates to external system",
			Description: "Posts every task update to an external webhook endpoint.",
			Category:    "integrations",
			Trigger: mustJSON(models.Trigger{
				Kind:       models.TriggerEntityUpdated,
				EntityType: "task",
			}),
			Conditions: mustJSON([]models.Condition{}),
			Actions: mustJSON([]models.Action{
				{
					Type: models.ActionCallWebhook,
					Params: map[string]interface{}{
						"url":    "https://example.com/hooks/tasks",
						"method": "POST",
					},
					RetryCount:        2,
					RetryDelaySeconds: 5,
				},
			}),
			Difficulty:    "intermediate",
			EstimatedTime: "5 minutes",
			IsOfficial:    true,
		},
	}
}
