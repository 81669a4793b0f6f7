package services

import (
	"context"
	"fmt"
	"time"

	"planhub/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormMutator 基于数据库的实体变更协作方
type GormMutator struct {
	db *gorm.DB
}

func NewGormMutator(db *gorm.DB) *GormMutator { return &GormMutator{db: db} }

func entityModel(entityType string) (interface{}, error) {
	switch entityType {
	case "task":
		return &models.Task{}, nil
	case "milestone":
		return &models.Milestone{}, nil
	case "project":
		return &models.Project{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type: %s", entityType)
	}
}

func (m *GormMutator) ApplyUpdate(ctx context.Context, entityType, entityID string, fields map[string]interface{}) error {
	model, err := entityModel(entityType)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}
	result := m.db.WithContext(ctx).Model(model).Where("id = ?", entityID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %s not found", entityType, entityID)
	}
	m.logActivity(ctx, entityType, entityID, "updated", fmt.Sprintf("fields: %v", keysOf(fields)))
	return nil
}

func (m *GormMutator) CreateEntity(ctx context.Context, entityType string, fields map[string]interface{}) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	switch entityType {
	case "task":
		task := &models.Task{
			ID:        id,
			Title:     stringify(fields["title"]),
			ProjectID: stringify(fields["project_id"]),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if v, ok := fields["description"]; ok {
			task.Description = stringify(v)
		}
		if v, ok := fields["status"]; ok {
			task.Status = stringify(v)
		} else {
			task.Status = "todo"
		}
		if v, ok := fields["priority"]; ok {
			task.Priority = stringify(v)
		} else {
			task.Priority = "medium"
		}
		if v, ok := fields["assignee_id"]; ok {
			assignee := stringify(v)
			task.AssigneeID = &assignee
		}
		if v, ok := fields["labels"]; ok {
			task.Labels = stringify(v)
		}
		if err := m.db.WithContext(ctx).Create(task).Error; err != nil {
			return "", err
		}
	case "milestone":
		ms := &models.Milestone{
			ID:        id,
			Title:     stringify(fields["title"]),
			ProjectID: stringify(fields["project_id"]),
			Status:    "open",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.db.WithContext(ctx).Create(ms).Error; err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("cannot create entity type: %s", entityType)
	}
	m.logActivity(ctx, entityType, id, "created", "")
	return id, nil
}

func (m *GormMutator) MoveEntity(ctx context.Context, entityType, entityID, targetStatus string) error {
	model, err := entityModel(entityType)
	if err != nil {
		return err
	}
	result := m.db.WithContext(ctx).Model(model).Where("id = ?", entityID).
		Updates(map[string]interface{}{"status": targetStatus, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %s not found", entityType, entityID)
	}
	m.logActivity(ctx, entityType, entityID, "moved", "to "+targetStatus)
	return nil
}

func (m *GormMutator) ArchiveEntity(ctx context.Context, entityType, entityID string) error {
	var result *gorm.DB
	switch entityType {
	case "task":
		result = m.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", entityID).
			Updates(map[string]interface{}{"archived": true, "updated_at": time.Now()})
	case "project":
		result = m.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", entityID).
			Updates(map[string]interface{}{"status": "archived", "updated_at": time.Now()})
	default:
		return fmt.Errorf("cannot archive entity type: %s", entityType)
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %s not found", entityType, entityID)
	}
	m.logActivity(ctx, entityType, entityID, "archived", "")
	return nil
}

func (m *GormMutator) logActivity(ctx context.Context, entityType, entityID, action, detail string) {
	// 审计流水失败不阻塞主流程
	_ = m.db.WithContext(ctx).Create(&models.ActivityLog{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Detail:     detail,
		CreatedAt:  time.Now(),
	}).Error
}

func keysOf(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
