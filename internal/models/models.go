package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型
type User struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"default:'member'" json:"role"` // member, manager, admin
	Status    string         `gorm:"default:'active'" json:"status"` // active, inactive
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 项目模型
type Project struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	OwnerID     string         `gorm:"index;size:36" json:"owner_id"`
	Status      string         `gorm:"default:'active'" json:"status"` // active, paused, archived
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联关系
	Owner      User        `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Tasks      []Task      `gorm:"foreignKey:ProjectID" json:"tasks,omitempty"`
	Milestones []Milestone `gorm:"foreignKey:ProjectID" json:"milestones,omitempty"`
}

// 任务模型
type Task struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	ProjectID   string         `gorm:"index;size:36" json:"project_id"`
	MilestoneID *string        `gorm:"index;size:36" json:"milestone_id"`
	AssigneeID  *string        `gorm:"index;size:36" json:"assignee_id"`
	Status      string         `gorm:"default:'todo'" json:"status"`     // todo, in_progress, review, done
	Priority    string         `gorm:"default:'medium'" json:"priority"` // low, medium, high, urgent
	Labels      string         `json:"labels"` // 标签，逗号分隔
	DueDate     *time.Time     `json:"due_date"`
	Archived    bool           `gorm:"default:false" json:"archived"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Project  Project   `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Assignee *User     `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Milestone *Milestone `gorm:"foreignKey:MilestoneID" json:"milestone,omitempty"`
}

// 里程碑模型
type Milestone struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Title     string         `gorm:"not null" json:"title"`
	ProjectID string         `gorm:"index;size:36" json:"project_id"`
	Status    string         `gorm:"default:'open'" json:"status"` // open, reached, missed
	DueDate   *time.Time     `json:"due_date"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Project Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Tasks   []Task  `gorm:"foreignKey:MilestoneID" json:"tasks,omitempty"`
}

// 站内通知
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index;size:36" json:"user_id"`
	Title     string    `gorm:"not null" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Read      bool      `gorm:"default:false" json:"read"`
	Source    string    `gorm:"default:'automation'" json:"source"` // automation, system
	CreatedAt time.Time `json:"created_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// 实体变更流水，供审计与事件回放
type ActivityLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EntityType string    `gorm:"index" json:"entity_type"` // task, milestone, project
	EntityID   string    `gorm:"index;size:36" json:"entity_id"`
	Action     string    `json:"action"` // updated, moved, created, archived
	Detail     string    `gorm:"type:text" json:"detail"`
	ActorID    string    `gorm:"size:36" json:"actor_id"` // empty for engine-originated changes
	CreatedAt  time.Time `json:"created_at"`
}
