package services

import (
	"context"
	"sort"
	"time"

	"planhub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExecutionService 执行台账的查询与统计
type ExecutionService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewExecutionService(db *gorm.DB, logger *logrus.Logger) *ExecutionService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecutionService{db: db, logger: logger}
}

// ExecutionListRequest 执行记录列表请求
type ExecutionListRequest struct {
	RuleID    string `form:"rule_id"`
	ProjectID string `form:"project_id"`
	Status    string `form:"status"`
	From      string `form:"from"` // RFC3339
	To        string `form:"to"`
	Page      int    `form:"page,default=1"`
	PageSize  int    `form:"page_size,default=20"`
}

// ExecutionAnalytics 聚合统计结果
type ExecutionAnalytics struct {
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"by_status"`
	SuccessRate     float64          `json:"success_rate"`
	AvgExecutionMs  float64          `json:"avg_execution_ms"`
	PerDay          []DayCount       `json:"per_day"`
	PerHour         [24]int64        `json:"per_hour"`
	ActionTypeUsage map[string]int64 `json:"action_type_usage"`
	TopErrors       []ErrorCount     `json:"top_errors"`
}

type DayCount struct {
	Day   string `json:"day"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

type ErrorCount struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

func (s *ExecutionService) List(ctx context.Context, req *ExecutionListRequest) ([]models.RuleExecution, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.RuleExecution{})
	if req.RuleID != "" {
		query = query.Where("rule_id = ?", req.RuleID)
	}
	if req.ProjectID != "" {
		query = query.Joins("JOIN automation_rules ON automation_rules.id = rule_executions.rule_id").
			Where("automation_rules.project_id = ?", req.ProjectID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.From != "" {
		if from, err := time.Parse(time.RFC3339, req.From); err == nil {
			query = query.Where("started_at >= ?", from)
		}
	}
	if req.To != "" {
		if to, err := time.Parse(time.RFC3339, req.To); err == nil {
			query = query.Where("started_at <= ?", to)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	var executions []models.RuleExecution
	if err := query.Order("started_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&executions).Error; err != nil {
		return nil, 0, err
	}
	return executions, total, nil
}

func (s *ExecutionService) Get(ctx context.Context, id string) (*models.RuleExecution, error) {
	var execution models.RuleExecution
	if err := s.db.WithContext(ctx).First(&execution, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &execution, nil
}

// Aggregate computes analytics over the last `days` days, optionally
// scoped to a single rule. Histograms are folded in memory so the
// queries stay portable across drivers.
func (s *ExecutionService) Aggregate(ctx context.Context, ruleID string, days int) (*ExecutionAnalytics, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	query := s.db.WithContext(ctx).Model(&models.RuleExecution{}).
		Where("started_at >= ?", since)
	if ruleID != "" {
		query = query.Where("rule_id = ?", ruleID)
	}

	var executions []models.RuleExecution
	if err := query.Order("started_at ASC").Find(&executions).Error; err != nil {
		return nil, err
	}

	analytics := &ExecutionAnalytics{
		ByStatus:        make(map[string]int64),
		ActionTypeUsage: make(map[string]int64),
	}
	perDay := make(map[string]int64)
	errCounts := make(map[string]int64)
	var totalMs int64
	var timedCount int64

	for i := range executions {
		execution := &executions[i]
		analytics.Total++
		analytics.ByStatus[execution.Status]++
		perDay[execution.StartedAt.Format("2006-01-02")]++
		analytics.PerHour[execution.StartedAt.Hour()]++
		if execution.ExecutionTimeMs > 0 {
			totalMs += execution.ExecutionTimeMs
			timedCount++
		}
		if execution.ErrorMessage != "" {
			errCounts[execution.ErrorMessage]++
		}
		results, err := execution.DecodeActionResults()
		if err != nil {
			continue
		}
		for _, r := range results {
			analytics.ActionTypeUsage[r.Type]++
		}
	}

	if analytics.Total > 0 {
		analytics.SuccessRate = float64(analytics.ByStatus[models.ExecutionCompleted]) / float64(analytics.Total)
	}
	if timedCount > 0 {
		analytics.AvgExecutionMs = float64(totalMs) / float64(timedCount)
	}

	for day, count := range perDay {
		analytics.PerDay = append(analytics.PerDay, DayCount{Day: day, Count: count})
	}
	sort.Slice(analytics.PerDay, func(i, j int) bool {
		return analytics.PerDay[i].Day < analytics.PerDay[j].Day
	})

	for msg, count := range errCounts {
		analytics.TopErrors = append(analytics.TopErrors, ErrorCount{Message: msg, Count: count})
	}
	sort.Slice(analytics.TopErrors, func(i, j int) bool {
		if analytics.TopErrors[i].Count != analytics.TopErrors[j].Count {
			return analytics.TopErrors[i].Count > analytics.TopErrors[j].Count
		}
		return analytics.TopErrors[i].Message < analytics.TopErrors[j].Message
	})
	if len(analytics.TopErrors) > 5 {
		analytics.TopErrors = analytics.TopErrors[:5]
	}

	return analytics, nil
}
