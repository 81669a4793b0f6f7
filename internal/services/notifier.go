package services

import (
	"context"
	"time"

	"planhub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DBNotifier persists notifications and, when a hub is attached,
// broadcasts them to connected clients.
type DBNotifier struct {
	db     *gorm.DB
	hub    *StreamHub
	logger *logrus.Logger
}

func NewDBNotifier(db *gorm.DB, logger *logrus.Logger) *DBNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &DBNotifier{db: db, logger: logger}
}

// SetHub 注入可选的实时推送 hub
func (n *DBNotifier) SetHub(hub *StreamHub) { n.hub = hub }

func (n *DBNotifier) Notify(ctx context.Context, userIDs []string, title, message string) error {
	now := time.Now()
	for _, userID := range userIDs {
		notif := &models.Notification{
			UserID:    userID,
			Title:     title,
			Message:   message,
			Source:    "automation",
			CreatedAt: now,
		}
		if err := n.db.WithContext(ctx).Create(notif).Error; err != nil {
			return err
		}
	}
	if n.hub != nil {
		n.hub.Broadcast(StreamMessage{
			Type:      "notification",
			Data:      map[string]interface{}{"title": title, "message": message, "user_ids": userIDs},
			Timestamp: now,
		})
	}
	return nil
}

// LogMailer 无 SMTP 环境下的邮件协作方，仅记录日志
type LogMailer struct {
	logger *logrus.Logger
}

func NewLogMailer(logger *logrus.Logger) *LogMailer {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendEmail(ctx context.Context, recipients []string, subject, body string) error {
	m.logger.WithFields(logrus.Fields{
		"recipients": recipients,
		"subject":    subject,
	}).Info("automation email (log transport)")
	return nil
}
