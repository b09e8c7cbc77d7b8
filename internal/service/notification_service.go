package service

import (
	"context"
	"courseforge_backend/internal/model"
	"courseforge_backend/internal/repository"
	"courseforge_backend/pkg/logger"

	"go.uber.org/zap"
)

// NotificationInput 站内通知的投递参数
type NotificationInput struct {
	CompanyID string
	Title     string
	Subtitle  string
	Content   string
	Path      string
}

// NotificationService 站内通知的落库与查询
type NotificationService struct {
	repo *repository.NotificationRepository
}

func NewNotificationService(repo *repository.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) Notify(ctx context.Context, in NotificationInput) error {
	n := &model.Notification{
		CompanyID: in.CompanyID,
		Title:     in.Title,
		Subtitle:  in.Subtitle,
		Content:   in.Content,
		Path:      in.Path,
	}
	return s.repo.Create(n)
}

// NotifyQuietly 通知只是附带动作，失败只记日志，绝不影响主流程
func (s *NotificationService) NotifyQuietly(ctx context.Context, in NotificationInput) {
	if err := s.Notify(ctx, in); err != nil {
		logger.Log.Warn("通知发送失败，已忽略",
			zap.String("company_id", in.CompanyID),
			zap.String("title", in.Title),
			zap.Error(err))
	}
}

func (s *NotificationService) List(companyID string, page, limit int) ([]model.Notification, int64, error) {
	return s.repo.ListByCompany(companyID, page, limit)
}

func (s *NotificationService) MarkRead(companyID, id string) error {
	return s.repo.MarkRead(companyID, id)
}
