package repository

import (
	"courseforge_backend/internal/model"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	DB *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{DB: db}
}

func (r *NotificationRepository) Create(n *model.Notification) error {
	return r.DB.Create(n).Error
}

func (r *NotificationRepository) ListByCompany(companyID string, page, limit int) ([]model.Notification, int64, error) {
	var list []model.Notification
	var total int64

	query := r.DB.Model(&model.Notification{}).Where("company_id = ?", companyID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

func (r *NotificationRepository) MarkRead(companyID, id string) error {
	return r.DB.Model(&model.Notification{}).
		Where("id = ? AND company_id = ?", id, companyID).
		Update("is_read", true).Error
}
