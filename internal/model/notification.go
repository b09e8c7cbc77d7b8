package model

// swagger:model Notification
type Notification struct {
	UUIDBase
	CompanyID string `gorm:"index;type:varchar(36);not null" json:"companyId"`
	Title     string `gorm:"size:255;not null" json:"title"`
	Subtitle  string `gorm:"size:255" json:"subtitle,omitempty"`
	Content   string `gorm:"type:text" json:"content"`
	Path      string `gorm:"size:255" json:"path"`
	IsRead    bool   `gorm:"default:false" json:"isRead"`
}

func (Notification) TableName() string {
	return "notifications"
}
