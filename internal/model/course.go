package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// 课程生成状态机：generating -> complete，单向，不回退。
// pending 为保留值，当前流程不会写入。
const (
	GenerationStatusPending    = "pending"
	GenerationStatusGenerating = "generating"
	GenerationStatusComplete   = "complete"
)

const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

// swagger:model Course
type Course struct {
	UUIDBase
	CompanyID        string  `gorm:"index;type:varchar(36)" json:"companyId"`
	Title            string  `gorm:"size:255;not null" json:"title"`
	Description      string  `gorm:"type:text" json:"description"`
	GenerationStatus string  `gorm:"size:20;not null;default:'complete';index" json:"generationStatus"`
	IsPublished      bool    `gorm:"default:false" json:"isPublished"`
	Price            float64 `gorm:"default:0" json:"price"`

	Modules []CourseModule `gorm:"foreignKey:CourseID" json:"modules,omitempty"`
}

func (Course) TableName() string {
	return "courses"
}

// swagger:model CourseModule
type CourseModule struct {
	UUIDBase
	CourseID   string `gorm:"index;type:varchar(36);not null" json:"courseId"`
	Title      string `gorm:"size:255;not null" json:"title"`
	OrderIndex int    `gorm:"not null;default:0" json:"orderIndex"` // 0 起始，课程内唯一

	Lessons []Lesson `gorm:"foreignKey:ModuleID" json:"lessons,omitempty"`
}

func (CourseModule) TableName() string {
	return "course_modules"
}

// swagger:model Lesson
type Lesson struct {
	UUIDBase
	ModuleID   string    `gorm:"index;type:varchar(36);not null" json:"moduleId"`
	Title      string    `gorm:"size:255;not null" json:"title"`
	Content    string    `gorm:"type:longtext" json:"content"` // 纯文本，空行分段
	OrderIndex int       `gorm:"not null;default:0" json:"orderIndex"`
	Media      MediaList `gorm:"type:json" json:"media"`
}

func (Lesson) TableName() string {
	return "lessons"
}

// MediaItem 课时内嵌媒体。placement 表示插入到第 N 段之后（从 1 起），
// prompt 仅对流水线生成的图片保留，便于之后重新生成。
type MediaItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Alt       string `json:"alt,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Placement int    `json:"placement"`
	Prompt    string `json:"prompt,omitempty"`
}

// MediaList 以 JSON 列整体存储，按顺序追加
type MediaList []MediaItem

func (m MediaList) Value() (driver.Value, error) {
	if m == nil {
		m = MediaList{}
	}
	return json.Marshal(m)
}

func (m *MediaList) Scan(value interface{}) error {
	if value == nil {
		*m = MediaList{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported media column type: %T", value)
	}

	if len(data) == 0 {
		*m = MediaList{}
		return nil
	}
	return json.Unmarshal(data, m)
}
