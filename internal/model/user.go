package model

type UserRole string

const (
	Admin   UserRole = "admin"
	Creator UserRole = "creator"
	Student UserRole = "student"
)

// swagger:model User
type User struct {
	UUIDBase
	Name      string   `gorm:"size:100;not null" json:"name"`
	Email     string   `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Password  string   `gorm:"size:255;not null" json:"-"`
	Role      UserRole `gorm:"size:20;not null;default:'creator'" json:"role"`
	CompanyID string   `gorm:"index;type:varchar(36)" json:"companyId"`
}

func (User) TableName() string {
	return "users"
}

// swagger:model Company
type Company struct {
	UUIDBase
	Name string `gorm:"size:255;not null" json:"name"`
}

func (Company) TableName() string {
	return "companies"
}
