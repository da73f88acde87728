package user

import (
	"github.com/google/uuid"
)

// Info is the read-only view of an identity owned by the profile subsystem.
type Info struct {
	ID          uuid.UUID   `json:"id"`
	DisplayName string      `json:"display_name"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
	CompanyIDs  []uuid.UUID `json:"company_ids,omitempty"`
}

// User maps the users table of the profile subsystem. Never written here.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayName string
	AvatarURL   string
}

// CompanyUser maps the company_users table of the profile subsystem.
type CompanyUser struct {
	CompanyID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	IsAdmin   bool
}

func (User) TableName() string {
	return "users"
}

func (CompanyUser) TableName() string {
	return "company_users"
}
