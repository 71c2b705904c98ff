package models

import (
	"time"
)

// User is owned by the user service. Other services keep only its ID.
type User struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username    string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"username"`
	FullName    string    `gorm:"type:varchar(30);not null" json:"fullname"`
	Email       string    `gorm:"type:varchar(254);uniqueIndex;not null" json:"email"`
	Password    string    `gorm:"type:varchar(100);not null" json:"-"`
	Address     *string   `gorm:"type:text" json:"address"`
	City        *string   `gorm:"type:varchar(50)" json:"city"`
	Tel         *string   `gorm:"type:varchar(20)" json:"tel"`
	IsStaff     bool      `gorm:"not null;default:false" json:"is_staff"`
	IsSuperuser bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// IsAdmin reports whether the user may call admin-only endpoints.
func (u *User) IsAdmin() bool {
	return u.IsStaff || u.IsSuperuser
}
