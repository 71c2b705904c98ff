package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"type:varchar(100);not null" json:"name"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Stock       int             `gorm:"not null" json:"stock"`
	Category    string          `gorm:"type:varchar(50);not null;index" json:"category"`
	Image       *string         `gorm:"type:varchar(255)" json:"image"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CreatedBy   *uint           `json:"created_by"`
	UpdatedBy   *uint           `json:"updated_by"`
}

func (Product) TableName() string {
	return "products"
}
