package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCancelled, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusShipped   ShipmentStatus = "shipped"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
)

// GuestCustomerID marks orders placed without a verified identity.
const GuestCustomerID uint = 0

// Order keeps CustomerID as a plain value: users live in another service and
// there is no foreign key to them.
type Order struct {
	ID         uint            `gorm:"primaryKey;autoIncrement"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Status     OrderStatus     `gorm:"column:order_status;type:varchar(20);not null;index"`
	CustomerID uint            `gorm:"not null;index"`
	Name       *string         `gorm:"type:varchar(100)"`
	Email      *string         `gorm:"type:varchar(254)"`
	Phone      *string         `gorm:"type:varchar(30)"`
	City       *string         `gorm:"type:varchar(100)"`
	Postcode   *string         `gorm:"type:varchar(20)"`
	CreatedAt  time.Time       `gorm:"index"`

	Lines     []OrderLine `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments  []Payment   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Shipments []Shipment  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderLine captures the unit price at order time so later product price
// changes never touch historical orders.
type OrderLine struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	OrderID   uint            `gorm:"not null;index"`
	ProductID uint            `gorm:"not null;index"`
	Product   Product         `gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(10,2);not null"`
}

func (OrderLine) TableName() string {
	return "order_lines"
}

type Payment struct {
	ID            uint          `gorm:"primaryKey;autoIncrement"`
	OrderID       uint          `gorm:"not null;index"`
	CustomerID    uint          `gorm:"not null"`
	PaymentMethod string        `gorm:"type:varchar(30);not null"`
	PaidAt        *time.Time
	Status        PaymentStatus `gorm:"column:payment_status;type:varchar(20);not null"`
}

func (Payment) TableName() string {
	return "payments"
}

type Shipment struct {
	ID             uint           `gorm:"primaryKey;autoIncrement"`
	OrderID        uint           `gorm:"not null;index"`
	ShippingMethod string         `gorm:"type:varchar(50);not null"`
	ShippedAt      *time.Time
	Status         ShipmentStatus `gorm:"column:shipping_status;type:varchar(20);not null"`
	Address        map[string]any `gorm:"column:shipping_address;type:text;serializer:json"`
}

func (Shipment) TableName() string {
	return "shipments"
}

// AllModels lists the product service tables in migration order.
func AllModels() []any {
	return []any{&Product{}, &Order{}, &OrderLine{}, &Payment{}, &Shipment{}}
}
