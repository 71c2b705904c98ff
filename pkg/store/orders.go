package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/storefront/pkg/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Contact is the denormalized shipping contact stored on the order row.
type Contact struct {
	Name     *string
	Email    *string
	Phone    *string
	City     *string
	Postcode *string
}

type NewOrderLine struct {
	ProductID uint
	Quantity  int
	UnitPrice decimal.Decimal
}

type NewOrder struct {
	CustomerID      uint
	Total           decimal.Decimal
	Contact         Contact
	Lines           []NewOrderLine
	PaymentMethod   string
	ShippingMethod  string
	ShippingAddress map[string]any
}

type OrderFilter struct {
	// CustomerID restricts the listing to one customer when set.
	CustomerID *uint
	Page       int
	PageSize   int
}

type OrderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// Create writes the order, its lines, one payment and one shipment in a
// single transaction. Each line's product must exist and have enough stock,
// which is decremented in the same transaction. Nothing is persisted when
// any step fails.
func (s *OrderStore) Create(ctx context.Context, req NewOrder) (*models.Order, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	for i, line := range req.Lines {
		if line.ProductID == 0 || line.Quantity <= 0 || line.UnitPrice.IsNegative() {
			return nil, &LineError{Index: i, ProductID: line.ProductID, Err: ErrInvalidOrder}
		}
	}

	order := models.Order{
		TotalPrice: req.Total,
		Status:     models.OrderStatusPending,
		CustomerID: req.CustomerID,
		Name:       req.Contact.Name,
		Email:      req.Contact.Email,
		Phone:      req.Contact.Phone,
		City:       req.Contact.City,
		Postcode:   req.Contact.Postcode,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for i, l := range req.Lines {
			if err := reserveStock(tx, l); err != nil {
				return &LineError{Index: i, ProductID: l.ProductID, Err: err}
			}
			line := models.OrderLine{
				OrderID:   order.ID,
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
			}
			if err := tx.Omit(clause.Associations).Create(&line).Error; err != nil {
				return fmt.Errorf("failed to create order line: %w", err)
			}
		}

		payment := models.Payment{
			OrderID:       order.ID,
			CustomerID:    req.CustomerID,
			PaymentMethod: req.PaymentMethod,
			Status:        models.PaymentStatusPending,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		shipment := models.Shipment{
			OrderID:        order.ID,
			ShippingMethod: req.ShippingMethod,
			Status:         models.ShipmentStatusPending,
			Address:        req.ShippingAddress,
		}
		if err := tx.Create(&shipment).Error; err != nil {
			return fmt.Errorf("failed to create shipment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, order.ID)
}

func reserveStock(tx *gorm.DB, line NewOrderLine) error {
	var product models.Product
	if err := tx.Select("id").First(&product, line.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownProduct
		}
		return fmt.Errorf("failed to load product: %w", err)
	}

	res := tx.Model(&models.Product{}).
		Where("id = ? AND stock >= ?", line.ProductID, line.Quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", line.Quantity))
	if res.Error != nil {
		return fmt.Errorf("failed to reserve stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := withChildren(s.db.WithContext(ctx)).First(&order, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// List returns orders newest first together with the unpaged total.
func (s *OrderStore) List(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	scoped := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&models.Order{})
		if filter.CustomerID != nil {
			query = query.Where("customer_id = ?", *filter.CustomerID)
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	orders := []models.Order{}
	err := withChildren(scoped()).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&orders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, id uint, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, status)
	}
	res := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Update("order_status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Same-value updates report zero rows on MySQL, so confirm existence.
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// Delete removes the order together with every row it owns.
func (s *OrderStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Select("id").First(&order, id).Error; err != nil {
			return notFound(err)
		}
		for _, child := range []any{&models.OrderLine{}, &models.Payment{}, &models.Shipment{}} {
			if err := tx.Where("order_id = ?", id).Delete(child).Error; err != nil {
				return fmt.Errorf("failed to delete order children: %w", err)
			}
		}
		if err := tx.Delete(&order).Error; err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		return nil
	})
}

func withChildren(db *gorm.DB) *gorm.DB {
	byID := func(db *gorm.DB) *gorm.DB { return db.Order("id") }
	return db.
		Preload("Lines", byID).
		Preload("Lines.Product").
		Preload("Payments", byID).
		Preload("Shipments", byID)
}
