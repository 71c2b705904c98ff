package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/example/storefront/pkg/httpx"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const estimatedDeliveryDelay = 30 * time.Minute

type orderItemRequest struct {
	ProductID uint             `json:"product_id" binding:"required"`
	Quantity  int              `json:"quantity" binding:"required,gt=0"`
	Price     *decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	Items           []orderItemRequest `json:"items" binding:"required,min=1,dive"`
	ShippingAddress map[string]any     `json:"shipping_address" binding:"required"`
	PaymentMethod   string             `json:"payment_method" binding:"required,max=30"`
	ShippingMethod  string             `json:"shipping_method" binding:"required,max=50"`
	TotalAmount     *decimal.Decimal   `json:"total_amount" binding:"required"`
}

type orderLineResponse struct {
	ID        uint            `json:"id"`
	Product   productResponse `json:"product"`
	Quantity  int             `json:"quantity"`
	UnitPrice string          `json:"unit_price"`
}

type orderResponse struct {
	ID                uint                `json:"id"`
	OrderNumber       string              `json:"order_number"`
	OrderDate         time.Time           `json:"order_date"`
	EstimatedDelivery time.Time           `json:"estimated_delivery"`
	ShippingAddress   any                 `json:"shipping_address"`
	ShippingMethod    *string             `json:"shipping_method"`
	PaymentMethod     *string             `json:"payment_method"`
	Name              *string             `json:"name"`
	Email             *string             `json:"email"`
	Phone             *string             `json:"phone"`
	City              *string             `json:"city"`
	Postcode          *string             `json:"postcode"`
	Status            models.OrderStatus  `json:"status"`
	TotalAmount       string              `json:"total_amount"`
	Items             []orderLineResponse `json:"items"`
	TotalPrice        string              `json:"total_price"`
	OrderStatus       models.OrderStatus  `json:"order_status"`
	CustomerID        uint                `json:"customer_id"`
	CreatedAt         time.Time           `json:"created_at"`
	ProductOrders     []orderLineResponse `json:"product_orders"`
}

// orderDetail is a single order plus the best-effort customer lookup.
type orderDetail struct {
	orderResponse
	CustomerInfo map[string]any `json:"customer_info"`
}

// newOrderResponse derives the shipping and payment fields from the first
// shipment and payment rows.
func newOrderResponse(o *models.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(o.Lines))
	for i := range o.Lines {
		l := &o.Lines[i]
		lines = append(lines, orderLineResponse{
			ID:        l.ID,
			Product:   newProductResponse(&l.Product),
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
		})
	}

	resp := orderResponse{
		ID:                o.ID,
		OrderNumber:       entityID(o.ID),
		OrderDate:         o.CreatedAt,
		EstimatedDelivery: o.CreatedAt.Add(estimatedDeliveryDelay),
		Name:              o.Name,
		Email:             o.Email,
		Phone:             o.Phone,
		City:              o.City,
		Postcode:          o.Postcode,
		Status:            o.Status,
		TotalAmount:       o.TotalPrice.StringFixed(2),
		Items:             lines,
		TotalPrice:        o.TotalPrice.StringFixed(2),
		OrderStatus:       o.Status,
		CustomerID:        o.CustomerID,
		CreatedAt:         o.CreatedAt,
		ProductOrders:     lines,
	}
	if len(o.Shipments) > 0 {
		resp.ShippingAddress = o.Shipments[0].Address["address"]
		resp.ShippingMethod = &o.Shipments[0].ShippingMethod
	}
	if len(o.Payments) > 0 {
		resp.PaymentMethod = &o.Payments[0].PaymentMethod
	}
	return resp
}

// contactFrom copies the contact part of the shipping document onto the
// order row. The postcode arrives as zipCode from the storefront.
func contactFrom(doc map[string]any) store.Contact {
	postcode := docString(doc, "zipCode")
	if postcode == nil {
		postcode = docString(doc, "postcode")
	}
	return store.Contact{
		Name:     docString(doc, "name"),
		Email:    docString(doc, "email"),
		Phone:    docString(doc, "phone"),
		City:     docString(doc, "city"),
		Postcode: postcode,
	}
}

func docString(doc map[string]any, key string) *string {
	switch v := doc[key].(type) {
	case nil:
		return nil
	case string:
		return &v
	default:
		s := fmt.Sprint(v)
		return &s
	}
}

func (s *ProductServer) createOrder(c *gin.Context) {
	var req createOrderRequest
	if !httpx.Bind(c, &req) || !validPrice(c, "total_amount", req.TotalAmount) {
		return
	}

	lines := make([]store.NewOrderLine, 0, len(req.Items))
	for i, item := range req.Items {
		price := decimal.Zero
		if item.Price != nil {
			price = *item.Price
		}
		if !validPrice(c, fmt.Sprintf("items[%d].price", i), &price) {
			return
		}
		lines = append(lines, store.NewOrderLine{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: price})
	}

	address, ok := req.ShippingAddress["address"]
	if !ok {
		address = ""
	}

	customerID := models.GuestCustomerID
	if id := identity(c); id != nil {
		customerID = id.UserID
	}

	order, err := s.orders.Create(c.Request.Context(), store.NewOrder{
		CustomerID:      customerID,
		Total:           *req.TotalAmount,
		Contact:         contactFrom(req.ShippingAddress),
		Lines:           lines,
		PaymentMethod:   req.PaymentMethod,
		ShippingMethod:  req.ShippingMethod,
		ShippingAddress: map[string]any{"address": address},
	})
	if err != nil {
		s.orderCreateError(c, err)
		return
	}

	s.audit.Record(&repository.AuditLog{
		Action:   "create_order",
		EntityID: entityID(order.ID),
		ActorID:  customerID,
		Data:     bson.M{"total": order.TotalPrice.StringFixed(2), "lines": len(order.Lines)},
	})
	s.logger.Info("Order created",
		zap.Uint("order_id", order.ID),
		zap.Uint("customer_id", customerID),
		zap.Int("lines", len(order.Lines)))

	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (s *ProductServer) orderCreateError(c *gin.Context, err error) {
	var lineErr *store.LineError
	if errors.As(err, &lineErr) {
		field := fmt.Sprintf("items[%d]", lineErr.Index)
		switch {
		case errors.Is(err, store.ErrUnknownProduct):
			httpx.FieldError(c, field+".product_id", fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", lineErr.ProductID))
			return
		case errors.Is(err, store.ErrInsufficientStock):
			httpx.Error(c, http.StatusConflict, fmt.Sprintf("Insufficient stock for product %d.", lineErr.ProductID))
			return
		case errors.Is(err, store.ErrInvalidOrder):
			httpx.FieldError(c, field, "Invalid order item.")
			return
		}
	}
	if errors.Is(err, store.ErrInvalidOrder) {
		httpx.FieldError(c, httpx.NonFieldErrors, err.Error())
		return
	}
	httpx.InternalError(c, s.logger, err)
}

type listOrdersQuery struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1,max=100"`
}

// listOrders shows admins every order and everyone else their own.
func (s *ProductServer) listOrders(c *gin.Context) {
	var q listOrdersQuery
	if !httpx.BindQuery(c, &q) {
		return
	}

	filter := store.OrderFilter{Page: q.Page, PageSize: q.PageSize}
	if caller := identity(c); !caller.IsAdmin {
		filter.CustomerID = &caller.UserID
	}

	orders, total, err := s.orders.List(c.Request.Context(), filter)
	if err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}
	results := make([]orderResponse, 0, len(orders))
	for i := range orders {
		results = append(results, newOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "results": results})
}

// getOrder never fails because of the customer lookup: any failure leaves
// customer_info null.
func (s *ProductServer) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := s.orders.Get(c.Request.Context(), id)
	if err != nil {
		s.orderError(c, err)
		return
	}

	detail := orderDetail{orderResponse: newOrderResponse(order)}
	if order.CustomerID != models.GuestCustomerID {
		info, err := s.customers.Customer(c.Request.Context(), order.CustomerID, c.GetHeader("Authorization"))
		if err != nil {
			s.logger.Info("Customer info unavailable",
				zap.Uint("order_id", order.ID),
				zap.Uint("customer_id", order.CustomerID),
				zap.Error(err))
		} else {
			detail.CustomerInfo = info
		}
	}
	c.JSON(http.StatusOK, detail)
}

type updateOrderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (s *ProductServer) updateOrderStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateOrderStatusRequest
	if !httpx.Bind(c, &req) {
		return
	}
	if !req.Status.Valid() {
		httpx.FieldError(c, "status", fmt.Sprintf("%s is not a valid choice.", strconv.Quote(string(req.Status))))
		return
	}

	order, err := s.orders.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		s.orderError(c, err)
		return
	}

	s.audit.Record(&repository.AuditLog{
		Action:   "update_order_status",
		EntityID: entityID(id),
		ActorID:  identity(c).UserID,
		Data:     bson.M{"status": string(req.Status)},
	})
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (s *ProductServer) deleteOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.orders.Delete(c.Request.Context(), id); err != nil {
		s.orderError(c, err)
		return
	}

	s.audit.Record(&repository.AuditLog{
		Action:   "delete_order",
		EntityID: entityID(id),
		ActorID:  identity(c).UserID,
	})
	c.Status(http.StatusNoContent)
}

func (s *ProductServer) orderError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(c, http.StatusNotFound, "Order not found")
		return
	}
	httpx.InternalError(c, s.logger, err)
}
