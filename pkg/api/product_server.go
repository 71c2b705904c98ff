package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/example/storefront/pkg/audit"
	"github.com/example/storefront/pkg/httpx"
	"github.com/example/storefront/pkg/metrics"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// CustomerFetcher looks up the profile behind an order's customer id.
// *userclient.Client satisfies it.
type CustomerFetcher interface {
	Customer(ctx context.Context, customerID uint, authorization string) (map[string]any, error)
}

type ProductServer struct {
	products  *store.ProductStore
	orders    *store.OrderStore
	verifier  TokenVerifier
	customers CustomerFetcher
	audit     audit.Recorder
	logger    *zap.Logger
	metrics   *metrics.Metrics
	router    *gin.Engine
}

// NewProductServer wires the product service's HTTP API. rec and m may be nil.
func NewProductServer(products *store.ProductStore, orders *store.OrderStore, verifier TokenVerifier, customers CustomerFetcher, rec audit.Recorder, logger *zap.Logger, m *metrics.Metrics) *ProductServer {
	if rec == nil {
		rec = audit.Nop{}
	}
	s := &ProductServer{
		products:  products,
		orders:    orders,
		verifier:  verifier,
		customers: customers,
		audit:     rec,
		logger:    logger,
		metrics:   m,
		router:    httpx.NewRouter(logger, m),
	}
	s.setupRoutes()
	return s
}

func (s *ProductServer) Handler() http.Handler {
	return s.router
}

func (s *ProductServer) setupRoutes() {
	s.router.GET("/health/", httpx.Health)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/", remoteAuth(s.verifier))

	products := api.Group("/products")
	{
		products.GET("/", s.listProducts)
		products.POST("/", requireAdmin, s.createProduct)
		products.GET("/categories/", s.listCategories)
		products.GET("/:id/", s.getProduct)
		products.PUT("/:id/", requireAdmin, s.updateProduct)
		products.DELETE("/:id/", requireAdmin, s.deleteProduct)
	}

	orders := api.Group("/orders")
	{
		orders.POST("/", s.createOrder)
		orders.GET("/", requireIdentity, s.listOrders)
		orders.GET("/:id/", s.getOrder)
		orders.PATCH("/:id/", requireAdmin, s.updateOrderStatus)
		orders.DELETE("/:id/", requireAdmin, s.deleteOrder)
	}
}

type productResponse struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category"`
	Image       *string   `json:"image"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   *uint     `json:"created_by"`
	UpdatedBy   *uint     `json:"updated_by"`
}

// newProductResponse renders prices with exactly two fractional digits,
// whatever precision the database driver hands back.
func newProductResponse(p *models.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		Stock:       p.Stock,
		Category:    p.Category,
		Image:       p.Image,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		CreatedBy:   p.CreatedBy,
		UpdatedBy:   p.UpdatedBy,
	}
}

type createProductRequest struct {
	Name        string           `json:"name" binding:"required,max=100"`
	Description string           `json:"description" binding:"required"`
	Price       *decimal.Decimal `json:"price" binding:"required"`
	Stock       *int             `json:"stock" binding:"required,gte=0"`
	Category    string           `json:"category" binding:"required,max=50"`
	Image       *string          `json:"image" binding:"omitempty,max=255"`
}

type updateProductRequest struct {
	Name        *string          `json:"name" binding:"omitempty,min=1,max=100"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock" binding:"omitempty,gte=0"`
	Category    *string          `json:"category" binding:"omitempty,min=1,max=50"`
	Image       *string          `json:"image" binding:"omitempty,max=255"`
}

// validPrice enforces a non-negative amount that fits decimal(10,2).
func validPrice(c *gin.Context, field string, price *decimal.Decimal) bool {
	if price == nil {
		return true
	}
	switch {
	case price.IsNegative():
		httpx.FieldError(c, field, "Ensure this value is greater than or equal to 0.")
	case !price.Equal(price.Round(2)):
		httpx.FieldError(c, field, "Ensure that there are no more than 2 decimal places.")
	case price.GreaterThanOrEqual(decimal.New(1, 8)):
		httpx.FieldError(c, field, "Ensure that there are no more than 10 digits in total.")
	default:
		return true
	}
	return false
}

func (s *ProductServer) listProducts(c *gin.Context) {
	products, err := s.products.List(c.Request.Context(), c.Query("category"))
	if err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for i := range products {
		out = append(out, newProductResponse(&products[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *ProductServer) listCategories(c *gin.Context) {
	categories, err := s.products.Categories(c.Request.Context())
	if err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (s *ProductServer) getProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	product, err := s.products.Get(c.Request.Context(), id)
	if err != nil {
		s.productError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProductResponse(product))
}

func (s *ProductServer) createProduct(c *gin.Context) {
	var req createProductRequest
	if !httpx.Bind(c, &req) || !validPrice(c, "price", req.Price) {
		return
	}

	actor := identity(c).UserID
	product := &models.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       *req.Price,
		Stock:       *req.Stock,
		Category:    req.Category,
		Image:       req.Image,
		CreatedBy:   &actor,
		UpdatedBy:   &actor,
	}
	if err := s.products.Create(c.Request.Context(), product); err != nil {
		httpx.InternalError(c, s.logger, err)
		return
	}

	s.audit.Record(&repository.AuditLog{
		Action:   "create_product",
		EntityID: entityID(product.ID),
		ActorID:  actor,
		Data:     bson.M{"name": product.Name, "price": product.Price.StringFixed(2), "stock": product.Stock},
	})
	c.JSON(http.StatusCreated, newProductResponse(product))
}

func (s *ProductServer) updateProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateProductRequest
	if !httpx.Bind(c, &req) || !validPrice(c, "price", req.Price) {
		return
	}

	actor := identity(c).UserID
	updates := map[string]any{"updated_by": actor}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Price != nil {
		updates["price"] = *req.Price
	}
	if req.Stock != nil {
		updates["stock"] = *req.Stock
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.Image != nil {
		updates["image"] = *req.Image
	}

	product, err := s.products.Update(c.Request.Context(), id, updates)
	if err != nil {
		s.productError(c, err)
		return
	}

	s.audit.Record(&repository.AuditLog{
		Action:   "update_product",
		EntityID: entityID(id),
		ActorID:  actor,
		Data:     bson.M{"price": product.Price.StringFixed(2), "stock": product.Stock},
	})
	c.JSON(http.StatusOK, newProductResponse(product))
}

func (s *ProductServer) deleteProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.products.Delete(c.Request.Context(), id); err != nil {
		s.productError(c, err)
		return
	}

	s.audit.Record(&repository.AuditLog{
		Action:   "delete_product",
		EntityID: entityID(id),
		ActorID:  identity(c).UserID,
	})
	c.Status(http.StatusNoContent)
}

func (s *ProductServer) productError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpx.Error(c, http.StatusNotFound, "Product not found")
	case errors.Is(err, store.ErrProductInUse):
		httpx.Error(c, http.StatusConflict, "Product is referenced by existing orders and cannot be deleted.")
	default:
		httpx.InternalError(c, s.logger, err)
	}
}
