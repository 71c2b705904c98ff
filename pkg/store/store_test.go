package store

import (
	"context"
	"testing"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/database"
	"github.com/example/storefront/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, append(models.AllModels(), &models.User{})...))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, name, price string, stock int, category string) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:        name,
		Description: name + " description",
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		Category:    category,
	}
	require.NoError(t, NewProductStore(db).Create(context.Background(), p))
	return p
}

func strPtr(s string) *string { return &s }

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
