package api

import (
	"context"

	"pricetracker/internal/products"
)

// Store is the persistence surface the HTTP handlers need.
// *products.Repository implements it.
type Store interface {
	InsertProduct(ctx context.Context, p *products.Product) (int, error)
	GetProducts(ctx context.Context) ([]products.Product, error)
	GetProductByID(ctx context.Context, id int) (*products.Product, error)
	GetPriceHistory(ctx context.Context, id int) ([]products.PricePoint, error)
	UpdateAlarm(ctx context.Context, id int, alarmPrice float64) error
	DeleteProduct(ctx context.Context, id int) error
	ListRecentChanges(ctx context.Context, limit int) ([]products.ChangeRecord, error)
}
