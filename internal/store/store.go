package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"tdpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalid           = errors.New("invalid record")
)

type CatalogStore interface {
	FindProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	FindProductByID(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	FindBranches(ctx context.Context) ([]domain.Branch, error)
	FindBranchByID(ctx context.Context, id string) (*domain.Branch, error)
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	UpdateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	DeleteBranch(ctx context.Context, id string) error

	FindEmployees(ctx context.Context) ([]domain.Employee, error)
	FindEmployeeByID(ctx context.Context, id string) (*domain.Employee, error)
	FindEmployeeByEmail(ctx context.Context, email string) (*domain.Employee, error)
	CreateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error)
	UpdateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error)
	DeleteEmployee(ctx context.Context, id string) error
}

type OrderStore interface {
	// InsertOrder assigns the order ID and decrements stock for every line in
	// one transaction. If any product would go below zero nothing is written
	// and ErrInsufficientStock is returned.
	InsertOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	FindOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	FindOrderByID(ctx context.Context, id string) (*domain.Order, error)
	// AggregateOrders groups orders matching filter by key and sums field.
	// Buckets are ordered by their earliest order's created_at, ties by key.
	AggregateOrders(ctx context.Context, key GroupKey, field SumField, filter domain.OrderFilter) ([]Bucket, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	CatalogStore
	OrderStore
}

type GroupKey string

const (
	GroupByBranch  GroupKey = "branch"
	GroupByProduct GroupKey = "product"
	GroupByISOWeek GroupKey = "iso_week"
	GroupByMonth   GroupKey = "month"
)

type SumField string

const (
	SumTotalAmount  SumField = "total_amount"
	SumItemQuantity SumField = "item_quantity"
)

type Bucket struct {
	Key   string          `json:"key"`
	Value decimal.Decimal `json:"value"`
}

func (k GroupKey) Valid() bool {
	switch k {
	case GroupByBranch, GroupByProduct, GroupByISOWeek, GroupByMonth:
		return true
	}
	return false
}

func (f SumField) Valid() bool {
	return f == SumTotalAmount || f == SumItemQuantity
}
