// Package dashboard derives inventory and sales metrics from the catalog and
// order stores. Every call recomputes from current store contents.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
)

const (
	DefaultDeadStockDays     = 90
	DefaultLowStockThreshold = 10
	DefaultTopSellingLimit   = 5
	UnknownName              = "Unknown"
)

var (
	cogsRatio  = decimal.NewFromFloat(0.8)
	decimalTwo = decimal.NewFromInt(2)
)

type CatalogReader interface {
	FindProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	FindBranches(ctx context.Context) ([]domain.Branch, error)
}

type OrderReader interface {
	AggregateOrders(ctx context.Context, key store.GroupKey, field store.SumField, filter domain.OrderFilter) ([]store.Bucket, error)
}

type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

type StoreStock struct {
	BranchID      string          `json:"branch_id"`
	BranchName    string          `json:"branch_name"`
	TotalQuantity int             `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

type LowStock struct {
	Count    int              `json:"count"`
	Products []domain.Product `json:"products"`
}

type StoreSales struct {
	BranchID   string          `json:"branch_id"`
	BranchName string          `json:"branch_name"`
	TotalSales decimal.Decimal `json:"total_sales"`
}

type ProductSales struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	TotalSold   int64  `json:"total_sold"`
}

type PeriodSales struct {
	Period     string          `json:"period"`
	TotalSales decimal.Decimal `json:"total_sales"`
}

type Engine struct {
	catalog CatalogReader
	orders  OrderReader
	now     func() time.Time
	loc     *time.Location
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the zone used for "today" and "this month".
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func NewEngine(catalog CatalogReader, orders OrderReader, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		orders:  orders,
		now:     time.Now,
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) TotalStockValue(ctx context.Context) (decimal.Decimal, error) {
	products, err := e.catalog.FindProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("find products: %w", err)
	}
	return stockValue(products), nil
}

// StockByStore returns one entry per branch. A product listed in several
// branches counts toward each of them.
func (e *Engine) StockByStore(ctx context.Context) ([]StoreStock, error) {
	branches, err := e.catalog.FindBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("find branches: %w", err)
	}
	products, err := e.catalog.FindProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}

	out := make([]StoreStock, 0, len(branches))
	for _, branch := range branches {
		entry := StoreStock{BranchID: branch.ID, BranchName: branch.Name, TotalValue: decimal.Zero}
		for _, p := range products {
			if !p.AvailableIn(branch.ID) {
				continue
			}
			entry.TotalQuantity += p.Quantity
			entry.TotalValue = entry.TotalValue.Add(p.StockValue())
		}
		out = append(out, entry)
	}
	return out, nil
}

func (e *Engine) OutOfStockProducts(ctx context.Context) ([]domain.Product, error) {
	zero := 0
	return e.findProducts(ctx, domain.ProductFilter{QuantityAtMost: &zero})
}

// DeadStock lists products not updated within days. days <= 0 uses the default.
func (e *Engine) DeadStock(ctx context.Context, days int) ([]domain.Product, error) {
	if days <= 0 {
		days = DefaultDeadStockDays
	}
	cutoff := e.now().AddDate(0, 0, -days)
	return e.findProducts(ctx, domain.ProductFilter{UpdatedBefore: &cutoff})
}

// InventoryTurnoverRate estimates COGS as 80% of stock value over an average
// inventory of half the stock value. It is 0 when there is no stock.
func (e *Engine) InventoryTurnoverRate(ctx context.Context) (decimal.Decimal, error) {
	value, err := e.TotalStockValue(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return turnover(value), nil
}

func (e *Engine) LowStockProducts(ctx context.Context, threshold int) (LowStock, error) {
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	products, err := e.findProducts(ctx, domain.ProductFilter{QuantityBelow: &threshold})
	if err != nil {
		return LowStock{}, err
	}
	return LowStock{Count: len(products), Products: products}, nil
}

func (e *Engine) TotalSalesToday(ctx context.Context) (decimal.Decimal, error) {
	now := e.now().In(e.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
	return e.salesSince(ctx, from)
}

func (e *Engine) TotalSalesThisMonth(ctx context.Context) (decimal.Decimal, error) {
	now := e.now().In(e.loc)
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, e.loc)
	return e.salesSince(ctx, from)
}

// SalesByStore sums order totals per branch, highest first. Branches that no
// longer exist are named "Unknown".
func (e *Engine) SalesByStore(ctx context.Context) ([]StoreSales, error) {
	buckets, err := e.orders.AggregateOrders(ctx, store.GroupByBranch, store.SumTotalAmount, domain.OrderFilter{})
	if err != nil {
		return nil, fmt.Errorf("aggregate sales by branch: %w", err)
	}
	branches, err := e.catalog.FindBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("find branches: %w", err)
	}
	names := make(map[string]string, len(branches))
	for _, b := range branches {
		names[b.ID] = b.Name
	}

	sortBucketsDesc(buckets)
	out := make([]StoreSales, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, StoreSales{BranchID: b.Key, BranchName: nameOr(names, b.Key), TotalSales: b.Value})
	}
	return out, nil
}

// TopSellingProducts ranks products by quantity sold across all orders.
func (e *Engine) TopSellingProducts(ctx context.Context, limit int) ([]ProductSales, error) {
	if limit <= 0 {
		limit = DefaultTopSellingLimit
	}
	buckets, err := e.orders.AggregateOrders(ctx, store.GroupByProduct, store.SumItemQuantity, domain.OrderFilter{})
	if err != nil {
		return nil, fmt.Errorf("aggregate sales by product: %w", err)
	}
	sortBucketsDesc(buckets)
	if len(buckets) > limit {
		buckets = buckets[:limit]
	}

	products, err := e.catalog.FindProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	out := make([]ProductSales, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, ProductSales{ProductID: b.Key, ProductName: nameOr(names, b.Key), TotalSold: b.Value.IntPart()})
	}
	return out, nil
}

// SalesGrowth sums order totals per ISO week ("2024-W09") or month ("2024-03"),
// oldest period first.
func (e *Engine) SalesGrowth(ctx context.Context, period Period) ([]PeriodSales, error) {
	key := store.GroupByISOWeek
	switch period {
	case PeriodWeekly, "":
	case PeriodMonthly:
		key = store.GroupByMonth
	default:
		return nil, fmt.Errorf("%w: period %q", store.ErrInvalid, period)
	}
	buckets, err := e.orders.AggregateOrders(ctx, key, store.SumTotalAmount, domain.OrderFilter{})
	if err != nil {
		return nil, fmt.Errorf("aggregate sales by period: %w", err)
	}
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })

	out := make([]PeriodSales, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, PeriodSales{Period: b.Key, TotalSales: b.Value})
	}
	return out, nil
}

func (e *Engine) salesSince(ctx context.Context, from time.Time) (decimal.Decimal, error) {
	buckets, err := e.orders.AggregateOrders(ctx, store.GroupByBranch, store.SumTotalAmount, domain.OrderFilter{From: &from})
	if err != nil {
		return decimal.Zero, fmt.Errorf("aggregate sales since %s: %w", from.Format(time.RFC3339), err)
	}
	total := decimal.Zero
	for _, b := range buckets {
		total = total.Add(b.Value)
	}
	return total, nil
}

func (e *Engine) findProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	products, err := e.catalog.FindProducts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	if products == nil {
		products = []domain.Product{}
	}
	return products, nil
}

func stockValue(products []domain.Product) decimal.Decimal {
	total := decimal.Zero
	for _, p := range products {
		total = total.Add(p.StockValue())
	}
	return total
}

func turnover(stockValue decimal.Decimal) decimal.Decimal {
	average := stockValue.Div(decimalTwo)
	if average.IsZero() {
		return decimal.Zero
	}
	return stockValue.Mul(cogsRatio).Div(average)
}

func sortBucketsDesc(buckets []store.Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].Value.GreaterThan(buckets[j].Value) })
}

func nameOr(names map[string]string, id string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return UnknownName
}
