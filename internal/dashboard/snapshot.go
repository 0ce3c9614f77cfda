package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"tdpos/backend/internal/domain"
)

const (
	MetricTotalStockValue    = "total_stock_value"
	MetricStockByStore       = "stock_by_store"
	MetricOutOfStock         = "out_of_stock"
	MetricDeadStock          = "dead_stock"
	MetricTurnoverRate       = "inventory_turnover_rate"
	MetricLowStock           = "low_stock"
	MetricSalesToday         = "sales_today"
	MetricSalesThisMonth     = "sales_this_month"
	MetricSalesByStore       = "sales_by_store"
	MetricTopSellingProducts = "top_selling_products"
	MetricSalesGrowth        = "sales_growth"
)

type SnapshotOptions struct {
	DeadStockDays     int
	LowStockThreshold int
	TopSellingLimit   int
	GrowthPeriod      Period
}

// Snapshot is every dashboard metric computed together. A metric that failed
// keeps its zero value and has an entry in Errors.
type Snapshot struct {
	TotalStockValue       decimal.Decimal   `json:"total_stock_value"`
	StockByStore          []StoreStock      `json:"stock_by_store"`
	OutOfStockProducts    []domain.Product  `json:"out_of_stock_products"`
	DeadStock             []domain.Product  `json:"dead_stock"`
	InventoryTurnoverRate decimal.Decimal   `json:"inventory_turnover_rate"`
	LowStock              LowStock          `json:"low_stock"`
	TotalSalesToday       decimal.Decimal   `json:"total_sales_today"`
	TotalSalesThisMonth   decimal.Decimal   `json:"total_sales_this_month"`
	SalesByStore          []StoreSales      `json:"sales_by_store"`
	TopSellingProducts    []ProductSales    `json:"top_selling_products"`
	SalesGrowth           []PeriodSales     `json:"sales_growth"`
	Errors                map[string]string `json:"errors,omitempty"`
}

// Err combines the per-metric failures, or nil when every metric succeeded.
func (s Snapshot) Err() error {
	var err error
	for metric, msg := range s.Errors {
		err = multierr.Append(err, fmt.Errorf("%s: %s", metric, msg))
	}
	return err
}

// Snapshot computes all metrics concurrently. One failing metric never
// prevents the others from being filled in.
func (e *Engine) Snapshot(ctx context.Context, opts SnapshotOptions) Snapshot {
	var (
		snap Snapshot
		mu   sync.Mutex
		wg   sync.WaitGroup
	)
	snap.Errors = map[string]string{}

	run := func(metric string, compute func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := compute(); err != nil {
				mu.Lock()
				snap.Errors[metric] = err.Error()
				mu.Unlock()
			}
		}()
	}
	// Each closure writes a distinct field; only Errors is shared.
	run(MetricTotalStockValue, func() (err error) {
		snap.TotalStockValue, err = e.TotalStockValue(ctx)
		return err
	})
	run(MetricStockByStore, func() (err error) {
		snap.StockByStore, err = e.StockByStore(ctx)
		return err
	})
	run(MetricOutOfStock, func() (err error) {
		snap.OutOfStockProducts, err = e.OutOfStockProducts(ctx)
		return err
	})
	run(MetricDeadStock, func() (err error) {
		snap.DeadStock, err = e.DeadStock(ctx, opts.DeadStockDays)
		return err
	})
	run(MetricTurnoverRate, func() (err error) {
		snap.InventoryTurnoverRate, err = e.InventoryTurnoverRate(ctx)
		return err
	})
	run(MetricLowStock, func() (err error) {
		snap.LowStock, err = e.LowStockProducts(ctx, opts.LowStockThreshold)
		return err
	})
	run(MetricSalesToday, func() (err error) {
		snap.TotalSalesToday, err = e.TotalSalesToday(ctx)
		return err
	})
	run(MetricSalesThisMonth, func() (err error) {
		snap.TotalSalesThisMonth, err = e.TotalSalesThisMonth(ctx)
		return err
	})
	run(MetricSalesByStore, func() (err error) {
		snap.SalesByStore, err = e.SalesByStore(ctx)
		return err
	})
	run(MetricTopSellingProducts, func() (err error) {
		snap.TopSellingProducts, err = e.TopSellingProducts(ctx, opts.TopSellingLimit)
		return err
	})
	run(MetricSalesGrowth, func() (err error) {
		snap.SalesGrowth, err = e.SalesGrowth(ctx, opts.GrowthPeriod)
		return err
	})
	wg.Wait()

	if len(snap.Errors) == 0 {
		snap.Errors = nil
	}
	return snap
}
