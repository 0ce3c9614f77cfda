package service

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/dashboard"
)

type MetricParams struct {
	Days      int
	Threshold int
	Limit     int
	Period    dashboard.Period
}

// Dashboard computes every metric. Failed metrics are logged and reported in
// the snapshot's Errors map; the call itself only fails on authorization.
func (s *Service) Dashboard(ctx context.Context, params MetricParams) (dashboard.Snapshot, error) {
	if _, err := requireManager(ctx); err != nil {
		return dashboard.Snapshot{}, err
	}
	snap := s.dashboard.Snapshot(ctx, s.snapshotOptions(params))
	if err := snap.Err(); err != nil {
		for metric := range snap.Errors {
			s.metrics.IncMetricFailure(metric)
		}
		s.log.Error(s.log.WithField(ctx, "failed_metrics", len(multierr.Errors(err))), "dashboard partially failed", err)
	}
	return snap, nil
}

// Metric computes one named metric.
func (s *Service) Metric(ctx context.Context, name string, params MetricParams) (any, error) {
	if _, err := requireManager(ctx); err != nil {
		return nil, err
	}
	opts := s.snapshotOptions(params)
	e := s.dashboard

	var (
		out any
		err error
	)
	switch name {
	case dashboard.MetricTotalStockValue:
		out, err = e.TotalStockValue(ctx)
	case dashboard.MetricStockByStore:
		out, err = e.StockByStore(ctx)
	case dashboard.MetricOutOfStock:
		out, err = e.OutOfStockProducts(ctx)
	case dashboard.MetricDeadStock:
		out, err = e.DeadStock(ctx, opts.DeadStockDays)
	case dashboard.MetricTurnoverRate:
		out, err = e.InventoryTurnoverRate(ctx)
	case dashboard.MetricLowStock:
		out, err = e.LowStockProducts(ctx, opts.LowStockThreshold)
	case dashboard.MetricSalesToday:
		out, err = e.TotalSalesToday(ctx)
	case dashboard.MetricSalesThisMonth:
		out, err = e.TotalSalesThisMonth(ctx)
	case dashboard.MetricSalesByStore:
		out, err = e.SalesByStore(ctx)
	case dashboard.MetricTopSellingProducts:
		out, err = e.TopSellingProducts(ctx, opts.TopSellingLimit)
	case dashboard.MetricSalesGrowth:
		if opts.GrowthPeriod != dashboard.PeriodWeekly && opts.GrowthPeriod != dashboard.PeriodMonthly {
			return nil, fieldError("period", "must be weekly or monthly")
		}
		out, err = e.SalesGrowth(ctx, opts.GrowthPeriod)
	default:
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("unknown metric %q", name))
	}
	if err != nil {
		s.metrics.IncMetricFailure(name)
		s.log.Error(s.log.WithField(ctx, "metric", name), "dashboard metric failed", err)
		return nil, apperr.Wrap(apperr.CodeInternal, err, "metric "+name+" failed")
	}
	return out, nil
}

func (s *Service) snapshotOptions(params MetricParams) dashboard.SnapshotOptions {
	opts := dashboard.SnapshotOptions{
		DeadStockDays:     params.Days,
		LowStockThreshold: params.Threshold,
		TopSellingLimit:   params.Limit,
		GrowthPeriod:      params.Period,
	}
	if opts.DeadStockDays <= 0 {
		opts.DeadStockDays = s.opts.DeadStockDays
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = s.opts.LowStockThreshold
	}
	if opts.TopSellingLimit <= 0 {
		opts.TopSellingLimit = dashboard.DefaultTopSellingLimit
	}
	if opts.GrowthPeriod == "" {
		opts.GrowthPeriod = dashboard.PeriodWeekly
	}
	return opts
}
