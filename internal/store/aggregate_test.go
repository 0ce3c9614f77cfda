package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tdpos/backend/internal/domain"
)

func TestISOWeekKeyUsesWeekNumberingYear(t *testing.T) {
	require.Equal(t, "2020-W53", ISOWeekKey(time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC)))
	require.Equal(t, "2025-W01", ISOWeekKey(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "2024-12", MonthKey(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)))
}

func TestAggregateOrdersBucketsByEarliestOrder(t *testing.T) {
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	orders := []domain.Order{
		{BranchID: "b2", TotalAmount: decimal.NewFromInt(50), CreatedAt: at, Items: []domain.OrderLine{
			{ProductID: "p1", Quantity: 2, Subtotal: decimal.NewFromInt(50)},
		}},
		{BranchID: "b1", TotalAmount: decimal.NewFromInt(30), CreatedAt: at.AddDate(0, 1, 0), Items: []domain.OrderLine{
			{ProductID: "p2", Quantity: 1, Subtotal: decimal.NewFromInt(10)},
			{ProductID: "p1", Quantity: 3, Subtotal: decimal.NewFromInt(20)},
		}},
		{BranchID: "b2", TotalAmount: decimal.NewFromInt(20), CreatedAt: at},
	}

	byBranch, err := Aggregate(orders, GroupByBranch, SumTotalAmount, nil)
	require.NoError(t, err)
	require.Len(t, byBranch, 2)
	require.Equal(t, "b2", byBranch[0].Key)
	require.True(t, byBranch[0].Value.Equal(decimal.NewFromInt(70)))

	byProduct, err := Aggregate(orders, GroupByProduct, SumItemQuantity, nil)
	require.NoError(t, err)
	require.Equal(t, "p1", byProduct[0].Key)
	require.True(t, byProduct[0].Value.Equal(decimal.NewFromInt(5)))

	byMonth, err := Aggregate(orders, GroupByMonth, SumTotalAmount, time.UTC)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-03", "2024-04"}, []string{byMonth[0].Key, byMonth[1].Key})

	// Insertion order differs from time order.
	late := []domain.Order{
		{BranchID: "b9", TotalAmount: decimal.NewFromInt(5), CreatedAt: at.Add(time.Hour)},
		{BranchID: "b3", TotalAmount: decimal.NewFromInt(5), CreatedAt: at},
		{BranchID: "b1", TotalAmount: decimal.NewFromInt(5), CreatedAt: at},
		{BranchID: "b9", TotalAmount: decimal.NewFromInt(5), CreatedAt: at.Add(-time.Hour)},
	}
	byBranch, err = Aggregate(late, GroupByBranch, SumTotalAmount, nil)
	require.NoError(t, err)
	keys := make([]string, 0, len(byBranch))
	for _, b := range byBranch {
		keys = append(keys, b.Key)
	}
	require.Equal(t, []string{"b9", "b1", "b3"}, keys)
	require.True(t, byBranch[0].Value.Equal(decimal.NewFromInt(10)))

	_, err = Aggregate(orders, "day", SumTotalAmount, nil)
	require.ErrorIs(t, err, ErrInvalid)
}
