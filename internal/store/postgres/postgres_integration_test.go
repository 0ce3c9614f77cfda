package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("TDPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TDPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, WithLocation(time.UTC))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx, "up"))
	return s
}

func TestInsertOrderDecrementsStockAndAggregates(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	branch, err := s.CreateBranch(ctx, domain.Branch{ID: fmt.Sprintf("br-it-%d", stamp), Name: "IT Branch", Location: "Maseru"})
	require.NoError(t, err)
	product, err := s.CreateProduct(ctx, domain.Product{
		ID:        fmt.Sprintf("prd-it-%d", stamp),
		Name:      "IT Tire",
		Price:     decimal.NewFromInt(100),
		Quantity:  3,
		Category:  domain.CategoryTire,
		Grade:     domain.GradeA,
		BranchIDs: []string{branch.ID},
		Attributes: domain.TireAttributes{
			Size: "205/55R16", Type: "Passenger", LoadIndex: "91", SpeedRating: "V",
		},
	})
	require.NoError(t, err)

	orderID := fmt.Sprintf("ord-it-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branch.ID)
	})

	created := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:          orderID,
		OrderNumber: fmt.Sprintf("ORD-IT-%d", stamp),
		Items: []domain.OrderLine{{
			ProductID: product.ID, ProductName: product.Name, Quantity: 2,
			Price: decimal.NewFromInt(100), Discount: decimal.Zero, Subtotal: decimal.NewFromInt(200),
		}},
		Subtotal:       decimal.NewFromInt(200),
		TotalDiscount:  decimal.Zero,
		TotalAmount:    decimal.NewFromInt(200),
		BranchID:       branch.ID,
		CashierID:      "emp-it",
		PaymentMethod:  domain.PaymentCash,
		AmountReceived: decimal.NewFromInt(200),
		ChangeAmount:   decimal.Zero,
		Status:         domain.OrderStatusCompleted,
		CreatedAt:      created,
	}
	_, err = s.InsertOrder(ctx, order)
	require.NoError(t, err)

	reloaded, err := s.FindProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Quantity)

	order.ID = orderID + "-2"
	order.OrderNumber += "-2"
	_, err = s.InsertOrder(ctx, order)
	require.True(t, errors.Is(err, store.ErrInsufficientStock), "got %v", err)

	got, err := s.FindOrderByID(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(200)))

	buckets, err := s.AggregateOrders(ctx, store.GroupByISOWeek, store.SumTotalAmount, domain.OrderFilter{BranchID: branch.ID})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "2024-W23", buckets[0].Key)
	assert.True(t, buckets[0].Value.Equal(decimal.NewFromInt(200)))

	buckets, err = s.AggregateOrders(ctx, store.GroupByProduct, store.SumItemQuantity, domain.OrderFilter{BranchID: branch.ID})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].Value.Equal(decimal.NewFromInt(2)))
}
