package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/cache"
	"tdpos/backend/internal/dashboard"
	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/receipt"
	"tdpos/backend/internal/store/memory"
)

type fixture struct {
	svc     *Service
	store   *memory.Store
	manager context.Context
	cashier context.Context
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	_, err := st.CreateBranch(ctx, domain.Branch{ID: "br-1", Name: "Maseru Central", Location: "Maseru"})
	require.NoError(t, err)
	_, err = st.CreateBranch(ctx, domain.Branch{ID: "br-2", Name: "Hlotse", Location: "Leribe"})
	require.NoError(t, err)
	_, err = st.CreateProduct(ctx, domain.Product{
		ID: "p-tire", Name: "Tire 205/55R16", Price: decimal.NewFromInt(100), Quantity: 3,
		Category: domain.CategoryTire, Grade: domain.GradeA,
		Attributes: domain.TireAttributes{Size: "205/55R16", Type: "All Season", LoadIndex: "91", SpeedRating: "V"},
		BranchIDs:  []string{"br-1"},
	})
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("cashier123"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = st.CreateEmployee(ctx, domain.Employee{ID: "emp-cashier", FirstName: "Palesa", LastName: "Nthako", Email: "cashier@td.co.ls", Role: domain.RoleCashier, BranchID: "br-1", PasswordHash: string(hash)})
	require.NoError(t, err)
	_, err = st.CreateEmployee(ctx, domain.Employee{ID: "emp-manager", Email: "manager@td.co.ls", Role: domain.RoleManager, PasswordHash: string(hash)})
	require.NoError(t, err)

	svc := New(st, cache.NewMemoryCartCache(), nil, nil, Options{
		Location: time.UTC,
		Receipt:  receipt.Renderer{Company: "TD Holdings", Currency: "M", Width: 40},
	})
	return fixture{
		svc:     svc,
		store:   st,
		manager: WithActor(ctx, domain.Actor{EmployeeID: "emp-manager", Role: domain.RoleManager}),
		cashier: WithActor(ctx, domain.Actor{EmployeeID: "emp-cashier", Role: domain.RoleCashier, BranchID: "br-1"}),
	}
}

func tireRequest(branches ...string) domain.ProductRequest {
	return domain.ProductRequest{
		Name: "Dunlop 195/65R15", Price: decimal.NewFromInt(980), Quantity: 5,
		Category: domain.CategoryTire, Grade: domain.GradeB,
		Attributes: domain.TireAttributes{Size: "195/65R15", Type: "Summer", LoadIndex: "91", SpeedRating: "H"},
		BranchIDs:  branches,
	}
}

func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperr.As(err).Code(), "error: %v", err)
}

func TestCreateProductRequiresManager(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateProduct(f.cashier, tireRequest("br-1"))
	requireCode(t, err, apperr.CodeForbidden)

	_, err = f.svc.CreateProduct(context.Background(), tireRequest("br-1"))
	requireCode(t, err, apperr.CodeUnauthorized)

	created, err := f.svc.CreateProduct(f.manager, tireRequest("br-1", "br-2", "br-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"br-1", "br-2"}, created.BranchIDs)
}

func TestCreateProductValidation(t *testing.T) {
	f := newFixture(t)

	req := tireRequest()
	req.Name = "X"
	_, err := f.svc.CreateProduct(f.manager, req)
	requireCode(t, err, apperr.CodeValidation)
	details := apperr.As(err).Details().(map[string]string)
	assert.Contains(t, details, "product_name")
	assert.Contains(t, details, "branch_ids")

	req = tireRequest("br-1")
	req.Attributes = domain.BaleAttributes{Weight: decimal.NewFromInt(40), BaleCategory: "Mixed", OriginCountry: "UK"}
	_, err = f.svc.CreateProduct(f.manager, req)
	requireCode(t, err, apperr.CodeValidation)

	req = tireRequest("br-404")
	_, err = f.svc.CreateProduct(f.manager, req)
	requireCode(t, err, apperr.CodeValidation)

	req = tireRequest("br-1")
	req.Price = decimal.NewFromInt(-1)
	_, err = f.svc.CreateProduct(f.manager, req)
	requireCode(t, err, apperr.CodeValidation)
}

func TestBranchLocationMustBeDistrict(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBranch(f.manager, domain.BranchRequest{Name: "Pretoria", Location: "Gauteng"})
	requireCode(t, err, apperr.CodeValidation)

	b, err := f.svc.CreateBranch(f.manager, domain.BranchRequest{Name: "Qacha", Location: "Qacha's Nek"})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteBranch(f.manager, b.ID))
	_, err = f.svc.GetBranch(f.manager, b.ID)
	requireCode(t, err, apperr.CodeNotFound)
}

func TestEmployeeLifecycle(t *testing.T) {
	f := newFixture(t)
	req := domain.EmployeeRequest{FirstName: "Lerato", LastName: "Mofokeng", Email: "Lerato@TD.co.ls", Role: domain.RoleCashier, BranchID: "br-2", Password: "short"}

	_, err := f.svc.CreateEmployee(f.manager, req)
	requireCode(t, err, apperr.CodeValidation)

	req.Password = "long-enough"
	created, err := f.svc.CreateEmployee(f.manager, req)
	require.NoError(t, err)
	assert.Equal(t, "lerato@td.co.ls", created.Email)

	_, err = f.svc.CreateEmployee(f.manager, req)
	requireCode(t, err, apperr.CodeConflict)

	admin := req
	admin.Email = "boss@td.co.ls"
	admin.Role = domain.RoleAdmin
	_, err = f.svc.CreateEmployee(f.manager, admin)
	requireCode(t, err, apperr.CodeForbidden)

	got, err := f.svc.Authenticate(context.Background(), "LERATO@td.co.ls", "long-enough")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = f.svc.Authenticate(context.Background(), "lerato@td.co.ls", "nope")
	requireCode(t, err, apperr.CodeUnauthorized)
	_, err = f.svc.Authenticate(context.Background(), "ghost@td.co.ls", "nope")
	requireCode(t, err, apperr.CodeUnauthorized)

	err = f.svc.DeleteEmployee(f.manager, "emp-manager")
	requireCode(t, err, apperr.CodeConflict)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ChangePassword(f.cashier, domain.ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "brand-new"})
	requireCode(t, err, apperr.CodeUnauthorized)

	require.NoError(t, f.svc.ChangePassword(f.cashier, domain.ChangePasswordRequest{CurrentPassword: "cashier123", NewPassword: "brand-new"}))
	_, err = f.svc.Authenticate(context.Background(), "cashier@td.co.ls", "brand-new")
	require.NoError(t, err)
}

func TestCartStockWarningLeavesCartUnchanged(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 5})
	require.NoError(t, err)
	require.NotNil(t, view.Warning)
	assert.Empty(t, view.Items)

	view, err = f.svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 2})
	require.NoError(t, err)
	require.Nil(t, view.Warning)
	require.Len(t, view.Items, 1)

	view, err = f.svc.SetCartQuantity(f.cashier, "", "p-tire", 4)
	require.NoError(t, err)
	require.NotNil(t, view.Warning)
	assert.Equal(t, 2, view.Items[0].Quantity)

	_, err = f.svc.AddToCart(f.cashier, "br-2", domain.CartItemRequest{ProductID: "p-tire"})
	requireCode(t, err, apperr.CodeForbidden)

	_, err = f.svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "missing"})
	requireCode(t, err, apperr.CodeNotFound)
}

func TestCheckoutClearsCartAndDecrementsStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 2})
	require.NoError(t, err)
	_, err = f.svc.ApplyCartDiscount(f.cashier, "", decimal.NewFromInt(50))
	require.NoError(t, err)

	_, err = f.svc.Checkout(f.cashier, "", domain.CheckoutRequest{PaymentMethod: "cash", AmountReceived: decimal.NewFromInt(100)})
	requireCode(t, err, apperr.CodeInsufficientPayment)
	view, err := f.svc.Cart(f.cashier, "")
	require.NoError(t, err)
	require.Len(t, view.Items, 1, "failed checkout keeps the cart")

	result, err := f.svc.Checkout(f.cashier, "", domain.CheckoutRequest{PaymentMethod: "CASH", AmountReceived: decimal.NewFromInt(200)})
	require.NoError(t, err)
	assert.True(t, result.Order.ChangeAmount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "br-1", result.Order.BranchID)
	assert.Equal(t, "emp-cashier", result.Order.CashierID)
	assert.Contains(t, result.Receipt.PreviewText, "Palesa Nthako")
	assert.Contains(t, result.Receipt.PreviewText, "Maseru Central")

	view, err = f.svc.Cart(f.cashier, "")
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	p, err := f.store.FindProductByID(context.Background(), "p-tire")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Quantity)

	orders, err := f.svc.ListOrdersByBranch(f.cashier, "br-1", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	_, err = f.svc.ListOrdersByBranch(f.cashier, "br-2", 0)
	requireCode(t, err, apperr.CodeForbidden)

	rec, err := f.svc.Receipt(f.manager, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Order.OrderNumber, rec.OrderNumber)
}

func TestCheckoutStockConflictIsRetryable(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 3})
	require.NoError(t, err)

	// Another till sells the stock first.
	p, err := f.store.FindProductByID(context.Background(), "p-tire")
	require.NoError(t, err)
	p.Quantity = 1
	_, err = f.store.UpdateProduct(context.Background(), *p)
	require.NoError(t, err)

	_, err = f.svc.Checkout(f.cashier, "", domain.CheckoutRequest{PaymentMethod: "card", PaymentReference: "TXN-1"})
	requireCode(t, err, apperr.CodePersistence)
	assert.True(t, apperr.As(err).Retryable())

	view, err := f.svc.Cart(f.cashier, "")
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
}

func TestHoldAndResumeCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HoldCart(f.cashier, "")
	requireCode(t, err, apperr.CodeEmptyCart)

	_, err = f.svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 2})
	require.NoError(t, err)
	held, err := f.svc.HoldCart(f.cashier, "")
	require.NoError(t, err)
	assert.Empty(t, held.Cart.Items)

	parked, err := f.svc.HeldCarts(f.cashier, "")
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, held.HoldID, parked[0].Key)

	_, err = f.svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 1})
	require.NoError(t, err)
	_, err = f.svc.ResumeCart(f.cashier, "", held.HoldID)
	requireCode(t, err, apperr.CodeConflict)

	_, err = f.svc.ClearCart(f.cashier, "")
	require.NoError(t, err)
	view, err := f.svc.ResumeCart(f.cashier, "", held.HoldID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 2, view.Items[0].Quantity)

	_, err = f.svc.ResumeCart(f.cashier, "", held.HoldID)
	requireCode(t, err, apperr.CodeNotFound)

	parked, err = f.svc.HeldCarts(f.cashier, "")
	require.NoError(t, err)
	assert.Empty(t, parked)
}

// flakyCatalog fails product lookups while failures is positive.
type flakyCatalog struct {
	*memory.Store
	failures int
}

func (c *flakyCatalog) FindProductByID(ctx context.Context, id string) (*domain.Product, error) {
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("catalog unreachable")
	}
	return c.Store.FindProductByID(ctx, id)
}

func TestResumeCartKeepsHoldWhenCatalogFails(t *testing.T) {
	f := newFixture(t)
	catalog := &flakyCatalog{Store: f.store}
	svc := New(catalog, cache.NewMemoryCartCache(), nil, nil, Options{Location: time.UTC})

	_, err := svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 2})
	require.NoError(t, err)
	held, err := svc.HoldCart(f.cashier, "")
	require.NoError(t, err)

	catalog.failures = 1
	_, err = svc.ResumeCart(f.cashier, "", held.HoldID)
	requireCode(t, err, apperr.CodeInternal)

	parked, err := svc.HeldCarts(f.cashier, "")
	require.NoError(t, err)
	require.Len(t, parked, 1)
	view, err := svc.Cart(f.cashier, "")
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	view, err = svc.ResumeCart(f.cashier, "", held.HoldID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 2, view.Items[0].Quantity)
}

func TestResumeCartFromOtherBranchIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddToCart(f.manager, "br-1", domain.CartItemRequest{ProductID: "p-tire", Quantity: 1})
	require.NoError(t, err)
	held, err := f.svc.HoldCart(f.manager, "br-1")
	require.NoError(t, err)

	_, err = f.svc.ResumeCart(f.manager, "br-2", held.HoldID)
	requireCode(t, err, apperr.CodeNotFound)

	parked, err := f.svc.HeldCarts(f.manager, "br-1")
	require.NoError(t, err)
	assert.Len(t, parked, 1)
}

func TestDiscardHeldCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 1})
	require.NoError(t, err)
	held, err := f.svc.HoldCart(f.cashier, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.DiscardHeldCart(f.cashier, "", held.HoldID))
	parked, err := f.svc.HeldCarts(f.cashier, "")
	require.NoError(t, err)
	assert.Empty(t, parked)

	err = f.svc.DiscardHeldCart(f.cashier, "", held.HoldID)
	requireCode(t, err, apperr.CodeNotFound)
	_, err = f.svc.ResumeCart(f.cashier, "", held.HoldID)
	requireCode(t, err, apperr.CodeNotFound)
}

func TestCartLineForProductMovedOffBranchCanBeRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 2})
	require.NoError(t, err)

	p, err := f.store.FindProductByID(ctx, "p-tire")
	require.NoError(t, err)
	p.BranchIDs = []string{"br-2"}
	_, err = f.store.UpdateProduct(ctx, *p)
	require.NoError(t, err)

	view, err := f.svc.DecrementCartItem(f.cashier, "", "p-tire")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 1, view.Items[0].Quantity)

	view, err = f.svc.SetCartQuantity(f.cashier, "", "p-tire", 0)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestIdleEmptySessionsAreSwept(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := New(f.store, cache.NewMemoryCartCache(), nil, nil, Options{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})

	_, err := svc.AddToCart(f.cashier, "", domain.CartItemRequest{ProductID: "p-tire", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.Cart(f.manager, "br-1")
	require.NoError(t, err)
	_, err = svc.Cart(f.manager, "br-2")
	require.NoError(t, err)
	require.Len(t, svc.sessions, 3)

	now = now.Add(2 * time.Hour)
	view, err := svc.Cart(f.cashier, "")
	require.NoError(t, err)
	assert.Len(t, view.Items, 1, "carts with lines survive the sweep")
	assert.Len(t, svc.sessions, 1)
}

func TestDashboardAndExport(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Dashboard(f.cashier, MetricParams{})
	requireCode(t, err, apperr.CodeForbidden)

	snap, err := f.svc.Dashboard(f.manager, MetricParams{})
	require.NoError(t, err)
	assert.True(t, snap.TotalStockValue.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, 1, snap.LowStock.Count)
	assert.Nil(t, snap.Errors)

	value, err := f.svc.Metric(f.manager, dashboard.MetricStockByStore, MetricParams{})
	require.NoError(t, err)
	require.Len(t, value.([]dashboard.StoreStock), 2)

	_, err = f.svc.Metric(f.manager, "profit", MetricParams{})
	requireCode(t, err, apperr.CodeNotFound)
	_, err = f.svc.Metric(f.manager, dashboard.MetricSalesGrowth, MetricParams{Period: "daily"})
	requireCode(t, err, apperr.CodeValidation)

	payload, err := f.svc.ExportDashboard(f.manager, MetricParams{})
	require.NoError(t, err)
	book, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer book.Close()
	assert.Contains(t, book.GetSheetList(), "Stock By Store")
	name, err := book.GetCellValue("Stock By Store", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Maseru Central", name)
}
