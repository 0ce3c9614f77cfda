// Package checkout validates a payment against a cart and turns it into a
// persisted order.
package checkout

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/cart"
	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
	"tdpos/backend/internal/xid"
)

type OrderWriter interface {
	InsertOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
}

type PaymentRequest struct {
	Items          []cart.CartItem
	BranchID       string
	CashierID      string
	Method         domain.PaymentMethod
	AmountReceived decimal.Decimal
	Reference      string
}

type Assembler struct {
	orders OrderWriter
	now    func() time.Time

	mu  sync.Mutex
	rnd xid.IntSource
}

type Option func(*Assembler)

func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

// WithRandom sets the source for the order number suffix.
func WithRandom(src xid.IntSource) Option {
	return func(a *Assembler) {
		if src != nil {
			a.rnd = src
		}
	}
}

func NewAssembler(orders OrderWriter, opts ...Option) *Assembler {
	a := &Assembler{
		orders: orders,
		now:    time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Validate runs the payment rules in order and returns the first failure.
func Validate(req PaymentRequest, total decimal.Decimal) error {
	if len(req.Items) == 0 {
		return apperr.New(apperr.CodeEmptyCart, "cart is empty")
	}
	if strings.TrimSpace(req.BranchID) == "" || strings.TrimSpace(req.CashierID) == "" {
		return apperr.New(apperr.CodeMissingContext, "branch and cashier are required")
	}
	if !req.Method.Valid() {
		return apperr.New(apperr.CodeMissingPaymentMethod, "payment method must be cash, card or mobile")
	}
	if req.Method == domain.PaymentCash && req.AmountReceived.LessThan(total) {
		return apperr.New(apperr.CodeInsufficientPayment, "amount received is less than the total").
			WithDetails(map[string]string{"total": total.StringFixed(2), "received": req.AmountReceived.StringFixed(2)})
	}
	if req.Method != domain.PaymentCash && strings.TrimSpace(req.Reference) == "" {
		return apperr.New(apperr.CodeMissingReference, "reference number is required")
	}
	return nil
}

// SubmitPayment validates req, builds the order and persists it. Validation
// failures never reach the store. The returned order is a copy owned by the caller.
func (a *Assembler) SubmitPayment(ctx context.Context, req PaymentRequest) (domain.Order, error) {
	totals := cart.ComputeTotals(req.Items)
	if err := Validate(req, totals.Total); err != nil {
		return domain.Order{}, err
	}

	received, change := settle(req.Method, req.AmountReceived, totals.Total)
	now := a.now()

	order := domain.Order{
		OrderNumber:    a.orderNumber(now),
		Items:          orderLines(req.Items),
		Subtotal:       totals.Subtotal,
		TotalDiscount:  totals.TotalDiscount,
		TotalAmount:    totals.Total,
		BranchID:       strings.TrimSpace(req.BranchID),
		CashierID:      strings.TrimSpace(req.CashierID),
		PaymentMethod:  req.Method,
		AmountReceived: received,
		ChangeAmount:   change,
		Status:         domain.OrderStatusCompleted,
		CreatedAt:      now,
	}
	if req.Method != domain.PaymentCash {
		order.PaymentReference = strings.TrimSpace(req.Reference)
	}

	saved, err := a.orders.InsertOrder(ctx, order)
	if err != nil {
		msg := "failed to save order"
		if errors.Is(err, store.ErrInsufficientStock) {
			msg = "stock changed before the order could be saved"
		}
		return domain.Order{}, apperr.Wrap(apperr.CodePersistence, err, msg)
	}
	if saved == nil {
		return domain.Order{}, apperr.New(apperr.CodePersistence, "store returned no order")
	}
	return saved.Clone(), nil
}

// settle returns the recorded amount received and the change due. Card and
// mobile payments without an amount are recorded as exact.
func settle(method domain.PaymentMethod, received decimal.Decimal, total decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if method != domain.PaymentCash && !received.IsPositive() {
		return total, decimal.Zero
	}
	change := received.Sub(total)
	if change.IsNegative() {
		change = decimal.Zero
	}
	return received, change
}

func orderLines(items []cart.CartItem) []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.OrderLine{
			ProductID:   item.Product.ID,
			ProductName: item.Product.Name,
			Quantity:    item.Quantity,
			Price:       item.Product.Price,
			Discount:    item.Discount,
			Subtotal:    item.Total(),
		})
	}
	return lines
}

func (a *Assembler) orderNumber(now time.Time) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return xid.OrderNumber(now, a.rnd)
}
