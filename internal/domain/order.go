package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentMobile PaymentMethod = "mobile"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentCard || m == PaymentMobile
}

// ParsePaymentMethod accepts any casing and surrounding whitespace.
func ParsePaymentMethod(value string) PaymentMethod {
	return PaymentMethod(strings.ToLower(strings.TrimSpace(value)))
}

const OrderStatusCompleted = "completed"

type OrderLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"order_number"`
	Items            []OrderLine     `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TotalDiscount    decimal.Decimal `json:"total_discount"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	BranchID         string          `json:"branch_id"`
	CashierID        string          `json:"cashier_id"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	AmountReceived   decimal.Decimal `json:"amount_received"`
	ChangeAmount     decimal.Decimal `json:"change_amount"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderLine(nil), o.Items...)
	return out
}

type OrderFilter struct {
	BranchID string
	From     *time.Time
	To       *time.Time
	// Limit <= 0 means no limit.
	Limit  int
	Newest bool
}

// Matches reports whether an order falls inside the filter. From is inclusive, To exclusive.
func (f OrderFilter) Matches(o Order) bool {
	if f.BranchID != "" && o.BranchID != f.BranchID {
		return false
	}
	if f.From != nil && o.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !o.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

type CartItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type QuantityRequest struct {
	Quantity int `json:"quantity"`
}

type DiscountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type CheckoutRequest struct {
	PaymentMethod    string          `json:"payment_method"`
	AmountReceived   decimal.Decimal `json:"amount_received"`
	PaymentReference string          `json:"payment_reference"`
}
