// Package cart holds the line items of one in-progress sale.
//
// A Cart has a single owner and does no locking. Stock-limit violations are
// reported as *StockWarning return values and leave the cart unchanged.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tdpos/backend/internal/xid"
)

// ProductSnapshot is the product data a line needs, captured when the line is touched.
type ProductSnapshot struct {
	ID        string          `json:"id"`
	Name      string          `json:"product_name"`
	Price     decimal.Decimal `json:"product_price"`
	Available int             `json:"available"`
}

type CartItem struct {
	ID       string          `json:"id"`
	Product  ProductSnapshot `json:"product"`
	Quantity int             `json:"quantity"`
	Discount decimal.Decimal `json:"discount"`
}

// Subtotal is price × quantity before discount.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i CartItem) Total() decimal.Decimal {
	return i.Subtotal().Sub(i.Discount)
}

type StockWarning struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

func (w *StockWarning) Message() string {
	if w == nil {
		return ""
	}
	return fmt.Sprintf("only %d of %s available in stock", w.Available, w.ProductName)
}

type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	Total         decimal.Decimal `json:"total"`
}

type Cart struct {
	items []CartItem
}

func New() *Cart {
	return &Cart{}
}

// AddItem adds qty units of p. A quantity below one counts as one. Products with
// no available stock are ignored.
func (c *Cart) AddItem(p ProductSnapshot, qty int) *StockWarning {
	if qty < 1 {
		qty = 1
	}
	if p.Available <= 0 {
		return nil
	}

	idx := c.indexOf(p.ID)
	if idx < 0 {
		if qty > p.Available {
			return warning(p, qty)
		}
		c.items = append(c.items, CartItem{
			ID:       xid.New("line"),
			Product:  p,
			Quantity: qty,
			Discount: decimal.Zero,
		})
		return nil
	}

	line := &c.items[idx]
	next := line.Quantity + qty
	if next > p.Available {
		return warning(p, next)
	}
	line.Product = p
	line.Quantity = next
	line.Discount = clamp(line.Discount, line.Subtotal())
	return nil
}

// RemoveItem deletes the line for productID if present.
func (c *Cart) RemoveItem(productID string) {
	idx := c.indexOf(productID)
	if idx < 0 {
		return
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
}

// SetQuantity sets the line quantity; qty <= 0 removes the line. Unknown products
// are ignored.
func (c *Cart) SetQuantity(productID string, qty int) *StockWarning {
	if qty <= 0 {
		c.RemoveItem(productID)
		return nil
	}
	idx := c.indexOf(productID)
	if idx < 0 {
		return nil
	}
	line := &c.items[idx]
	if qty > line.Product.Available {
		return warning(line.Product, qty)
	}
	line.Quantity = qty
	line.Discount = clamp(line.Discount, line.Subtotal())
	return nil
}

func (c *Cart) Increment(productID string) *StockWarning {
	idx := c.indexOf(productID)
	if idx < 0 {
		return nil
	}
	return c.SetQuantity(productID, c.items[idx].Quantity+1)
}

func (c *Cart) Decrement(productID string) *StockWarning {
	idx := c.indexOf(productID)
	if idx < 0 {
		return nil
	}
	return c.SetQuantity(productID, c.items[idx].Quantity-1)
}

// RefreshProduct replaces the snapshot of an existing line, e.g. after the
// catalog reports new stock. Quantity is kept.
func (c *Cart) RefreshProduct(p ProductSnapshot) {
	if idx := c.indexOf(p.ID); idx >= 0 {
		c.items[idx].Product = p
		c.items[idx].Discount = clamp(c.items[idx].Discount, c.items[idx].Subtotal())
	}
}

// ApplyLineDiscount sets an absolute discount on one line, clamped to [0, line subtotal].
func (c *Cart) ApplyLineDiscount(productID string, amount decimal.Decimal) {
	idx := c.indexOf(productID)
	if idx < 0 {
		return
	}
	c.items[idx].Discount = clamp(amount, c.items[idx].Subtotal())
}

// ApplyCartDiscount overwrites every line's discount with amount. The amount is
// not distributed across lines.
func (c *Cart) ApplyCartDiscount(amount decimal.Decimal) {
	for i := range c.items {
		c.items[i].Discount = clamp(amount, c.items[i].Subtotal())
	}
}

func (c *Cart) RemoveCartDiscount() {
	for i := range c.items {
		c.items[i].Discount = decimal.Zero
	}
}

func (c *Cart) Totals() Totals {
	return ComputeTotals(c.items)
}

// ComputeTotals sums line subtotals and discounts.
func ComputeTotals(items []CartItem) Totals {
	subtotal := decimal.Zero
	discount := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Subtotal())
		discount = discount.Add(item.Discount)
	}
	return Totals{
		Subtotal:      subtotal,
		TotalDiscount: discount,
		Total:         subtotal.Sub(discount),
	}
}

func (c *Cart) Clear() {
	c.items = nil
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []CartItem {
	return append([]CartItem(nil), c.items...)
}

func (c *Cart) Len() int {
	return len(c.items)
}

func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func (c *Cart) Snapshot() []CartItem {
	return c.Items()
}

// Restore replaces the cart contents with items, dropping lines without a
// positive quantity and re-clamping discounts.
func (c *Cart) Restore(items []CartItem) {
	c.items = c.items[:0]
	for _, item := range items {
		if item.Quantity <= 0 || item.Product.ID == "" {
			continue
		}
		if item.ID == "" {
			item.ID = xid.New("line")
		}
		item.Discount = clamp(item.Discount, item.Subtotal())
		c.items = append(c.items, item)
	}
}

func (c *Cart) indexOf(productID string) int {
	for i := range c.items {
		if c.items[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

func warning(p ProductSnapshot, requested int) *StockWarning {
	return &StockWarning{
		ProductID:   p.ID,
		ProductName: p.Name,
		Requested:   requested,
		Available:   p.Available,
	}
}

func clamp(amount decimal.Decimal, max decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(max) {
		return max
	}
	return amount
}
