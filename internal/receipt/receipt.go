// Package receipt renders completed orders as plain text and ESC/POS bytes
// for a local printer bridge.
package receipt

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"tdpos/backend/internal/domain"
)

var (
	escInit   = []byte{0x1b, 0x40}
	escCut    = []byte{0x1d, 0x56, 0x41, 0x10}
	drawerPin = []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
)

const defaultWidth = 48

type Renderer struct {
	Company  string
	Currency string
	Width    int
	Location *time.Location
}

type Data struct {
	Order       domain.Order
	BranchName  string
	CashierName string
}

type Receipt struct {
	OrderID      string `json:"order_id"`
	OrderNumber  string `json:"order_number"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

type DrawerCommand struct {
	CommandBase64 string `json:"command_base64"`
	Note          string `json:"note"`
}

func (r Renderer) Render(d Data) Receipt {
	lines := r.Lines(d)
	return Receipt{
		OrderID:      d.Order.ID,
		OrderNumber:  d.Order.OrderNumber,
		EscposBase64: base64.StdEncoding.EncodeToString(Escpos(lines)),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fmt.Sprintf("receipt-%s.bin", d.Order.OrderNumber),
	}
}

// Lines lays the receipt out in fixed-width text.
func (r Renderer) Lines(d Data) []string {
	width := r.Width
	if width <= 0 {
		width = defaultWidth
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	o := d.Order
	heavy := strings.Repeat("=", width)
	light := strings.Repeat("-", width)

	lines := []string{
		center(r.Company, width),
		center(orUnknown(d.BranchName), width),
		heavy,
		truncate("Order: "+o.OrderNumber, width),
		truncate("Date: "+o.CreatedAt.In(loc).Format("2006-01-02 15:04"), width),
		truncate("Cashier: "+orUnknown(d.CashierName), width),
		truncate("Payment: "+strings.ToUpper(string(o.PaymentMethod)), width),
		light,
	}
	for _, item := range o.Items {
		name := item.ProductName
		if name == "" {
			name = item.ProductID
		}
		lines = append(lines, truncate(name, width))
		lines = append(lines, columns(fmt.Sprintf("  %d x %s", item.Quantity, r.money(item.Price)), r.money(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))), width))
		if item.Discount.IsPositive() {
			lines = append(lines, columns("  Discount", "-"+r.money(item.Discount), width))
		}
	}
	lines = append(lines,
		light,
		columns("Subtotal", r.money(o.Subtotal), width),
		columns("Discount", "-"+r.money(o.TotalDiscount), width),
		columns("TOTAL", r.money(o.TotalAmount), width),
	)
	if o.PaymentMethod == domain.PaymentCash {
		lines = append(lines,
			columns("Received", r.money(o.AmountReceived), width),
			columns("Change", r.money(o.ChangeAmount), width),
		)
	} else if o.PaymentReference != "" {
		lines = append(lines, columns("Reference", o.PaymentReference, width))
	}
	lines = append(lines,
		heavy,
		center("Thank you for your purchase!", width),
		"",
	)
	return lines
}

// Escpos wraps lines with printer init and a partial cut.
func Escpos(lines []string) []byte {
	out := append([]byte(nil), escInit...)
	for _, line := range lines {
		out = append(out, line...)
		out = append(out, '\n')
	}
	return append(out, escCut...)
}

// OpenDrawer returns the ESC/POS pulse on pin 2 that kicks the cash drawer.
func OpenDrawer() DrawerCommand {
	return DrawerCommand{
		CommandBase64: base64.StdEncoding.EncodeToString(drawerPin),
		Note:          "send through the local printer bridge to open the cash drawer",
	}
}

func (r Renderer) money(v decimal.Decimal) string {
	return r.Currency + v.StringFixed(2)
}

func columns(left, right string, width int) string {
	right = truncate(right, width)
	rw := utf8.RuneCountInString(right)
	if rw >= width-1 {
		return right
	}
	left = truncate(left, width-rw-1)
	gap := width - utf8.RuneCountInString(left) - rw
	return left + strings.Repeat(" ", gap) + right
}

func center(text string, width int) string {
	text = truncate(text, width)
	pad := (width - utf8.RuneCountInString(text)) / 2
	return strings.Repeat(" ", pad) + text
}

// truncate cuts text to at most width runes.
func truncate(text string, width int) string {
	if width <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= width {
		return text
	}
	runes := []rune(text)
	return string(runes[:width])
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "Unknown"
	}
	return v
}
