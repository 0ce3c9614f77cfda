package receipt

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tdpos/backend/internal/domain"
)

func sampleOrder(method domain.PaymentMethod) domain.Order {
	return domain.Order{
		ID:          "ord-1",
		OrderNumber: "ORD-123456-042",
		Items: []domain.OrderLine{{
			ProductID: "p1", ProductName: "Bridgestone Turanza 205/55R16", Quantity: 2,
			Price: decimal.NewFromInt(100), Discount: decimal.NewFromInt(50), Subtotal: decimal.NewFromInt(150),
		}},
		Subtotal:         decimal.NewFromInt(200),
		TotalDiscount:    decimal.NewFromInt(50),
		TotalAmount:      decimal.NewFromInt(150),
		PaymentMethod:    method,
		AmountReceived:   decimal.NewFromInt(200),
		ChangeAmount:     decimal.NewFromInt(50),
		PaymentReference: "TXN-77",
		CreatedAt:        time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRenderCashReceipt(t *testing.T) {
	r := Renderer{Company: "TD Holdings", Currency: "M", Width: 32}
	got := r.Render(Data{Order: sampleOrder(domain.PaymentCash), BranchName: "Maseru", CashierName: "Palesa Nthako"})

	require.Contains(t, got.PreviewText, "Order: ORD-123456-042")
	require.Contains(t, got.PreviewText, "Cashier: Palesa Nthako")
	require.Contains(t, got.PreviewText, "M150.00")
	require.Contains(t, got.PreviewText, "Change")
	require.NotContains(t, got.PreviewText, "TXN-77")
	for _, line := range strings.Split(got.PreviewText, "\n") {
		require.LessOrEqual(t, len(line), 32, "line %q exceeds width", line)
	}

	raw, err := base64.StdEncoding.DecodeString(got.EscposBase64)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte{0x1b, 0x40}))
	require.True(t, bytes.HasSuffix(raw, []byte{0x1d, 0x56, 0x41, 0x10}))
	require.Equal(t, "receipt-ORD-123456-042.bin", got.FileName)
}

func TestRenderCardReceiptShowsReference(t *testing.T) {
	r := Renderer{Company: "TD Holdings", Currency: "M"}
	got := r.Render(Data{Order: sampleOrder(domain.PaymentCard)})

	require.Contains(t, got.PreviewText, "TXN-77")
	require.NotContains(t, got.PreviewText, "Received")
	require.Contains(t, got.PreviewText, "Cashier: Unknown")
}

func TestOpenDrawerCommand(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString(OpenDrawer().CommandBase64)
	require.NoError(t, err)
	require.Equal(t, []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}, raw)
}

func TestRenderKeepsMultibyteNamesValidAndWithinWidth(t *testing.T) {
	order := sampleOrder(domain.PaymentMobile)
	order.Items[0].ProductName = "Ts'ébéletso Bale - Mokhotlong ñandú éé"
	order.PaymentReference = strings.Repeat("R", 60)

	r := Renderer{Company: "TD Holdings", Currency: "M", Width: 24}
	got := r.Render(Data{Order: order, BranchName: "Qacha's Nek ééééééééééééééééé"})

	require.True(t, utf8.ValidString(got.PreviewText))
	for _, line := range strings.Split(got.PreviewText, "\n") {
		require.LessOrEqual(t, utf8.RuneCountInString(line), 24, "line %q exceeds width", line)
	}
}

func TestColumnsCapsLongRightSide(t *testing.T) {
	require.Equal(t, "Total      M10", columns("Total", "M10", 14))
	require.Equal(t, strings.Repeat("x", 10), columns("Reference", strings.Repeat("x", 30), 10))
	require.Equal(t, "ébé xyz", columns("ébélé", "xyz", 7))
}
