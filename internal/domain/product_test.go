package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestProductJSONPicksAttributesByCategory(t *testing.T) {
	payload := `{
		"id": "prd-1",
		"product_name": "Bridgestone 205/55R16",
		"product_price": "1250.00",
		"product_quantity": 4,
		"category": "tire",
		"grade": "A",
		"attributes": {"tire_size": "205/55R16", "tire_type": "All Season", "load_index": "91", "speed_rating": "V"},
		"branch_ids": ["br-1"]
	}`

	var p Product
	require.NoError(t, json.Unmarshal([]byte(payload), &p))
	tire, ok := p.Attributes.(TireAttributes)
	require.True(t, ok, "expected tire attributes, got %T", p.Attributes)
	require.Equal(t, "V", tire.SpeedRating)
	require.NoError(t, p.CheckAttributes())
	require.True(t, p.StockValue().Equal(decimal.NewFromInt(5000)))

	encoded, err := json.Marshal(p)
	require.NoError(t, err)
	var back Product
	require.NoError(t, json.Unmarshal(encoded, &back))
	require.Equal(t, tire, back.Attributes)
}

func TestCheckAttributesRejectsMismatchAndMissingFields(t *testing.T) {
	p := Product{Category: CategoryBale, Attributes: TireAttributes{Size: "x", Type: "y", LoadIndex: "1", SpeedRating: "H"}}
	require.ErrorIs(t, p.CheckAttributes(), ErrAttributesMismatch)

	p.Attributes = BaleAttributes{BaleCategory: "Mixed"}
	err := p.CheckAttributes()
	require.ErrorIs(t, err, ErrAttributesMismatch)
	require.Contains(t, err.Error(), "bale_weight")
	require.Contains(t, err.Error(), "origin_country")

	p.Attributes = nil
	require.Error(t, p.CheckAttributes())
}

func TestDecodeAttributesUnknownCategory(t *testing.T) {
	_, err := DecodeAttributes("shoes", json.RawMessage(`{"a":1}`))
	require.Error(t, err)
}

func TestOrderFilterBounds(t *testing.T) {
	o := Order{BranchID: "br-1"}
	require.True(t, OrderFilter{}.Matches(o))
	require.False(t, OrderFilter{BranchID: "br-2"}.Matches(o))
	require.Equal(t, PaymentCard, ParsePaymentMethod("  CARD "))
	require.False(t, ParsePaymentMethod("cheque").Valid())
}
