package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryTire Category = "tire"
	CategoryBale Category = "bale"
)

func (c Category) Valid() bool {
	return c == CategoryTire || c == CategoryBale
}

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

func (g Grade) Valid() bool {
	return g == GradeA || g == GradeB || g == GradeC
}

var ErrAttributesMismatch = errors.New("product attributes do not match category")

// ProductAttributes is the category-specific attribute group of a product.
// TireAttributes and BaleAttributes are the only implementations.
type ProductAttributes interface {
	Category() Category
	// Missing lists required attribute fields that are empty.
	Missing() []string
	isProductAttributes()
}

type TireAttributes struct {
	Size           string `json:"tire_size"`
	Type           string `json:"tire_type"`
	LoadIndex      string `json:"load_index"`
	SpeedRating    string `json:"speed_rating"`
	WarrantyPeriod string `json:"warranty_period,omitempty"`
}

func (TireAttributes) Category() Category  { return CategoryTire }
func (TireAttributes) isProductAttributes() {}

func (a TireAttributes) Missing() []string {
	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"tire_size", a.Size},
		{"tire_type", a.Type},
		{"load_index", a.LoadIndex},
		{"speed_rating", a.SpeedRating},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

type BaleAttributes struct {
	Weight        decimal.Decimal `json:"bale_weight"`
	BaleCategory  string          `json:"bale_category"`
	OriginCountry string          `json:"origin_country"`
	ImportDate    *time.Time      `json:"import_date,omitempty"`
	PieceCount    int             `json:"bale_count,omitempty"`
}

func (BaleAttributes) Category() Category  { return CategoryBale }
func (BaleAttributes) isProductAttributes() {}

func (a BaleAttributes) Missing() []string {
	var missing []string
	if !a.Weight.IsPositive() {
		missing = append(missing, "bale_weight")
	}
	if strings.TrimSpace(a.BaleCategory) == "" {
		missing = append(missing, "bale_category")
	}
	if strings.TrimSpace(a.OriginCountry) == "" {
		missing = append(missing, "origin_country")
	}
	if a.PieceCount < 0 {
		missing = append(missing, "bale_count")
	}
	return missing
}

type Product struct {
	ID         string            `json:"id"`
	Name       string            `json:"product_name"`
	Price      decimal.Decimal   `json:"product_price"`
	Quantity   int               `json:"product_quantity"`
	Category   Category          `json:"category"`
	Commodity  string            `json:"commodity,omitempty"`
	Grade      Grade             `json:"grade"`
	Attributes ProductAttributes `json:"attributes"`
	BranchIDs  []string          `json:"branch_ids"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// CheckAttributes verifies the attribute variant belongs to the product category
// and carries every required field.
func (p Product) CheckAttributes() error {
	if p.Attributes == nil {
		return fmt.Errorf("%w: attributes required for %s", ErrAttributesMismatch, p.Category)
	}
	if p.Attributes.Category() != p.Category {
		return fmt.Errorf("%w: %s attributes on %s product", ErrAttributesMismatch, p.Attributes.Category(), p.Category)
	}
	if missing := p.Attributes.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrAttributesMismatch, strings.Join(missing, ", "))
	}
	return nil
}

// StockValue is price × quantity.
func (p Product) StockValue() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

func (p Product) AvailableIn(branchID string) bool {
	for _, id := range p.BranchIDs {
		if id == branchID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share slices with callers.
func (p Product) Clone() Product {
	out := p
	out.BranchIDs = append([]string(nil), p.BranchIDs...)
	if bale, ok := p.Attributes.(BaleAttributes); ok && bale.ImportDate != nil {
		d := *bale.ImportDate
		bale.ImportDate = &d
		out.Attributes = bale
	}
	return out
}

type productJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"product_name"`
	Price      decimal.Decimal `json:"product_price"`
	Quantity   int             `json:"product_quantity"`
	Category   Category        `json:"category"`
	Commodity  string          `json:"commodity,omitempty"`
	Grade      Grade           `json:"grade"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	BranchIDs  []string        `json:"branch_ids"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (p *Product) UnmarshalJSON(data []byte) error {
	var raw productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	attrs, err := DecodeAttributes(raw.Category, raw.Attributes)
	if err != nil {
		return err
	}
	*p = Product{
		ID:         raw.ID,
		Name:       raw.Name,
		Price:      raw.Price,
		Quantity:   raw.Quantity,
		Category:   raw.Category,
		Commodity:  raw.Commodity,
		Grade:      raw.Grade,
		Attributes: attrs,
		BranchIDs:  raw.BranchIDs,
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
	}
	return nil
}

// DecodeAttributes picks the attribute variant from the category discriminator.
func DecodeAttributes(category Category, raw json.RawMessage) (ProductAttributes, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch category {
	case CategoryTire:
		var tire TireAttributes
		if err := json.Unmarshal(raw, &tire); err != nil {
			return nil, err
		}
		return tire, nil
	case CategoryBale:
		var bale BaleAttributes
		if err := json.Unmarshal(raw, &bale); err != nil {
			return nil, err
		}
		return bale, nil
	default:
		return nil, fmt.Errorf("unknown product category %q", category)
	}
}

type ProductFilter struct {
	Category       Category
	BranchID       string
	QuantityBelow  *int
	QuantityAtMost *int
	UpdatedBefore  *time.Time
}

// Matches applies the filter to a product in memory.
func (f ProductFilter) Matches(p Product) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.BranchID != "" && !p.AvailableIn(f.BranchID) {
		return false
	}
	if f.QuantityBelow != nil && p.Quantity >= *f.QuantityBelow {
		return false
	}
	if f.QuantityAtMost != nil && p.Quantity > *f.QuantityAtMost {
		return false
	}
	if f.UpdatedBefore != nil && p.UpdatedAt.After(*f.UpdatedBefore) {
		return false
	}
	return true
}

type ProductRequest struct {
	Name       string            `json:"product_name" validate:"required,min=2"`
	Price      decimal.Decimal   `json:"product_price"`
	Quantity   int               `json:"product_quantity" validate:"gte=0"`
	Category   Category          `json:"category" validate:"required,oneof=tire bale"`
	Commodity  string            `json:"commodity"`
	Grade      Grade             `json:"grade" validate:"required,oneof=A B C"`
	Attributes ProductAttributes `json:"-"`
	BranchIDs  []string          `json:"branch_ids" validate:"required,min=1,dive,required"`
}

type productRequestJSON struct {
	Name       string          `json:"product_name"`
	Price      decimal.Decimal `json:"product_price"`
	Quantity   int             `json:"product_quantity"`
	Category   Category        `json:"category"`
	Commodity  string          `json:"commodity"`
	Grade      Grade           `json:"grade"`
	Attributes json.RawMessage `json:"attributes"`
	BranchIDs  []string        `json:"branch_ids"`
}

func (r *ProductRequest) UnmarshalJSON(data []byte) error {
	var raw productRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	attrs, err := DecodeAttributes(raw.Category, raw.Attributes)
	if err != nil {
		return err
	}
	*r = ProductRequest{
		Name:       raw.Name,
		Price:      raw.Price,
		Quantity:   raw.Quantity,
		Category:   raw.Category,
		Commodity:  raw.Commodity,
		Grade:      raw.Grade,
		Attributes: attrs,
		BranchIDs:  raw.BranchIDs,
	}
	return nil
}
