package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
)

const (
	DefaultAdminPassword   = "admin123"
	DefaultCashierPassword = "cashier123"
)

type SeedCredentials struct {
	AdminPassword   string
	CashierPassword string
}

// UsesDefaults reports whether either seed password falls back to the dev default.
func (c SeedCredentials) UsesDefaults() bool {
	return c.AdminPassword == "" || c.CashierPassword == ""
}

// NewSeeded returns a store holding two branches, a handful of tires and bales,
// and admin, manager and cashier accounts for local runs.
func NewSeeded(creds SeedCredentials, opts ...Option) (*Store, error) {
	s := New(opts...)
	if err := Seed(context.Background(), s, creds); err != nil {
		return nil, err
	}
	return s, nil
}

// Seed writes the demo catalog and accounts into any catalog store. A store
// that already has employees is left untouched.
func Seed(ctx context.Context, s store.CatalogStore, creds SeedCredentials) error {
	existing, err := s.FindEmployees(ctx)
	if err != nil {
		return fmt.Errorf("seed check: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	adminPwd := creds.AdminPassword
	if adminPwd == "" {
		adminPwd = DefaultAdminPassword
	}
	cashierPwd := creds.CashierPassword
	if cashierPwd == "" {
		cashierPwd = DefaultCashierPassword
	}

	maseru, err := s.CreateBranch(ctx, domain.Branch{ID: "br-maseru", Name: "TD Maseru Central", Location: "Maseru"})
	if err != nil {
		return fmt.Errorf("seed branch: %w", err)
	}
	leribe, err := s.CreateBranch(ctx, domain.Branch{ID: "br-leribe", Name: "TD Hlotse", Location: "Leribe"})
	if err != nil {
		return fmt.Errorf("seed branch: %w", err)
	}

	imported := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	products := []domain.Product{
		{
			ID: "prd-tire-205", Name: "Bridgestone Turanza 205/55R16", Price: decimal.NewFromInt(1450), Quantity: 24,
			Category: domain.CategoryTire, Grade: domain.GradeA, Commodity: "Passenger",
			Attributes: domain.TireAttributes{Size: "205/55R16", Type: "All Season", LoadIndex: "91", SpeedRating: "V", WarrantyPeriod: "2 years"},
			BranchIDs:  []string{maseru.ID, leribe.ID},
		},
		{
			ID: "prd-tire-195", Name: "Dunlop SP Touring 195/65R15", Price: decimal.NewFromInt(980), Quantity: 6,
			Category: domain.CategoryTire, Grade: domain.GradeB, Commodity: "Passenger",
			Attributes: domain.TireAttributes{Size: "195/65R15", Type: "Summer", LoadIndex: "91", SpeedRating: "H"},
			BranchIDs:  []string{maseru.ID},
		},
		{
			ID: "prd-tire-265", Name: "Goodyear Wrangler 265/65R17", Price: decimal.NewFromInt(2650), Quantity: 0,
			Category: domain.CategoryTire, Grade: domain.GradeA, Commodity: "4x4",
			Attributes: domain.TireAttributes{Size: "265/65R17", Type: "All Terrain", LoadIndex: "112", SpeedRating: "T", WarrantyPeriod: "3 years"},
			BranchIDs:  []string{leribe.ID},
		},
		{
			ID: "prd-bale-mixed", Name: "Mixed Winter Clothing Bale", Price: decimal.NewFromInt(3200), Quantity: 12,
			Category: domain.CategoryBale, Grade: domain.GradeA, Commodity: "Clothing",
			Attributes: domain.BaleAttributes{Weight: decimal.NewFromInt(45), BaleCategory: "Winter Mix", OriginCountry: "United Kingdom", ImportDate: &imported, PieceCount: 180},
			BranchIDs:  []string{maseru.ID, leribe.ID},
		},
		{
			ID: "prd-bale-shoes", Name: "Sports Shoes Bale", Price: decimal.NewFromInt(4100), Quantity: 3,
			Category: domain.CategoryBale, Grade: domain.GradeB, Commodity: "Footwear",
			Attributes: domain.BaleAttributes{Weight: decimal.NewFromInt(25), BaleCategory: "Shoes", OriginCountry: "Canada", PieceCount: 60},
			BranchIDs:  []string{leribe.ID},
		},
	}
	for _, p := range products {
		if _, err := s.CreateProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}

	for _, u := range []struct {
		id       string
		first    string
		last     string
		email    string
		role     domain.Role
		branchID string
		password string
	}{
		{"emp-admin", "Thabo", "Mokoena", "admin@tdholdings.co.ls", domain.RoleAdmin, "", adminPwd},
		{"emp-manager", "Lineo", "Ramatla", "manager@tdholdings.co.ls", domain.RoleManager, maseru.ID, adminPwd},
		{"emp-cashier", "Palesa", "Nthako", "cashier@tdholdings.co.ls", domain.RoleCashier, maseru.ID, cashierPwd},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash seed password for %s: %w", u.email, err)
		}
		if _, err := s.CreateEmployee(ctx, domain.Employee{
			ID:           u.id,
			FirstName:    u.first,
			LastName:     u.last,
			Email:        u.email,
			Role:         u.role,
			BranchID:     u.branchID,
			PasswordHash: string(hash),
		}); err != nil {
			return fmt.Errorf("seed employee %s: %w", u.email, err)
		}
	}
	return nil
}
