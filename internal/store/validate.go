package store

import (
	"fmt"
	"strings"

	"tdpos/backend/internal/domain"
)

// ValidateProduct is the write-time check shared by every backend.
func ValidateProduct(p domain.Product) error {
	if strings.TrimSpace(p.Name) == "" || p.Price.IsNegative() || p.Quantity < 0 {
		return ErrInvalid
	}
	if len(p.BranchIDs) == 0 {
		return ErrInvalid
	}
	if err := p.CheckAttributes(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ValidateOrderLines sums requested quantity per product, rejecting empty
// orders and non-positive lines.
func ValidateOrderLines(order domain.Order) (map[string]int, error) {
	if len(order.Items) == 0 {
		return nil, ErrInvalid
	}
	demand := make(map[string]int, len(order.Items))
	for _, line := range order.Items {
		if line.Quantity < 1 || line.ProductID == "" {
			return nil, ErrInvalid
		}
		demand[line.ProductID] += line.Quantity
	}
	return demand, nil
}
