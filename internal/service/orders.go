package service

import (
	"context"
	"strings"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/receipt"
)

const (
	DefaultOrderLimit = 50
	maxOrderLimit     = 500
)

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.orders.FindOrderByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, storeError(err, "order")
	}
	if !actor.CanManage() && order.CashierID != actor.EmployeeID {
		return domain.Order{}, apperr.New(apperr.CodeForbidden, "cashiers can only view their own orders")
	}
	return *order, nil
}

// ListOrdersByBranch returns the newest orders of a branch.
func (s *Service) ListOrdersByBranch(ctx context.Context, branchID string, limit int) ([]domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		return nil, fieldError("branch_id", "is required")
	}
	if !actor.CanManage() && actor.BranchID != branchID {
		return nil, apperr.New(apperr.CodeForbidden, "cannot view orders of another branch")
	}
	orders, err := s.orders.FindOrders(ctx, domain.OrderFilter{BranchID: branchID, Limit: clampLimit(limit), Newest: true})
	return orders, storeError(err, "order")
}

func (s *Service) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if _, err := requireManager(ctx); err != nil {
		return nil, err
	}
	orders, err := s.orders.FindOrders(ctx, domain.OrderFilter{Limit: clampLimit(limit), Newest: true})
	return orders, storeError(err, "order")
}

func (s *Service) Receipt(ctx context.Context, orderID string) (receipt.Receipt, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return receipt.Receipt{}, err
	}
	return s.renderReceipt(ctx, order), nil
}

func (s *Service) OpenCashDrawer(ctx context.Context) (receipt.DrawerCommand, error) {
	if _, err := requireActor(ctx); err != nil {
		return receipt.DrawerCommand{}, err
	}
	return receipt.OpenDrawer(), nil
}

// renderReceipt resolves branch and cashier names; lookups that fail fall
// back to "Unknown" rather than failing the receipt.
func (s *Service) renderReceipt(ctx context.Context, order domain.Order) receipt.Receipt {
	data := receipt.Data{Order: order}
	if branch, err := s.catalog.FindBranchByID(ctx, order.BranchID); err == nil {
		data.BranchName = branch.Name
	}
	if cashier, err := s.catalog.FindEmployeeByID(ctx, order.CashierID); err == nil {
		data.CashierName = cashier.FullName()
	}
	return s.receipts.Render(data)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultOrderLimit
	}
	if limit > maxOrderLimit {
		return maxOrderLimit
	}
	return limit
}
