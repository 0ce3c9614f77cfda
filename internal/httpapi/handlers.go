package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/dashboard"
	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many login attempts", Code: "RATE_LIMITED", Retryable: true})
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := service.Validate(req); err != nil {
		a.writeError(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), a.service, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	employee, err := a.service.GetEmployee(r.Context(), actor.EmployeeID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employee": employee})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.service.ChangePassword(r.Context(), req); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Branches.

func (a *API) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := a.service.ListBranches(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (a *API) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	branch, err := a.service.GetBranch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch": branch})
}

func (a *API) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req domain.BranchRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	branch, err := a.service.CreateBranch(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"branch": branch})
}

func (a *API) handleUpdateBranch(w http.ResponseWriter, r *http.Request) {
	var req domain.BranchRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	branch, err := a.service.UpdateBranch(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch": branch})
}

func (a *API) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteBranch(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Products.

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ProductFilter{
		Category: domain.Category(strings.ToLower(strings.TrimSpace(query.Get("category")))),
		BranchID: strings.TrimSpace(query.Get("branch_id")),
	}
	products, err := a.service.ListProducts(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Employees.

func (a *API) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := a.service.ListEmployees(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": employees})
}

func (a *API) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
	employee, err := a.service.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employee": employee})
}

func (a *API) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req domain.EmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	employee, err := a.service.CreateEmployee(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"employee": employee})
}

func (a *API) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
	var req domain.EmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	employee, err := a.service.UpdateEmployee(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employee": employee})
}

func (a *API) handleDeleteEmployee(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteEmployee(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Point of sale. Every cart route takes the branch from ?branch_id and falls
// back to the actor's home branch.

func branchParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("branch_id"))
}

func (a *API) writeCart(w http.ResponseWriter, r *http.Request, view service.CartView, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.Cart(r.Context(), branchParam(r))
	a.writeCart(w, r, view, err)
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.ClearCart(r.Context(), branchParam(r))
	a.writeCart(w, r, view, err)
}

func (a *API) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req domain.CartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.AddToCart(r.Context(), branchParam(r), req)
	a.writeCart(w, r, view, err)
}

func (a *API) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.QuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.SetCartQuantity(r.Context(), branchParam(r), chi.URLParam(r, "productID"), req.Quantity)
	a.writeCart(w, r, view, err)
}

func (a *API) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemoveFromCart(r.Context(), branchParam(r), chi.URLParam(r, "productID"))
	a.writeCart(w, r, view, err)
}

func (a *API) handleIncrement(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.IncrementCartItem(r.Context(), branchParam(r), chi.URLParam(r, "productID"))
	a.writeCart(w, r, view, err)
}

func (a *API) handleDecrement(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.DecrementCartItem(r.Context(), branchParam(r), chi.URLParam(r, "productID"))
	a.writeCart(w, r, view, err)
}

func (a *API) handleLineDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.ApplyLineDiscount(r.Context(), branchParam(r), chi.URLParam(r, "productID"), req.Amount)
	a.writeCart(w, r, view, err)
}

func (a *API) handleCartDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.service.ApplyCartDiscount(r.Context(), branchParam(r), req.Amount)
	a.writeCart(w, r, view, err)
}

func (a *API) handleRemoveCartDiscount(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemoveCartDiscount(r.Context(), branchParam(r))
	a.writeCart(w, r, view, err)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.service.Checkout(r.Context(), branchParam(r), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleHoldCart(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.HoldCart(r.Context(), branchParam(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleHeldCarts(w http.ResponseWriter, r *http.Request) {
	held, err := a.service.HeldCarts(r.Context(), branchParam(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"held": held})
}

func (a *API) handleResumeCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.ResumeCart(r.Context(), branchParam(r), chi.URLParam(r, "holdID"))
	a.writeCart(w, r, view, err)
}

func (a *API) handleDiscardHeldCart(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DiscardHeldCart(r.Context(), branchParam(r), chi.URLParam(r, "holdID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOpenDrawer(w http.ResponseWriter, r *http.Request) {
	cmd, err := a.service.OpenCashDrawer(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// Orders.

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var orders []domain.Order
	if branchID := branchParam(r); branchID != "" {
		orders, err = a.service.ListOrdersByBranch(r.Context(), branchID, limit)
	} else {
		orders, err = a.service.ListOrders(r.Context(), limit)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := a.service.Receipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Dashboard.

func metricParams(r *http.Request) (service.MetricParams, error) {
	var (
		params service.MetricParams
		err    error
	)
	if params.Days, err = queryInt(r, "days"); err != nil {
		return params, err
	}
	if params.Threshold, err = queryInt(r, "threshold"); err != nil {
		return params, err
	}
	if params.Limit, err = queryInt(r, "limit"); err != nil {
		return params, err
	}
	params.Period = dashboard.Period(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("period"))))
	return params, nil
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	params, err := metricParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	snap, err := a.service.Dashboard(r.Context(), params)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleMetric(w http.ResponseWriter, r *http.Request) {
	params, err := metricParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	name := chi.URLParam(r, "metric")
	value, err := a.service.Metric(r.Context(), name, params)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metric": name, "value": value})
}

func (a *API) handleExportDashboard(w http.ResponseWriter, r *http.Request) {
	params, err := metricParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	data, err := a.service.ExportDashboard(r.Context(), params)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if len(data) == 0 {
		a.writeError(w, r, apperr.New(apperr.CodeInternal, "empty export"))
		return
	}
	fileName := fmt.Sprintf("dashboard-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", service.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
