package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/cache"
	"tdpos/backend/internal/cart"
	"tdpos/backend/internal/checkout"
	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/receipt"
	"tdpos/backend/internal/store"
	"tdpos/backend/internal/xid"
)

// sessionKey identifies one cashier working at one branch.
type sessionKey struct {
	cashierID string
	branchID  string
}

// session serializes access to the cart it owns. lastUsed is guarded by
// Service.sessionsMu.
type session struct {
	mu       sync.Mutex
	cart     *cart.Cart
	lastUsed time.Time
}

const (
	sessionIdleTTL    = time.Hour
	sessionSweepEvery = 10 * time.Minute
)

type CartView struct {
	BranchID string             `json:"branch_id"`
	Items    []cart.CartItem    `json:"items"`
	Totals   cart.Totals        `json:"totals"`
	Warning  *cart.StockWarning `json:"warning,omitempty"`
}

type CheckoutResult struct {
	Order   domain.Order    `json:"order"`
	Receipt receipt.Receipt `json:"receipt"`
}

type HoldResult struct {
	HoldID string   `json:"hold_id"`
	Cart   CartView `json:"cart"`
}

func (s *Service) session(ctx context.Context, branchID string) (*session, sessionKey, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, sessionKey{}, err
	}
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		branchID = actor.BranchID
	}
	if branchID == "" {
		return nil, sessionKey{}, apperr.New(apperr.CodeMissingContext, "branch is required")
	}
	if actor.Role == domain.RoleCashier && actor.BranchID != "" && actor.BranchID != branchID {
		return nil, sessionKey{}, apperr.New(apperr.CodeForbidden, "cashiers can only sell at their own branch")
	}

	key := sessionKey{cashierID: actor.EmployeeID, branchID: branchID}
	now := s.opts.Now()
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if now.Sub(s.lastSweep) >= sessionSweepEvery {
		s.sweepSessions(now)
	}
	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{cart: cart.New()}
		s.sessions[key] = sess
	}
	sess.lastUsed = now
	return sess, key, nil
}

// sweepSessions drops idle sessions whose cart is empty. Sessions busy in
// another request are left alone. Callers hold sessionsMu.
func (s *Service) sweepSessions(now time.Time) {
	s.lastSweep = now
	for key, sess := range s.sessions {
		if now.Sub(sess.lastUsed) < sessionIdleTTL || !sess.mu.TryLock() {
			continue
		}
		if sess.cart.IsEmpty() {
			delete(s.sessions, key)
		}
		sess.mu.Unlock()
	}
}

func view(key sessionKey, c *cart.Cart, warning *cart.StockWarning) CartView {
	return CartView{
		BranchID: key.branchID,
		Items:    c.Items(),
		Totals:   c.Totals(),
		Warning:  warning,
	}
}

func (s *Service) Cart(ctx context.Context, branchID string) (CartView, error) {
	sess, key, err := s.session(ctx, branchID)
	if err != nil {
		return CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return view(key, sess.cart, nil), nil
}

// AddToCart resolves the product from the catalog so the stock guard sees
// live availability.
func (s *Service) AddToCart(ctx context.Context, branchID string, req domain.CartItemRequest) (CartView, error) {
	if err := Validate(req); err != nil {
		return CartView{}, err
	}
	sess, key, err := s.session(ctx, branchID)
	if err != nil {
		return CartView{}, err
	}
	snapshot, err := s.productSnapshot(ctx, key.branchID, req.ProductID)
	if err != nil {
		return CartView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	warning := sess.cart.AddItem(snapshot, req.Quantity)
	s.noteWarning(warning)
	return view(key, sess.cart, warning), nil
}

func (s *Service) SetCartQuantity(ctx context.Context, branchID, productID string, qty int) (CartView, error) {
	return s.mutateLine(ctx, branchID, productID, func(c *cart.Cart) *cart.StockWarning {
		return c.SetQuantity(productID, qty)
	})
}

func (s *Service) IncrementCartItem(ctx context.Context, branchID, productID string) (CartView, error) {
	return s.mutateLine(ctx, branchID, productID, func(c *cart.Cart) *cart.StockWarning {
		return c.Increment(productID)
	})
}

func (s *Service) DecrementCartItem(ctx context.Context, branchID, productID string) (CartView, error) {
	return s.mutateLine(ctx, branchID, productID, func(c *cart.Cart) *cart.StockWarning {
		return c.Decrement(productID)
	})
}

// mutateLine refreshes the line's stock figure before applying fn.
func (s *Service) mutateLine(ctx context.Context, branchID, productID string, fn func(*cart.Cart) *cart.StockWarning) (CartView, error) {
	sess, key, err := s.session(ctx, branchID)
	if err != nil {
		return CartView{}, err
	}
	// A product deleted or moved off this branch can still be reduced or removed.
	snapshot, err := s.productSnapshot(ctx, key.branchID, productID)
	if err != nil && !apperr.Is(err, apperr.CodeNotFound) && !apperr.Is(err, apperr.CodeValidation) {
		return CartView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err == nil {
		sess.cart.RefreshProduct(snapshot)
	}
	warning := fn(sess.cart)
	s.noteWarning(warning)
	return view(key, sess.cart, warning), nil
}

func (s *Service) RemoveFromCart(ctx context.Context, branchID, productID string) (CartView, error) {
	return s.withCart(ctx, branchID, func(c *cart.Cart) { c.RemoveItem(productID) })
}

func (s *Service) ApplyLineDiscount(ctx context.Context, branchID, productID string, amount decimal.Decimal) (CartView, error) {
	return s.withCart(ctx, branchID, func(c *cart.Cart) { c.ApplyLineDiscount(productID, amount) })
}

func (s *Service) ApplyCartDiscount(ctx context.Context, branchID string, amount decimal.Decimal) (CartView, error) {
	return s.withCart(ctx, branchID, func(c *cart.Cart) { c.ApplyCartDiscount(amount) })
}

func (s *Service) RemoveCartDiscount(ctx context.Context, branchID string) (CartView, error) {
	return s.withCart(ctx, branchID, func(c *cart.Cart) { c.RemoveCartDiscount() })
}

func (s *Service) ClearCart(ctx context.Context, branchID string) (CartView, error) {
	return s.withCart(ctx, branchID, func(c *cart.Cart) { c.Clear() })
}

func (s *Service) withCart(ctx context.Context, branchID string, fn func(*cart.Cart)) (CartView, error) {
	sess, key, err := s.session(ctx, branchID)
	if err != nil {
		return CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	fn(sess.cart)
	return view(key, sess.cart, nil), nil
}

// Checkout submits the session cart and clears it only once the order is stored.
func (s *Service) Checkout(ctx context.Context, branchID string, req domain.CheckoutRequest) (CheckoutResult, error) {
	sess, key, err := s.session(ctx, branchID)
	if err != nil {
		return CheckoutResult{}, err
	}
	method := domain.ParsePaymentMethod(req.PaymentMethod)
	ctx = s.log.WithFields(ctx, map[string]any{"cashier_id": key.cashierID, "branch_id": key.branchID, "method": string(method)})

	sess.mu.Lock()
	defer sess.mu.Unlock()

	order, err := s.assembler.SubmitPayment(ctx, checkout.PaymentRequest{
		Items:          sess.cart.Items(),
		BranchID:       key.branchID,
		CashierID:      key.cashierID,
		Method:         method,
		AmountReceived: req.AmountReceived,
		Reference:      req.PaymentReference,
	})
	if err != nil {
		code := apperr.As(err).Code()
		s.metrics.ObserveCheckout(string(method), string(code))
		if code == apperr.CodePersistence {
			s.log.Error(ctx, "checkout persistence failed", err)
		} else {
			s.log.Info(ctx, "checkout rejected: "+string(code))
		}
		return CheckoutResult{}, err
	}

	sess.cart.Clear()
	s.metrics.ObserveCheckout(string(method), "ok")
	s.metrics.AddSales(order.BranchID, order.TotalAmount.InexactFloat64())
	s.log.Info(s.log.WithField(ctx, "order_number", order.OrderNumber), "order completed")

	return CheckoutResult{Order: order, Receipt: s.renderReceipt(ctx, order)}, nil
}

// HoldCart parks the session cart in the cart cache and empties the session.
func (s *Service) HoldCart(ctx context.Context, branchID string) (HoldResult, error) {
	sess, key, err := s.session(ctx, branchID)
	if err != nil {
		return HoldResult{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.cart.IsEmpty() {
		return HoldResult{}, apperr.New(apperr.CodeEmptyCart, "cannot hold an empty cart")
	}

	holdID := xid.New("hold")
	held := &cache.HeldCart{
		Key:      holdID,
		BranchID: key.branchID,
		Items:    sess.cart.Snapshot(),
		HeldAt:   s.opts.Now().UTC(),
	}
	if err := s.carts.Set(ctx, holdKey(key.cashierID, holdID), held, s.opts.HeldCartTTL); err != nil {
		return HoldResult{}, apperr.Wrap(apperr.CodePersistence, err, "failed to hold cart")
	}
	sess.cart.Clear()
	return HoldResult{HoldID: holdID, Cart: view(key, sess.cart, nil)}, nil
}

// ResumeCart restores a held cart into an empty session cart. Lines are
// refreshed against the catalog; products that disappeared or sold out are
// dropped and quantities are capped at current stock. The hold is claimed
// only after every line has been refreshed.
func (s *Service) ResumeCart(ctx context.Context, branchID, holdID string) (CartView, error) {
	sess, key, err := s.session(ctx, branchID)
	if err != nil {
		return CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	cacheKey := holdKey(key.cashierID, strings.TrimSpace(holdID))
	held, err := s.heldCart(ctx, key, cacheKey)
	if err != nil {
		return CartView{}, err
	}
	if !sess.cart.IsEmpty() {
		return CartView{}, apperr.New(apperr.CodeConflict, "current cart must be empty before resuming")
	}

	items := make([]cart.CartItem, 0, len(held.Items))
	for _, item := range held.Items {
		snapshot, err := s.productSnapshot(ctx, key.branchID, item.Product.ID)
		if err != nil {
			if apperr.Is(err, apperr.CodeNotFound) || apperr.Is(err, apperr.CodeValidation) {
				continue
			}
			return CartView{}, err
		}
		item.Product = snapshot
		if item.Quantity > snapshot.Available {
			item.Quantity = snapshot.Available
		}
		if item.Quantity < 1 {
			continue
		}
		items = append(items, item)
	}

	// Another terminal may have resumed the same hold meanwhile.
	if _, ok, err := s.carts.Take(ctx, cacheKey); err != nil {
		return CartView{}, apperr.Wrap(apperr.CodePersistence, err, "failed to claim held cart")
	} else if !ok {
		return CartView{}, apperr.New(apperr.CodeNotFound, "held cart not found")
	}
	sess.cart.Restore(items)
	return view(key, sess.cart, nil), nil
}

// DiscardHeldCart drops a parked cart without restoring it.
func (s *Service) DiscardHeldCart(ctx context.Context, branchID, holdID string) error {
	_, key, err := s.session(ctx, branchID)
	if err != nil {
		return err
	}
	cacheKey := holdKey(key.cashierID, strings.TrimSpace(holdID))
	if _, err := s.heldCart(ctx, key, cacheKey); err != nil {
		return err
	}
	if err := s.carts.Delete(ctx, cacheKey); err != nil {
		return apperr.Wrap(apperr.CodePersistence, err, "failed to discard held cart")
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{"hold_id": holdID, "branch_id": key.branchID}), "held cart discarded")
	return nil
}

// heldCart loads a hold owned by the session's cashier at the session's branch.
func (s *Service) heldCart(ctx context.Context, key sessionKey, cacheKey string) (*cache.HeldCart, error) {
	held, ok, err := s.carts.Get(ctx, cacheKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, err, "failed to load held cart")
	}
	if !ok || held.BranchID != key.branchID {
		return nil, apperr.New(apperr.CodeNotFound, "held cart not found")
	}
	return held, nil
}

// HeldCarts lists the calling cashier's parked carts at a branch, oldest first.
func (s *Service) HeldCarts(ctx context.Context, branchID string) ([]cache.HeldCart, error) {
	_, key, err := s.session(ctx, branchID)
	if err != nil {
		return nil, err
	}
	all, err := s.carts.List(ctx, holdKey(key.cashierID, ""))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, err, "failed to list held carts")
	}
	out := make([]cache.HeldCart, 0, len(all))
	for _, held := range all {
		if held.BranchID == key.branchID {
			out = append(out, held)
		}
	}
	return out, nil
}

func holdKey(cashierID, holdID string) string {
	return cashierID + ":" + holdID
}

func (s *Service) productSnapshot(ctx context.Context, branchID, productID string) (cart.ProductSnapshot, error) {
	p, err := s.catalog.FindProductByID(ctx, strings.TrimSpace(productID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return cart.ProductSnapshot{}, apperr.Wrap(apperr.CodeNotFound, err, "product not found")
		}
		return cart.ProductSnapshot{}, storeError(err, "product")
	}
	if !p.AvailableIn(branchID) {
		return cart.ProductSnapshot{}, fieldError("product_id", "product is not sold at this branch")
	}
	return cart.ProductSnapshot{ID: p.ID, Name: p.Name, Price: p.Price, Available: p.Quantity}, nil
}

func (s *Service) noteWarning(w *cart.StockWarning) {
	if w != nil {
		s.metrics.IncStockWarning()
	}
}
