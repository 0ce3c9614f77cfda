package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
	"tdpos/backend/internal/xid"
)

// Store keeps every collection in maps guarded by one RWMutex. Listing
// follows insertion order.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	loc *time.Location

	products      map[string]domain.Product
	productOrder  []string
	branches      map[string]domain.Branch
	branchOrder   []string
	employees     map[string]domain.Employee
	employeeOrder []string
	emailIndex    map[string]string
	orders        []domain.Order
	orderIndex    map[string]int
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone used for week and month aggregation keys.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:        func() time.Time { return time.Now().UTC() },
		loc:        time.UTC,
		products:   make(map[string]domain.Product),
		branches:   make(map[string]domain.Branch),
		employees:  make(map[string]domain.Employee),
		emailIndex: make(map[string]string),
		orderIndex: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) FindProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productOrder))
	for _, id := range s.productOrder {
		p := s.products[id]
		if filter.Matches(p) {
			products = append(products, p.Clone())
		}
	}
	return products, nil
}

func (s *Store) FindProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := p.Clone()
	return &out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	now := s.now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = now
	}
	s.products[product.ID] = product.Clone()
	s.productOrder = append(s.productOrder, product.ID)
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.now()
	s.products[product.ID] = product.Clone()
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	s.productOrder = removeID(s.productOrder, id)
	return nil
}

func (s *Store) FindBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branchOrder))
	for _, id := range s.branchOrder {
		branches = append(branches, s.branches[id])
	}
	return branches, nil
}

func (s *Store) FindBranchByID(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalid
	}
	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	if _, exists := s.branches[branch.ID]; exists {
		return nil, store.ErrConflict
	}
	now := s.now()
	branch.CreatedAt = now
	branch.UpdatedAt = now
	s.branches[branch.ID] = branch
	s.branchOrder = append(s.branchOrder, branch.ID)
	return &branch, nil
}

func (s *Store) UpdateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.branches[branch.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	branch.CreatedAt = existing.CreatedAt
	branch.UpdatedAt = s.now()
	s.branches[branch.ID] = branch
	return &branch, nil
}

// DeleteBranch leaves product branch references in place.
func (s *Store) DeleteBranch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.branches, id)
	s.branchOrder = removeID(s.branchOrder, id)
	return nil
}

func (s *Store) FindEmployees(_ context.Context) ([]domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	employees := make([]domain.Employee, 0, len(s.employeeOrder))
	for _, id := range s.employeeOrder {
		employees = append(employees, s.employees[id])
	}
	return employees, nil
}

func (s *Store) FindEmployeeByID(_ context.Context, id string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.employees[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (s *Store) FindEmployeeByEmail(_ context.Context, email string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emailIndex[domain.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	e := s.employees[id]
	return &e, nil
}

func (s *Store) CreateEmployee(_ context.Context, employee domain.Employee) (*domain.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	employee.Email = domain.NormalizeEmail(employee.Email)
	if employee.Email == "" || employee.PasswordHash == "" {
		return nil, store.ErrInvalid
	}
	if _, taken := s.emailIndex[employee.Email]; taken {
		return nil, store.ErrConflict
	}
	if employee.ID == "" {
		employee.ID = xid.New("emp")
	}
	now := s.now()
	employee.CreatedAt = now
	employee.UpdatedAt = now
	s.employees[employee.ID] = employee
	s.employeeOrder = append(s.employeeOrder, employee.ID)
	s.emailIndex[employee.Email] = employee.ID
	return &employee, nil
}

func (s *Store) UpdateEmployee(_ context.Context, employee domain.Employee) (*domain.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.employees[employee.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	employee.Email = domain.NormalizeEmail(employee.Email)
	if owner, taken := s.emailIndex[employee.Email]; taken && owner != employee.ID {
		return nil, store.ErrConflict
	}
	if employee.PasswordHash == "" {
		employee.PasswordHash = existing.PasswordHash
	}
	employee.CreatedAt = existing.CreatedAt
	employee.UpdatedAt = s.now()

	delete(s.emailIndex, existing.Email)
	s.emailIndex[employee.Email] = employee.ID
	s.employees[employee.ID] = employee
	return &employee, nil
}

func (s *Store) DeleteEmployee(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.employees[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.employees, id)
	delete(s.emailIndex, existing.Email)
	s.employeeOrder = removeID(s.employeeOrder, id)
	return nil
}

// InsertOrder checks every line against current stock before touching
// anything, so a rejected order leaves quantities unchanged.
func (s *Store) InsertOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	demand, err := store.ValidateOrderLines(order)
	if err != nil {
		return nil, err
	}
	for productID, qty := range demand {
		p, ok := s.products[productID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
		}
		if p.Quantity < qty {
			return nil, fmt.Errorf("product %s: %w", productID, store.ErrInsufficientStock)
		}
	}

	now := s.now()
	for productID, qty := range demand {
		p := s.products[productID]
		p.Quantity -= qty
		p.UpdatedAt = now
		s.products[productID] = p
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	s.orderIndex[order.ID] = len(s.orders)
	s.orders = append(s.orders, order.Clone())
	out := order.Clone()
	return &out, nil
}

func (s *Store) FindOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matchOrders(filter), nil
}

func (s *Store) FindOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.orderIndex[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := s.orders[idx].Clone()
	return &out, nil
}

func (s *Store) AggregateOrders(_ context.Context, key store.GroupKey, field store.SumField, filter domain.OrderFilter) ([]store.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter.Limit = 0
	filter.Newest = false
	return store.Aggregate(s.matchOrders(filter), key, field, s.loc)
}

// matchOrders returns clones in insertion order, or newest first when asked.
func (s *Store) matchOrders(filter domain.OrderFilter) []domain.Order {
	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if filter.Matches(o) {
			out = append(out, o.Clone())
		}
	}
	if filter.Newest {
		slices.SortStableFunc(out, func(a, b domain.Order) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(candidate string) bool { return candidate == id })
}
