package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
)

const minPasswordLength = 6

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, fieldError("category", "must be one of: tire bale")
	}
	products, err := s.catalog.FindProducts(ctx, filter)
	return products, storeError(err, "product")
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Product{}, err
	}
	p, err := s.catalog.FindProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, storeError(err, "product")
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.productFromRequest(ctx, req)
	if err != nil {
		return domain.Product{}, err
	}
	created, err := s.catalog.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, storeError(err, "product")
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{"product_id": created.ID, "by": actor.EmployeeID}), "product created")
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductRequest) (domain.Product, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.Product{}, err
	}
	product, err := s.productFromRequest(ctx, req)
	if err != nil {
		return domain.Product{}, err
	}
	product.ID = strings.TrimSpace(id)
	updated, err := s.catalog.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, storeError(err, "product")
	}
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireManager(ctx); err != nil {
		return err
	}
	return storeError(s.catalog.DeleteProduct(ctx, strings.TrimSpace(id)), "product")
}

func (s *Service) productFromRequest(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Commodity = strings.TrimSpace(req.Commodity)
	if err := Validate(req); err != nil {
		return domain.Product{}, err
	}
	if req.Price.IsNegative() {
		return domain.Product{}, fieldError("product_price", "must be 0 or more")
	}

	product := domain.Product{
		Name:       req.Name,
		Price:      req.Price,
		Quantity:   req.Quantity,
		Category:   req.Category,
		Commodity:  req.Commodity,
		Grade:      req.Grade,
		Attributes: req.Attributes,
		BranchIDs:  dedupe(req.BranchIDs),
	}
	if err := product.CheckAttributes(); err != nil {
		return domain.Product{}, fieldError("attributes", err.Error())
	}
	for _, branchID := range product.BranchIDs {
		if _, err := s.catalog.FindBranchByID(ctx, branchID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Product{}, fieldError("branch_ids", "unknown branch "+branchID)
			}
			return domain.Product{}, storeError(err, "branch")
		}
	}
	return product, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	branches, err := s.catalog.FindBranches(ctx)
	return branches, storeError(err, "branch")
}

func (s *Service) GetBranch(ctx context.Context, id string) (domain.Branch, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Branch{}, err
	}
	b, err := s.catalog.FindBranchByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Branch{}, storeError(err, "branch")
	}
	return *b, nil
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchRequest) (domain.Branch, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.Branch{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := Validate(req); err != nil {
		return domain.Branch{}, err
	}
	created, err := s.catalog.CreateBranch(ctx, domain.Branch{Name: req.Name, Location: req.Location})
	if err != nil {
		return domain.Branch{}, storeError(err, "branch")
	}
	return *created, nil
}

func (s *Service) UpdateBranch(ctx context.Context, id string, req domain.BranchRequest) (domain.Branch, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.Branch{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := Validate(req); err != nil {
		return domain.Branch{}, err
	}
	updated, err := s.catalog.UpdateBranch(ctx, domain.Branch{ID: strings.TrimSpace(id), Name: req.Name, Location: req.Location})
	if err != nil {
		return domain.Branch{}, storeError(err, "branch")
	}
	return *updated, nil
}

// DeleteBranch does not touch products or employees that still reference it.
func (s *Service) DeleteBranch(ctx context.Context, id string) error {
	if _, err := requireManager(ctx); err != nil {
		return err
	}
	return storeError(s.catalog.DeleteBranch(ctx, strings.TrimSpace(id)), "branch")
}

func (s *Service) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	if _, err := requireManager(ctx); err != nil {
		return nil, err
	}
	employees, err := s.catalog.FindEmployees(ctx)
	return employees, storeError(err, "employee")
}

func (s *Service) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Employee{}, err
	}
	id = strings.TrimSpace(id)
	if !actor.CanManage() && actor.EmployeeID != id {
		return domain.Employee{}, apperr.New(apperr.CodeForbidden, "cannot view other employees")
	}
	e, err := s.catalog.FindEmployeeByID(ctx, id)
	if err != nil {
		return domain.Employee{}, storeError(err, "employee")
	}
	return *e, nil
}

func (s *Service) CreateEmployee(ctx context.Context, req domain.EmployeeRequest) (domain.Employee, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Employee{}, err
	}
	employee, err := s.employeeFromRequest(ctx, actor, req)
	if err != nil {
		return domain.Employee{}, err
	}
	if len(req.Password) < minPasswordLength {
		return domain.Employee{}, fieldError("password", "must be at least 6")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Employee{}, apperr.Wrap(apperr.CodeInternal, err, "hash password")
	}
	employee.PasswordHash = string(hash)

	created, err := s.catalog.CreateEmployee(ctx, employee)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Employee{}, apperr.Wrap(apperr.CodeConflict, err, "an employee with this email already exists")
		}
		return domain.Employee{}, storeError(err, "employee")
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{"employee_id": created.ID, "role": created.Role}), "employee created")
	return *created, nil
}

// UpdateEmployee replaces profile fields; a non-empty password is re-hashed.
func (s *Service) UpdateEmployee(ctx context.Context, id string, req domain.EmployeeRequest) (domain.Employee, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Employee{}, err
	}
	employee, err := s.employeeFromRequest(ctx, actor, req)
	if err != nil {
		return domain.Employee{}, err
	}
	employee.ID = strings.TrimSpace(id)
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.Employee{}, apperr.Wrap(apperr.CodeInternal, err, "hash password")
		}
		employee.PasswordHash = string(hash)
	}
	updated, err := s.catalog.UpdateEmployee(ctx, employee)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Employee{}, apperr.Wrap(apperr.CodeConflict, err, "an employee with this email already exists")
		}
		return domain.Employee{}, storeError(err, "employee")
	}
	return *updated, nil
}

func (s *Service) DeleteEmployee(ctx context.Context, id string) error {
	actor, err := requireManager(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == actor.EmployeeID {
		return apperr.New(apperr.CodeConflict, "cannot delete your own account")
	}
	return storeError(s.catalog.DeleteEmployee(ctx, id), "employee")
}

// ChangePassword lets the signed-in employee replace their own password.
func (s *Service) ChangePassword(ctx context.Context, req domain.ChangePasswordRequest) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if err := Validate(req); err != nil {
		return err
	}
	employee, err := s.catalog.FindEmployeeByID(ctx, actor.EmployeeID)
	if err != nil {
		return storeError(err, "employee")
	}
	if bcrypt.CompareHashAndPassword([]byte(employee.PasswordHash), []byte(req.CurrentPassword)) != nil {
		return apperr.New(apperr.CodeUnauthorized, "current password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "hash password")
	}
	employee.PasswordHash = string(hash)
	_, err = s.catalog.UpdateEmployee(ctx, *employee)
	return storeError(err, "employee")
}

// Authenticate checks an email and password pair. Unknown emails and wrong
// passwords produce the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (domain.Employee, error) {
	invalid := apperr.New(apperr.CodeUnauthorized, "invalid credentials")
	employee, err := s.catalog.FindEmployeeByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Employee{}, invalid
		}
		return domain.Employee{}, storeError(err, "employee")
	}
	if bcrypt.CompareHashAndPassword([]byte(employee.PasswordHash), []byte(password)) != nil {
		return domain.Employee{}, invalid
	}
	return *employee, nil
}

func (s *Service) employeeFromRequest(ctx context.Context, actor domain.Actor, req domain.EmployeeRequest) (domain.Employee, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = domain.NormalizeEmail(req.Email)
	req.BranchID = strings.TrimSpace(req.BranchID)
	if err := Validate(req); err != nil {
		return domain.Employee{}, err
	}
	if req.Role == domain.RoleAdmin && actor.Role != domain.RoleAdmin {
		return domain.Employee{}, apperr.New(apperr.CodeForbidden, "only admins can grant the admin role")
	}
	if req.BranchID != "" {
		if _, err := s.catalog.FindBranchByID(ctx, req.BranchID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Employee{}, fieldError("branch_id", "unknown branch")
			}
			return domain.Employee{}, storeError(err, "branch")
		}
	}
	return domain.Employee{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     strings.TrimSpace(req.Phone),
		Role:      req.Role,
		BranchID:  req.BranchID,
		Position:  strings.TrimSpace(req.Position),
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
