package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
	"tdpos/backend/internal/xid"
)

const productColumns = `id, name, price, quantity, category, commodity, grade, attributes, branch_ids, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p         domain.Product
		attrsRaw  []byte
		branchRaw []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.Category, &p.Commodity, &p.Grade, &attrsRaw, &branchRaw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	attrs, err := domain.DecodeAttributes(p.Category, attrsRaw)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s attributes: %w", p.ID, err)
	}
	p.Attributes = attrs
	if len(branchRaw) > 0 {
		if err := json.Unmarshal(branchRaw, &p.BranchIDs); err != nil {
			return domain.Product{}, fmt.Errorf("product %s branch ids: %w", p.ID, err)
		}
	}
	return p, nil
}

func encodeProduct(p domain.Product) (attrs any, branches []byte, err error) {
	if p.Attributes != nil {
		raw, err := json.Marshal(p.Attributes)
		if err != nil {
			return nil, nil, err
		}
		attrs = raw
	}
	branchIDs := p.BranchIDs
	if branchIDs == nil {
		branchIDs = []string{}
	}
	branches, err = json.Marshal(branchIDs)
	return attrs, branches, err
}

func (s *Store) FindProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var w whereBuilder
	if filter.Category != "" {
		w.add("category = %s", string(filter.Category))
	}
	if filter.BranchID != "" {
		w.add("branch_ids ? %s", filter.BranchID)
	}
	if filter.QuantityBelow != nil {
		w.add("quantity < %s", *filter.QuantityBelow)
	}
	if filter.QuantityAtMost != nil {
		w.add("quantity <= %s", *filter.QuantityAtMost)
	}
	if filter.UpdatedBefore != nil {
		w.add("updated_at <= %s", *filter.UpdatedBefore)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products`+w.clause()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) FindProductByID(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := s.now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = now
	}
	attrs, branches, err := encodeProduct(product)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.Name, product.Price, product.Quantity, string(product.Category), product.Commodity,
		string(product.Grade), attrs, branches, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isCheckViolation(err) {
			return nil, store.ErrInvalid
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	attrs, branches, err := encodeProduct(product)
	if err != nil {
		return nil, err
	}

	product.UpdatedAt = s.now()
	err = s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, quantity = $4, category = $5, commodity = $6, grade = $7,
		    attributes = $8, branch_ids = $9, updated_at = $10
		WHERE id = $1
		RETURNING created_at
	`, product.ID, product.Name, product.Price, product.Quantity, string(product.Category), product.Commodity,
		string(product.Grade), attrs, branches, product.UpdatedAt).Scan(&product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isCheckViolation(err) {
			return nil, store.ErrInvalid
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, store.ErrNotFound)
}

func (s *Store) FindBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, location, created_at, updated_at
		FROM branches
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Location, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (s *Store) FindBranchByID(ctx context.Context, id string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, location, created_at, updated_at
		FROM branches
		WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.Location, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalid
	}
	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	now := s.now()
	branch.CreatedAt = now
	branch.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, location, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, branch.ID, branch.Name, branch.Location, branch.CreatedAt, branch.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) UpdateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	branch.UpdatedAt = s.now()
	err := s.db.QueryRowContext(ctx, `
		UPDATE branches
		SET name = $2, location = $3, updated_at = $4
		WHERE id = $1
		RETURNING created_at
	`, branch.ID, branch.Name, branch.Location, branch.UpdatedAt).Scan(&branch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &branch, nil
}

// DeleteBranch leaves product branch references in place.
func (s *Store) DeleteBranch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, store.ErrNotFound)
}

const employeeColumns = `id, first_name, last_name, email, phone, role, branch_id, position, password_hash, created_at, updated_at`

func scanEmployee(row rowScanner) (domain.Employee, error) {
	var e domain.Employee
	err := row.Scan(&e.ID, &e.FirstName, &e.LastName, &e.Email, &e.Phone, &e.Role, &e.BranchID, &e.Position,
		&e.PasswordHash, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (s *Store) FindEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	employees := make([]domain.Employee, 0, 16)
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func (s *Store) FindEmployeeByID(ctx context.Context, id string) (*domain.Employee, error) {
	return s.findEmployee(ctx, "id", id)
}

func (s *Store) FindEmployeeByEmail(ctx context.Context, email string) (*domain.Employee, error) {
	return s.findEmployee(ctx, "email", domain.NormalizeEmail(email))
}

func (s *Store) findEmployee(ctx context.Context, column string, value string) (*domain.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	employee.Email = domain.NormalizeEmail(employee.Email)
	if employee.Email == "" || employee.PasswordHash == "" {
		return nil, store.ErrInvalid
	}
	if employee.ID == "" {
		employee.ID = xid.New("emp")
	}
	now := s.now()
	employee.CreatedAt = now
	employee.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, employee.ID, employee.FirstName, employee.LastName, employee.Email, employee.Phone, string(employee.Role),
		employee.BranchID, employee.Position, employee.PasswordHash, employee.CreatedAt, employee.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isCheckViolation(err) {
			return nil, store.ErrInvalid
		}
		return nil, err
	}
	return &employee, nil
}

// UpdateEmployee keeps the stored password hash when the given one is empty.
func (s *Store) UpdateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	employee.Email = domain.NormalizeEmail(employee.Email)
	employee.UpdatedAt = s.now()

	err := s.db.QueryRowContext(ctx, `
		UPDATE employees
		SET first_name = $2, last_name = $3, email = $4, phone = $5, role = $6, branch_id = $7,
		    position = $8, password_hash = COALESCE(NULLIF($9, ''), password_hash), updated_at = $10
		WHERE id = $1
		RETURNING password_hash, created_at
	`, employee.ID, employee.FirstName, employee.LastName, employee.Email, employee.Phone, string(employee.Role),
		employee.BranchID, employee.Position, employee.PasswordHash, employee.UpdatedAt).Scan(&employee.PasswordHash, &employee.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isCheckViolation(err) {
			return nil, store.ErrInvalid
		}
		return nil, err
	}
	return &employee, nil
}

func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, store.ErrNotFound)
}
