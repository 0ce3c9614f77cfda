package mongostore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
	"tdpos/backend/internal/xid"
)

type productDoc struct {
	ID         string               `bson:"_id"`
	Name       string               `bson:"product_name"`
	Price      primitive.Decimal128 `bson:"product_price"`
	Quantity   int                  `bson:"product_quantity"`
	Category   string               `bson:"category"`
	Commodity  string               `bson:"commodity,omitempty"`
	Grade      string               `bson:"grade"`
	Attributes map[string]any       `bson:"attributes,omitempty"`
	BranchIDs  []string             `bson:"branch_ids"`
	CreatedAt  time.Time            `bson:"createdAt"`
	UpdatedAt  time.Time            `bson:"updatedAt"`
}

// Attributes are stored as a sub-document holding their JSON field names.
func newProductDoc(p domain.Product) (productDoc, error) {
	doc := productDoc{
		ID:        p.ID,
		Name:      p.Name,
		Price:     toDecimal128(p.Price),
		Quantity:  p.Quantity,
		Category:  string(p.Category),
		Commodity: p.Commodity,
		Grade:     string(p.Grade),
		BranchIDs: p.BranchIDs,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if doc.BranchIDs == nil {
		doc.BranchIDs = []string{}
	}
	if p.Attributes != nil {
		raw, err := json.Marshal(p.Attributes)
		if err != nil {
			return productDoc{}, err
		}
		if err := json.Unmarshal(raw, &doc.Attributes); err != nil {
			return productDoc{}, err
		}
	}
	return doc, nil
}

func (d productDoc) product() (domain.Product, error) {
	p := domain.Product{
		ID:        d.ID,
		Name:      d.Name,
		Price:     fromDecimal128(d.Price),
		Quantity:  d.Quantity,
		Category:  domain.Category(d.Category),
		Commodity: d.Commodity,
		Grade:     domain.Grade(d.Grade),
		BranchIDs: d.BranchIDs,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if len(d.Attributes) > 0 {
		raw, err := json.Marshal(d.Attributes)
		if err != nil {
			return domain.Product{}, err
		}
		attrs, err := domain.DecodeAttributes(p.Category, raw)
		if err != nil {
			return domain.Product{}, err
		}
		p.Attributes = attrs
	}
	return p, nil
}

func productQuery(filter domain.ProductFilter) bson.M {
	q := bson.M{}
	if filter.Category != "" {
		q["category"] = string(filter.Category)
	}
	if filter.BranchID != "" {
		q["branch_ids"] = filter.BranchID
	}
	qty := bson.M{}
	if filter.QuantityBelow != nil {
		qty["$lt"] = *filter.QuantityBelow
	}
	if filter.QuantityAtMost != nil {
		qty["$lte"] = *filter.QuantityAtMost
	}
	if len(qty) > 0 {
		q["product_quantity"] = qty
	}
	if filter.UpdatedBefore != nil {
		q["updatedAt"] = bson.M{"$lte": *filter.UpdatedBefore}
	}
	return q
}

var insertionOrder = options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

func (s *Store) FindProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	cur, err := s.col(productsCollection).Find(ctx, productQuery(filter), insertionOrder)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	products := make([]domain.Product, 0, 64)
	for cur.Next(ctx) {
		var doc productDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		p, err := doc.product()
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, cur.Err()
}

func (s *Store) FindProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var doc productDoc
	if err := s.col(productsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p, err := doc.product()
	if err != nil {
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
	doc, err := newProductDoc(product)
	if err != nil {
		return nil, err
	}
	if _, err := s.col(productsCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	product.UpdatedAt = s.now()
	doc, err := newProductDoc(product)
	if err != nil {
		return nil, err
	}

	set := bson.M{
		"product_name":     doc.Name,
		"product_price":    doc.Price,
		"product_quantity": doc.Quantity,
		"category":         doc.Category,
		"commodity":        doc.Commodity,
		"grade":            doc.Grade,
		"attributes":       doc.Attributes,
		"branch_ids":       doc.BranchIDs,
		"updatedAt":        doc.UpdatedAt,
	}
	var updated productDoc
	err = s.col(productsCollection).FindOneAndUpdate(ctx, bson.M{"_id": product.ID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	out, err := updated.product()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.col(productsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

type branchDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"branch_name"`
	Location  string    `bson:"location"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (d branchDoc) branch() domain.Branch {
	return domain.Branch{
		ID:        d.ID,
		Name:      d.Name,
		Location:  d.Location,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func (s *Store) FindBranches(ctx context.Context) ([]domain.Branch, error) {
	cur, err := s.col(branchesCollection).Find(ctx, bson.M{}, insertionOrder)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	branches := make([]domain.Branch, 0, 8)
	for cur.Next(ctx) {
		var doc branchDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		branches = append(branches, doc.branch())
	}
	return branches, cur.Err()
}

func (s *Store) FindBranchByID(ctx context.Context, id string) (*domain.Branch, error) {
	var doc branchDoc
	if err := s.col(branchesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b := doc.branch()
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

	doc := branchDoc{ID: branch.ID, Name: branch.Name, Location: branch.Location, CreatedAt: now, UpdatedAt: now}
	if _, err := s.col(branchesCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) UpdateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	var updated branchDoc
	err := s.col(branchesCollection).FindOneAndUpdate(ctx, bson.M{"_id": branch.ID}, bson.M{"$set": bson.M{
		"branch_name": branch.Name,
		"location":    branch.Location,
		"updatedAt":   s.now(),
	}}, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b := updated.branch()
	return &b, nil
}

// DeleteBranch leaves product branch references in place.
func (s *Store) DeleteBranch(ctx context.Context, id string) error {
	res, err := s.col(branchesCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

type employeeDoc struct {
	ID           string    `bson:"_id"`
	FirstName    string    `bson:"first_name"`
	LastName     string    `bson:"last_name"`
	Email        string    `bson:"email"`
	Phone        string    `bson:"phone,omitempty"`
	Role         string    `bson:"role"`
	BranchID     string    `bson:"branch_id,omitempty"`
	Position     string    `bson:"position,omitempty"`
	PasswordHash string    `bson:"password"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (d employeeDoc) employee() domain.Employee {
	return domain.Employee{
		ID:           d.ID,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Email:        d.Email,
		Phone:        d.Phone,
		Role:         domain.Role(d.Role),
		BranchID:     d.BranchID,
		Position:     d.Position,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (s *Store) FindEmployees(ctx context.Context) ([]domain.Employee, error) {
	cur, err := s.col(employeesCollection).Find(ctx, bson.M{}, insertionOrder)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	employees := make([]domain.Employee, 0, 16)
	for cur.Next(ctx) {
		var doc employeeDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		employees = append(employees, doc.employee())
	}
	return employees, cur.Err()
}

func (s *Store) FindEmployeeByID(ctx context.Context, id string) (*domain.Employee, error) {
	return s.findEmployee(ctx, bson.M{"_id": id})
}

func (s *Store) FindEmployeeByEmail(ctx context.Context, email string) (*domain.Employee, error) {
	return s.findEmployee(ctx, bson.M{"email": domain.NormalizeEmail(email)})
}

func (s *Store) findEmployee(ctx context.Context, filter bson.M) (*domain.Employee, error) {
	var doc employeeDoc
	if err := s.col(employeesCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	e := doc.employee()
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

	doc := employeeDoc{
		ID:           employee.ID,
		FirstName:    employee.FirstName,
		LastName:     employee.LastName,
		Email:        employee.Email,
		Phone:        employee.Phone,
		Role:         string(employee.Role),
		BranchID:     employee.BranchID,
		Position:     employee.Position,
		PasswordHash: employee.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.col(employeesCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &employee, nil
}

// UpdateEmployee keeps the stored password hash when the given one is empty.
func (s *Store) UpdateEmployee(ctx context.Context, employee domain.Employee) (*domain.Employee, error) {
	set := bson.M{
		"first_name": employee.FirstName,
		"last_name":  employee.LastName,
		"email":      domain.NormalizeEmail(employee.Email),
		"phone":      employee.Phone,
		"role":       string(employee.Role),
		"branch_id":  employee.BranchID,
		"position":   employee.Position,
		"updatedAt":  s.now(),
	}
	if employee.PasswordHash != "" {
		set["password"] = employee.PasswordHash
	}

	var updated employeeDoc
	err := s.col(employeesCollection).FindOneAndUpdate(ctx, bson.M{"_id": employee.ID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	e := updated.employee()
	return &e, nil
}

func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	res, err := s.col(employeesCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
