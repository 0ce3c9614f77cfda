package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
	"tdpos/backend/internal/xid"
)

const orderColumns = `id, order_number, branch_id, cashier_id, subtotal, total_discount, total_amount, payment_method,
	amount_received, change_amount, payment_reference, status, created_at`

// InsertOrder locks every product on the order, checks stock, decrements it
// and writes the order in one serializable transaction.
func (s *Store) InsertOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	demand, err := store.ValidateOrderLines(order)
	if err != nil {
		return nil, err
	}
	productIDs := make([]string, 0, len(demand))
	for id := range demand {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, quantity
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, err
	}
	stock := make(map[string]int, len(productIDs))
	for rows.Next() {
		var (
			id  string
			qty int
		)
		if err := rows.Scan(&id, &qty); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stock[id] = qty
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, id := range productIDs {
		qty, ok := stock[id]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
		}
		if qty < demand[id] {
			return nil, fmt.Errorf("product %s: %w", id, store.ErrInsufficientStock)
		}
	}

	now := s.now()
	for _, id := range productIDs {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity - $2, updated_at = $3
			WHERE id = $1
		`, id, demand[id], now); err != nil {
			return nil, err
		}
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, order.ID, order.OrderNumber, order.BranchID, order.CashierID, order.Subtotal, order.TotalDiscount,
		order.TotalAmount, string(order.PaymentMethod), order.AmountReceived, order.ChangeAmount,
		order.PaymentReference, order.Status, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i, line := range order.Items {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, product_name, quantity, price, discount, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, order.ID, i+1, line.ProductID, line.ProductName, line.Quantity, line.Price, line.Discount, line.Subtotal); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	out := order.Clone()
	return &out, nil
}

func orderWhere(filter domain.OrderFilter, alias string) *whereBuilder {
	w := &whereBuilder{}
	if filter.BranchID != "" {
		w.add(alias+"branch_id = %s", filter.BranchID)
	}
	if filter.From != nil {
		w.add(alias+"created_at >= %s", *filter.From)
	}
	if filter.To != nil {
		w.add(alias+"created_at < %s", *filter.To)
	}
	return w
}

func (s *Store) FindOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	w := orderWhere(filter, "")
	query := `SELECT ` + orderColumns + ` FROM orders` + w.clause()
	if filter.Newest {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at, id`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ` + w.arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) FindOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	orders := []domain.Order{o}
	if err := s.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.BranchID, &o.CashierID, &o.Subtotal, &o.TotalDiscount, &o.TotalAmount,
		&o.PaymentMethod, &o.AmountReceived, &o.ChangeAmount, &o.PaymentReference, &o.Status, &o.CreatedAt)
	return o, err
}

func (s *Store) loadItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, price, discount, subtotal
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			line    domain.OrderLine
		)
		if err := rows.Scan(&orderID, &line.ProductID, &line.ProductName, &line.Quantity, &line.Price, &line.Discount, &line.Subtotal); err != nil {
			return err
		}
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, line)
		}
	}
	return rows.Err()
}

// AggregateOrders groups server-side. Buckets are ordered by the first order
// that contributed to them.
func (s *Store) AggregateOrders(ctx context.Context, key store.GroupKey, field store.SumField, filter domain.OrderFilter) ([]store.Bucket, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: group key %q", store.ErrInvalid, key)
	}
	if !field.Valid() {
		return nil, fmt.Errorf("%w: sum field %q", store.ErrInvalid, field)
	}

	w := orderWhere(filter, "o.")
	var keyExpr string
	switch key {
	case store.GroupByBranch:
		keyExpr = "o.branch_id"
	case store.GroupByProduct:
		keyExpr = "i.product_id"
	case store.GroupByISOWeek:
		keyExpr = fmt.Sprintf(`to_char(o.created_at AT TIME ZONE %s, 'IYYY-"W"IW')`, w.arg(s.tz))
	case store.GroupByMonth:
		keyExpr = fmt.Sprintf(`to_char(o.created_at AT TIME ZONE %s, 'YYYY-MM')`, w.arg(s.tz))
	}

	// Only the per-line cases need order_items; the join would otherwise
	// repeat each order's total once per line.
	var query string
	switch {
	case key == store.GroupByProduct && field == store.SumTotalAmount:
		query = `SELECT ` + keyExpr + `, SUM(i.subtotal), MIN(o.created_at) FROM orders o JOIN order_items i ON i.order_id = o.id`
	case field == store.SumItemQuantity:
		query = `SELECT ` + keyExpr + `, SUM(i.quantity), MIN(o.created_at) FROM orders o JOIN order_items i ON i.order_id = o.id`
	default:
		query = `SELECT ` + keyExpr + `, SUM(o.total_amount), MIN(o.created_at) FROM orders o`
	}
	query += w.clause() + ` GROUP BY 1 ORDER BY 3, 1`

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make([]store.Bucket, 0, 16)
	for rows.Next() {
		var (
			b     store.Bucket
			total decimal.NullDecimal
			first sql.NullTime
		)
		if err := rows.Scan(&b.Key, &total, &first); err != nil {
			return nil, err
		}
		b.Value = total.Decimal
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
