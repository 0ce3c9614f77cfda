package mongostore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/store"
	"tdpos/backend/internal/xid"
)

type orderLineDoc struct {
	ProductID   string               `bson:"product_id"`
	ProductName string               `bson:"product_name"`
	Quantity    int                  `bson:"quantity"`
	Price       primitive.Decimal128 `bson:"price"`
	Discount    primitive.Decimal128 `bson:"discount"`
	Subtotal    primitive.Decimal128 `bson:"subtotal"`
}

type orderDoc struct {
	ID               string               `bson:"_id"`
	OrderNumber      string               `bson:"order_number"`
	Items            []orderLineDoc       `bson:"items"`
	Subtotal         primitive.Decimal128 `bson:"subtotal"`
	TotalDiscount    primitive.Decimal128 `bson:"total_discount"`
	TotalAmount      primitive.Decimal128 `bson:"total_amount"`
	BranchID         string               `bson:"branch_id"`
	CashierID        string               `bson:"cashier_id"`
	PaymentMethod    string               `bson:"payment_method"`
	AmountReceived   primitive.Decimal128 `bson:"amount_received"`
	ChangeAmount     primitive.Decimal128 `bson:"change_amount"`
	PaymentReference string               `bson:"payment_reference,omitempty"`
	Status           string               `bson:"status"`
	CreatedAt        time.Time            `bson:"created_at"`
}

func newOrderDoc(o domain.Order) orderDoc {
	items := make([]orderLineDoc, len(o.Items))
	for i, line := range o.Items {
		items[i] = orderLineDoc{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			Price:       toDecimal128(line.Price),
			Discount:    toDecimal128(line.Discount),
			Subtotal:    toDecimal128(line.Subtotal),
		}
	}
	return orderDoc{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		Items:            items,
		Subtotal:         toDecimal128(o.Subtotal),
		TotalDiscount:    toDecimal128(o.TotalDiscount),
		TotalAmount:      toDecimal128(o.TotalAmount),
		BranchID:         o.BranchID,
		CashierID:        o.CashierID,
		PaymentMethod:    string(o.PaymentMethod),
		AmountReceived:   toDecimal128(o.AmountReceived),
		ChangeAmount:     toDecimal128(o.ChangeAmount),
		PaymentReference: o.PaymentReference,
		Status:           o.Status,
		CreatedAt:        o.CreatedAt,
	}
}

func (d orderDoc) order() domain.Order {
	items := make([]domain.OrderLine, len(d.Items))
	for i, line := range d.Items {
		items[i] = domain.OrderLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			Price:       fromDecimal128(line.Price),
			Discount:    fromDecimal128(line.Discount),
			Subtotal:    fromDecimal128(line.Subtotal),
		}
	}
	return domain.Order{
		ID:               d.ID,
		OrderNumber:      d.OrderNumber,
		Items:            items,
		Subtotal:         fromDecimal128(d.Subtotal),
		TotalDiscount:    fromDecimal128(d.TotalDiscount),
		TotalAmount:      fromDecimal128(d.TotalAmount),
		BranchID:         d.BranchID,
		CashierID:        d.CashierID,
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		AmountReceived:   fromDecimal128(d.AmountReceived),
		ChangeAmount:     fromDecimal128(d.ChangeAmount),
		PaymentReference: d.PaymentReference,
		Status:           d.Status,
		CreatedAt:        d.CreatedAt.UTC(),
	}
}

// InsertOrder decrements stock with conditional updates and writes the order
// inside one multi-document transaction.
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

	now := s.now()
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}

	session, err := s.client.StartSession()
	if err != nil {
		return nil, err
	}
	defer session.EndSession(ctx)

	products := s.col(productsCollection)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, id := range productIDs {
			res, err := products.UpdateOne(sc,
				bson.M{"_id": id, "product_quantity": bson.M{"$gte": demand[id]}},
				bson.M{"$inc": bson.M{"product_quantity": -demand[id]}, "$set": bson.M{"updatedAt": now}},
			)
			if err != nil {
				return nil, err
			}
			if res.MatchedCount == 1 {
				continue
			}
			n, err := products.CountDocuments(sc, bson.M{"_id": id})
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
			}
			return nil, fmt.Errorf("product %s: %w", id, store.ErrInsufficientStock)
		}
		if _, err := s.col(ordersCollection).InsertOne(sc, newOrderDoc(order)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, store.ErrConflict
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	out := order.Clone()
	return &out, nil
}

func orderQuery(filter domain.OrderFilter) bson.M {
	q := bson.M{}
	if filter.BranchID != "" {
		q["branch_id"] = filter.BranchID
	}
	created := bson.M{}
	if filter.From != nil {
		created["$gte"] = *filter.From
	}
	if filter.To != nil {
		created["$lt"] = *filter.To
	}
	if len(created) > 0 {
		q["created_at"] = created
	}
	return q
}

func (s *Store) FindOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	dir := 1
	if filter.Newest {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: dir}, {Key: "_id", Value: dir}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := s.col(ordersCollection).Find(ctx, orderQuery(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	orders := make([]domain.Order, 0, 32)
	for cur.Next(ctx) {
		var doc orderDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		orders = append(orders, doc.order())
	}
	return orders, cur.Err()
}

func (s *Store) FindOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	var doc orderDoc
	if err := s.col(ordersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o := doc.order()
	return &o, nil
}

// aggregatePipeline builds the grouping stages. Items are unwound only when
// the key or the summed value is per line.
func aggregatePipeline(key store.GroupKey, field store.SumField, filter domain.OrderFilter, tz string) mongo.Pipeline {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: orderQuery(filter)}}}

	perLine := key == store.GroupByProduct || field == store.SumItemQuantity
	if perLine {
		pipeline = append(pipeline, bson.D{{Key: "$unwind", Value: "$items"}})
	}

	var keyExpr any
	switch key {
	case store.GroupByBranch:
		keyExpr = "$branch_id"
	case store.GroupByProduct:
		keyExpr = "$items.product_id"
	case store.GroupByISOWeek:
		keyExpr = bson.M{"$dateToString": bson.M{"format": "%G-W%V", "date": "$created_at", "timezone": tz}}
	case store.GroupByMonth:
		keyExpr = bson.M{"$dateToString": bson.M{"format": "%Y-%m", "date": "$created_at", "timezone": tz}}
	}

	valueExpr := "$total_amount"
	switch {
	case field == store.SumItemQuantity:
		valueExpr = "$items.quantity"
	case perLine:
		valueExpr = "$items.subtotal"
	}

	return append(pipeline,
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: keyExpr},
			{Key: "total", Value: bson.M{"$sum": valueExpr}},
			{Key: "first", Value: bson.M{"$min": "$created_at"}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "first", Value: 1}, {Key: "_id", Value: 1}}}},
	)
}

func (s *Store) AggregateOrders(ctx context.Context, key store.GroupKey, field store.SumField, filter domain.OrderFilter) ([]store.Bucket, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: group key %q", store.ErrInvalid, key)
	}
	if !field.Valid() {
		return nil, fmt.Errorf("%w: sum field %q", store.ErrInvalid, field)
	}

	cur, err := s.col(ordersCollection).Aggregate(ctx, aggregatePipeline(key, field, filter, s.tz))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	buckets := make([]store.Bucket, 0, 16)
	for cur.Next(ctx) {
		var row struct {
			Key   string        `bson:"_id"`
			Total bson.RawValue `bson:"total"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		value, err := numberValue(row.Total)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, store.Bucket{Key: row.Key, Value: value})
	}
	return buckets, cur.Err()
}
