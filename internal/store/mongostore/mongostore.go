// Package mongostore keeps the catalog and orders in MongoDB using the
// collection layout of the td_holdings_db database.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	productsCollection  = "products"
	branchesCollection  = "branches"
	employeesCollection = "employees"
	ordersCollection    = "orders"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
	tz     string
}

type Option func(*Store)

// WithLocation sets the zone used for week and month aggregation keys.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil && loc != time.Local && loc.String() != "Local" {
			s.tz = loc.String()
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New connects, pings and ensures indexes. Order inserts use multi-document
// transactions, so the server must run as a replica set.
func New(ctx context.Context, uri string, database string, opts ...Option) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s := &Store{
		client: client,
		db:     client.Database(database),
		now:    func() time.Time { return time.Now().UTC() },
		tz:     "UTC",
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.col(employeesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("employees index: %w", err)
	}
	if _, err := s.col(productsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "branch_ids", Value: 1}}},
		{Keys: bson.D{{Key: "product_quantity", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("products indexes: %w", err)
	}
	if _, err := s.col(ordersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "branch_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "order_number", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("orders indexes: %w", err)
	}
	return nil
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// numberValue reads a $sum result, which is Decimal128 for money fields and
// an integer for quantities.
func numberValue(v bson.RawValue) (decimal.Decimal, error) {
	switch v.Type {
	case bson.TypeDecimal128:
		return fromDecimal128(v.Decimal128()), nil
	case bson.TypeInt32:
		return decimal.NewFromInt32(v.Int32()), nil
	case bson.TypeInt64:
		return decimal.NewFromInt(v.Int64()), nil
	case bson.TypeDouble:
		return decimal.NewFromFloat(v.Double()), nil
	case bson.TypeNull, 0:
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("unexpected sum type %s", v.Type)
}

func isNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
