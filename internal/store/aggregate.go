package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tdpos/backend/internal/domain"
)

// ISOWeekKey formats t as "YYYY-Www" using the ISO-8601 week-numbering year.
func ISOWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// Aggregate is the in-memory grouping used by stores without server-side
// aggregation. Period keys are computed in loc. Buckets are ordered by their
// earliest contributing order, ties by key, matching the SQL and Mongo stores.
func Aggregate(orders []domain.Order, key GroupKey, field SumField, loc *time.Location) ([]Bucket, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: group key %q", ErrInvalid, key)
	}
	if !field.Valid() {
		return nil, fmt.Errorf("%w: sum field %q", ErrInvalid, field)
	}
	if loc == nil {
		loc = time.UTC
	}

	var (
		buckets []Bucket
		first   []time.Time
	)
	index := map[string]int{}
	add := func(k string, v decimal.Decimal, at time.Time) {
		if i, ok := index[k]; ok {
			buckets[i].Value = buckets[i].Value.Add(v)
			if at.Before(first[i]) {
				first[i] = at
			}
			return
		}
		index[k] = len(buckets)
		buckets = append(buckets, Bucket{Key: k, Value: v})
		first = append(first, at)
	}

	for _, order := range orders {
		if key == GroupByProduct {
			for _, line := range order.Items {
				add(line.ProductID, lineValue(line, field), order.CreatedAt)
			}
			continue
		}

		var k string
		switch key {
		case GroupByBranch:
			k = order.BranchID
		case GroupByISOWeek:
			k = ISOWeekKey(order.CreatedAt.In(loc))
		case GroupByMonth:
			k = MonthKey(order.CreatedAt.In(loc))
		}
		add(k, orderValue(order, field), order.CreatedAt)
	}

	sort.Sort(bucketOrder{buckets: buckets, first: first})
	return buckets, nil
}

type bucketOrder struct {
	buckets []Bucket
	first   []time.Time
}

func (b bucketOrder) Len() int { return len(b.buckets) }

func (b bucketOrder) Less(i, j int) bool {
	if !b.first[i].Equal(b.first[j]) {
		return b.first[i].Before(b.first[j])
	}
	return b.buckets[i].Key < b.buckets[j].Key
}

func (b bucketOrder) Swap(i, j int) {
	b.buckets[i], b.buckets[j] = b.buckets[j], b.buckets[i]
	b.first[i], b.first[j] = b.first[j], b.first[i]
}

func orderValue(order domain.Order, field SumField) decimal.Decimal {
	if field == SumTotalAmount {
		return order.TotalAmount
	}
	total := decimal.Zero
	for _, line := range order.Items {
		total = total.Add(decimal.NewFromInt(int64(line.Quantity)))
	}
	return total
}

func lineValue(line domain.OrderLine, field SumField) decimal.Decimal {
	if field == SumTotalAmount {
		return line.Subtotal
	}
	return decimal.NewFromInt(int64(line.Quantity))
}
