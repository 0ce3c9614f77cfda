package cart

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id string, price int64, available int) ProductSnapshot {
	return ProductSnapshot{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(price), Available: available}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestTotalsSingleLine(t *testing.T) {
	c := New()
	require.Nil(t, c.AddItem(product("p1", 100, 10), 2))

	totals := c.Totals()
	assert.True(t, totals.Subtotal.Equal(dec(200)))
	assert.True(t, totals.TotalDiscount.IsZero())
	assert.True(t, totals.Total.Equal(dec(200)))
}

func TestApplyCartDiscountOverwritesEveryLine(t *testing.T) {
	c := New()
	require.Nil(t, c.AddItem(product("p1", 100, 10), 2))
	c.ApplyCartDiscount(dec(50))

	totals := c.Totals()
	assert.True(t, totals.TotalDiscount.Equal(dec(50)))
	assert.True(t, totals.Total.Equal(dec(150)))

	require.Nil(t, c.AddItem(product("p2", 30, 10), 1))
	c.ApplyCartDiscount(dec(50))
	items := c.Items()
	require.Len(t, items, 2)
	assert.True(t, items[0].Discount.Equal(dec(50)))
	// clamped to the line subtotal of 30
	assert.True(t, items[1].Discount.Equal(dec(30)))

	c.RemoveCartDiscount()
	assert.True(t, c.Totals().TotalDiscount.IsZero())
}

func TestAddItemBeyondStockOnEmptyCartIsRejected(t *testing.T) {
	c := New()
	warn := c.AddItem(product("p1", 100, 3), 5)

	require.NotNil(t, warn)
	assert.Equal(t, 3, warn.Available)
	assert.Equal(t, 5, warn.Requested)
	assert.Contains(t, warn.Message(), "only 3")
	assert.True(t, c.IsEmpty())
}

func TestAddItemOutOfStockIsSilentNoop(t *testing.T) {
	c := New()
	assert.Nil(t, c.AddItem(product("p1", 100, 0), 1))
	assert.True(t, c.IsEmpty())
}

func TestAddItemMergesExistingLine(t *testing.T) {
	c := New()
	require.Nil(t, c.AddItem(product("p1", 100, 3), 0))
	require.Nil(t, c.AddItem(product("p1", 100, 3), 2))
	require.Equal(t, 1, c.Len())
	assert.Equal(t, 3, c.Items()[0].Quantity)

	warn := c.AddItem(product("p1", 100, 3), 1)
	require.NotNil(t, warn)
	assert.Equal(t, 3, c.Items()[0].Quantity)
}

func TestSetQuantity(t *testing.T) {
	c := New()
	require.Nil(t, c.AddItem(product("p1", 100, 4), 1))

	require.Nil(t, c.SetQuantity("p1", 4))
	assert.Equal(t, 4, c.Items()[0].Quantity)

	require.NotNil(t, c.SetQuantity("p1", 5))
	assert.Equal(t, 4, c.Items()[0].Quantity)

	require.NotNil(t, c.Increment("p1"))
	require.Nil(t, c.Decrement("p1"))
	assert.Equal(t, 3, c.Items()[0].Quantity)

	require.Nil(t, c.SetQuantity("p1", 0))
	assert.True(t, c.IsEmpty())
	assert.Nil(t, c.SetQuantity("missing", 2))
}

func TestDecrementLastUnitRemovesLine(t *testing.T) {
	c := New()
	require.Nil(t, c.AddItem(product("p1", 100, 4), 1))
	require.Nil(t, c.Decrement("p1"))
	assert.True(t, c.IsEmpty())
}

func TestLineDiscountClampedAndReclampedOnQuantityChange(t *testing.T) {
	c := New()
	require.Nil(t, c.AddItem(product("p1", 100, 5), 3))

	c.ApplyLineDiscount("p1", dec(-10))
	assert.True(t, c.Items()[0].Discount.IsZero())

	c.ApplyLineDiscount("p1", dec(250))
	assert.True(t, c.Items()[0].Discount.Equal(dec(250)))

	require.Nil(t, c.SetQuantity("p1", 2))
	assert.True(t, c.Items()[0].Discount.Equal(dec(200)))
	assert.True(t, c.Totals().Total.IsZero())
}

func TestRemoveItemAndClear(t *testing.T) {
	c := New()
	require.Nil(t, c.AddItem(product("p1", 10, 5), 1))
	require.Nil(t, c.AddItem(product("p2", 20, 5), 1))

	c.RemoveItem("absent")
	c.RemoveItem("p1")
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "p2", c.Items()[0].Product.ID)

	c.Clear()
	assert.True(t, c.IsEmpty())
}

func TestItemsReturnsCopy(t *testing.T) {
	c := New()
	require.Nil(t, c.AddItem(product("p1", 10, 5), 1))
	items := c.Items()
	items[0].Quantity = 99
	assert.Equal(t, 1, c.Items()[0].Quantity)
}

func TestSnapshotRestore(t *testing.T) {
	c := New()
	require.Nil(t, c.AddItem(product("p1", 10, 5), 2))
	c.ApplyLineDiscount("p1", dec(5))
	snap := c.Snapshot()

	restored := New()
	restored.Restore(append(snap, CartItem{Product: product("p2", 5, 1), Quantity: 0}))
	require.Equal(t, 1, restored.Len())
	assert.True(t, c.Totals().Total.Equal(restored.Totals().Total))
	assert.True(t, restored.Items()[0].Discount.Equal(dec(5)))
}

func TestTotalInvariantAndStockGuard(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := New()
	catalog := []ProductSnapshot{
		product("p1", 15, 4),
		product("p2", 250, 2),
		product("p3", 3, 10),
		product("p4", 99, 1),
	}

	for step := 0; step < 500; step++ {
		p := catalog[rng.Intn(len(catalog))]
		before := c.Items()

		var warn *StockWarning
		switch rng.Intn(7) {
		case 0:
			warn = c.AddItem(p, rng.Intn(6))
		case 1:
			warn = c.SetQuantity(p.ID, rng.Intn(12)-1)
		case 2:
			warn = c.Increment(p.ID)
		case 3:
			warn = c.Decrement(p.ID)
		case 4:
			c.ApplyLineDiscount(p.ID, dec(int64(rng.Intn(600)-50)))
		case 5:
			c.ApplyCartDiscount(dec(int64(rng.Intn(300))))
		case 6:
			c.RemoveItem(p.ID)
		}
		if warn != nil {
			require.Equal(t, before, c.Items(), "rejected mutation changed the cart at step %d", step)
		}

		totals := c.Totals()
		sum := decimal.Zero
		for _, item := range c.Items() {
			require.LessOrEqual(t, item.Quantity, item.Product.Available)
			require.False(t, item.Discount.IsNegative())
			require.True(t, item.Discount.LessThanOrEqual(item.Subtotal()))
			sum = sum.Add(item.Product.Price.Mul(dec(int64(item.Quantity))))
		}
		require.True(t, totals.Subtotal.Equal(sum))
		require.True(t, totals.Total.Equal(totals.Subtotal.Sub(totals.TotalDiscount)))
		require.False(t, totals.Total.IsNegative())
	}
}
