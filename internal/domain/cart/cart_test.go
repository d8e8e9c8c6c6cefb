package cart

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func potatoes(qty int) Item {
	return Item{
		ListingID:         "potatoes",
		SellerID:          "seller",
		Title:             "Potatoes",
		Unit:              "kg",
		Quantity:          qty,
		UnitPrice:         decimal.NewFromInt(30),
		AvailableQuantity: 10,
		AddedAt:           time.Now(),
	}
}

func TestCart_AddMerges(t *testing.T) {
	var c Cart
	require.NoError(t, c.Add(potatoes(3)))

	again := potatoes(4)
	again.UnitPrice = decimal.NewFromInt(35)
	again.AddedAt = again.AddedAt.Add(time.Hour)
	require.NoError(t, c.Add(again))

	require.Len(t, c.Items, 1)
	assert.Equal(t, 7, c.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(35).Equal(c.Items[0].UnitPrice), "price snapshot refreshed")
	assert.True(t, c.Items[0].AddedAt.Before(again.AddedAt), "first added time kept")
	assert.True(t, decimal.NewFromInt(245).Equal(c.Items[0].Subtotal()))
	assert.Equal(t, 7, c.Count())
}

func TestCart_Stock(t *testing.T) {
	var c Cart
	require.NoError(t, c.Add(potatoes(6)))
	require.ErrorIs(t, c.Add(potatoes(5)), ErrInsufficientStock)
	assert.Equal(t, 6, c.Count(), "failed add leaves the line untouched")

	require.ErrorIs(t, c.Update("potatoes", 11), ErrInsufficientStock)
	require.NoError(t, c.Update("potatoes", 10))
	assert.Equal(t, 10, c.Count())
}

func TestCart_Errors(t *testing.T) {
	var c Cart
	require.ErrorIs(t, c.Add(potatoes(0)), ErrInvalidQuantity)
	require.ErrorIs(t, c.Update("potatoes", 1), ErrItemNotFound)
	require.ErrorIs(t, c.Remove("potatoes"), ErrItemNotFound)

	require.NoError(t, c.Add(potatoes(1)))
	require.ErrorIs(t, c.Update("potatoes", 0), ErrInvalidQuantity)
}

func TestCart_RemoveAndClear(t *testing.T) {
	var c Cart
	require.NoError(t, c.Add(potatoes(2)))
	onions := potatoes(1)
	onions.ListingID = "onions"
	require.NoError(t, c.Add(onions))
	assert.Len(t, c.Lines(), 2)

	require.NoError(t, c.Remove("potatoes"))
	require.Len(t, c.Items, 1)
	assert.Equal(t, "onions", c.Items[0].ListingID)

	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.Zero(t, c.Count())
}
