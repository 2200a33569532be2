package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCart_MergedLines(t *testing.T) {
	c := Cart{Lines: []CartLine{
		{ProductID: "sku-2", Quantity: 1},
		{ProductID: "sku-1", Quantity: 4},
		{ProductID: "sku-2", Quantity: 2},
		{ProductID: "sku-1", Quantity: 4},
	}}

	assert.Equal(t, []CartLine{
		{ProductID: "sku-2", Quantity: 3},
		{ProductID: "sku-1", Quantity: 8},
	}, c.MergedLines())
	assert.Len(t, c.Lines, 4)

	empty := Cart{}
	assert.Empty(t, empty.MergedLines())
}
