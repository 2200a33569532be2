package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	allowed := []struct {
		from, to OrderStatus
	}{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusConfirmed, OrderStatusProcessing},
		{OrderStatusProcessing, OrderStatusShipped},
		{OrderStatusShipped, OrderStatusDelivered},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusConfirmed, OrderStatusCancelled},
		{OrderStatusProcessing, OrderStatusCancelled},
	}
	for _, tc := range allowed {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			next, err := Transition(tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.to, next)
		})
	}

	rejected := []struct {
		from, to OrderStatus
	}{
		{OrderStatusPending, OrderStatusShipped},
		{OrderStatusPending, OrderStatusPending},
		{OrderStatusShipped, OrderStatusCancelled},
		{OrderStatusDelivered, OrderStatusCancelled},
		{OrderStatusCancelled, OrderStatusPending},
		{OrderStatusConfirmed, OrderStatusPending},
		{OrderStatusPending, OrderStatus("refunded")},
	}
	for _, tc := range rejected {
		t.Run("rejects "+string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			next, err := Transition(tc.from, tc.to)
			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tc.from, next)
		})
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.False(t, OrderStatusShipped.IsTerminal())
}

func TestShippingAddress_Validate(t *testing.T) {
	addr := ShippingAddress{
		FullName:     " Ayesha Khan ",
		AddressLine1: "12 Mall Road",
		City:         "Lahore",
		State:        "Punjab",
		PostalCode:   "54000",
		Phone:        "+92 300 0000000",
	}.Normalize()

	require.NoError(t, addr.Validate())
	assert.Equal(t, "Ayesha Khan", addr.FullName)
	assert.Equal(t, DefaultCountry, addr.Country)

	addr.City = "  "
	err := addr.Validate()
	require.ErrorIs(t, err, ErrInvalidAddress)
	assert.Contains(t, err.Error(), "city")
}
