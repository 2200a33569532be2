package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

func TestCheckStockCommitted(t *testing.T) {
	tests := []struct {
		name      string
		from, to  domain.OrderStatus
		committed bool
		wantErr   error
	}{
		{"confirm uncommitted", domain.OrderStatusPending, domain.OrderStatusConfirmed, false, ErrStockNotCommitted},
		{"confirm committed", domain.OrderStatusPending, domain.OrderStatusConfirmed, true, nil},
		{"cancel uncommitted", domain.OrderStatusPending, domain.OrderStatusCancelled, false, nil},
		{"ship confirmed", domain.OrderStatusConfirmed, domain.OrderStatusShipped, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkStockCommitted(tt.from, tt.to, tt.committed)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
