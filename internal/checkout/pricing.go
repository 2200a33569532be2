package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

var DefaultTaxRate = decimal.RequireFromString("0.05")

// Pricing computes order totals in fixed point. Amounts are rounded to cents
// half away from zero.
type Pricing struct {
	TaxRate      decimal.Decimal
	ShippingCost decimal.Decimal
}

type Totals struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
}

func LineFromSnapshot(snap domain.ProductSnapshot, quantity int) domain.OrderLine {
	return domain.OrderLine{
		ProductID: snap.ProductID,
		Name:      snap.Name,
		UnitPrice: snap.UnitPrice,
		Quantity:  quantity,
		LineTotal: snap.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
	}
}

func (p Pricing) Totals(lines []domain.OrderLine) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal)
	}

	shipping := p.ShippingCost.Round(2)
	tax := subtotal.Mul(p.TaxRate).Round(2)

	return Totals{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Tax:          tax,
		Total:        subtotal.Add(shipping).Add(tax),
	}
}
