package domain

import "time"

const (
	MinLineQuantity = 1
	MaxLineQuantity = 99
)

type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Cart is read-only to checkout. Version increments on every mutation and is
// what ClearCart compares against, so a cart refilled after checkout is never wiped.
type Cart struct {
	UserID    string     `json:"user_id"`
	Lines     []CartLine `json:"lines"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

func ValidQuantity(q int) bool {
	return q >= MinLineQuantity && q <= MaxLineQuantity
}

// MergedLines folds lines that repeat a product into one line per product,
// keeping first-seen order. Quantities are summed and not range checked.
func (c *Cart) MergedLines() []CartLine {
	merged := make([]CartLine, 0, len(c.Lines))
	index := make(map[string]int, len(c.Lines))
	for _, line := range c.Lines {
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}
