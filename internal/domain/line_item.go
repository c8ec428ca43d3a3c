package domain

// LineItem is one row of the cart. Field names are the persisted layout and
// must stay stable across releases.
type LineItem struct {
	Key        string  `json:"key"`
	ProductID  string  `json:"productId"`
	Name       string  `json:"name"`
	ImageURL   string  `json:"imageUrl"`
	ColorName  *string `json:"colorName"`
	SizeLabel  *string `json:"sizeLabel"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	MRP        float64 `json:"mrp"`
	Discount   float64 `json:"discount"`
	MaxAllowed int     `json:"maxAllowed"`
}

// CheckoutLine is the part of a line item the checkout flow needs.
type CheckoutLine struct {
	ProductID string  `json:"productId"`
	ColorName *string `json:"colorName"`
	SizeLabel *string `json:"sizeLabel"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// NewLineItem snapshots a catalog product and variant selection into a cart
// line. Quantity is not clamped here.
func NewLineItem(p *Product, color, size string, quantity int) LineItem {
	return LineItem{
		Key:        ItemKey(p.ID, color, size),
		ProductID:  p.ID,
		Name:       p.Name,
		ImageURL:   p.ImageFor(color),
		ColorName:  Optional(color),
		SizeLabel:  Optional(size),
		Quantity:   quantity,
		Price:      p.UnitPrice(),
		MRP:        p.ListPrice(),
		Discount:   p.DiscountPercent(),
		MaxAllowed: MaxAllowed(p, color, size),
	}
}

func (l LineItem) Color() string {
	return Value(l.ColorName)
}

func (l LineItem) Size() string {
	return Value(l.SizeLabel)
}

func (l LineItem) Subtotal() float64 {
	return l.Price * float64(l.Quantity)
}

// Savings is the amount saved against the list price for the whole line.
func (l LineItem) Savings() float64 {
	if l.MRP <= l.Price {
		return 0
	}
	return (l.MRP - l.Price) * float64(l.Quantity)
}

func (l LineItem) Checkout() CheckoutLine {
	return CheckoutLine{
		ProductID: l.ProductID,
		ColorName: l.ColorName,
		SizeLabel: l.SizeLabel,
		Quantity:  l.Quantity,
		Price:     l.Price,
	}
}

// Optional maps an empty selector to nil so it serializes as null.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
