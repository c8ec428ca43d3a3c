package domain

import (
	"encoding/json"
	"strings"
)

// DefaultMaxOrder is the per-line ceiling used when a product or a persisted
// line item does not carry its own limit.
const DefaultMaxOrder = 10

type Size struct {
	Label string `json:"label"`
	Stock int    `json:"stock"`
	Max   *int   `json:"max,omitempty"`
}

type Color struct {
	Name   string   `json:"name"`
	Hex    string   `json:"hex,omitempty"`
	Images []string `json:"images,omitempty"`
	Sizes  []Size   `json:"sizes,omitempty"`
}

// Product is a catalog record as served by the storefront backend. The cart
// reads it but never owns it.
type Product struct {
	ID       string   `json:"_id"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	OurPrice *float64 `json:"ourPrice,omitempty"`
	MRP      *float64 `json:"mrp,omitempty"`
	Discount *float64 `json:"discount,omitempty"`
	MaxOrder *int     `json:"maxOrder,omitempty"`
	Stock    *int     `json:"stock,omitempty"`
	Images   []string `json:"images,omitempty"`
	Colors   []Color  `json:"colors,omitempty"`
}

// UnmarshalJSON accepts the identifier as either "_id" or "id", string or number.
func (p *Product) UnmarshalJSON(data []byte) error {
	type plain Product
	var aux struct {
		plain
		ID    json.RawMessage `json:"_id"`
		AltID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = Product(aux.plain)
	p.ID = rawID(aux.ID)
	if p.ID == "" {
		p.ID = rawID(aux.AltID)
	}
	return nil
}

// UnitPrice is the price a buyer pays: the "our" price when the catalog
// supplies one, the list price otherwise.
func (p *Product) UnitPrice() float64 {
	if p.OurPrice != nil {
		return *p.OurPrice
	}
	return p.Price
}

// ListPrice is the reference price used to show savings.
func (p *Product) ListPrice() float64 {
	if p.MRP != nil {
		return *p.MRP
	}
	return p.Price
}

func (p *Product) DiscountPercent() float64 {
	if p.Discount != nil {
		return *p.Discount
	}
	return DiscountPercent(p.ListPrice(), p.UnitPrice())
}

// FindColor matches a color variant by case-insensitive name.
func (p *Product) FindColor(name string) *Color {
	if name == "" {
		return nil
	}
	for i := range p.Colors {
		if strings.EqualFold(p.Colors[i].Name, name) {
			return &p.Colors[i]
		}
	}
	return nil
}

// FindSize matches a size entry by case-insensitive label.
func (c *Color) FindSize(label string) *Size {
	if label == "" {
		return nil
	}
	for i := range c.Sizes {
		if strings.EqualFold(c.Sizes[i].Label, label) {
			return &c.Sizes[i]
		}
	}
	return nil
}

func (c *Color) TotalStock() int {
	total := 0
	for _, s := range c.Sizes {
		total += s.Stock
	}
	return total
}

// ImageFor picks the display image for a selected color, falling back to the
// product's own gallery.
func (p *Product) ImageFor(color string) string {
	if c := p.FindColor(color); c != nil && len(c.Images) > 0 {
		return c.Images[0]
	}
	if len(p.Images) > 0 {
		return p.Images[0]
	}
	for _, c := range p.Colors {
		if len(c.Images) > 0 {
			return c.Images[0]
		}
	}
	return ""
}
