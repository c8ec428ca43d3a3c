package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const defaultVariant = "default"

// ItemKey derives the identity of a cart line. Adding the same product,
// color and size twice always lands on the same key.
func ItemKey(productID, color, size string) string {
	if color == "" {
		color = defaultVariant
	}
	if size == "" {
		size = defaultVariant
	}
	return productID + "_" + color + "_" + size
}

// MaxAllowed computes the quantity ceiling for a product variant from the
// product's order limit and the live stock of the selection. The result is
// never negative; zero means the variant cannot be bought.
func MaxAllowed(p *Product, color, size string) int {
	allowed := DefaultMaxOrder
	if p.MaxOrder != nil {
		allowed = *p.MaxOrder
	}

	switch {
	case color != "":
		c := p.FindColor(color)
		if c == nil {
			break
		}
		if size != "" {
			if s := c.FindSize(size); s != nil {
				if s.Max != nil {
					allowed = *s.Max
				}
				allowed = min(allowed, s.Stock)
			}
			break
		}
		allowed = min(allowed, c.TotalStock())
	case p.Stock != nil:
		allowed = min(allowed, *p.Stock)
	}

	return max(allowed, 0)
}

// DiscountPercent returns the whole-number percentage saved off mrp.
func DiscountPercent(mrp, price float64) float64 {
	if mrp <= 0 {
		return 0
	}
	return math.Round((mrp - price) / mrp * 100)
}

// rawID turns a JSON string or number into an identifier string.
func rawID(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return s
	}
	return ""
}
