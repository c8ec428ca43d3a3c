package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrNotAList = errors.New("persisted cart is not a list")

// maxPersistedCount bounds quantities and ceilings read back from storage.
const maxPersistedCount = 99

// persistedLineItem is the read side of the persisted layout. It tolerates the
// field names older carts were saved with.
type persistedLineItem struct {
	ProductID    json.RawMessage `json:"productId"`
	LegacyID     json.RawMessage `json:"_id"`
	Name         string          `json:"name"`
	ImageURL     string          `json:"imageUrl"`
	ColorName    *string         `json:"colorName"`
	SizeLabel    *string         `json:"sizeLabel"`
	Quantity     looseNumber     `json:"quantity"`
	Price        looseNumber     `json:"price"`
	OurPrice     looseNumber     `json:"ourPrice"`
	PricePerUnit looseNumber     `json:"pricePerUnit"`
	MRP          looseNumber     `json:"mrp"`
	ListPrice    looseNumber     `json:"listPrice"`
	Discount     looseNumber     `json:"discount"`
	MaxAllowed   looseNumber     `json:"maxAllowed"`
}

// looseNumber accepts a JSON number or a numeric string. Anything else,
// including NaN and infinities, is treated as absent.
type looseNumber struct {
	value float64
	set   bool
}

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		n.value, n.set = f, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		n.value, n.set = f, true
	}
	return nil
}

// count converts a stored number to a line count in [0, maxPersistedCount].
func (n looseNumber) count() int {
	switch {
	case n.value <= 0:
		return 0
	case n.value >= maxPersistedCount:
		return maxPersistedCount
	}
	return int(n.value)
}

func firstSet(defaultValue float64, candidates ...looseNumber) float64 {
	for _, c := range candidates {
		if c.set {
			return c.value
		}
	}
	return defaultValue
}

// DecodeLineItems parses a persisted cart and migrates every entry to the
// current LineItem shape. Entries without a product id are dropped and
// duplicate keys are folded into the first occurrence.
func DecodeLineItems(data []byte) ([]LineItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotAList
	}

	var raw []persistedLineItem
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("decode persisted cart: %w", err)
	}

	items := make([]LineItem, 0, len(raw))
	index := make(map[string]int, len(raw))
	for _, r := range raw {
		item, ok := r.migrate()
		if !ok {
			continue
		}
		if i, exists := index[item.Key]; exists {
			items[i].Quantity = min(items[i].Quantity+item.Quantity, items[i].MaxAllowed)
			continue
		}
		index[item.Key] = len(items)
		items = append(items, item)
	}
	return items, nil
}

func (r persistedLineItem) migrate() (LineItem, bool) {
	id := rawID(r.ProductID)
	if id == "" {
		id = rawID(r.LegacyID)
	}
	if id == "" {
		return LineItem{}, false
	}

	maxAllowed := DefaultMaxOrder
	if r.MaxAllowed.set {
		maxAllowed = r.MaxAllowed.count()
	}
	if maxAllowed < 1 {
		return LineItem{}, false
	}

	price := firstSet(0, r.OurPrice, r.Price, r.PricePerUnit)
	mrp := firstSet(price, r.MRP, r.ListPrice)
	discount := firstSet(DiscountPercent(mrp, price), r.Discount)

	quantity := r.Quantity.count()
	if !r.Quantity.set || quantity < 1 {
		quantity = 1
	}

	color := Value(r.ColorName)
	size := Value(r.SizeLabel)

	return LineItem{
		Key:        ItemKey(id, color, size),
		ProductID:  id,
		Name:       r.Name,
		ImageURL:   r.ImageURL,
		ColorName:  Optional(color),
		SizeLabel:  Optional(size),
		Quantity:   min(quantity, maxAllowed),
		Price:      price,
		MRP:        mrp,
		Discount:   discount,
		MaxAllowed: maxAllowed,
	}, true
}

// EncodeLineItems serializes a cart. An empty cart is written as "[]".
func EncodeLineItems(items []LineItem) ([]byte, error) {
	if items == nil {
		items = []LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}
	return data, nil
}
