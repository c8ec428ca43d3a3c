// Package cart holds the shopping cart state: line items keyed by product
// variant, quantity ceilings derived from stock, and a persisted mirror that
// is rewritten after every change.
package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kokoruadmin/kokoru-cart/internal/domain"
	"github.com/kokoruadmin/kokoru-cart/internal/storage"
	"go.uber.org/zap"
)

// DefaultStorageKey is the storage entry used by a single-cart deployment.
const DefaultStorageKey = "cart"

const persistTimeout = 5 * time.Second

var (
	ErrMissingProductID = errors.New("product id is required")
	ErrOutOfStock       = errors.New("product variant is out of stock")
)

// Store is one cart. All operations are serialized; each mutation is applied
// in memory first and then persisted. A failed persist is logged and the
// in-memory state stays authoritative.
type Store struct {
	mu      sync.Mutex
	storage storage.Storage
	key     string
	logger  *zap.Logger
	items   []domain.LineItem
}

func NewStore(st storage.Storage, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = DefaultStorageKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		storage: st,
		key:     key,
		logger:  logger.With(zap.String("cart_key", key)),
		items:   make([]domain.LineItem, 0),
	}
}

// Hydrate replaces the in-memory cart with the persisted one. Missing,
// unreadable or malformed state leaves an empty cart.
func (s *Store) Hydrate(ctx context.Context) {
	if err := s.load(ctx); err != nil {
		s.logger.Warn("cart read failed, starting empty", zap.Error(err))
	}
}

// load is Hydrate that reports storage read failures. Malformed state is
// still recovered as an empty cart.
func (s *Store) load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]domain.LineItem, 0)

	raw, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	items, err := domain.DecodeLineItems([]byte(raw))
	if err != nil {
		s.logger.Warn("persisted cart is malformed, starting empty", zap.Error(err))
		return nil
	}
	s.items = items
	s.logger.Debug("cart hydrated", zap.Int("lines", len(items)))
	return nil
}

// AddProductVariant adds quantity units of a catalog product in the selected
// color and size. The quantity is clamped to the variant's stock ceiling.
func (s *Store) AddProductVariant(ctx context.Context, p *domain.Product, color, size string, quantity int) (domain.LineItem, error) {
	if p == nil || p.ID == "" {
		return domain.LineItem{}, ErrMissingProductID
	}
	item := domain.NewLineItem(p, color, size, quantity)
	if item.MaxAllowed == 0 {
		return domain.LineItem{}, ErrOutOfStock
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeOrInsert(ctx, item), nil
}

// AddPreparedLineItem adds an item that is already cart-shaped. Its key is
// rederived from the product and variant, and missing pricing and ceiling
// fields are filled in the same way persisted items are migrated. Prices and
// the ceiling are taken as given, so callers must not pass client input here.
func (s *Store) AddPreparedLineItem(ctx context.Context, item domain.LineItem) (domain.LineItem, error) {
	if item.ProductID == "" {
		return domain.LineItem{}, ErrMissingProductID
	}
	item.ColorName = domain.Optional(item.Color())
	item.SizeLabel = domain.Optional(item.Size())
	item.Key = domain.ItemKey(item.ProductID, item.Color(), item.Size())
	if item.MaxAllowed <= 0 {
		item.MaxAllowed = domain.DefaultMaxOrder
	}
	if item.MRP == 0 {
		item.MRP = item.Price
	}
	if item.Discount == 0 {
		item.Discount = domain.DiscountPercent(item.MRP, item.Price)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeOrInsert(ctx, item), nil
}

// mergeOrInsert folds item into the line with the same key, or appends it.
// An existing line keeps the ceiling it was created with.
func (s *Store) mergeOrInsert(ctx context.Context, item domain.LineItem) domain.LineItem {
	quantity := max(item.Quantity, 1)

	if i := s.indexOf(item.Key); i >= 0 {
		existing := &s.items[i]
		existing.Quantity = min(existing.Quantity+quantity, existing.MaxAllowed)
		s.persist(ctx)
		return *existing
	}

	item.Quantity = min(quantity, item.MaxAllowed)
	s.items = append(s.items, item)
	s.persist(ctx)
	return item
}

// IncreaseQuantity adds one unit up to the line's ceiling. It reports whether
// the key was found.
func (s *Store) IncreaseQuantity(ctx context.Context, key string) (domain.LineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(key)
	if i < 0 {
		return domain.LineItem{}, false
	}
	s.items[i].Quantity = min(s.items[i].Quantity+1, s.items[i].MaxAllowed)
	s.persist(ctx)
	return s.items[i], true
}

// DecreaseQuantity removes one unit. Decreasing a line that holds a single
// unit removes the line; the returned item then has zero quantity.
func (s *Store) DecreaseQuantity(ctx context.Context, key string) (domain.LineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(key)
	if i < 0 {
		return domain.LineItem{}, false
	}
	if s.items[i].Quantity <= 1 {
		removed := s.items[i]
		removed.Quantity = 0
		s.items = append(s.items[:i], s.items[i+1:]...)
		s.persist(ctx)
		return removed, true
	}
	s.items[i].Quantity--
	s.persist(ctx)
	return s.items[i], true
}

func (s *Store) RemoveFromCart(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(key)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	s.persist(ctx)
	return true
}

func (s *Store) ClearCart(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]domain.LineItem, 0)
	s.persist(ctx)
}

// persist writes the whole cart. Callers hold s.mu. The write outlives the
// caller's context so a dropped request cannot lose an applied change.
func (s *Store) persist(ctx context.Context) {
	data, err := domain.EncodeLineItems(s.items)
	if err != nil {
		s.logger.Error("cart encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.storage.Set(ctx, s.key, string(data)); err != nil {
		s.logger.Error("cart persist failed, keeping in-memory state", zap.Error(err))
	}
}

func (s *Store) indexOf(key string) int {
	for i := range s.items {
		if s.items[i].Key == key {
			return i
		}
	}
	return -1
}

// Items returns a copy of the lines in insertion order.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.LineItem, len(s.items))
	copy(items, s.items)
	return items
}

// Item looks up a single line by key.
func (s *Store) Item(key string) (domain.LineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(key); i >= 0 {
		return s.items[i], true
	}
	return domain.LineItem{}, false
}

// LineItemsForCheckout projects the cart to what the checkout flow consumes.
func (s *Store) LineItemsForCheckout() []domain.CheckoutLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]domain.CheckoutLine, len(s.items))
	for i, item := range s.items {
		lines[i] = item.Checkout()
	}
	return lines
}

// Len returns the number of distinct lines.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

// ItemCount returns the total quantity across all lines.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, item := range s.items {
		count += item.Quantity
	}
	return count
}

func (s *Store) Subtotal() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, item := range s.items {
		total += item.Subtotal()
	}
	return total
}

// Savings is the total saved against list prices.
func (s *Store) Savings() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, item := range s.items {
		total += item.Savings()
	}
	return total
}

// Snapshot returns the lines together with their totals under one lock, so
// the figures always describe the same cart state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Items: make([]domain.LineItem, len(s.items))}
	copy(snap.Items, s.items)
	for _, item := range s.items {
		snap.ItemCount += item.Quantity
		snap.Subtotal += item.Subtotal()
		snap.Savings += item.Savings()
	}
	return snap
}

type Snapshot struct {
	Items     []domain.LineItem `json:"items"`
	ItemCount int               `json:"itemCount"`
	Subtotal  float64           `json:"subtotal"`
	Savings   float64           `json:"savings"`
}
