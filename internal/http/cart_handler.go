package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kokoruadmin/kokoru-cart/internal/cart"
	"github.com/kokoruadmin/kokoru-cart/internal/catalog"
	"github.com/kokoruadmin/kokoru-cart/internal/checkout"
	"github.com/kokoruadmin/kokoru-cart/internal/domain"
	"go.uber.org/zap"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxQuantity        = 99
)

// CartProvider returns the cart of a browsing session.
type CartProvider interface {
	Get(ctx context.Context, sessionID string) (*cart.Store, error)
}

type CartHandler struct {
	carts     CartProvider
	catalog   catalog.Catalog
	publisher checkout.Publisher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewCartHandler wires the handler. publisher may be nil, in which case
// checkout requests are refused.
func NewCartHandler(carts CartProvider, cat catalog.Catalog, publisher checkout.Publisher, timeout time.Duration, logger *zap.Logger) *CartHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartHandler{
		carts:     carts,
		catalog:   cat,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"productId"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  *int   `json:"quantity"`
}

type MutationResponse struct {
	Item *domain.LineItem `json:"item,omitempty"`
	Cart cart.Snapshot    `json:"cart"`
}

type CheckoutResponse struct {
	Items []domain.CheckoutLine `json:"items"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, store.Snapshot())
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_product_id", "productId is required")
		return
	}
	quantity, ok := h.requestQuantity(w, req.Quantity)
	if !ok {
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		h.handleCatalogError(w, req.ProductID, err)
		return
	}

	item, err := store.AddProductVariant(ctx, product, req.Color, req.Size, quantity)
	if err != nil {
		h.handleCartError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, MutationResponse{Item: &item, Cart: store.Snapshot()})
}

// AddLine accepts a cart-shaped line. Only its product, variant and quantity
// are used; price and ceiling always come from the catalog.
func (h *CartHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req domain.LineItem
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_product_id", "productId is required")
		return
	}
	if req.Quantity < 0 || req.Quantity > maxQuantity {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "quantity must be between 1 and 99")
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		h.handleCatalogError(w, req.ProductID, err)
		return
	}

	item, err := store.AddProductVariant(ctx, product, req.Color(), req.Size(), max(req.Quantity, 1))
	if err != nil {
		h.handleCartError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, MutationResponse{Item: &item, Cart: store.Snapshot()})
}

func (h *CartHandler) IncreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, (*cart.Store).IncreaseQuantity)
}

func (h *CartHandler) DecreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, (*cart.Store).DecreaseQuantity)
}

func (h *CartHandler) mutateLine(w http.ResponseWriter, r *http.Request, op func(*cart.Store, context.Context, string) (domain.LineItem, bool)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key, ok := h.itemKey(w, r)
	if !ok {
		return
	}
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	item, found := op(store, ctx, key)
	if !found {
		h.respondError(w, http.StatusNotFound, "item_not_found", "no cart line with key "+key)
		return
	}
	h.respondJSON(w, http.StatusOK, MutationResponse{Item: &item, Cart: store.Snapshot()})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key, ok := h.itemKey(w, r)
	if !ok {
		return
	}
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	if !store.RemoveFromCart(ctx, key) {
		h.respondError(w, http.StatusNotFound, "item_not_found", "no cart line with key "+key)
		return
	}
	h.respondJSON(w, http.StatusOK, MutationResponse{Cart: store.Snapshot()})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	store, ok := h.store(w, r)
	if !ok {
		return
	}
	store.ClearCart(ctx)
	h.respondJSON(w, http.StatusOK, store.Snapshot())
}

func (h *CartHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, CheckoutResponse{Items: store.LineItemsForCheckout()})
}

// Checkout hands the cart to the checkout service. The cart is cleared later,
// when the completion event comes back.
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if h.publisher == nil {
		h.respondError(w, http.StatusServiceUnavailable, "checkout_unavailable", "checkout is not configured")
		return
	}
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	snap := store.Snapshot()
	lines := make([]domain.CheckoutLine, len(snap.Items))
	for i, item := range snap.Items {
		lines[i] = item.Checkout()
	}

	event, err := h.publisher.PublishCheckout(ctx, SessionFromContext(r.Context()), lines, snap.Subtotal)
	if errors.Is(err, checkout.ErrEmptyCart) {
		h.respondError(w, http.StatusConflict, "empty_cart", "cart is empty")
		return
	}
	if err != nil {
		h.logger.Error("checkout publish failed", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "checkout_unavailable", "checkout could not be started")
		return
	}
	h.respondJSON(w, http.StatusAccepted, event)
}

func (h *CartHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(h.logger, w, status, data)
}

func (h *CartHandler) respondError(w http.ResponseWriter, status int, code, message string) {
	writeError(h.logger, w, status, code, message)
}

func (h *CartHandler) store(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	sessionID := SessionFromContext(r.Context())
	store, err := h.carts.Get(r.Context(), sessionID)
	if errors.Is(err, cart.ErrMissingSession) {
		h.respondError(w, http.StatusBadRequest, "invalid_session", "session id is required")
		return nil, false
	}
	if err != nil {
		h.logger.Error("cart load failed", zap.String("session_id", sessionID), zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "cart could not be loaded")
		return nil, false
	}
	return store, true
}

func (h *CartHandler) handleCatalogError(w http.ResponseWriter, productID string, err error) {
	if errors.Is(err, catalog.ErrProductNotFound) {
		h.respondError(w, http.StatusNotFound, "product_not_found", "product "+productID+" not found")
		return
	}
	h.logger.Warn("catalog lookup failed", zap.String("product_id", productID), zap.Error(err))
	h.respondError(w, http.StatusServiceUnavailable, "catalog_unavailable", "product catalog is unavailable")
}

func (h *CartHandler) handleCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrMissingProductID):
		h.respondError(w, http.StatusBadRequest, "missing_product_id", err.Error())
	case errors.Is(err, cart.ErrOutOfStock):
		h.respondError(w, http.StatusConflict, "out_of_stock", err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (h *CartHandler) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func (h *CartHandler) requestQuantity(w http.ResponseWriter, quantity *int) (int, bool) {
	if quantity == nil {
		return 1, true
	}
	if *quantity < 1 || *quantity > maxQuantity {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "quantity must be between 1 and 99")
		return 0, false
	}
	return *quantity, true
}

func (h *CartHandler) itemKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid item key")
		return "", false
	}
	return key, true
}
