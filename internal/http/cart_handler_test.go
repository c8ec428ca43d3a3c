package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kokoruadmin/kokoru-cart/internal/cart"
	"github.com/kokoruadmin/kokoru-cart/internal/catalog"
	"github.com/kokoruadmin/kokoru-cart/internal/checkout"
	"github.com/kokoruadmin/kokoru-cart/internal/domain"
	"github.com/kokoruadmin/kokoru-cart/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type PublisherMock struct {
	mu        sync.Mutex
	published []checkout.CheckoutRequested
	err       error
}

func (p *PublisherMock) PublishCheckout(_ context.Context, sessionID string, items []domain.CheckoutLine, subtotal float64) (*checkout.CheckoutRequested, error) {
	if len(items) == 0 {
		return nil, checkout.ErrEmptyCart
	}
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	event := checkout.CheckoutRequested{CheckoutID: "chk-1", SessionID: sessionID, Items: items, Subtotal: subtotal}
	p.published = append(p.published, event)
	return &event, nil
}

type failingCarts struct{}

func (failingCarts) Get(context.Context, string) (*cart.Store, error) {
	return nil, errors.New("redis get failed")
}

type failingCatalog struct{}

func (failingCatalog) GetProduct(context.Context, string) (*domain.Product, error) {
	return nil, catalog.ErrUnavailable
}

func intPtr(v int) *int { return &v }

func teeShirt() domain.Product {
	return domain.Product{
		ID:       "tee",
		Name:     "Tee",
		Price:    800,
		OurPrice: func() *float64 { v := 600.0; return &v }(),
		Colors: []domain.Color{{
			Name: "Red",
			Sizes: []domain.Size{
				{Label: "M", Stock: 3},
				{Label: "L", Stock: 0},
			},
		}},
	}
}

type testServer struct {
	handler   http.Handler
	storage   *storage.MemoryStorage
	publisher *PublisherMock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := storage.NewMemoryStorage()
	publisher := &PublisherMock{}
	h := NewCartHandler(
		cart.NewManager(st, zap.NewNop()),
		catalog.NewMemoryCatalog(teeShirt(), domain.Product{ID: "mug", Name: "Mug", Price: 150}),
		publisher,
		5*time.Second,
		zap.NewNop(),
	)
	return &testServer{
		handler:   NewRouter(h, nil, zap.NewNop(), 5*time.Second),
		storage:   st,
		publisher: publisher,
	}
}

func (s *testServer) do(t *testing.T, method, path, session string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetCart_IssuesSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(SessionHeader))

	snap := decode[cart.Snapshot](t, rec)
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, snap.ItemCount)

	rec = s.do(t, http.MethodGet, "/api/v1/cart", "abc", nil)
	assert.Equal(t, "abc", rec.Header().Get(SessionHeader))
}

func TestAddItem_Success(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/items", "s1",
		AddItemRequestDTO{ProductID: "tee", Color: "Red", Size: "M", Quantity: intPtr(5)})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[MutationResponse](t, rec)
	require.NotNil(t, resp.Item)
	assert.Equal(t, "tee_Red_M", resp.Item.Key)
	assert.Equal(t, 3, resp.Item.Quantity, "clamped to stock")
	assert.Equal(t, float64(600), resp.Item.Price)
	assert.Equal(t, float64(1800), resp.Cart.Subtotal)

	raw, err := s.storage.Get(context.Background(), cart.StorageKey("s1"))
	require.NoError(t, err)
	assert.Contains(t, raw, `"key":"tee_Red_M"`)
}

func TestAddItem_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing product", AddItemRequestDTO{}, http.StatusBadRequest, "missing_product_id"},
		{"quantity too large", AddItemRequestDTO{ProductID: "mug", Quantity: intPtr(100)}, http.StatusBadRequest, "invalid_request"},
		{"quantity zero", AddItemRequestDTO{ProductID: "mug", Quantity: intPtr(0)}, http.StatusBadRequest, "invalid_request"},
		{"unknown product", AddItemRequestDTO{ProductID: "nope"}, http.StatusNotFound, "product_not_found"},
		{"out of stock", AddItemRequestDTO{ProductID: "tee", Color: "Red", Size: "L"}, http.StatusConflict, "out_of_stock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/cart/items", "s1", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decode[ErrorResponse](t, rec).Code)
	})
}

func TestAddItem_DefaultQuantityAndMerge(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/cart/items", "s1", AddItemRequestDTO{ProductID: "mug"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	snap := decode[cart.Snapshot](t, s.do(t, http.MethodGet, "/api/v1/cart", "s1", nil))
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "mug_default_default", snap.Items[0].Key)
	assert.Equal(t, 2, snap.Items[0].Quantity)
}

func TestAddItem_CatalogUnavailable(t *testing.T) {
	h := NewCartHandler(cart.NewManager(storage.NewMemoryStorage(), nil), failingCatalog{}, nil, time.Second, nil)
	router := NewRouter(h, nil, zap.NewNop(), time.Second)

	body, _ := json.Marshal(AddItemRequestDTO{ProductID: "tee"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewReader(body)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "catalog_unavailable", decode[ErrorResponse](t, rec).Code)
}

func TestAddLine(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/lines", "s1",
		domain.LineItem{Key: "ignored", ProductID: "mug", Quantity: 2, Price: 90, MRP: 100})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[MutationResponse](t, rec)
	assert.Equal(t, "mug_default_default", resp.Item.Key)
	assert.Equal(t, 2, resp.Item.Quantity)
	assert.Equal(t, float64(150), resp.Item.Price)
	assert.Equal(t, float64(150), resp.Item.MRP)
	assert.Zero(t, resp.Item.Discount)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/lines", "s1", domain.LineItem{Quantity: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_product_id", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/lines", "s1", domain.LineItem{ProductID: "p9", Quantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "product_not_found", decode[ErrorResponse](t, rec).Code)

	color, size := "Red", "L"
	rec = s.do(t, http.MethodPost, "/api/v1/cart/lines", "s1",
		domain.LineItem{ProductID: "tee", ColorName: &color, SizeLabel: &size, Quantity: 1, MaxAllowed: 10})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "out_of_stock", decode[ErrorResponse](t, rec).Code)
}

func TestAddLine_IgnoresClientPriceAndCeiling(t *testing.T) {
	s := newTestServer(t)

	color, size := "Red", "M"
	rec := s.do(t, http.MethodPost, "/api/v1/cart/lines", "s1", domain.LineItem{
		ProductID:  "tee",
		ColorName:  &color,
		SizeLabel:  &size,
		Quantity:   99,
		Price:      0.01,
		MRP:        0.01,
		MaxAllowed: 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	item := decode[MutationResponse](t, rec).Item
	require.NotNil(t, item)
	assert.Equal(t, 3, item.Quantity, "clamped to stock")
	assert.Equal(t, 3, item.MaxAllowed)
	assert.Equal(t, float64(600), item.Price)
	assert.Equal(t, float64(800), item.MRP)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/checkout", "s1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, s.publisher.published, 1)
	assert.Equal(t, float64(1800), s.publisher.published[0].Subtotal)
	lines := s.publisher.published[0].Items
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, float64(600), lines[0].Price)
}

func TestIncreaseDecreaseRemove(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/v1/cart/items", "s1", AddItemRequestDTO{ProductID: "tee", Color: "Red", Size: "M"}).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/items/tee_Red_M/increase", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[MutationResponse](t, rec).Item.Quantity)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/items/tee_Red_M/decrease", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[MutationResponse](t, rec).Item.Quantity)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/items/missing/increase", "s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "item_not_found", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/cart/items/tee_Red_M", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[MutationResponse](t, rec).Cart.Items)

	rec = s.do(t, http.MethodDelete, "/api/v1/cart/items/tee_Red_M", "s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecreaseRemovesLastUnit(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/cart/items", "s1", AddItemRequestDTO{ProductID: "mug"})

	rec := s.do(t, http.MethodPost, "/api/v1/cart/items/mug_default_default/decrease", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[MutationResponse](t, rec)
	assert.Equal(t, 0, resp.Item.Quantity)
	assert.Empty(t, resp.Cart.Items)
}

func TestClearCart(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/cart/items", "s1", AddItemRequestDTO{ProductID: "mug"})

	rec := s.do(t, http.MethodDelete, "/api/v1/cart", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[cart.Snapshot](t, rec).Items)

	raw, err := s.storage.Get(context.Background(), cart.StorageKey("s1"))
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}

func TestCheckout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/checkout", "s1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "empty_cart", decode[ErrorResponse](t, rec).Code)

	s.do(t, http.MethodPost, "/api/v1/cart/items", "s1", AddItemRequestDTO{ProductID: "mug", Quantity: intPtr(2)})

	rec = s.do(t, http.MethodGet, "/api/v1/cart/checkout", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := decode[CheckoutResponse](t, rec).Items
	require.Len(t, lines, 1)
	assert.Equal(t, domain.CheckoutLine{ProductID: "mug", Quantity: 2, Price: 150}, lines[0])

	rec = s.do(t, http.MethodPost, "/api/v1/cart/checkout", "s1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, s.publisher.published, 1)
	assert.Equal(t, "s1", s.publisher.published[0].SessionID)
	assert.Equal(t, float64(300), s.publisher.published[0].Subtotal)

	s.publisher.err = errors.New("broker down")
	rec = s.do(t, http.MethodPost, "/api/v1/cart/checkout", "s1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckout_NotConfigured(t *testing.T) {
	h := NewCartHandler(cart.NewManager(storage.NewMemoryStorage(), nil), catalog.NewMemoryCatalog(), nil, time.Second, nil)
	router := NewRouter(h, nil, zap.NewNop(), time.Second)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cart/checkout", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "checkout_unavailable", decode[ErrorResponse](t, rec).Code)
}

func TestStorageUnavailable(t *testing.T) {
	h := NewCartHandler(failingCarts{}, catalog.NewMemoryCatalog(), nil, time.Second, nil)
	router := NewRouter(h, nil, zap.NewNop(), time.Second)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "storage_unavailable", decode[ErrorResponse](t, rec).Code)
}

func TestSessionTooLong(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/cart", string(bytes.Repeat([]byte("a"), 200)), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
