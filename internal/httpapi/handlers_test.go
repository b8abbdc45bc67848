package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/bookstore-reservations/internal/cart"
	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
	"github.com/matheusmosca/bookstore-reservations/internal/checkout"
	"github.com/matheusmosca/bookstore-reservations/internal/gate"
	"github.com/matheusmosca/bookstore-reservations/internal/httpapi"
	"github.com/matheusmosca/bookstore-reservations/internal/memstore"
	"github.com/matheusmosca/bookstore-reservations/internal/reservation"
	"github.com/matheusmosca/bookstore-reservations/internal/shopping"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newRouterWithStore(t, cart.NewMemoryStore())
}

func newRouterWithStore(t *testing.T, carts cart.Store) *gin.Engine {
	t.Helper()
	db := memstore.New()
	db.SeedBook(catalog.Book{ID: 1, Title: "Dune", BasePrice: 10, Stock: 5})
	db.SeedBook(catalog.Book{ID: 2, Title: "Emma", BasePrice: 20, Stock: 1})

	ledger := stock.NewLedger(db.StockRepository())
	books := catalog.NewCatalog(db.CatalogRepository(), catalog.NewPricer(nil))
	reservations := reservation.NewManager(db.ReservationRepository(), ledger, books, nil)
	service := shopping.NewService(gate.New(), books, ledger, reservations, checkout.NewOrchestrator(reservations, ledger, nil))

	return httpapi.NewRouter("bookstore-test", httpapi.NewHandler(service, carts))
}

// shopper replays the session cookie across requests
type shopper struct {
	t       *testing.T
	router  *gin.Engine
	user    string
	cookies []*http.Cookie
}

func (s *shopper) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.user != "" {
		req.Header.Set(httpapi.UserHeader, s.user)
	}
	for _, c := range s.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if cookies := w.Result().Cookies(); len(cookies) > 0 {
		s.cookies = cookies
	}
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthCheck(t *testing.T) {
	s := &shopper{t: t, router: newRouter(t)}

	w := s.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestBooks(t *testing.T) {
	s := &shopper{t: t, router: newRouter(t)}

	w := s.do(http.MethodGet, "/api/books", nil)
	require.Equal(t, http.StatusOK, w.Code)
	books := decode[[]catalog.Book](t, w)
	assert.Len(t, books, 2)

	w = s.do(http.MethodGet, "/api/books/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Emma", decode[catalog.Book](t, w).Title)

	w = s.do(http.MethodGet, "/api/books/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "catalog.bookNotFound", decode[map[string]any](t, w)["error"])

	w = s.do(http.MethodGet, "/api/books/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserRequired(t *testing.T) {
	s := &shopper{t: t, router: newRouter(t)}

	w := s.do(http.MethodGet, "/api/cart", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReservationFlow(t *testing.T) {
	s := &shopper{t: t, router: newRouter(t), user: "alice"}

	// Reserve
	w := s.do(http.MethodPost, "/api/reservations", httpapi.ItemRequest{BookID: 1, Quantity: 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[httpapi.ReservationResponse](t, w)
	assert.Equal(t, 2, created.Quantity)
	assert.InDelta(t, 1.0, created.DepositAmount, 1e-9)
	assert.InDelta(t, 19.0, created.RemainingAmount, 1e-9)
	require.NotEmpty(t, s.cookies)

	// The session cart shows the reserved line
	w = s.do(http.MethodGet, "/api/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[httpapi.CartResponse](t, w)
	require.Len(t, view.Items, 1)
	assert.True(t, view.Items[0].Reserved)
	assert.InDelta(t, 19.0, view.Total, 1e-9)

	// Someone else cannot cancel it
	other := &shopper{t: t, router: s.router, user: "bob"}
	w = other.do(http.MethodPost, "/api/reservations/1/cancel", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "reservation.accessDenied", decode[map[string]any](t, w)["error"])

	// Cancel restores stock and drops the line
	w = s.do(http.MethodPost, "/api/reservations/1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/books/1", nil)
	assert.Equal(t, 5, decode[catalog.Book](t, w).Stock)

	w = s.do(http.MethodGet, "/api/cart", nil)
	assert.Empty(t, decode[httpapi.CartResponse](t, w).Items)

	w = s.do(http.MethodPost, "/api/reservations/1/purchase", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReserve_NotEnoughStock(t *testing.T) {
	s := &shopper{t: t, router: newRouter(t), user: "alice"}

	w := s.do(http.MethodPost, "/api/reservations", httpapi.ItemRequest{BookID: 2, Quantity: 2})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "reservation.notEnoughStock", decode[map[string]any](t, w)["error"])
}

func TestCartAndCheckout(t *testing.T) {
	s := &shopper{t: t, router: newRouter(t), user: "alice"}

	w := s.do(http.MethodPost, "/api/cart/items", httpapi.ItemRequest{BookID: 1, Quantity: 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/cart/items", httpapi.ItemRequest{BookID: 2, Quantity: 2})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "cart.notEnoughStock", decode[map[string]any](t, w)["error"])

	w = s.do(http.MethodPost, "/api/reservations", httpapi.ItemRequest{BookID: 2, Quantity: 1})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, "/api/cart/checkout", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/cart", nil)
	assert.Empty(t, decode[httpapi.CartResponse](t, w).Items)

	w = s.do(http.MethodGet, "/api/reservations", nil)
	assert.Empty(t, decode[[]httpapi.ReservationResponse](t, w))

	w = s.do(http.MethodGet, "/api/books/1", nil)
	assert.Equal(t, 2, decode[catalog.Book](t, w).Stock)

	w = s.do(http.MethodPost, "/api/cart/checkout", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "cart.empty", decode[map[string]any](t, w)["error"])
}

func TestRemoveAndClear(t *testing.T) {
	s := &shopper{t: t, router: newRouter(t), user: "alice"}

	s.do(http.MethodPost, "/api/cart/items", httpapi.ItemRequest{BookID: 1, Quantity: 1})
	s.do(http.MethodPost, "/api/reservations", httpapi.ItemRequest{BookID: 1, Quantity: 2})

	w := s.do(http.MethodDelete, "/api/cart/items/2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "cart.itemNotFound", decode[map[string]any](t, w)["error"])

	w = s.do(http.MethodDelete, "/api/cart/items/1?reserved=false", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[httpapi.CartResponse](t, w).Items, 1)

	w = s.do(http.MethodDelete, "/api/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[httpapi.CartResponse](t, w).Items)

	w = s.do(http.MethodGet, "/api/books/1", nil)
	assert.Equal(t, 5, decode[catalog.Book](t, w).Stock)
}

func TestPurchaseItem(t *testing.T) {
	s := &shopper{t: t, router: newRouter(t), user: "alice"}

	s.do(http.MethodPost, "/api/cart/items", httpapi.ItemRequest{BookID: 1, Quantity: 2})

	w := s.do(http.MethodPost, "/api/cart/items/1/purchase", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decode[httpapi.CartResponse](t, w).Items)

	w = s.do(http.MethodGet, "/api/books/1", nil)
	assert.Equal(t, 3, decode[catalog.Book](t, w).Stock)
}

func TestInvalidRequestBody(t *testing.T) {
	s := &shopper{t: t, router: newRouter(t), user: "alice"}

	w := s.do(http.MethodPost, "/api/cart/items", map[string]any{"book_id": 1, "quantity": 0})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// recordingStore counts deletes on top of a memory store
type recordingStore struct {
	*cart.MemoryStore
	deleted []string
}

func (s *recordingStore) Delete(ctx context.Context, sessionID string) error {
	s.deleted = append(s.deleted, sessionID)
	return s.MemoryStore.Delete(ctx, sessionID)
}

func TestCheckout_DropsCartSession(t *testing.T) {
	// Arrange
	store := &recordingStore{MemoryStore: cart.NewMemoryStore()}
	s := &shopper{t: t, router: newRouterWithStore(t, store), user: "alice"}

	w := s.do(http.MethodPost, "/api/cart/items", httpapi.ItemRequest{BookID: 1, Quantity: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Empty(t, store.deleted)

	// Act
	w = s.do(http.MethodPost, "/api/cart/checkout", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, store.deleted, 1)
	require.NotEmpty(t, s.cookies)
	assert.Equal(t, s.cookies[0].Value, store.deleted[0])

	w = s.do(http.MethodGet, "/api/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[httpapi.CartResponse](t, w).Items)
}
