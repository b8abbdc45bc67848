package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/matheusmosca/bookstore-reservations/internal/cart"
	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
	"github.com/matheusmosca/bookstore-reservations/internal/checkout"
	"github.com/matheusmosca/bookstore-reservations/internal/gate"
	"github.com/matheusmosca/bookstore-reservations/internal/reservation"
	"github.com/matheusmosca/bookstore-reservations/internal/shopping"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
)

// Shop is the store surface the handlers call
type Shop interface {
	ListBooks(ctx context.Context) ([]*catalog.Book, error)
	GetBook(ctx context.Context, id int64) (*catalog.Book, error)
	ReserveBook(ctx context.Context, username string, bookID int64, qty int, c *cart.Cart) (*reservation.Reservation, error)
	PurchaseReservation(ctx context.Context, id int64, username string, c *cart.Cart) (bool, error)
	CancelReservation(ctx context.Context, id int64, username string, c *cart.Cart) (bool, error)
	GetReservations(ctx context.Context, username string) ([]*reservation.Reservation, error)
	AddBookToCart(ctx context.Context, c *cart.Cart, bookID int64, qty int) error
	RemoveItemFromCart(ctx context.Context, username string, c *cart.Cart, bookID int64, reserved bool) error
	PurchaseItem(ctx context.Context, username string, c *cart.Cart, bookID int64, reserved bool) (bool, error)
	ClearCart(ctx context.Context, username string, c *cart.Cart) error
	ViewCart(ctx context.Context, username string, c *cart.Cart) (float64, error)
	Checkout(ctx context.Context, username string, c *cart.Cart) (bool, error)
}

type Handler struct {
	shop  Shop
	carts cart.Store
}

func NewHandler(shop Shop, carts cart.Store) *Handler {
	return &Handler{shop: shop, carts: carts}
}

type ItemRequest struct {
	BookID   int64 `json:"book_id" binding:"required"`
	Quantity int   `json:"quantity" binding:"required,min=1"`
}

type CartItemResponse struct {
	Book       *catalog.Book `json:"book"`
	Quantity   int           `json:"quantity"`
	Reserved   bool          `json:"reserved"`
	Subtotal   float64       `json:"subtotal"`
	PaidAmount float64       `json:"paid_amount"`
}

type CartResponse struct {
	Items []CartItemResponse `json:"items"`
	Total float64            `json:"total"`
}

type ReservationResponse struct {
	*reservation.Reservation
	DepositAmount   float64 `json:"deposit_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
}

func newCartResponse(c *cart.Cart) CartResponse {
	resp := CartResponse{Items: make([]CartItemResponse, 0, len(c.Items)), Total: c.Total()}
	for _, item := range c.Items {
		resp.Items = append(resp.Items, CartItemResponse{
			Book:       item.Book,
			Quantity:   item.Quantity,
			Reserved:   item.Reserved,
			Subtotal:   item.Subtotal(),
			PaidAmount: item.PaidAmount(),
		})
	}
	return resp
}

func newReservationResponse(r *reservation.Reservation) ReservationResponse {
	return ReservationResponse{
		Reservation:     r,
		DepositAmount:   r.DepositAmount(),
		RemainingAmount: r.RemainingAmount(),
	}
}

// HealthCheck reports the service as healthy
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "bookstore-service",
	})
}

func (h *Handler) ListBooks(c *gin.Context) {
	books, err := h.shop.ListBooks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *Handler) GetBook(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	book, err := h.shop.GetBook(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) ViewCart(c *gin.Context) {
	h.withCart(c, func(crt *cart.Cart) (int, any, error) {
		if _, err := h.shop.ViewCart(c.Request.Context(), username(c), crt); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, newCartResponse(crt), nil
	})
}

func (h *Handler) AddItem(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.withCart(c, func(crt *cart.Cart) (int, any, error) {
		if err := h.shop.AddBookToCart(c.Request.Context(), crt, req.BookID, req.Quantity); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, newCartResponse(crt), nil
	})
}

func (h *Handler) RemoveItem(c *gin.Context) {
	bookID, ok := int64Param(c, "bookId")
	if !ok {
		return
	}
	reserved := c.Query("reserved") == "true"
	h.withCart(c, func(crt *cart.Cart) (int, any, error) {
		if err := h.shop.RemoveItemFromCart(c.Request.Context(), username(c), crt, bookID, reserved); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, newCartResponse(crt), nil
	})
}

func (h *Handler) PurchaseItem(c *gin.Context) {
	bookID, ok := int64Param(c, "bookId")
	if !ok {
		return
	}
	reserved := c.Query("reserved") == "true"
	h.withCart(c, func(crt *cart.Cart) (int, any, error) {
		purchased, err := h.shop.PurchaseItem(c.Request.Context(), username(c), crt, bookID, reserved)
		if err != nil {
			return 0, nil, err
		}
		if !purchased {
			return 0, nil, shopping.ErrNotEnoughStock
		}
		return http.StatusOK, newCartResponse(crt), nil
	})
}

func (h *Handler) ClearCart(c *gin.Context) {
	h.withCart(c, func(crt *cart.Cart) (int, any, error) {
		if err := h.shop.ClearCart(c.Request.Context(), username(c), crt); err != nil {
			// the cart is emptied even when a cancellation fails
			log.Error().Err(err).Str("username", username(c)).Msg("clear cart finished with errors")
		}
		return http.StatusOK, newCartResponse(crt), nil
	})
}

func (h *Handler) Checkout(c *gin.Context) {
	h.withCart(c, func(crt *cart.Cart) (int, any, error) {
		ok, err := h.shop.Checkout(c.Request.Context(), username(c), crt)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return http.StatusConflict, gin.H{"error": shopping.ErrNotEnoughStock.Error(), "cart": newCartResponse(crt)}, nil
		}
		return http.StatusOK, gin.H{"result": "success"}, nil
	})
}

func (h *Handler) CreateReservation(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.withCart(c, func(crt *cart.Cart) (int, any, error) {
		r, err := h.shop.ReserveBook(c.Request.Context(), username(c), req.BookID, req.Quantity, crt)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, newReservationResponse(r), nil
	})
}

func (h *Handler) ListReservations(c *gin.Context) {
	reservations, err := h.shop.GetReservations(c.Request.Context(), username(c))
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]ReservationResponse, 0, len(reservations))
	for _, r := range reservations {
		resp = append(resp, newReservationResponse(r))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) PurchaseReservation(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	h.withCart(c, func(crt *cart.Cart) (int, any, error) {
		if _, err := h.shop.PurchaseReservation(c.Request.Context(), id, username(c), crt); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, gin.H{"result": "success"}, nil
	})
}

func (h *Handler) CancelReservation(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	h.withCart(c, func(crt *cart.Cart) (int, any, error) {
		if _, err := h.shop.CancelReservation(c.Request.Context(), id, username(c), crt); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, gin.H{"result": "success"}, nil
	})
}

// withCart loads the session cart, runs fn and stores the cart whatever fn
// returns, since a failed operation may still have changed it.
func (h *Handler) withCart(c *gin.Context, fn func(crt *cart.Cart) (int, any, error)) {
	ctx := c.Request.Context()
	sessionID := session(c)

	crt, err := h.carts.Load(ctx, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	status, body, opErr := fn(crt)

	if err := h.store(ctx, sessionID, crt); err != nil {
		respondError(c, errors.Join(opErr, err))
		return
	}
	if opErr != nil {
		respondError(c, opErr)
		return
	}
	c.JSON(status, body)
}

// store saves crt, or drops the session entry once the cart is empty, since
// Load already returns an empty cart for an unknown session.
func (h *Handler) store(ctx context.Context, sessionID string, crt *cart.Cart) error {
	if crt.IsEmpty() {
		return h.carts.Delete(ctx, sessionID)
	}
	return h.carts.Save(ctx, sessionID, crt)
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func statusFor(err error) int {
	switch {
	// wrappers first: their cause may match a sentinel below
	case errors.Is(err, shopping.ErrSyncFailed):
		return http.StatusInternalServerError
	case errors.Is(err, reservation.ErrStockReductionFailed):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrBookNotFound),
		errors.Is(err, stock.ErrBookNotFound),
		errors.Is(err, reservation.ErrBookNotFound),
		errors.Is(err, reservation.ErrNotFound),
		errors.Is(err, shopping.ErrBookNotFound),
		errors.Is(err, shopping.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, reservation.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, reservation.ErrNotEnoughStock),
		errors.Is(err, shopping.ErrNotEnoughStock),
		errors.Is(err, reservation.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, reservation.ErrInvalidQuantity),
		errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, shopping.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, gate.ErrAcquireTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the message key of a known error, or a generic one
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	key, known := messageKey(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	if !known {
		key = "internal.error"
	}
	c.JSON(status, gin.H{"error": key})
}

// wrapperErrors wrap a cause that is itself a known error
var wrapperErrors = []error{
	shopping.ErrSyncFailed,
	reservation.ErrStockReductionFailed,
}

var knownErrors = []error{
	catalog.ErrBookNotFound,
	stock.ErrBookNotFound,
	stock.ErrInvalidQuantity,
	reservation.ErrBookNotFound,
	reservation.ErrNotEnoughStock,
	reservation.ErrNotFound,
	reservation.ErrAccessDenied,
	reservation.ErrInvalidQuantity,
	reservation.ErrAlreadyExists,
	shopping.ErrBookNotFound,
	shopping.ErrNotEnoughStock,
	shopping.ErrItemNotFound,
	shopping.ErrInvalidQuantity,
	checkout.ErrEmptyCart,
	gate.ErrAcquireTimeout,
}

func messageKey(err error) (string, bool) {
	for _, known := range wrapperErrors {
		if errors.Is(err, known) {
			return known.Error(), true
		}
	}
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return known.Error(), true
		}
	}
	return "", false
}
