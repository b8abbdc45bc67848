// Package client is a Go client for the bookstore HTTP API. A Client acts as
// one shopper: it sends the username on every request and keeps the cart
// session cookie between calls.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
	"github.com/matheusmosca/bookstore-reservations/internal/httpapi"
)

// APIError is a non-2xx answer. Key is the message key sent by the server,
// e.g. "reservation.notEnoughStock".
type APIError struct {
	Status int
	Key    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bookstore: %d %s", e.Status, e.Key)
}

type errorBody struct {
	Error string `json:"error"`
}

type Client struct {
	http *resty.Client
}

func New(baseURL, username string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader(httpapi.UserHeader, username).
			SetHeader("Content-Type", "application/json").
			SetTimeout(10 * time.Second),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	req := c.http.R().SetContext(ctx).SetError(&errorBody{})
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode()}
		if e, ok := resp.Error().(*errorBody); ok {
			apiErr.Key = e.Error
		}
		return apiErr
	}
	return nil
}

func (c *Client) ListBooks(ctx context.Context) ([]catalog.Book, error) {
	var books []catalog.Book
	if err := c.do(ctx, http.MethodGet, "/api/books", nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *Client) GetBook(ctx context.Context, id int64) (*catalog.Book, error) {
	var book catalog.Book
	if err := c.do(ctx, http.MethodGet, "/api/books/"+strconv.FormatInt(id, 10), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *Client) ViewCart(ctx context.Context) (*httpapi.CartResponse, error) {
	var view httpapi.CartResponse
	if err := c.do(ctx, http.MethodGet, "/api/cart", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) AddToCart(ctx context.Context, bookID int64, qty int) (*httpapi.CartResponse, error) {
	var view httpapi.CartResponse
	req := httpapi.ItemRequest{BookID: bookID, Quantity: qty}
	if err := c.do(ctx, http.MethodPost, "/api/cart/items", req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func itemPath(bookID int64) string {
	return "/api/cart/items/" + strconv.FormatInt(bookID, 10)
}

func reservedQuery(reserved bool) string {
	return "?reserved=" + strconv.FormatBool(reserved)
}

func (c *Client) RemoveFromCart(ctx context.Context, bookID int64, reserved bool) (*httpapi.CartResponse, error) {
	var view httpapi.CartResponse
	if err := c.do(ctx, http.MethodDelete, itemPath(bookID)+reservedQuery(reserved), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) PurchaseItem(ctx context.Context, bookID int64, reserved bool) (*httpapi.CartResponse, error) {
	var view httpapi.CartResponse
	if err := c.do(ctx, http.MethodPost, itemPath(bookID)+"/purchase"+reservedQuery(reserved), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) ClearCart(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/cart", nil, nil)
}

// Checkout fails with an *APIError keyed "cart.notEnoughStock" when a line
// could not be bought.
func (c *Client) Checkout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/cart/checkout", nil, nil)
}

func (c *Client) Reserve(ctx context.Context, bookID int64, qty int) (*httpapi.ReservationResponse, error) {
	var r httpapi.ReservationResponse
	req := httpapi.ItemRequest{BookID: bookID, Quantity: qty}
	if err := c.do(ctx, http.MethodPost, "/api/reservations", req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Reservations(ctx context.Context) ([]httpapi.ReservationResponse, error) {
	var list []httpapi.ReservationResponse
	if err := c.do(ctx, http.MethodGet, "/api/reservations", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) PurchaseReservation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, "/api/reservations/"+strconv.FormatInt(id, 10)+"/purchase", nil, nil)
}

func (c *Client) CancelReservation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, "/api/reservations/"+strconv.FormatInt(id, 10)+"/cancel", nil, nil)
}
