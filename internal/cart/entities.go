package cart

import (
	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
)

// DepositRate is the share of the price paid up front when reserving.
const DepositRate = 0.05

// CartItem is one line of a cart. A reserved line mirrors a reservation row
// and is only trusted after the cart has been synchronized.
type CartItem struct {
	Book     *catalog.Book `json:"book"`
	Quantity int           `json:"quantity"`
	Reserved bool          `json:"reserved"`
}

func (i *CartItem) BookID() int64 {
	return i.Book.ID
}

// Subtotal is what is still owed for the line: the full price for a normal
// line, the remaining balance for a reserved one.
func (i *CartItem) Subtotal() float64 {
	total := i.Book.Price * float64(i.Quantity)
	if i.Reserved {
		return total * (1 - DepositRate)
	}
	return total
}

// PaidAmount is the deposit already paid. Always zero for normal lines.
func (i *CartItem) PaidAmount() float64 {
	if !i.Reserved {
		return 0
	}
	return i.Book.Price * float64(i.Quantity) * DepositRate
}

// Cart is the per-session list of lines. For one book there is at most one
// reserved line and at most one normal line; the two are never merged.
type Cart struct {
	Items []*CartItem `json:"items"`
}

func New() *Cart {
	return &Cart{Items: []*CartItem{}}
}

// FindItem returns the line for bookID with the given reserved flag, or nil.
func (c *Cart) FindItem(bookID int64, reserved bool) *CartItem {
	for _, item := range c.Items {
		if item.BookID() == bookID && item.Reserved == reserved {
			return item
		}
	}
	return nil
}

// AddItem merges qty into the normal line for book, appending one if needed.
func (c *Cart) AddItem(book *catalog.Book, qty int) {
	if item := c.FindItem(book.ID, false); item != nil {
		item.Quantity += qty
		item.Book = book
		return
	}
	c.Items = append(c.Items, &CartItem{Book: book, Quantity: qty})
}

// UpsertReservedItem sets the reserved line for book to qty. The quantity is
// absolute: it overwrites, it never adds.
func (c *Cart) UpsertReservedItem(book *catalog.Book, qty int) {
	if item := c.FindItem(book.ID, true); item != nil {
		item.Quantity = qty
		item.Book = book
		return
	}
	c.Items = append(c.Items, &CartItem{Book: book, Quantity: qty, Reserved: true})
}

// RemoveItem drops the matching line and reports whether one was found.
func (c *Cart) RemoveItem(bookID int64, reserved bool) bool {
	for i, item := range c.Items {
		if item.BookID() == bookID && item.Reserved == reserved {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// RetainReservedItems drops every reserved line whose book is rejected by keep.
// Normal lines are left alone.
func (c *Cart) RetainReservedItems(keep func(bookID int64) bool) {
	kept := c.Items[:0]
	for _, item := range c.Items {
		if item.Reserved && !keep(item.BookID()) {
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(c.Items); i++ {
		c.Items[i] = nil
	}
	c.Items = kept
}

func (c *Cart) ReservedItems() []*CartItem {
	return c.filter(true)
}

func (c *Cart) NonReservedItems() []*CartItem {
	return c.filter(false)
}

func (c *Cart) filter(reserved bool) []*CartItem {
	var out []*CartItem
	for _, item := range c.Items {
		if item.Reserved == reserved {
			out = append(out, item)
		}
	}
	return out
}

// Total is the sum of the line subtotals.
func (c *Cart) Total() float64 {
	var total float64
	for _, item := range c.Items {
		total += item.Subtotal()
	}
	return total
}

func (c *Cart) Clear() {
	c.Items = []*CartItem{}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}
