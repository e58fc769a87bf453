package models

import "time"

// OrderStatus is the finite progression of an order. DRAFT is local-only;
// CONFIRMED and REJECTED are server-pushed.
type OrderStatus string

const (
	StatusDraft          OrderStatus = "DRAFT"
	StatusCreated        OrderStatus = "CREATED"
	StatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	StatusPaid           OrderStatus = "PAID"
	StatusConfirmed      OrderStatus = "CONFIRMED"
	StatusPaymentFailed  OrderStatus = "PAYMENT_FAILED"
	StatusRejected       OrderStatus = "REJECTED"
)

var statusRank = map[OrderStatus]int{
	StatusDraft:          0,
	StatusCreated:        1,
	StatusPaymentFailed:  2,
	StatusPaymentPending: 3,
	StatusPaid:           4,
	StatusConfirmed:      5,
	StatusRejected:       6,
}

// Rank orders statuses monotonically so redelivered push events can be
// discarded. Unknown statuses rank below DRAFT.
func (s OrderStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transition is expected.
func (s OrderStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// Order is a finalized cart snapshot. Status transitions past PAID are
// server-driven; the client never invents them.
type Order struct {
	OrderID      string      `json:"orderId"`
	UserID       string      `json:"userId"`
	RestaurantID string      `json:"restaurantid"`
	Items        []CartLine  `json:"items"`
	TotalPrice   int64       `json:"totalprice"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// StatusEvent is one push-channel delivery. Redelivery is possible, so
// consumers dedupe by EventID and by status rank.
type StatusEvent struct {
	EventID string      `json:"eventId"`
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
	Note    string      `json:"note,omitempty"`
}
