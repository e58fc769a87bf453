package models

import "time"

// PaymentIntent is the provider-side pending-payment record created before
// the user completes payment. Consumed exactly once by the payment widget.
type PaymentIntent struct {
	ProviderOrderID string `json:"provider_order_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// PaymentResult is the outcome of server-side verification. An order is not
// paid until Verified is true.
type PaymentResult struct {
	Verified       bool   `json:"verified"`
	TransactionRef string `json:"transaction_ref,omitempty"`
}

// Transaction represents a wallet or payment transaction
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userid,omitempty"`
	Type      string    `json:"type"`   // credit, debit, payment, refund
	Method    string    `json:"method"` // wallet, card, upi, cod
	Amount    int64     `json:"amount"`
	EntityID  string    `json:"entity_id,omitempty"` // e.g. order id
	Status    string    `json:"state"`               // initiated, success, failed
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// WalletStatement is the balance plus recent transactions for one user.
type WalletStatement struct {
	Balance      int64         `json:"balance"`
	Transactions []Transaction `json:"transactions"`
}
