package api

import (
	"context"
	"net/http"
	"net/url"

	"tiffin/models"
)

// MutationResponse is the backend's answer to a cart mutation. A decrement
// that removes the line omits new_quantity entirely; its absence is the
// authoritative removal signal.
type MutationResponse struct {
	NewQuantity *int `json:"new_quantity,omitempty"`
}

type cartMutation struct {
	CartID   string `json:"cartid"`
	MenuID   string `json:"menuid"`
	Quantity int    `json:"quantity,omitempty"`
}

type addCartItemRequest struct {
	CartID string          `json:"cartid"`
	Line   models.CartLine `json:"line"`
}

// AddCartItem adds (or merges) a line on the server-side cart mirror.
func (c *Client) AddCartItem(ctx context.Context, cartID string, line models.CartLine) (MutationResponse, error) {
	var out MutationResponse
	err := c.do(ctx, http.MethodPost, "/api/cart/items", nil, addCartItemRequest{CartID: cartID, Line: line}, &out)
	return out, err
}

// IncrementCartLine bumps the quantity of one line by one.
func (c *Client) IncrementCartLine(ctx context.Context, cartID, menuID string) (MutationResponse, error) {
	var out MutationResponse
	err := c.do(ctx, http.MethodPost, "/api/cart/increment", nil, cartMutation{CartID: cartID, MenuID: menuID}, &out)
	return out, err
}

// DecrementCartLine lowers the quantity of one line by one. The response
// carries no new_quantity when the server removed the line.
func (c *Client) DecrementCartLine(ctx context.Context, cartID, menuID string) (MutationResponse, error) {
	var out MutationResponse
	err := c.do(ctx, http.MethodPost, "/api/cart/decrement", nil, cartMutation{CartID: cartID, MenuID: menuID}, &out)
	return out, err
}

// FetchCart loads the authoritative cart mirror.
func (c *Client) FetchCart(ctx context.Context, cartID string) (models.Cart, error) {
	var out models.Cart
	err := c.do(ctx, http.MethodGet, "/api/cart/"+url.PathEscape(cartID), nil, nil, &out)
	return out, err
}

// CreateOrderRequest snapshots the cart at checkout.
type CreateOrderRequest struct {
	CartID       string `json:"cartid"`
	UserID       string `json:"userid"`
	RestaurantID string `json:"restaurantid,omitempty"`
}

// CreateOrder submits the cart for ordering. idemKey makes retries after a
// transient failure safe; the backend returns the same order for a repeated
// key instead of creating a duplicate.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest, idemKey string) (models.Order, error) {
	header := http.Header{}
	if idemKey != "" {
		header.Set("Idempotency-Key", idemKey)
	}
	var out models.Order
	err := c.do(ctx, http.MethodPost, "/api/orders", header, req, &out)
	return out, err
}

type paymentIntentRequest struct {
	UserID  string `json:"userid"`
	OrderID string `json:"orderid"`
	Amount  int64  `json:"amount"`
}

// CreatePaymentIntent obtains a provider order id for the payment widget.
func (c *Client) CreatePaymentIntent(ctx context.Context, userID, orderID string, amount int64) (models.PaymentIntent, error) {
	var out models.PaymentIntent
	err := c.do(ctx, http.MethodPost, "/api/payments/intent", nil, paymentIntentRequest{UserID: userID, OrderID: orderID, Amount: amount}, &out)
	return out, err
}

// VerifyPaymentRequest carries the provider's callback triple for server-side
// authenticity verification.
type VerifyPaymentRequest struct {
	ProviderOrderID   string `json:"provider_order_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	ProviderSignature string `json:"provider_signature"`
}

// VerifyPayment asks the backend to confirm that the provider callback is
// authentic and the payment settled.
func (c *Client) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (models.PaymentResult, error) {
	var out models.PaymentResult
	err := c.do(ctx, http.MethodPost, "/api/payments/verify", nil, req, &out)
	return out, err
}

type walletRequest struct {
	UserID string `json:"userid"`
}

// WalletStatement fetches the balance and recent transactions.
func (c *Client) WalletStatement(ctx context.Context, userID string) (models.WalletStatement, error) {
	var out models.WalletStatement
	err := c.do(ctx, http.MethodPost, "/api/wallet", nil, walletRequest{UserID: userID}, &out)
	return out, err
}

// Credentials for login and signup.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// TokenResponse is returned by login and signup.
type TokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userid"`
}

func (c *Client) Login(ctx context.Context, creds Credentials) (TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, creds, &out)
	return out, err
}

func (c *Client) Register(ctx context.Context, creds Credentials) (TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/register", nil, creds, &out)
	return out, err
}
