// Package sandbox is a simulated delivery backend implementing the wire
// contract the client core consumes: auth, cart mirror with the new_quantity
// protocol, idempotent order creation, payment intent/verify, wallet, and the
// order-status push channel. It exists for integration tests and local
// development; the production backend is an external collaborator.
package sandbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"tiffin/middleware"
	"tiffin/models"
	"tiffin/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

const startingBalance = 100000 // paise

type account struct {
	ID           string
	Username     string
	PasswordHash []byte
	Role         string
	CartID       string
}

type cartState struct {
	lines map[string]*models.CartLine
	order []string
}

type intentState struct {
	OrderID  string
	Amount   int64
	Currency string
	Settled  bool
}

type walletState struct {
	Balance      int64
	Transactions []models.Transaction
}

// Server holds all simulated state in memory, guarded by one mutex.
type Server struct {
	jwtSecret      []byte
	providerSecret []byte

	mu         sync.Mutex
	users      map[string]*account // keyed by role + "/" + username
	carts      map[string]*cartState
	orders     map[string]*models.Order
	orderCarts map[string]string // order id -> source cart id
	idem       map[string]string // idempotency key -> order id
	intents    map[string]*intentState
	wallets    map[string]*walletState

	feeds *feedHub
}

func New(jwtSecret, providerSecret []byte) *Server {
	return &Server{
		jwtSecret:      jwtSecret,
		providerSecret: providerSecret,
		users:          make(map[string]*account),
		carts:          make(map[string]*cartState),
		orders:         make(map[string]*models.Order),
		orderCarts:     make(map[string]string),
		idem:           make(map[string]string),
		intents:        make(map[string]*intentState),
		wallets:        make(map[string]*walletState),
		feeds:          newFeedHub(),
	}
}

// Authenticated wraps a handler with JWT auth against this server's secret.
func (s *Server) Authenticated(next httprouter.Handle) httprouter.Handle {
	return middleware.Authenticate(s.jwtSecret)(next)
}

func (s *Server) mintToken(u *account) (string, error) {
	claims := &middleware.Claims{
		Username: u.Username,
		UserID:   u.ID,
		CartID:   u.CartID,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// SignPayment computes the provider signature for an intent/payment pair.
// Stands in for the payment widget in tests and the local demo flow.
func (s *Server) SignPayment(providerOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, s.providerSecret)
	mac.Write([]byte(providerOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) cart(cartID string) *cartState {
	c, ok := s.carts[cartID]
	if !ok {
		c = &cartState{lines: make(map[string]*models.CartLine)}
		s.carts[cartID] = c
	}
	return c
}

func (c *cartState) snapshot(cartID string) models.Cart {
	out := models.Cart{CartID: cartID, Lines: make([]models.CartLine, 0, len(c.order))}
	for _, id := range c.order {
		out.Lines = append(out.Lines, *c.lines[id])
	}
	return out
}

func (c *cartState) remove(menuID string) {
	delete(c.lines, menuID)
	for i, id := range c.order {
		if id == menuID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *cartState) clear() {
	c.lines = make(map[string]*models.CartLine)
	c.order = c.order[:0]
}

func newOrderID() string   { return "ORD" + utils.GenerateRandomDigitString(8) }
func newIntentID() string  { return "pay_" + utils.GenerateRandomString(14) }
func newTxnRef() string    { return "txn_" + utils.GenerateRandomString(14) }
func newEventID() string   { return "evt_" + utils.GenerateRandomString(14) }
func newUserID() string    { return "u" + utils.GenerateRandomDigitString(8) }
func newCartID() string    { return "c" + utils.GenerateRandomDigitString(8) }
func newAccountKey(role, username string) string { return role + "/" + username }
