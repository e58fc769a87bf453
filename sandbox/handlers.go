package sandbox

import (
	"crypto/hmac"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"tiffin/globals"
	"tiffin/models"
	"tiffin/utils"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register creates an account with a fresh wallet and, for customers, a cart.
func (s *Server) Register(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if creds.Username == "" || creds.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	if creds.Role == "" {
		creds.Role = "customer"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	s.mu.Lock()
	key := newAccountKey(creds.Role, creds.Username)
	if _, exists := s.users[key]; exists {
		s.mu.Unlock()
		utils.RespondWithError(w, http.StatusConflict, "Username already taken")
		return
	}
	u := &account{
		ID:           newUserID(),
		Username:     creds.Username,
		PasswordHash: hash,
		Role:         creds.Role,
	}
	if creds.Role == "customer" {
		u.CartID = newCartID()
	}
	s.users[key] = u
	s.wallets[u.ID] = &walletState{Balance: startingBalance}
	s.mu.Unlock()

	token, err := s.mintToken(u)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, map[string]string{"token": token, "userid": u.ID})
}

// Login checks credentials and mints a fresh token.
func (s *Server) Login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if creds.Role == "" {
		creds.Role = "customer"
	}

	s.mu.Lock()
	u, ok := s.users[newAccountKey(creds.Role, creds.Username)]
	s.mu.Unlock()
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(creds.Password)); err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, err := s.mintToken(u)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"token": token, "userid": u.ID})
}

type addItemPayload struct {
	CartID string          `json:"cartid"`
	Line   models.CartLine `json:"line"`
}

// AddCartItem merges the line into the cart and confirms the new quantity.
func (s *Server) AddCartItem(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload addItemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	line := payload.Line
	if payload.CartID == "" || line.MenuID == "" || line.UnitPrice <= 0 || line.Quantity < 1 {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing or invalid fields")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cart(payload.CartID)
	if existing, ok := c.lines[line.MenuID]; ok {
		existing.Quantity += line.Quantity
		utils.RespondWithJSON(w, http.StatusOK, map[string]int{"new_quantity": existing.Quantity})
		return
	}
	l := line
	c.lines[l.MenuID] = &l
	c.order = append(c.order, l.MenuID)
	utils.RespondWithJSON(w, http.StatusOK, map[string]int{"new_quantity": l.Quantity})
}

type mutationPayload struct {
	CartID string `json:"cartid"`
	MenuID string `json:"menuid"`
}

// IncrementCartLine bumps an existing line and confirms the new quantity.
func (s *Server) IncrementCartLine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload mutationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cart(payload.CartID)
	line, ok := c.lines[payload.MenuID]
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "Item not in cart")
		return
	}
	line.Quantity++
	utils.RespondWithJSON(w, http.StatusOK, map[string]int{"new_quantity": line.Quantity})
}

// DecrementCartLine lowers an existing line. When the quantity drops below 1
// the line is removed and the response carries no new_quantity; that absence
// is the removal signal the client keys on.
func (s *Server) DecrementCartLine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload mutationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cart(payload.CartID)
	line, ok := c.lines[payload.MenuID]
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "Item not in cart")
		return
	}
	line.Quantity--
	if line.Quantity < 1 {
		c.remove(payload.MenuID)
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "removed"})
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]int{"new_quantity": line.Quantity})
}

// GetCart returns the authoritative cart mirror.
func (s *Server) GetCart(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	cartID := ps.ByName("cartid")

	s.mu.Lock()
	defer s.mu.Unlock()
	utils.RespondWithJSON(w, http.StatusOK, s.cart(cartID).snapshot(cartID))
}

type createOrderPayload struct {
	CartID       string `json:"cartid"`
	UserID       string `json:"userid"`
	RestaurantID string `json:"restaurantid"`
}

// CreateOrder snapshots the cart into an order. A repeated Idempotency-Key
// returns the already-created order instead of a duplicate.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload createOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid order payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		if orderID, ok := s.idem[key]; ok {
			utils.RespondWithJSON(w, http.StatusOK, s.orders[orderID])
			return
		}
	}

	c, ok := s.carts[payload.CartID]
	if !ok || len(c.order) == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "Cart is empty")
		return
	}

	snapshot := c.snapshot(payload.CartID)
	order := &models.Order{
		OrderID:      newOrderID(),
		UserID:       payload.UserID,
		RestaurantID: payload.RestaurantID,
		Items:        snapshot.Lines,
		TotalPrice:   snapshot.TotalPrice(),
		Status:       models.StatusCreated,
		CreatedAt:    time.Now(),
	}
	s.orders[order.OrderID] = order
	s.orderCarts[order.OrderID] = payload.CartID
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		s.idem[key] = order.OrderID
	}
	utils.RespondWithJSON(w, http.StatusOK, order)
}

type intentPayload struct {
	UserID  string `json:"userid"`
	OrderID string `json:"orderid"`
	Amount  int64  `json:"amount"`
}

// CreatePaymentIntent opens a provider-side pending payment for an order.
func (s *Server) CreatePaymentIntent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload intentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[payload.OrderID]
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "Order not found")
		return
	}

	intent := &intentState{
		OrderID:  order.OrderID,
		Amount:   order.TotalPrice,
		Currency: globals.DefaultCurrency,
	}
	providerOrderID := newIntentID()
	s.intents[providerOrderID] = intent
	utils.RespondWithJSON(w, http.StatusOK, models.PaymentIntent{
		ProviderOrderID: providerOrderID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
	})
}

type verifyPayload struct {
	ProviderOrderID   string `json:"provider_order_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	ProviderSignature string `json:"provider_signature"`
}

// VerifyPayment checks the provider signature. Only a valid signature settles
// the payment: the order moves to PAID, the wallet is debited, and the cart
// is cleared.
func (s *Server) VerifyPayment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload verifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	s.mu.Lock()
	intent, ok := s.intents[payload.ProviderOrderID]
	if !ok {
		s.mu.Unlock()
		utils.RespondWithError(w, http.StatusNotFound, "Unknown payment")
		return
	}

	expected := s.SignPayment(payload.ProviderOrderID, payload.ProviderPaymentID)
	if !hmac.Equal([]byte(expected), []byte(payload.ProviderSignature)) {
		s.mu.Unlock()
		log.Printf("VerifyPayment: signature mismatch for %s", payload.ProviderOrderID)
		utils.RespondWithJSON(w, http.StatusOK, models.PaymentResult{Verified: false})
		return
	}

	intent.Settled = true
	order := s.orders[intent.OrderID]
	order.Status = models.StatusPaid

	ref := newTxnRef()
	if wallet, ok := s.wallets[order.UserID]; ok {
		wallet.Balance -= intent.Amount
		wallet.Transactions = append(wallet.Transactions, models.Transaction{
			ID:        ref,
			UserID:    order.UserID,
			Type:      "payment",
			Method:    "upi",
			Amount:    intent.Amount,
			EntityID:  order.OrderID,
			Status:    "success",
			Currency:  intent.Currency,
			CreatedAt: time.Now(),
		})
	}
	if cartID, ok := s.orderCarts[order.OrderID]; ok {
		if c, ok := s.carts[cartID]; ok {
			c.clear()
		}
	}
	ev := models.StatusEvent{EventID: newEventID(), OrderID: order.OrderID, Status: models.StatusPaid}
	s.mu.Unlock()

	s.feeds.broadcast(ev)
	utils.RespondWithJSON(w, http.StatusOK, models.PaymentResult{Verified: true, TransactionRef: ref})
}

type walletPayload struct {
	UserID string `json:"userid"`
}

// Wallet returns the balance and transaction list for a user.
func (s *Server) Wallet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload walletPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wallet, ok := s.wallets[payload.UserID]
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "account not found")
		return
	}
	txns := make([]models.Transaction, len(wallet.Transactions))
	copy(txns, wallet.Transactions)
	utils.RespondWithJSON(w, http.StatusOK, models.WalletStatement{
		Balance:      wallet.Balance,
		Transactions: txns,
	})
}

type statusPayload struct {
	Status models.OrderStatus `json:"status"`
	Note   string             `json:"note"`
}

// SetOrderStatus drives the server-pushed part of the lifecycle (restaurant
// acceptance or rejection) and broadcasts the event on the feed.
func (s *Server) SetOrderStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var payload statusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if err := s.PushStatus(ps.ByName("orderid"), payload.Status, payload.Note); err != nil {
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
}
