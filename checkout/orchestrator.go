// Package checkout sequences order creation, payment intent creation, the
// external payment widget, and payment verification. Failure at any step
// leaves the order in the state from which that step can be retried; the
// cart is never cleared by a failed step.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tiffin/api"
	"tiffin/identity"
	"tiffin/models"

	"github.com/google/uuid"
)

var (
	ErrCreationFailed       = errors.New("checkout: order creation failed")
	ErrAlreadyInProgress    = errors.New("checkout: order creation already in progress")
	ErrIntentCreationFailed = errors.New("checkout: payment intent creation failed")
	ErrVerificationFailed   = errors.New("checkout: payment verification failed")
	ErrUserCancelled        = errors.New("checkout: payment cancelled by user")
	ErrInvalidState         = errors.New("checkout: operation not valid in current state")
)

// GatewayOutcome is the single awaited result of the external payment widget,
// whatever its callback shape.
type GatewayOutcome int

const (
	GatewaySuccess GatewayOutcome = iota
	GatewayFailed
	GatewayCancelled
)

// GatewayResult carries the provider callback fields needed for verification.
type GatewayResult struct {
	Outcome   GatewayOutcome
	PaymentID string
	Signature string
}

// Backend is the slice of the API client the orchestrator needs.
type Backend interface {
	CreateOrder(ctx context.Context, req api.CreateOrderRequest, idemKey string) (models.Order, error)
	CreatePaymentIntent(ctx context.Context, userID, orderID string, amount int64) (models.PaymentIntent, error)
	VerifyPayment(ctx context.Context, req api.VerifyPaymentRequest) (models.PaymentResult, error)
	WalletStatement(ctx context.Context, userID string) (models.WalletStatement, error)
}

// CartReloader refreshes the cart mirror after a paid checkout.
// *cart.Manager satisfies it.
type CartReloader interface {
	LoadCart(ctx context.Context) (models.Cart, error)
}

type subscription struct {
	orderID string
	fn      func(models.Order)
}

type Orchestrator struct {
	backend  Backend
	id       identity.Identity
	reloader CartReloader

	mu       sync.Mutex
	status   models.OrderStatus
	order    models.Order
	intent   *models.PaymentIntent
	wallet   *models.WalletStatement
	idemKey  string
	creating bool
	subs     map[int]subscription
	nextSub  int
}

func NewOrchestrator(backend Backend, id identity.Identity) *Orchestrator {
	return &Orchestrator{
		backend: backend,
		id:      id,
		status:  models.StatusDraft,
		subs:    make(map[int]subscription),
	}
}

// SetCartReloader wires the cart mirror refresh that runs after PAID.
func (o *Orchestrator) SetCartReloader(r CartReloader) { o.reloader = r }

func (o *Orchestrator) Status() models.OrderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) Order() models.Order {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.order
}

func (o *Orchestrator) Intent() *models.PaymentIntent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.intent
}

// Wallet returns the statement captured after the last paid checkout, if any.
func (o *Orchestrator) Wallet() *models.WalletStatement {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.wallet
}

// OnStateChange registers fn for status changes of orderID. An empty orderID
// subscribes to every order. The returned func unsubscribes.
func (o *Orchestrator) OnStateChange(orderID string, fn func(models.Order)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = subscription{orderID: orderID, fn: fn}
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// setStatusLocked updates the state and returns the callbacks to fire once
// the lock is released.
func (o *Orchestrator) setStatusLocked(s models.OrderStatus) (models.Order, []func(models.Order)) {
	o.status = s
	o.order.Status = s
	snapshot := o.order
	var fns []func(models.Order)
	for _, sub := range o.subs {
		if sub.orderID == "" || sub.orderID == snapshot.OrderID {
			fns = append(fns, sub.fn)
		}
	}
	return snapshot, fns
}

func notify(snapshot models.Order, fns []func(models.Order)) {
	for _, fn := range fns {
		fn(snapshot)
	}
}

// CreateOrder submits the cart snapshot. A second call while one is in
// flight is rejected rather than dispatched; a call after success returns the
// existing order. The idempotency key survives transient failures so a retry
// cannot duplicate the order server-side.
func (o *Orchestrator) CreateOrder(ctx context.Context, c models.Cart) (models.Order, error) {
	o.mu.Lock()
	if o.creating {
		o.mu.Unlock()
		return models.Order{}, ErrAlreadyInProgress
	}
	if o.status != models.StatusDraft {
		existing := o.order
		o.mu.Unlock()
		return existing, nil
	}
	if len(c.Lines) == 0 {
		o.mu.Unlock()
		return models.Order{}, fmt.Errorf("%w: empty cart", ErrCreationFailed)
	}
	if o.idemKey == "" {
		o.idemKey = uuid.NewString()
	}
	key := o.idemKey
	o.creating = true
	o.mu.Unlock()

	req := api.CreateOrderRequest{
		CartID:       c.CartID,
		UserID:       o.id.UserID,
		RestaurantID: c.Lines[0].RestaurantID,
	}
	order, err := o.backend.CreateOrder(ctx, req, key)

	o.mu.Lock()
	o.creating = false
	if err != nil {
		o.mu.Unlock()
		return models.Order{}, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	o.order = order
	snapshot, fns := o.setStatusLocked(models.StatusCreated)
	o.mu.Unlock()
	notify(snapshot, fns)
	return snapshot, nil
}

// CreatePaymentIntent obtains the provider order id. Valid from CREATED, and
// from PAYMENT_FAILED so a failed payment can be retried on the same order.
func (o *Orchestrator) CreatePaymentIntent(ctx context.Context) (models.PaymentIntent, error) {
	o.mu.Lock()
	if o.status != models.StatusCreated && o.status != models.StatusPaymentFailed {
		o.mu.Unlock()
		return models.PaymentIntent{}, ErrInvalidState
	}
	order := o.order
	o.mu.Unlock()

	intent, err := o.backend.CreatePaymentIntent(ctx, o.id.UserID, order.OrderID, order.TotalPrice)
	if err != nil {
		// State is untouched: checkout can be retried without re-creating
		// the order.
		return models.PaymentIntent{}, fmt.Errorf("%w: %v", ErrIntentCreationFailed, err)
	}

	o.mu.Lock()
	o.intent = &intent
	snapshot, fns := o.setStatusLocked(models.StatusPaymentPending)
	o.mu.Unlock()
	notify(snapshot, fns)
	return intent, nil
}

// CompletePayment consumes the payment widget's result. A widget success
// alone never advances the order: PAID is reached only when the backend
// verifies the provider triple.
func (o *Orchestrator) CompletePayment(ctx context.Context, res GatewayResult) (models.PaymentResult, error) {
	o.mu.Lock()
	if o.status != models.StatusPaymentPending || o.intent == nil {
		o.mu.Unlock()
		return models.PaymentResult{}, ErrInvalidState
	}
	intent := *o.intent
	o.mu.Unlock()

	switch res.Outcome {
	case GatewayCancelled:
		o.failPayment()
		return models.PaymentResult{}, ErrUserCancelled
	case GatewayFailed:
		o.failPayment()
		return models.PaymentResult{}, fmt.Errorf("%w: payment widget reported failure", ErrVerificationFailed)
	}

	result, err := o.backend.VerifyPayment(ctx, api.VerifyPaymentRequest{
		ProviderOrderID:   intent.ProviderOrderID,
		ProviderPaymentID: res.PaymentID,
		ProviderSignature: res.Signature,
	})
	if err != nil {
		o.failPayment()
		return models.PaymentResult{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if !result.Verified {
		o.failPayment()
		return result, fmt.Errorf("%w: provider signature not verified", ErrVerificationFailed)
	}

	o.mu.Lock()
	snapshot, fns := o.setStatusLocked(models.StatusPaid)
	o.mu.Unlock()
	notify(snapshot, fns)

	o.refreshAfterPaid(ctx)
	return result, nil
}

func (o *Orchestrator) failPayment() {
	o.mu.Lock()
	snapshot, fns := o.setStatusLocked(models.StatusPaymentFailed)
	o.mu.Unlock()
	notify(snapshot, fns)
}

// refreshAfterPaid updates the wallet statement and the cart mirror. Both are
// best effort; checkout is already complete at PAID.
func (o *Orchestrator) refreshAfterPaid(ctx context.Context) {
	if stmt, err := o.backend.WalletStatement(ctx, o.id.UserID); err != nil {
		log.Printf("checkout: wallet refresh failed: %v", err)
	} else {
		o.mu.Lock()
		o.wallet = &stmt
		o.mu.Unlock()
	}
	if o.reloader != nil {
		if _, err := o.reloader.LoadCart(ctx); err != nil {
			log.Printf("checkout: cart refresh failed: %v", err)
		}
	}
}

// RefreshWallet fetches the wallet statement on demand.
func (o *Orchestrator) RefreshWallet(ctx context.Context) (models.WalletStatement, error) {
	stmt, err := o.backend.WalletStatement(ctx, o.id.UserID)
	if err != nil {
		return models.WalletStatement{}, err
	}
	o.mu.Lock()
	o.wallet = &stmt
	o.mu.Unlock()
	return stmt, nil
}

// ApplyStatusEvent folds a server-pushed event into the local order record.
// Events for an order no longer held, or ranked at or below the current
// status, are no-ops.
func (o *Orchestrator) ApplyStatusEvent(ev models.StatusEvent) {
	o.mu.Lock()
	if o.order.OrderID == "" || ev.OrderID != o.order.OrderID {
		o.mu.Unlock()
		return
	}
	if ev.Status.Rank() <= o.status.Rank() {
		o.mu.Unlock()
		return
	}
	snapshot, fns := o.setStatusLocked(ev.Status)
	o.mu.Unlock()
	notify(snapshot, fns)
}
