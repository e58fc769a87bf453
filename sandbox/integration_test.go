package sandbox_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"tiffin/api"
	"tiffin/auth"
	"tiffin/cart"
	"tiffin/checkout"
	"tiffin/identity"
	"tiffin/models"
	"tiffin/orderfeed"
	"tiffin/ratelim"
	"tiffin/receipt"
	"tiffin/routes"
	"tiffin/sandbox"
	"tiffin/session"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type env struct {
	server *sandbox.Server
	srv    *httptest.Server
	client *api.Client
	store  *session.MemoryStore
	auth   *auth.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := sandbox.New([]byte("test_jwt_secret"), []byte("test_provider_secret"))
	srv := httptest.NewServer(routes.New(s, ratelim.NewRateLimiter()))
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL)
	store := session.NewMemoryStore()
	client.SetTokenSource(auth.TokenSource(store, identity.RoleCustomer))
	return &env{
		server: s,
		srv:    srv,
		client: client,
		store:  store,
		auth:   auth.NewService(client, store),
	}
}

func (e *env) registerCustomer(t *testing.T, username string) identity.Identity {
	t.Helper()
	id, err := e.auth.Register(context.Background(), identity.RoleCustomer, username, "pass12345")
	require.NoError(t, err)
	require.Equal(t, identity.RoleCustomer, id.Role)
	require.NotEmpty(t, id.UserID)
	require.NotEmpty(t, id.CartID)
	return id
}

func dalLine() models.CartLine {
	return models.CartLine{
		MenuID: "M1", Name: "dal makhani", UnitPrice: 22000,
		Quantity: 1, RestaurantID: "r1",
	}
}

func naanLine() models.CartLine {
	return models.CartLine{
		MenuID: "M2", Name: "butter naan", UnitPrice: 4000,
		Quantity: 3, RestaurantID: "r1",
	}
}

func TestFullCheckoutFlow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.registerCustomer(t, "asha")

	mgr := cart.NewManager(e.client, id)
	_, err := mgr.AddItem(ctx, dalLine())
	require.NoError(t, err)
	_, err = mgr.IncrementItem(ctx, "M1")
	require.NoError(t, err)
	_, err = mgr.AddItem(ctx, naanLine())
	require.NoError(t, err)
	require.Equal(t, int64(56000), mgr.CurrentTotal())

	// A fresh manager loading the same cart sees the server's copy
	check := cart.NewManager(e.client, id)
	loaded, err := check.LoadCart(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
	require.Equal(t, int64(56000), loaded.TotalPrice())

	orch := checkout.NewOrchestrator(e.client, id)
	orch.SetCartReloader(mgr)

	order, err := orch.CreateOrder(ctx, mgr.Snapshot())
	require.NoError(t, err)
	require.Equal(t, int64(56000), order.TotalPrice)
	require.Equal(t, models.StatusCreated, orch.Status())

	intent, err := orch.CreatePaymentIntent(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(56000), intent.Amount)
	require.Equal(t, "INR", intent.Currency)

	// Forged signature: widget claims success, backend refuses
	_, err = orch.CompletePayment(ctx, checkout.GatewayResult{
		Outcome: checkout.GatewaySuccess, PaymentID: "p1", Signature: "forged",
	})
	require.ErrorIs(t, err, checkout.ErrVerificationFailed)
	require.Equal(t, models.StatusPaymentFailed, orch.Status())

	// Retry with what the provider widget would really return
	intent, err = orch.CreatePaymentIntent(ctx)
	require.NoError(t, err)
	result, err := orch.CompletePayment(ctx, checkout.GatewayResult{
		Outcome:   checkout.GatewaySuccess,
		PaymentID: "p2",
		Signature: e.server.SignPayment(intent.ProviderOrderID, "p2"),
	})
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.NotEmpty(t, result.TransactionRef)
	require.Equal(t, models.StatusPaid, orch.Status())

	// Settlement debits the wallet and empties the server cart; the manager
	// mirror was reloaded to match
	require.NotNil(t, orch.Wallet())
	require.Equal(t, int64(100000-56000), orch.Wallet().Balance)
	require.Len(t, orch.Wallet().Transactions, 1)
	require.Empty(t, mgr.Lines())

	pdf, err := receipt.PDF(orch.Order())
	require.NoError(t, err)
	require.NotEmpty(t, pdf)
	code, err := receipt.PickupCode(orch.Order())
	require.NoError(t, err)
	require.NotEmpty(t, code)
}

func TestOrderStatusPush(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.registerCustomer(t, "asha")

	mgr := cart.NewManager(e.client, id)
	_, err := mgr.AddItem(ctx, dalLine())
	require.NoError(t, err)

	orch := checkout.NewOrchestrator(e.client, id)
	order, err := orch.CreateOrder(ctx, mgr.Snapshot())
	require.NoError(t, err)
	intent, err := orch.CreatePaymentIntent(ctx)
	require.NoError(t, err)
	_, err = orch.CompletePayment(ctx, checkout.GatewayResult{
		Outcome:   checkout.GatewaySuccess,
		PaymentID: "p1",
		Signature: e.server.SignPayment(intent.ProviderOrderID, "p1"),
	})
	require.NoError(t, err)

	token, err := e.store.Get(ctx, identity.RoleCustomer.TokenKey())
	require.NoError(t, err)
	feed, err := orderfeed.Dial(ctx, e.client.FeedURL(), token)
	require.NoError(t, err)
	defer feed.Close()

	got := make(chan models.StatusEvent, 4)
	feed.Subscribe(order.OrderID, func(ev models.StatusEvent) { got <- ev })

	require.NoError(t, e.server.PushStatus(order.OrderID, models.StatusConfirmed, "restaurant accepted"))

	select {
	case ev := <-got:
		require.Equal(t, models.StatusConfirmed, ev.Status)
		orch.ApplyStatusEvent(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for status push")
	}
	require.Equal(t, models.StatusConfirmed, orch.Status())

	// Redelivery after the client has already advanced is harmless
	orch.ApplyStatusEvent(models.StatusEvent{EventID: "evt_replay", OrderID: order.OrderID, Status: models.StatusPaid})
	require.Equal(t, models.StatusConfirmed, orch.Status())
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.registerCustomer(t, "asha")

	mgr := cart.NewManager(e.client, id)
	_, err := mgr.AddItem(ctx, dalLine())
	require.NoError(t, err)

	req := api.CreateOrderRequest{CartID: id.CartID, UserID: id.UserID, RestaurantID: "r1"}
	key := uuid.NewString()
	first, err := e.client.CreateOrder(ctx, req, key)
	require.NoError(t, err)
	second, err := e.client.CreateOrder(ctx, req, key)
	require.NoError(t, err)
	require.Equal(t, first.OrderID, second.OrderID)

	// A different key creates a genuinely new order
	third, err := e.client.CreateOrder(ctx, req, uuid.NewString())
	require.NoError(t, err)
	require.NotEqual(t, first.OrderID, third.OrderID)
}

func TestRemovalSignalOverWire(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.registerCustomer(t, "asha")

	mgr := cart.NewManager(e.client, id)
	_, err := mgr.AddItem(ctx, dalLine())
	require.NoError(t, err)

	// Quantity 1 -> decrement removes the line outright
	c, err := mgr.DecrementItem(ctx, "M1")
	require.NoError(t, err)
	require.Empty(t, c.Lines)

	loaded, err := mgr.LoadCart(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded.Lines)
}

func TestLoginAndLogout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.registerCustomer(t, "asha")

	require.NoError(t, e.auth.Logout(ctx, identity.RoleCustomer))
	_, err := identity.Resolve(ctx, e.store, identity.RoleCustomer)
	require.ErrorIs(t, err, identity.ErrNotAuthenticated)

	id, err := e.auth.Login(ctx, identity.RoleCustomer, "asha", "pass12345")
	require.NoError(t, err)
	require.NotEmpty(t, id.CartID)

	_, err = e.auth.Login(ctx, identity.RoleCustomer, "asha", "wrongpass")
	require.Error(t, err)
	var remote *api.RemoteError
	require.ErrorAs(t, err, &remote)
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	// No register: the request goes out without a bearer token
	_, err := e.client.FetchCart(ctx, "c123")
	var remote *api.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, 401, remote.Status)
}
