package cart

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tiffin/api"
	"tiffin/identity"
	"tiffin/models"

	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	addFn   func(cartID string, line models.CartLine) (api.MutationResponse, error)
	incrFn  func(cartID, menuID string) (api.MutationResponse, error)
	decrFn  func(cartID, menuID string) (api.MutationResponse, error)
	fetchFn func(cartID string) (models.Cart, error)
}

func (f *fakeBackend) AddCartItem(_ context.Context, cartID string, line models.CartLine) (api.MutationResponse, error) {
	return f.addFn(cartID, line)
}

func (f *fakeBackend) IncrementCartLine(_ context.Context, cartID, menuID string) (api.MutationResponse, error) {
	return f.incrFn(cartID, menuID)
}

func (f *fakeBackend) DecrementCartLine(_ context.Context, cartID, menuID string) (api.MutationResponse, error) {
	return f.decrFn(cartID, menuID)
}

func (f *fakeBackend) FetchCart(_ context.Context, cartID string) (models.Cart, error) {
	return f.fetchFn(cartID)
}

func qty(n int) (api.MutationResponse, error) {
	return api.MutationResponse{NewQuantity: &n}, nil
}

func removed() (api.MutationResponse, error) {
	return api.MutationResponse{}, nil
}

var testID = identity.Identity{Role: identity.RoleCustomer, UserID: "u1", CartID: "c1"}

func line(menuID string, price int64) models.CartLine {
	return models.CartLine{MenuID: menuID, Name: "item " + menuID, UnitPrice: price, Quantity: 1, RestaurantID: "r1"}
}

func TestAddItemConfirmsServerQuantity(t *testing.T) {
	backend := &fakeBackend{
		addFn: func(cartID string, l models.CartLine) (api.MutationResponse, error) {
			require.Equal(t, "c1", cartID)
			return qty(1)
		},
	}
	m := NewManager(backend, testID)

	c, err := m.AddItem(context.Background(), line("M1", 12000))
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	require.Equal(t, 1, c.Lines[0].Quantity)
	require.Equal(t, int64(12000), m.CurrentTotal())
}

func TestAddItemMergesByMenuID(t *testing.T) {
	serverQty := 0
	backend := &fakeBackend{
		addFn: func(_ string, l models.CartLine) (api.MutationResponse, error) {
			serverQty += l.Quantity
			return qty(serverQty)
		},
	}
	m := NewManager(backend, testID)

	_, err := m.AddItem(context.Background(), line("M1", 100))
	require.NoError(t, err)
	c, err := m.AddItem(context.Background(), line("M1", 100))
	require.NoError(t, err)

	require.Len(t, c.Lines, 1)
	require.Equal(t, 2, c.Lines[0].Quantity)
	require.Equal(t, int64(200), m.CurrentTotal())
}

func TestDecrementReconcilesToServerQuantity(t *testing.T) {
	backend := &fakeBackend{
		addFn:  func(string, models.CartLine) (api.MutationResponse, error) { return qty(2) },
		decrFn: func(string, string) (api.MutationResponse, error) { return qty(1) },
	}
	m := NewManager(backend, testID)

	_, err := m.AddItem(context.Background(), models.CartLine{MenuID: "M1", UnitPrice: 10000, Quantity: 2, RestaurantID: "r1"})
	require.NoError(t, err)

	c, err := m.DecrementItem(context.Background(), "M1")
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	require.Equal(t, 1, c.Lines[0].Quantity)
	require.Equal(t, int64(10000), m.CurrentTotal())
}

func TestDecrementRemovalSignal(t *testing.T) {
	backend := &fakeBackend{
		addFn:  func(string, models.CartLine) (api.MutationResponse, error) { return qty(1) },
		decrFn: func(string, string) (api.MutationResponse, error) { return removed() },
	}
	m := NewManager(backend, testID)

	_, err := m.AddItem(context.Background(), line("M1", 100))
	require.NoError(t, err)
	_, err = m.AddItem(context.Background(), line("M2", 250))
	require.NoError(t, err)

	c, err := m.DecrementItem(context.Background(), "M1")
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	require.Equal(t, "M2", c.Lines[0].MenuID)
	require.Equal(t, int64(250), m.CurrentTotal())
}

func TestCurrentTotalPrefersDiscountPrice(t *testing.T) {
	discount := int64(8000)
	backend := &fakeBackend{
		addFn: func(string, models.CartLine) (api.MutationResponse, error) { return qty(2) },
	}
	m := NewManager(backend, testID)

	l := models.CartLine{MenuID: "M1", UnitPrice: 10000, DiscountPrice: &discount, Quantity: 2, RestaurantID: "r1"}
	_, err := m.AddItem(context.Background(), l)
	require.NoError(t, err)

	require.Equal(t, int64(16000), m.CurrentTotal())
}

func TestMutationFailureLeavesStateUntouched(t *testing.T) {
	backend := &fakeBackend{
		addFn: func(string, models.CartLine) (api.MutationResponse, error) { return qty(1) },
		incrFn: func(string, string) (api.MutationResponse, error) {
			return api.MutationResponse{}, fmt.Errorf("%w: connection reset", api.ErrNetwork)
		},
	}
	m := NewManager(backend, testID)

	_, err := m.AddItem(context.Background(), line("M1", 100))
	require.NoError(t, err)
	before := m.Snapshot()

	_, err = m.IncrementItem(context.Background(), "M1")
	require.ErrorIs(t, err, ErrNetwork)
	require.Equal(t, before, m.Snapshot())
	require.Equal(t, int64(100), m.CurrentTotal())
}

func TestRemoteRejectionSurfaced(t *testing.T) {
	backend := &fakeBackend{
		addFn: func(string, models.CartLine) (api.MutationResponse, error) {
			return api.MutationResponse{}, &api.RemoteError{Status: 400, Message: "Missing or invalid fields"}
		},
	}
	m := NewManager(backend, testID)

	_, err := m.AddItem(context.Background(), line("M1", 100))
	require.ErrorIs(t, err, ErrRemoteRejected)
	require.Empty(t, m.Lines())
}

func TestIncrementUnknownItem(t *testing.T) {
	m := NewManager(&fakeBackend{}, testID)

	_, err := m.IncrementItem(context.Background(), "M9")
	require.ErrorIs(t, err, ErrUnknownItem)
}

func TestOverlappingMutationForSameLineIsBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{
		addFn: func(string, models.CartLine) (api.MutationResponse, error) { return qty(1) },
		incrFn: func(string, string) (api.MutationResponse, error) {
			close(entered)
			<-release
			return qty(2)
		},
	}
	m := NewManager(backend, testID)
	_, err := m.AddItem(context.Background(), line("M1", 100))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.IncrementItem(context.Background(), "M1")
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first increment to start")
	}

	// Second tap while the first request is still in flight
	_, err = m.IncrementItem(context.Background(), "M1")
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first increment to finish")
	}

	// Slot is free again once the response has been applied
	backend.incrFn = func(string, string) (api.MutationResponse, error) { return qty(3) }
	c, err := m.IncrementItem(context.Background(), "M1")
	require.NoError(t, err)
	require.Equal(t, 3, c.Lines[0].Quantity)
}

func TestBusyOnlyAppliesPerLine(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{
		addFn: func(string, models.CartLine) (api.MutationResponse, error) { return qty(1) },
	}
	m := NewManager(backend, testID)
	_, err := m.AddItem(context.Background(), line("M1", 100))
	require.NoError(t, err)
	_, err = m.AddItem(context.Background(), line("M2", 100))
	require.NoError(t, err)

	backend.incrFn = func(_ string, menuID string) (api.MutationResponse, error) {
		if menuID == "M1" {
			close(entered)
			<-release
		}
		return qty(2)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.IncrementItem(context.Background(), "M1")
		done <- err
	}()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for M1 increment to start")
	}

	_, err = m.IncrementItem(context.Background(), "M2")
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestLoadCartReplacesMirror(t *testing.T) {
	backend := &fakeBackend{
		addFn: func(string, models.CartLine) (api.MutationResponse, error) { return qty(1) },
		fetchFn: func(cartID string) (models.Cart, error) {
			return models.Cart{CartID: cartID, Lines: []models.CartLine{
				{MenuID: "M7", Name: "thali", UnitPrice: 15000, Quantity: 2, RestaurantID: "r2"},
			}}, nil
		},
	}
	m := NewManager(backend, testID)
	_, err := m.AddItem(context.Background(), line("M1", 100))
	require.NoError(t, err)

	c, err := m.LoadCart(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	require.Equal(t, "M7", c.Lines[0].MenuID)
	require.Equal(t, int64(30000), m.CurrentTotal())
}

func TestLoadCartFailureLeavesMirror(t *testing.T) {
	backend := &fakeBackend{
		addFn: func(string, models.CartLine) (api.MutationResponse, error) { return qty(1) },
		fetchFn: func(string) (models.Cart, error) {
			return models.Cart{}, fmt.Errorf("%w: timeout", api.ErrNetwork)
		},
	}
	m := NewManager(backend, testID)
	_, err := m.AddItem(context.Background(), line("M1", 100))
	require.NoError(t, err)

	_, err = m.LoadCart(context.Background())
	require.True(t, errors.Is(err, ErrNetwork))
	require.Len(t, m.Lines(), 1)
}
