// Package cart keeps the client-side mirror of the active cart. Every
// mutation goes to the backend first and local state is reconciled to the
// server's returned quantity; nothing is applied optimistically. A failed
// call leaves the mirror exactly as it was.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tiffin/api"
	"tiffin/identity"
	"tiffin/models"
)

var (
	// ErrBusy means a mutation for the same line is still in flight. The
	// second tap is rejected rather than dispatched concurrently, since the
	// server's new_quantity is only meaningful in request order.
	ErrBusy = errors.New("cart: line busy")

	ErrUnknownItem    = errors.New("cart: unknown item")
	ErrRemoteRejected = errors.New("cart: remote rejected")
	ErrNetwork        = errors.New("cart: network failure")
)

// Backend is the slice of the API client the manager needs. *api.Client
// satisfies it.
type Backend interface {
	AddCartItem(ctx context.Context, cartID string, line models.CartLine) (api.MutationResponse, error)
	IncrementCartLine(ctx context.Context, cartID, menuID string) (api.MutationResponse, error)
	DecrementCartLine(ctx context.Context, cartID, menuID string) (api.MutationResponse, error)
	FetchCart(ctx context.Context, cartID string) (models.Cart, error)
}

type Manager struct {
	backend Backend
	id      identity.Identity

	mu       sync.Mutex
	lines    map[string]*models.CartLine
	order    []string // menu ids in insertion order
	inflight map[string]bool
}

func NewManager(backend Backend, id identity.Identity) *Manager {
	return &Manager{
		backend:  backend,
		id:       id,
		lines:    make(map[string]*models.CartLine),
		inflight: make(map[string]bool),
	}
}

// begin claims the single in-flight slot for a line.
func (m *Manager) begin(menuID string, mustExist bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mustExist {
		if _, ok := m.lines[menuID]; !ok {
			return ErrUnknownItem
		}
	}
	if m.inflight[menuID] {
		return ErrBusy
	}
	m.inflight[menuID] = true
	return nil
}

func (m *Manager) end(menuID string) {
	m.mu.Lock()
	delete(m.inflight, menuID)
	m.mu.Unlock()
}

func mapRemote(err error) error {
	var re *api.RemoteError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: %s", ErrRemoteRejected, re.Message)
	}
	if errors.Is(err, api.ErrNetwork) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return err
}

// AddItem adds the line, merging into an existing line for the same menu id.
// The resulting quantity is whatever the server confirms.
func (m *Manager) AddItem(ctx context.Context, line models.CartLine) (models.Cart, error) {
	if line.MenuID == "" {
		return models.Cart{}, ErrUnknownItem
	}
	if line.Quantity < 1 {
		line.Quantity = 1
	}
	if err := m.begin(line.MenuID, false); err != nil {
		return models.Cart{}, err
	}
	defer m.end(line.MenuID)

	resp, err := m.backend.AddCartItem(ctx, m.id.CartID, line)
	if err != nil {
		return models.Cart{}, mapRemote(err)
	}
	if resp.NewQuantity == nil {
		return models.Cart{}, fmt.Errorf("%w: add response missing new_quantity", ErrRemoteRejected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.lines[line.MenuID]; ok {
		existing.Quantity = *resp.NewQuantity
	} else {
		l := line
		l.Quantity = *resp.NewQuantity
		m.lines[l.MenuID] = &l
		m.order = append(m.order, l.MenuID)
	}
	return m.snapshotLocked(), nil
}

// IncrementItem bumps an existing line by one, reconciling to the server's
// returned quantity.
func (m *Manager) IncrementItem(ctx context.Context, menuID string) (models.Cart, error) {
	if err := m.begin(menuID, true); err != nil {
		return models.Cart{}, err
	}
	defer m.end(menuID)

	resp, err := m.backend.IncrementCartLine(ctx, m.id.CartID, menuID)
	if err != nil {
		return models.Cart{}, mapRemote(err)
	}
	if resp.NewQuantity == nil {
		return models.Cart{}, fmt.Errorf("%w: increment response missing new_quantity", ErrRemoteRejected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyQuantityLocked(menuID, *resp.NewQuantity)
	return m.snapshotLocked(), nil
}

// DecrementItem lowers an existing line by one. A response without
// new_quantity is the server saying the line was removed; the local line is
// deleted in that case, never on a client-side quantity check.
func (m *Manager) DecrementItem(ctx context.Context, menuID string) (models.Cart, error) {
	if err := m.begin(menuID, true); err != nil {
		return models.Cart{}, err
	}
	defer m.end(menuID)

	resp, err := m.backend.DecrementCartLine(ctx, m.id.CartID, menuID)
	if err != nil {
		return models.Cart{}, mapRemote(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if resp.NewQuantity == nil {
		m.removeLocked(menuID)
	} else {
		m.applyQuantityLocked(menuID, *resp.NewQuantity)
	}
	return m.snapshotLocked(), nil
}

// LoadCart replaces the mirror with the server's authoritative cart.
func (m *Manager) LoadCart(ctx context.Context) (models.Cart, error) {
	remote, err := m.backend.FetchCart(ctx, m.id.CartID)
	if err != nil {
		return models.Cart{}, mapRemote(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = make(map[string]*models.CartLine, len(remote.Lines))
	m.order = m.order[:0]
	for _, l := range remote.Lines {
		line := l
		m.lines[line.MenuID] = &line
		m.order = append(m.order, line.MenuID)
	}
	return m.snapshotLocked(), nil
}

// ClearLocal drops the mirror, for when the server has cleared the cart at
// checkout.
func (m *Manager) ClearLocal() {
	m.mu.Lock()
	m.lines = make(map[string]*models.CartLine)
	m.order = m.order[:0]
	m.mu.Unlock()
}

// CurrentTotal folds the current lines. Pure; no I/O.
func (m *Manager) CurrentTotal() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, id := range m.order {
		l := m.lines[id]
		total += l.EffectivePrice() * int64(l.Quantity)
	}
	return total
}

// Lines returns the current lines in insertion order.
func (m *Manager) Lines() []models.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked().Lines
}

// Snapshot returns a copy of the whole cart.
func (m *Manager) Snapshot() models.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// A late response for a line that no longer exists is a no-op, not an error.
func (m *Manager) applyQuantityLocked(menuID string, qty int) {
	line, ok := m.lines[menuID]
	if !ok {
		return
	}
	if qty < 1 {
		m.removeLocked(menuID)
		return
	}
	line.Quantity = qty
}

func (m *Manager) removeLocked(menuID string) {
	if _, ok := m.lines[menuID]; !ok {
		return
	}
	delete(m.lines, menuID)
	for i, id := range m.order {
		if id == menuID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) snapshotLocked() models.Cart {
	c := models.Cart{CartID: m.id.CartID, Lines: make([]models.CartLine, 0, len(m.order))}
	for _, id := range m.order {
		c.Lines = append(c.Lines, *m.lines[id])
	}
	return c
}
