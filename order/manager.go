package order

import (
	"errors"
	"sync"
)

var (
	// ErrSideOccupied 同一方向已有活跃订单；会话不允许同侧两张挂单。
	ErrSideOccupied = errors.New("side already has a live order")
	ErrUnknownOrder = errors.New("unknown order")
)

// Manager 维护单个会话的活跃订单：每个方向最多一张。
type Manager struct {
	pair   string
	sm     *StateMachine
	mu     sync.RWMutex
	live   map[Side]*Order
	placed int
}

func NewManager(pair string) *Manager {
	return &Manager{
		pair: pair,
		sm:   NewStateMachine(),
		live: make(map[Side]*Order, 2),
	}
}

// Track 登记新下的订单。
func (m *Manager) Track(o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.live[o.Side]; ok && cur.ID != o.ID {
		return ErrSideOccupied
	}
	if o.Status == "" {
		o.Status = StatusOpen
	}
	if o.Status.Terminal() {
		return nil
	}
	m.live[o.Side] = &o
	m.placed++
	return nil
}

// Live 返回该方向的活跃订单。
func (m *Manager) Live(side Side) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.live[side]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Update 收到查询结果后更新状态；进入终态即释放该方向。
func (m *Manager) Update(side Side, st Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.live[side]
	if !ok {
		return ErrUnknownOrder
	}
	if err := m.sm.ValidateTransition(o.Status, st); err != nil {
		return err
	}
	o.Status = st
	if st.Terminal() {
		delete(m.live, side)
	}
	return nil
}

// OpenIDs 返回仍未终结的订单 ID（会话被强杀时用于上报遗留挂单）。
func (m *Manager) OpenIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.live))
	for _, side := range []Side{SideBuy, SideSell} {
		if o, ok := m.live[side]; ok {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Placed 返回累计登记的订单数。
func (m *Manager) Placed() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.placed
}

func (m *Manager) Pair() string { return m.pair }
