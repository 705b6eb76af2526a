package chat

import (
	"sync"

	"PPChat/logger"

	"github.com/gorilla/websocket"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// ConnManager indexes live actors by connection id and by user.
type ConnManager struct {
	mu      sync.RWMutex
	byID    map[string]*Conn
	byUser  map[int64]map[string]*Conn
	closing bool
}

func NewConnManager() *ConnManager {
	return &ConnManager{
		byID:   make(map[string]*Conn),
		byUser: make(map[int64]map[string]*Conn),
	}
}

// Add registers c; it fails once CloseAll has started.
func (m *ConnManager) Add(c *Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.byID[c.id] = c
	mm := m.byUser[c.user.ID]
	if mm == nil {
		mm = make(map[string]*Conn)
		m.byUser[c.user.ID] = mm
	}
	mm[c.id] = c
	return true
}

func (m *ConnManager) Remove(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byID[c.id]; !ok || cur != c {
		return
	}
	delete(m.byID, c.id)
	if mm := m.byUser[c.user.ID]; mm != nil {
		delete(mm, c.id)
		if len(mm) == 0 {
			delete(m.byUser, c.user.ID)
		}
	}
}

func (m *ConnManager) Get(id string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok
}

func (m *ConnManager) ListUserConns(userID int64) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	out := make([]*Conn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// Count returns live connections and distinct users.
func (m *ConnManager) Count() (conns, users int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), len(m.byUser)
}

// CloseAll refuses new actors and runs the disconnect sequence of every live
// one, at most workers at a time. It returns when all of them finished.
func (m *ConnManager) CloseAll(workers int) {
	m.mu.Lock()
	m.closing = true
	all := make([]*Conn, 0, len(m.byID))
	for _, c := range m.byID {
		all = append(all, c)
	}
	m.mu.Unlock()
	if len(all) == 0 {
		return
	}
	if workers <= 0 {
		workers = 16
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(workers, func(v any) {
		defer wg.Done()
		v.(*Conn).close(websocket.CloseGoingAway)
	})
	if err != nil {
		logger.Warn("close pool unavailable, closing inline", zap.Error(err))
		for _, c := range all {
			c.close(websocket.CloseGoingAway)
		}
		return
	}
	defer pool.Release()
	for _, c := range all {
		wg.Add(1)
		if err := pool.Invoke(c); err != nil {
			wg.Done()
			c.close(websocket.CloseGoingAway)
		}
	}
	wg.Wait()
}
