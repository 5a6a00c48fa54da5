package services

import (
	"sort"
	"sync"
	"time"

	"github.com/diewo77/go-pos/internal/cart"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Session is the sale state of one terminal. Its cart is only touched while
// the session lock is held, so one terminal settles one cart at a time.
type Session struct {
	ID        string
	Terminal  string
	StartedAt time.Time

	mu   sync.Mutex
	cart *cart.Cart
}

// CartView is a copy of a session cart with its totals.
type CartView struct {
	SessionID string      `json:"sessionId"`
	Terminal  string      `json:"terminal"`
	Lines     []cart.Line `json:"lines"`
	Totals    cart.Totals `json:"totals"`
}

func (s *Session) view(rate decimal.Decimal) CartView {
	lines := s.cart.Lines()
	if lines == nil {
		lines = []cart.Line{}
	}
	return CartView{SessionID: s.ID, Terminal: s.Terminal, Lines: lines, Totals: cart.ComputeTotals(lines, rate)}
}

// SessionRegistry hands out the session of each terminal, creating it on first use.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session), now: time.Now}
}

func (r *SessionRegistry) Get(terminal string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[terminal]
	if !ok {
		s = &Session{ID: uuid.NewString(), Terminal: terminal, StartedAt: r.now().UTC(), cart: cart.New()}
		r.sessions[terminal] = s
	}
	return s
}

// Close forgets the terminal session; the next Get starts a new one.
func (r *SessionRegistry) Close(terminal string) {
	r.mu.Lock()
	delete(r.sessions, terminal)
	r.mu.Unlock()
}

func (r *SessionRegistry) Terminals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for t := range r.sessions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
