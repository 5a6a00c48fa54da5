package stock

import (
	"sync"

	"github.com/diewo77/go-pos/internal/models"
)

// StockChanged is published after a settlement commits or a product is created.
// Products hold the committed records.
type StockChanged struct {
	SaleID   string
	Products []*models.Product
}

// Broker fans StockChanged events out to subscribers.
// Delivery never blocks a publisher: a subscriber whose buffer is full misses the event
// and has its Dropped counter incremented.
type Broker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscription is one consumer's stream of events.
type Subscription struct {
	broker  *Broker
	ch      chan StockChanged
	once    sync.Once
	dropped int
}

func (b *Broker) Subscribe() *Subscription {
	s := &Subscription{broker: b, ch: make(chan StockChanged, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broker) Publish(ev StockChanged) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped++
		}
	}
}

// C returns the event channel; it is closed by Cancel.
func (s *Subscription) C() <-chan StockChanged { return s.ch }

// Dropped reports how many events were missed because the buffer was full.
func (s *Subscription) Dropped() int {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	return s.dropped
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		close(s.ch)
		s.broker.mu.Unlock()
	})
}
