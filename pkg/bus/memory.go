package bus

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryBus is an in-process MessageBus. Delivery is asynchronous with a
// bounded per-subscription queue; a slow subscriber drops messages rather than
// blocking publishers. Views re-read state on any signal, so a dropped signal
// is recovered by the next one.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]*memorySubscription
	closed bool
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]*memorySubscription),
	}
}

type memorySubscription struct {
	id      string
	subject string
	handler MessageHandler
	msgs    chan *Message
	done    chan struct{}
	bus     *MemoryBus
	once    sync.Once
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := &Message{Subject: subject, Data: data}
	for _, sub := range b.subs {
		if !matchSubject(sub.subject, subject) {
			continue
		}
		select {
		case sub.msgs <- msg:
		default:
			// Queue full; subscriber catches up from the next signal.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		id:      ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		subject: subject,
		handler: handler,
		msgs:    make(chan *Message, 64),
		done:    make(chan struct{}),
		bus:     b,
	}
	b.subs[sub.id] = sub

	go sub.run()
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*memorySubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (s *memorySubscription) run() {
	for {
		select {
		case msg := <-s.msgs:
			s.handler(msg)
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

// matchSubject reports whether a concrete subject matches a pattern.
// "*" matches exactly one token, ">" matches one or more trailing tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, pt := range pTokens {
		if pt == ">" {
			return i < len(sTokens)
		}
		if i >= len(sTokens) {
			return false
		}
		if pt != "*" && pt != sTokens[i] {
			return false
		}
	}
	return len(pTokens) == len(sTokens)
}
