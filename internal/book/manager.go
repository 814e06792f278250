package book

import "sync"

// Manager is a per-symbol book registry. GetOrCreate is safe to call from the
// event-delivery goroutine and from query paths concurrently.
type Manager struct {
	mu     sync.RWMutex
	books  map[string]*Book
	strict bool
}

// NewManager creates a registry. strict selects the sequencing mode for every
// book it creates (gap-free transport vs monotonic-only transport).
func NewManager(strict bool) *Manager {
	return &Manager{books: make(map[string]*Book), strict: strict}
}

// GetOrCreate returns the book for a symbol, creating an empty one on first
// subscription.
func (m *Manager) GetOrCreate(symbol string) *Book {
	m.mu.RLock()
	b, ok := m.books[symbol]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.books[symbol]; ok {
		return b
	}
	b = New(symbol, m.strict)
	m.books[symbol] = b
	return b
}

// Get returns the book for a symbol if it exists.
func (m *Manager) Get(symbol string) (*Book, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[symbol]
	return b, ok
}

// Remove discards a book when the symbol is unsubscribed.
func (m *Manager) Remove(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, symbol)
}

// Symbols lists the currently tracked symbols.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.books))
	for s := range m.books {
		out = append(out, s)
	}
	return out
}
