package orderbook

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-set"
)

// Registry owns every live book, creating them on first reference.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*Book
	ids   *set.Set[string]
}

func NewRegistry() *Registry {
	return &Registry{
		books: make(map[string]*Book),
		ids:   set.New[string](16),
	}
}

// Get returns the book for an id, creating it on demand.
func (r *Registry) Get(bookID string) *Book {
	r.mu.RLock()
	b, ok := r.books[bookID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.books[bookID]; ok {
		return b
	}
	b = NewBook(bookID)
	r.books[bookID] = b
	r.ids.Insert(bookID)
	return b
}

// Lookup returns an existing book without creating one.
func (r *Registry) Lookup(bookID string) (*Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[bookID]
	return b, ok
}

func (r *Registry) Contains(bookID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids.Contains(bookID)
}

// IDs returns the known book ids in stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.ids.Slice()
	sort.Strings(ids)
	return ids
}

func (r *Registry) All() []*Book {
	r.mu.RLock()
	defer r.mu.RUnlock()
	books := make([]*Book, 0, len(r.books))
	for _, b := range r.books {
		books = append(books, b)
	}
	return books
}

// Reset drops every book. Used by the scheduler's reset path.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books = make(map[string]*Book)
	r.ids = set.New[string](16)
}
