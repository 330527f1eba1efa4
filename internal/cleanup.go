package internal

import (
	"log"
	"sync"
)

// CleanupManager tracks resources and ensures ordered cleanup in LIFO order.
// Execute runs at most once; later calls are no-ops so the signal path and
// the normal exit path cannot double-clean.
type CleanupManager struct {
	mu       sync.Mutex
	executed bool
	funcs    []cleanupFunc
}

type cleanupFunc struct {
	name string
	fn   func() error
}

// NewCleanupManager creates a new cleanup manager.
func NewCleanupManager() *CleanupManager {
	return &CleanupManager{}
}

// Add registers a cleanup function. Functions run in LIFO order (last
// added, first executed) to unwind resources in reverse allocation order.
func (m *CleanupManager) Add(name string, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append([]cleanupFunc{{name, fn}}, m.funcs...)
}

// Execute runs all cleanup functions, logging any errors. Every function
// runs even if earlier ones fail.
func (m *CleanupManager) Execute() {
	m.mu.Lock()
	if m.executed {
		m.mu.Unlock()
		return
	}
	m.executed = true
	funcs := m.funcs
	m.mu.Unlock()

	for _, cleanup := range funcs {
		if err := cleanup.fn(); err != nil {
			log.Printf("cleanup failed for %s: %v", cleanup.name, err)
		}
	}
}
