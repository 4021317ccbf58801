package archive

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-memory archive for tests.
type Memory struct {
	mu    sync.Mutex
	pages map[string][]byte
	seq   int
}

// NewMemory creates an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{pages: make(map[string][]byte)}
}

// PutPage implements monitor.PageArchive.
func (a *Memory) PutPage(_ context.Context, domain string, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	key := fmt.Sprintf("%s/%d.html", sanitizeDomain(domain), a.seq)
	a.pages[key] = append([]byte(nil), body...)
	return key, nil
}

// Len reports how many pages were archived.
func (a *Memory) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pages)
}

// Page returns an archived body by key.
func (a *Memory) Page(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	body, ok := a.pages[key]
	return body, ok
}
