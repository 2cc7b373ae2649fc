package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Object is a stored blob as kept by MemoryClient.
type Object struct {
	Data         []byte
	ContentType  string
	CacheControl string
}

// MemoryClient keeps objects in-process. It is used for local runs and tests;
// deleting a missing key fails the way a strict remote store would.
type MemoryClient struct {
	naming Naming

	mu          sync.RWMutex
	objects     map[string]Object
	failPut     []string
	failDelete  []string
	putCalls    int
	deleteCalls int
}

// NewMemoryClient builds an empty in-memory blob store.
func NewMemoryClient(naming Naming) *MemoryClient {
	return &MemoryClient{naming: naming, objects: make(map[string]Object)}
}

// FailPutsMatching makes Put fail for keys containing substr.
func (m *MemoryClient) FailPutsMatching(substr string) {
	m.mu.Lock()
	m.failPut = append(m.failPut, substr)
	m.mu.Unlock()
}

// FailDeletesMatching makes DeleteByURL fail for keys containing substr.
func (m *MemoryClient) FailDeletesMatching(substr string) {
	m.mu.Lock()
	m.failDelete = append(m.failDelete, substr)
	m.mu.Unlock()
}

// ClearFailures removes every injected failure.
func (m *MemoryClient) ClearFailures() {
	m.mu.Lock()
	m.failPut = nil
	m.failDelete = nil
	m.mu.Unlock()
}

func (m *MemoryClient) Put(ctx context.Context, data []byte, key, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if matchesAny(key, m.failPut) {
		return "", fmt.Errorf("%w: put object %s: injected failure", ErrStorage, key)
	}
	m.objects[key] = Object{
		Data:         append([]byte(nil), data...),
		ContentType:  contentType,
		CacheControl: "no-cache",
	}
	return m.naming.URL(key), nil
}

func (m *MemoryClient) DeleteByURL(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	key, err := m.naming.Key(url)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if matchesAny(key, m.failDelete) {
		return fmt.Errorf("%w: delete object %s: injected failure", ErrStorage, key)
	}
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%w: delete object %s: %w", ErrStorage, key, errNoSuchKey)
	}
	delete(m.objects, key)
	return nil
}

var errNoSuchKey = errors.New("no such key")

// Get returns the object stored at key.
func (m *MemoryClient) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// HasURL reports whether the object behind url exists.
func (m *MemoryClient) HasURL(url string) bool {
	key, err := m.naming.Key(url)
	if err != nil {
		return false
	}
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of stored objects.
func (m *MemoryClient) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Calls returns how many puts and deletes reached the store.
func (m *MemoryClient) Calls() (puts, deletes int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.putCalls, m.deleteCalls
}

func matchesAny(key string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}
