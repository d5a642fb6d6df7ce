// Package storagetest provides an in-process storage.Source for tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"blob2dicomweb/internal/storage"
)

// Memory is an in-process Source holding objects in a map. Listing returns
// keys in lexical order and uses the numeric offset as continuation token.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	// ListErr, when set, is returned by ListPage for the page starting at
	// ListErrAt.
	ListErr   error
	ListErrAt int
	// FetchErr, when set, is returned by Fetch for keys in it.
	FetchErr map[string]error
}

var _ storage.Source = (*Memory)(nil)

// NewMemory creates an empty in-memory source.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put stores data at key.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

// Name returns "memory".
func (m *Memory) Name() string {
	return "memory"
}

// ListPage returns up to pageSize keys after the offset encoded in token.
func (m *Memory) ListPage(ctx context.Context, prefix, token string, pageSize int) (storage.Page, error) {
	if err := ctx.Err(); err != nil {
		return storage.Page{}, err
	}

	offset := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 {
			return storage.Page{}, fmt.Errorf("invalid continuation token %q", token)
		}
		offset = n
	}
	if m.ListErr != nil && offset == m.ListErrAt {
		return storage.Page{}, m.ListErr
	}

	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sizes := make(map[string]int64, len(keys))
	for _, k := range keys {
		sizes[k] = int64(len(m.objects[k]))
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	if pageSize <= 0 {
		pageSize = len(keys)
	}
	if offset > len(keys) {
		offset = len(keys)
	}
	end := offset + pageSize
	if end > len(keys) {
		end = len(keys)
	}

	page := storage.Page{Objects: make([]storage.ObjectInfo, 0, end-offset)}
	for _, k := range keys[offset:end] {
		page.Objects = append(page.Objects, storage.ObjectInfo{Key: k, Size: sizes[k]})
	}
	if end < len(keys) {
		page.ContinuationToken = strconv.Itoa(end)
	}
	return page, nil
}

// Fetch returns a copy of the object at key.
func (m *Memory) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := m.FetchErr[key]; ok {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
