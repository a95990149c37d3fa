package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// ErrObjectNotFound is returned by the memory client for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// Object is a stored object held by MemoryClient.
type Object struct {
	Data []byte
	Opts PutOptions
}

// MemoryClient is an in-process Client for local runs and tests.
type MemoryClient struct {
	mu         sync.RWMutex
	objects    map[string]Object
	publicBase string
}

func NewMemory(publicBase string) *MemoryClient {
	return &MemoryClient{objects: make(map[string]Object), publicBase: publicBase}
}

func (m *MemoryClient) Put(_ context.Context, key string, reader io.Reader, size int64, opts PutOptions) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("put %s: read %d bytes, expected %d", key, len(data), size)
	}
	m.store(key, data, opts)
	return nil
}

func (m *MemoryClient) PutFile(_ context.Context, key, path string, opts PutOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.store(key, data, opts)
	return nil
}

func (m *MemoryClient) Download(_ context.Context, key, path string) error {
	obj, ok := m.Object(key)
	if !ok {
		return fmt.Errorf("download %s: %w", key, ErrObjectNotFound)
	}
	return os.WriteFile(path, obj.Data, 0o644)
}

func (m *MemoryClient) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	if _, ok := m.Object(key); !ok {
		return "", fmt.Errorf("presign %s: %w", key, ErrObjectNotFound)
	}
	return fmt.Sprintf("%s?expires=%d", m.PublicURL(key), int(expiry.Seconds())), nil
}

func (m *MemoryClient) PublicURL(key string) string {
	return JoinURL(m.publicBase, key)
}

func (m *MemoryClient) Close() error { return nil }

// Object returns a copy of the object stored under key.
func (m *MemoryClient) Object(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, false
	}
	obj.Data = bytes.Clone(obj.Data)
	return obj, true
}

// Keys lists stored keys in lexical order.
func (m *MemoryClient) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryClient) store(key string, data []byte, opts PutOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: data, Opts: opts}
}
