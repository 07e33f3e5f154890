package docstore

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aura-hunt/backend/internal/ports"
	"github.com/aura-hunt/backend/pkg/utils"
)

// Memory is a process-local Store. Every operation holds one mutex, so
// concurrent writers observe the same conflicts a remote backend would report.
type Memory struct {
	mu       sync.Mutex
	objects  map[string]Object
	rev      uint64
	failNext []error
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

// FailNext makes the next len(errs) operations fail with the given causes,
// wrapped as ports.ErrBackendUnavailable.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, errs...)
}

func (m *Memory) injected(op, key string) error {
	if len(m.failNext) == 0 {
		return nil
	}
	err := m.failNext[0]
	m.failNext = m.failNext[1:]
	return ports.Unavailable(op+" "+key, err)
}

// Get returns the document stored under key and its etag.
func (m *Memory) Get(ctx context.Context, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, ports.Unavailable("get "+key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("get", key); err != nil {
		return Object{}, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ports.NotFound("object %s", key)
	}
	return Object{Data: bytes.Clone(obj.Data), ETag: obj.ETag}, nil
}

// Put writes data under key if expectedETag allows it and returns the new etag.
func (m *Memory) Put(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ports.Unavailable("put "+key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("put", key); err != nil {
		return "", err
	}
	cur, exists := m.objects[key]
	switch {
	case expectedETag == IfAbsent:
		if exists {
			return "", ports.Conflict(key)
		}
	case expectedETag != "":
		if !exists || cur.ETag != expectedETag {
			return "", ports.Conflict(key)
		}
	}
	m.rev++
	etag := utils.ContentETag(m.rev, data)
	m.objects[key] = Object{Data: bytes.Clone(data), ETag: etag}
	return etag, nil
}

// List returns the keys starting with prefix, sorted.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, ports.Unavailable("list "+prefix, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("list", prefix); err != nil {
		return nil, err
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; the map lives as long as the store.
func (m *Memory) Close() error { return nil }
