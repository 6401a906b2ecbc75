package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// Memory keeps objects in process memory.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]map[string]memoryObject
	baseURL string
}

func NewMemory(publicBaseURL string) *Memory {
	if publicBaseURL == "" {
		publicBaseURL = "memory://objects"
	}
	return &Memory{objects: make(map[string]map[string]memoryObject), baseURL: publicBaseURL}
}

func (m *Memory) Upload(ctx context.Context, bucket, objectName string, body io.Reader, size int64, contentType string) (string, error) {
	if err := validName(bucket, objectName); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, body); err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err //nolint:wrapcheck
	}
	m.mu.Lock()
	if m.objects[bucket] == nil {
		m.objects[bucket] = make(map[string]memoryObject)
	}
	m.objects[bucket][objectName] = memoryObject{data: buf.Bytes(), contentType: contentType}
	m.mu.Unlock()
	return m.PublicURL(bucket, objectName), nil
}

func (m *Memory) PublicURL(bucket, objectName string) string {
	return joinPublicURL(m.baseURL, bucket, objectName)
}

func (m *Memory) Copy(ctx context.Context, bucket, sourceName, destName string) error {
	if err := validName(bucket, destName); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.objects[bucket][sourceName]
	if !ok {
		return fmt.Errorf("copy %s: %w", sourceName, ErrObjectNotFound)
	}
	data := make([]byte, len(src.data))
	copy(data, src.data)
	m.objects[bucket][destName] = memoryObject{data: data, contentType: src.contentType}
	return nil
}

func (m *Memory) Remove(ctx context.Context, bucket string, objectNames []string) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	m.mu.Lock()
	for _, name := range objectNames {
		delete(m.objects[bucket], name)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Stat(ctx context.Context, bucket, objectName string) error {
	if !m.Exists(bucket, objectName) {
		return fmt.Errorf("stat %s: %w", objectName, ErrObjectNotFound)
	}
	return nil
}

// Exists reports whether the object is stored.
func (m *Memory) Exists(bucket, objectName string) bool {
	m.mu.RLock()
	_, ok := m.objects[bucket][objectName]
	m.mu.RUnlock()
	return ok
}

// Objects lists the object names in bucket, sorted.
func (m *Memory) Objects(bucket string) []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.objects[bucket]))
	for name := range m.objects[bucket] {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}
