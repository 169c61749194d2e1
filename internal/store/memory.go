package store

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process Store. It also implements Watcher.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte
	subs    map[string][]chan string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]map[string][]byte),
		subs:    make(map[string][]chan string),
	}
}

func (m *Memory) Exists(ctx context.Context, container, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storageErr("exists", err)
	}
	if err := validateName(container, key); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[container][key]
	return ok, nil
}

func (m *Memory) Get(ctx context.Context, container, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("get", err)
	}
	if err := validateName(container, key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[container][key]
	if !ok {
		return nil, notFound(container, key)
	}
	return slices.Clone(data), nil
}

func (m *Memory) Put(ctx context.Context, container, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return storageErr("put", err)
	}
	if err := validateName(container, key); err != nil {
		return err
	}
	m.mu.Lock()
	m.putLocked(container, key, slices.Clone(data))
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(ctx context.Context, container string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	if err := validateContainer(container); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects[container]))
	for k := range m.objects[container] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *Memory) Copy(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("copy", err)
	}
	if err := validateName(srcContainer, srcKey); err != nil {
		return err
	}
	if err := validateName(dstContainer, dstKey); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcContainer][srcKey]
	if !ok {
		return notFound(srcContainer, srcKey)
	}
	m.putLocked(dstContainer, dstKey, slices.Clone(data))
	return nil
}

func (m *Memory) Delete(ctx context.Context, container, key string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("delete", err)
	}
	if err := validateName(container, key); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects[container], key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) EnsureContainers(ctx context.Context, containers ...string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("ensure", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range containers {
		if err := validateContainer(c); err != nil {
			return err
		}
		if m.objects[c] == nil {
			m.objects[c] = make(map[string][]byte)
		}
	}
	return nil
}

// Watch streams keys put into the container until ctx is done.
// Notifications are dropped for a subscriber that is not keeping up.
func (m *Memory) Watch(ctx context.Context, container string) (<-chan string, error) {
	if err := validateContainer(container); err != nil {
		return nil, err
	}
	ch := make(chan string, 16)
	m.mu.Lock()
	m.subs[container] = append(m.subs[container], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subs[container] = slices.DeleteFunc(m.subs[container], func(c chan string) bool { return c == ch })
		close(ch)
	}()
	return ch, nil
}

func (m *Memory) putLocked(container, key string, data []byte) {
	if m.objects[container] == nil {
		m.objects[container] = make(map[string][]byte)
	}
	m.objects[container][key] = data
	for _, ch := range m.subs[container] {
		select {
		case ch <- key:
		default:
		}
	}
}
