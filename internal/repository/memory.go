package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"satcom-gateway/internal/domain"
)

// MemoryStore is an in-process KeyValue used by replay mode.
type MemoryStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vals: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.vals {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

// MemoryInbox is an in-process inbox with the same status semantics as Inbox.
type MemoryInbox struct {
	mu   sync.Mutex
	msgs map[string]domain.InboundMessage
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{msgs: make(map[string]domain.InboundMessage)}
}

func (m *MemoryInbox) Enqueue(_ context.Context, msg domain.InboundMessage) (bool, error) {
	if strings.TrimSpace(msg.ID) == "" {
		return false, errors.New("repository: Enqueue: message id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.msgs[msg.ID]; ok {
		return false, nil
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	msg.Status = domain.StatusPending
	m.msgs[msg.ID] = msg
	return true, nil
}

func (m *MemoryInbox) Pending(_ context.Context, limit int) ([]domain.InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InboundMessage
	for _, msg := range m.msgs {
		if msg.Status == domain.StatusPending {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryInbox) MarkProcessed(_ context.Context, messageID string, outcome domain.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return errors.New("repository: MarkProcessed: unknown message")
	}
	msg.Status = domain.StatusProcessed
	msg.Outcome = outcome
	m.msgs[messageID] = msg
	return nil
}

// Message returns a stored message by id.
func (m *MemoryInbox) Message(id string) (domain.InboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	return msg, ok
}
