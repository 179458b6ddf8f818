package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory is a short-term store of prompt/answer pairs shared by the
// agents of one run. Retrieval is substring-based; the store exists to
// carry context between tasks, not to be a vector database.
type Memory struct {
	bus *Bus

	mu      sync.RWMutex
	entries []memoryEntry
}

type memoryEntry struct {
	key     string
	value   string
	savedAt time.Time
}

// NewMemory creates an empty memory attached to the bus.
func NewMemory(bus *Bus) (*Memory, error) {
	if bus == nil {
		return nil, fmt.Errorf("memory requires an event bus")
	}
	return &Memory{bus: bus}, nil
}

// Save stores a key/value pair.
func (m *Memory) Save(ctx context.Context, key, value string) error {
	m.bus.Emit(ctx, Event{Type: EventMemorySaveStarted, Source: m})

	if key == "" {
		err := fmt.Errorf("memory key is empty")
		m.bus.Emit(ctx, Event{Type: EventMemorySaveFailed, Source: m, Error: err.Error()})
		return err
	}

	m.mu.Lock()
	m.entries = append(m.entries, memoryEntry{key: key, value: value, savedAt: time.Now()})
	m.mu.Unlock()

	m.bus.Emit(ctx, Event{Type: EventMemorySaveCompleted, Source: m})
	return nil
}

// Retrieve returns every stored value, oldest first.
func (m *Memory) Retrieve(ctx context.Context) []string {
	m.bus.Emit(ctx, Event{Type: EventMemoryRetrievalStarted, Source: m})

	m.mu.RLock()
	values := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		values = append(values, e.value)
	}
	m.mu.RUnlock()

	m.bus.Emit(ctx, Event{Type: EventMemoryRetrievalCompleted, Source: m})
	return values
}

// Query returns values whose key shares words with the query, joined
// with blank lines. An empty result is a miss, not an error.
func (m *Memory) Query(ctx context.Context, query string) (string, error) {
	m.bus.Emit(ctx, Event{Type: EventMemoryQueryStarted, Source: m, Query: query})

	if query == "" {
		err := fmt.Errorf("memory query is empty")
		m.bus.Emit(ctx, Event{Type: EventMemoryQueryFailed, Source: m, Error: err.Error()})
		return "", err
	}

	terms := strings.Fields(strings.ToLower(query))

	m.mu.RLock()
	var matches []string
	for _, e := range m.entries {
		key := strings.ToLower(e.key)
		for _, term := range terms {
			if strings.Contains(key, term) {
				matches = append(matches, e.value)
				break
			}
		}
	}
	m.mu.RUnlock()

	m.bus.Emit(ctx, Event{Type: EventMemoryQueryCompleted, Source: m, Query: query})
	return strings.Join(matches, "\n\n"), nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
