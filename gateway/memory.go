package gateway

import (
	"context"
	"encoding/json"
	"maps"
	"strings"
	"sync"

	iface "PassengerCounter/interface"
)

// Memory is an in-process Gateway. It backs the counter when no remote store
// is configured and stands in for the remote store in tests.
type Memory struct {
	mu     sync.Mutex
	home   map[string]any
	logs   []iface.LogEntry
	subs   []chan iface.ChangeEvent
	calls  map[string]int
	errors map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		home:   map[string]any{},
		calls:  map[string]int{},
		errors: map[string]error{},
	}
}

// Fail makes every following call to op ("read", "update", "log", "subscribe")
// return err. A nil err clears the failure.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, op)
		return
	}
	m.errors[op] = err
}

func (m *Memory) enter(op string) error {
	m.calls[op]++
	return m.errors[op]
}

// Calls returns how many times op was invoked, failed calls included.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Home returns a copy of the home record.
func (m *Memory) Home() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.home)
}

func (m *Memory) Logs() []iface.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]iface.LogEntry(nil), m.logs...)
}

func (m *Memory) ReadSnapshot(ctx context.Context) (iface.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("read"); err != nil {
		return iface.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return iface.Snapshot{}, err
	}
	return iface.Snapshot{PassengerCount: asInt(m.home["passenger_count"])}, nil
}

func (m *Memory) Update(ctx context.Context, fields map[string]any) error {
	m.mu.Lock()
	if err := m.enter("update"); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return err
	}
	maps.Copy(m.home, fields)
	data, err := json.Marshal(fields)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.emit(iface.ChangeEvent{Path: "/", Data: data})
	return nil
}

func (m *Memory) AppendLog(ctx context.Context, entry iface.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("log"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logs = append(m.logs, entry)
	return nil
}

// Subscribe delivers every later change of the home record. path is accepted
// for interface compatibility; the memory store only has the home record.
func (m *Memory) Subscribe(ctx context.Context, path string) (<-chan iface.ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("subscribe"); err != nil {
		return nil, err
	}
	ch := make(chan iface.ChangeEvent, 16)
	m.subs = append(m.subs, ch)
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch, nil
}

// Emit pushes a raw change event to all subscribers, as if the store had
// been modified by another client.
func (m *Memory) Emit(path string, data string) {
	m.mu.Lock()
	if path == "/" {
		var fields map[string]any
		if json.Unmarshal([]byte(data), &fields) == nil {
			maps.Copy(m.home, fields)
		}
	} else {
		var value any
		if json.Unmarshal([]byte(data), &value) == nil {
			m.home[strings.TrimPrefix(path, "/")] = value
		}
	}
	m.mu.Unlock()
	m.emit(iface.ChangeEvent{Path: path, Data: []byte(data)})
}

func (m *Memory) emit(ev iface.ChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
