// Package memory is an in-process realtime transport. Publish delivers
// synchronously on the caller's goroutine.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/duisenbekovayan/motoshop/internal/realtime"
)

type Transport struct {
	*realtime.Router

	mu        sync.Mutex
	connected bool
	closed    bool
	subs      map[string]int // subscribe calls per channel, for tests
}

func New() *Transport {
	return &Transport{Router: realtime.NewRouter(), subs: make(map[string]int)}
}

func (t *Transport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return realtime.ErrClosed
	}
	t.connected = true
	return nil
}

func (t *Transport) Subscribe(_ context.Context, channel string) (realtime.Channel, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, realtime.ErrClosed
	}
	t.subs[channel]++
	t.mu.Unlock()
	ch, _ := t.Add(channel)
	return ch, nil
}

func (t *Transport) Channel(name string) (realtime.Channel, bool) { return t.Get(name) }

func (t *Transport) Unsubscribe(_ context.Context, channel string) error {
	t.Remove(channel)
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.connected = false
	t.mu.Unlock()
	for _, n := range t.Names() {
		t.Remove(n)
	}
	return nil
}

// Publish delivers data to handlers bound on channel/event and returns
// how many were called.
func (t *Transport) Publish(channel, event string, data any) (int, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = json.RawMessage(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return 0, err
		}
		raw = b
	}
	return t.Dispatch(realtime.Event{Channel: channel, Name: event, Data: raw}), nil
}

// Subscriptions reports how many times channel was subscribed.
func (t *Transport) Subscriptions(channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subs[channel]
}
