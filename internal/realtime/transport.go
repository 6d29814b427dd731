// Package realtime delivers named events from a publish/subscribe
// transport to application handlers, at most one handler per
// (channel, event) and at most once per logical message.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by transports used after Close.
var ErrClosed = errors.New("realtime: transport closed")

// Event is one message as it arrives from a transport.
type Event struct {
	Channel string          `json:"channel"`
	Name    string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

type Handler func(Event)

// BindingID identifies one Bind call so it can be undone.
type BindingID uint64

// Channel is a subscribed topic on a transport.
type Channel interface {
	Name() string
	Bind(event string, h Handler) BindingID
	Unbind(event string, id BindingID)
}

// Transport is the publish/subscribe client the Dispatcher runs on.
// Subscribe on an already subscribed channel returns the same Channel.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, channel string) (Channel, error)
	Channel(name string) (Channel, bool)
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}
