package realtime

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/duisenbekovayan/motoshop/internal/metrics"
)

type regKey struct{ channel, event string }

type registration struct {
	ch      Channel
	event   string
	binding BindingID

	mu     sync.Mutex
	window *Window
}

// Dispatcher wraps a Transport so each (channel, event) has one handler
// and a redelivered message reaches it once.
type Dispatcher struct {
	t          Transport
	log        *zap.Logger
	windowSize int

	mu   sync.Mutex
	regs map[regKey]*registration
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func WithWindowSize(n int) Option { return func(d *Dispatcher) { d.windowSize = n } }

func NewDispatcher(t Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		t:          t,
		log:        zap.NewNop(),
		windowSize: WindowSize,
		regs:       make(map[regKey]*registration),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register subscribes to channel and binds h to event. If the pair is
// already registered the existing channel is returned and h is ignored.
func (d *Dispatcher) Register(ctx context.Context, channel, event string, h Handler) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := regKey{channel, event}
	if reg, ok := d.regs[k]; ok {
		d.log.Debug("handler already registered, keeping existing",
			zap.String("channel", channel), zap.String("event", event))
		return reg.ch, nil
	}

	ch, err := d.t.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	reg := &registration{ch: ch, event: event, window: NewWindow(d.windowSize)}
	reg.binding = ch.Bind(event, d.wrap(reg, h))
	d.regs[k] = reg
	d.log.Info("realtime handler registered", zap.String("channel", channel), zap.String("event", event))
	return ch, nil
}

func (d *Dispatcher) wrap(reg *registration, h Handler) Handler {
	return func(ev Event) {
		id := Identity(ev.Data)
		reg.mu.Lock()
		dup := reg.window.Observe(id)
		reg.mu.Unlock()
		if dup {
			metrics.RealtimeDuplicates.WithLabelValues(ev.Channel, ev.Name).Inc()
			d.log.Debug("dropping already processed message",
				zap.String("channel", ev.Channel), zap.String("event", ev.Name), zap.String("identity", id))
			return
		}
		metrics.RealtimeDelivered.WithLabelValues(ev.Channel, ev.Name).Inc()
		h(ev)
	}
}

// UnregisterChannel unbinds every handler on channel, discards their
// windows and unsubscribes the channel from the transport.
func (d *Dispatcher) UnregisterChannel(ctx context.Context, channel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, reg := range d.regs {
		if k.channel != channel {
			continue
		}
		reg.ch.Unbind(reg.event, reg.binding)
		delete(d.regs, k)
	}
	if err := d.t.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	d.log.Info("realtime channel unregistered", zap.String("channel", channel))
	return nil
}

func (d *Dispatcher) Registered(channel, event string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.regs[regKey{channel, event}]
	return ok
}

// Channels lists channels with at least one registration.
func (d *Dispatcher) Channels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for k := range d.regs {
		if !seen[k.channel] {
			seen[k.channel] = true
			out = append(out, k.channel)
		}
	}
	return out
}
