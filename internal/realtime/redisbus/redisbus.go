// Package redisbus is a realtime transport over Redis pub/sub. Each Redis
// channel carries JSON envelopes {"event": name, "data": payload}.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/duisenbekovayan/motoshop/internal/metrics"
	"github.com/duisenbekovayan/motoshop/internal/realtime"
)

type Config struct {
	Addr     string
	Password string
	Database int
	Timeout  time.Duration
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Transport struct {
	*realtime.Router

	cli *redis.Client
	log *zap.Logger

	mu     sync.Mutex
	ps     *redis.PubSub
	closed bool
	done   chan struct{}
}

func New(cfg Config, log *zap.Logger) *Transport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	cli := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	return &Transport{Router: realtime.NewRouter(), cli: cli, log: log}
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return realtime.ErrClosed
	}
	if t.ps != nil {
		return nil
	}
	if err := t.cli.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	t.ps = t.cli.Subscribe(ctx)
	if names := t.Names(); len(names) > 0 {
		if err := t.ps.Subscribe(ctx, names...); err != nil {
			return fmt.Errorf("redis subscribe: %w", err)
		}
	}
	t.done = make(chan struct{})
	go t.run(t.ps.Channel(), t.done)
	t.log.Info("redis pubsub connected", zap.String("addr", t.cli.Options().Addr))
	return nil
}

func (t *Transport) run(msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for m := range msgs {
		ev, err := decode(m.Channel, []byte(m.Payload))
		if err != nil {
			metrics.TransportErrors.WithLabelValues("redis").Inc()
			t.log.Warn("redis: invalid envelope", zap.String("channel", m.Channel), zap.Error(err))
			continue
		}
		t.Dispatch(ev)
	}
}

func decode(channel string, payload []byte) (realtime.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return realtime.Event{}, err
	}
	if env.Event == "" {
		return realtime.Event{}, fmt.Errorf("envelope without event")
	}
	return realtime.Event{Channel: channel, Name: env.Event, Data: env.Data}, nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string) (realtime.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, realtime.ErrClosed
	}
	ch, created := t.Add(channel)
	if !created || t.ps == nil {
		return ch, nil
	}
	if err := t.ps.Subscribe(ctx, channel); err != nil {
		t.Remove(channel)
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return ch, nil
}

func (t *Transport) Channel(name string) (realtime.Channel, bool) { return t.Get(name) }

func (t *Transport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Remove(channel) || t.ps == nil {
		return nil
	}
	return t.ps.Unsubscribe(ctx, channel)
}

// Publish sends an envelope on channel.
func (t *Transport) Publish(ctx context.Context, channel, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}
	return t.cli.Publish(ctx, channel, b).Err()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ps, done := t.ps, t.done
	t.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
		<-done
	}
	if cerr := t.cli.Close(); err == nil {
		err = cerr
	}
	return err
}
