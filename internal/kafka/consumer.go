package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/duisenbekovayan/motoshop/internal/metrics"
	"github.com/duisenbekovayan/motoshop/internal/realtime"
)

// Envelope is one realtime event on the topic. Key is the channel name.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Consumer is a realtime transport reading every channel from one topic.
// Subscribing is local: messages for channels nobody subscribed to are
// committed and skipped.
type Consumer struct {
	*realtime.Router

	reader *kafkago.Reader
	dlq    *kafkago.Writer // optional: dead-letter queue
	log    *zap.Logger

	retryBackoff time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

type Config struct {
	Brokers          []string
	Topic            string
	GroupID          string
	DLQTopic         string // "" disables the DLQ
	MinBytes         int
	MaxBytes         int
	MaxWait          time.Duration
	ReadErrorBackoff time.Duration
}

func NewConsumer(cfg Config, log *zap.Logger) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 10e3
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 2 * time.Second
	}
	if cfg.ReadErrorBackoff == 0 {
		cfg.ReadErrorBackoff = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
		// offsets are committed manually after dispatch
		CommitInterval: 0,
	})
	var w *kafkago.Writer
	if cfg.DLQTopic != "" {
		w = &kafkago.Writer{
			Addr:     kafkago.TCP(cfg.Brokers...),
			Topic:    cfg.DLQTopic,
			Balancer: &kafkago.LeastBytes{},
		}
	}

	return &Consumer{
		Router:       realtime.NewRouter(),
		reader:       r,
		dlq:          w,
		log:          log,
		retryBackoff: cfg.ReadErrorBackoff,
	}
}

// Connect starts the read loop in the background.
func (c *Consumer) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrClosed
	}
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		if err := c.Run(ctx); err != nil {
			c.log.Error("kafka consumer stopped", zap.Error(err))
		}
	}()
	return nil
}

func (c *Consumer) Subscribe(_ context.Context, channel string) (realtime.Channel, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, realtime.ErrClosed
	}
	ch, _ := c.Add(channel)
	return ch, nil
}

func (c *Consumer) Channel(name string) (realtime.Channel, bool) { return c.Get(name) }

func (c *Consumer) Unsubscribe(_ context.Context, channel string) error {
	c.Remove(channel)
	return nil
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	var err1, err2 error
	if c.reader != nil {
		err1 = c.reader.Close()
	}
	if c.dlq != nil {
		err2 = c.dlq.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Run fetches, dispatches and commits until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	cfg := c.reader.Config()
	c.log.Info("kafka consumer started", zap.String("topic", cfg.Topic), zap.String("group", cfg.GroupID))

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			metrics.TransportErrors.WithLabelValues("kafka").Inc()
			c.log.Warn("kafka fetch error", zap.Error(err), zap.Duration("retry_in", c.retryBackoff))
			if !sleep(ctx, c.retryBackoff) {
				return nil
			}
			continue
		}

		if err := c.processMessage(ctx, m); err != nil {
			// not committed: the message comes back later
			c.log.Warn("kafka process error", zap.Int64("offset", m.Offset), zap.Error(err))
			if !sleep(ctx, 500*time.Millisecond) {
				return nil
			}
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.log.Warn("kafka commit error", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Consumer) processMessage(ctx context.Context, m kafkago.Message) error {
	var env Envelope
	err := json.Unmarshal(m.Value, &env)
	if err == nil && env.Channel == "" {
		env.Channel = string(m.Key)
	}
	if err == nil && (env.Channel == "" || env.Event == "") {
		err = fmt.Errorf("envelope missing channel/event")
	}
	if err != nil {
		metrics.TransportErrors.WithLabelValues("kafka").Inc()
		c.log.Warn("kafka: invalid envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		// bad payloads never get better: park in the DLQ if there is one
		// and commit either way
		if c.dlq != nil {
			if werr := c.dlq.WriteMessages(ctx, kafkago.Message{Key: m.Key, Value: m.Value, Time: time.Now()}); werr != nil {
				return fmt.Errorf("dlq write: %w", werr)
			}
		}
		return nil
	}

	n := c.Dispatch(realtime.Event{Channel: env.Channel, Name: env.Event, Data: env.Data})
	c.log.Debug("kafka event dispatched",
		zap.String("channel", env.Channel), zap.String("event", env.Event),
		zap.Int("handlers", n), zap.Int64("offset", m.Offset), zap.Int("partition", m.Partition))
	return nil
}
