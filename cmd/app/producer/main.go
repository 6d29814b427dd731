// Command producer publishes one realtime event to the Kafka topic, for
// trying the service without the backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/duisenbekovayan/motoshop/internal/kafka"
)

func main() {
	_ = godotenv.Load()

	file := flag.String("f", "event.json", "JSON payload file")
	channel := flag.String("channel", "broadcast", "target channel")
	event := flag.String("event", "notification", "event name")
	brokers := flag.String("brokers", getenv("KAFKA_BROKER", "localhost:9092"), "comma-separated brokers")
	topic := flag.String("topic", getenv("KAFKA_TOPIC", "motoshop-events"), "topic")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal("read payload", zap.Error(err))
	}
	data, err = stampID(data)
	if err != nil {
		log.Fatal("payload", zap.Error(err))
	}

	p := kafka.NewProducer(strings.Split(*brokers, ","), *topic)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	env := kafka.Envelope{Channel: *channel, Event: *event, Data: data}
	if err := p.Publish(ctx, env); err != nil {
		log.Fatal("publish", zap.Error(err))
	}
	log.Info("published", zap.String("channel", *channel), zap.String("event", *event))
}

// stampID gives an object payload a fresh "id" when it has none, so
// repeated runs are not dropped as redeliveries.
func stampID(data []byte) ([]byte, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return data, nil // arrays and scalars go out as-is
	}
	if _, ok := obj["id"]; ok {
		return data, nil
	}
	obj["id"] = uuid.NewString()
	return json.Marshal(obj)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
