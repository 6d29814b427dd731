// Package config reads service settings from optional YAML files and the
// environment (a .env file is loaded first when present).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/duisenbekovayan/motoshop/internal/source/rest"
)

type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Session struct {
		CustomerID string `yaml:"customer_id"`
		StaffID    string `yaml:"staff_id"`
	} `yaml:"session"`

	Source struct {
		Kind string `yaml:"kind"` // rest | postgres
		REST struct {
			CustomerURL string        `yaml:"customer_url"`
			RepairURL   string        `yaml:"repair_url"`
			ResourceURL string        `yaml:"resource_url"`
			Token       string        `yaml:"token"`
			Timeout     time.Duration `yaml:"timeout"`
			Routes      rest.Routes   `yaml:"routes"`
		} `yaml:"rest"`
		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DB       string `yaml:"db"`
			WarmUp   int    `yaml:"warm_up"` // recent orders cached at start
		} `yaml:"postgres"`
	} `yaml:"source"`

	Realtime struct {
		Kind   string `yaml:"kind"` // pusher | redis | kafka | memory
		Pusher struct {
			URL              string        `yaml:"url"`
			AppKey           string        `yaml:"app_key"`
			DialTimeout      time.Duration `yaml:"dial_timeout"`
			ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
			MaxBackoff       time.Duration `yaml:"max_backoff"`
		} `yaml:"pusher"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			Database int    `yaml:"database"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers  []string `yaml:"brokers"`
			Topic    string   `yaml:"topic"`
			GroupID  string   `yaml:"group_id"`
			DLQTopic string   `yaml:"dlq_topic"`
		} `yaml:"kafka"`
	} `yaml:"realtime"`

	Loader struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"loader"`

	Notify struct {
		DBPath string `yaml:"db_path"` // empty keeps the inbox in memory
	} `yaml:"notify"`
}

// Load reads comma-separated YAML files in order (later files override
// earlier ones), applies environment overrides and fills defaults. An
// empty pathList is allowed.
func Load(pathList string) (*Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Source.REST.Routes = rest.DefaultRoutes()
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.defaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	str := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(dst *int, key string) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str(&c.HTTP.Addr, "HTTP_ADDR")
	str(&c.Session.CustomerID, "CUSTOMER_ID")
	str(&c.Session.StaffID, "STAFF_ID")

	str(&c.Source.Kind, "SOURCE")
	str(&c.Source.REST.CustomerURL, "CUSTOMER_API_URL")
	str(&c.Source.REST.RepairURL, "REPAIR_API_URL")
	str(&c.Source.REST.ResourceURL, "RESOURCE_API_URL")
	str(&c.Source.REST.Token, "API_TOKEN")
	str(&c.Source.Postgres.Host, "PG_HOST")
	str(&c.Source.Postgres.User, "PG_USER")
	str(&c.Source.Postgres.Password, "PG_PASSWORD")
	str(&c.Source.Postgres.DB, "PG_DB")
	if err := num(&c.Source.Postgres.Port, "PG_PORT"); err != nil {
		return err
	}

	str(&c.Realtime.Kind, "REALTIME")
	str(&c.Realtime.Pusher.URL, "PUSHER_URL")
	str(&c.Realtime.Pusher.AppKey, "PUSHER_APP_KEY")
	str(&c.Realtime.Redis.Addr, "REDIS_ADDR")
	str(&c.Realtime.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		c.Realtime.Kafka.Brokers = strings.Split(v, ",")
	}
	str(&c.Realtime.Kafka.Topic, "KAFKA_TOPIC")
	str(&c.Realtime.Kafka.GroupID, "KAFKA_GROUP")
	str(&c.Realtime.Kafka.DLQTopic, "KAFKA_DLQ_TOPIC")

	str(&c.Notify.DBPath, "NOTIFY_DB")
	return num(&c.Loader.Concurrency, "LOADER_CONCURRENCY")
}

func (c *Config) defaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "rest"
	}
	if c.Source.REST.Timeout == 0 {
		c.Source.REST.Timeout = 10 * time.Second
	}
	pg := &c.Source.Postgres
	if pg.Host == "" {
		pg.Host = "localhost"
	}
	if pg.Port == 0 {
		pg.Port = 5432
	}
	if pg.DB == "" {
		pg.DB = "motoshop"
	}
	if pg.WarmUp == 0 {
		pg.WarmUp = 50
	}

	if c.Realtime.Kind == "" {
		c.Realtime.Kind = "pusher"
	}
	if c.Realtime.Pusher.URL == "" {
		c.Realtime.Pusher.URL = "ws://localhost:6001"
	}
	if c.Realtime.Pusher.ReconnectBackoff == 0 {
		c.Realtime.Pusher.ReconnectBackoff = time.Second
	}
	if c.Realtime.Pusher.MaxBackoff == 0 {
		c.Realtime.Pusher.MaxBackoff = 30 * time.Second
	}
	if c.Realtime.Redis.Addr == "" {
		c.Realtime.Redis.Addr = "localhost:6379"
	}
	k := &c.Realtime.Kafka
	if len(k.Brokers) == 0 {
		k.Brokers = []string{"localhost:9092"}
	}
	if k.Topic == "" {
		k.Topic = "motoshop-events"
	}
	if k.GroupID == "" {
		k.GroupID = "motoshop"
	}

	if c.Loader.Concurrency <= 0 {
		c.Loader.Concurrency = 4
	}
}

func (c *Config) validate() error {
	switch c.Source.Kind {
	case "rest", "postgres":
	default:
		return fmt.Errorf("unknown source kind %q (want rest or postgres)", c.Source.Kind)
	}
	switch c.Realtime.Kind {
	case "pusher", "redis", "kafka", "memory":
	default:
		return fmt.Errorf("unknown realtime kind %q (want pusher, redis, kafka or memory)", c.Realtime.Kind)
	}
	if c.Realtime.Kind == "pusher" && c.Realtime.Pusher.AppKey == "" {
		return fmt.Errorf("realtime.pusher.app_key (PUSHER_APP_KEY) is required")
	}
	return nil
}
