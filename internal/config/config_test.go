package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	model "github.com/duisenbekovayan/motoshop/internal/models"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	t.Setenv("PUSHER_APP_KEY", "key")
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.HTTP.Addr != ":8080" || c.Source.Kind != "rest" || c.Realtime.Kind != "pusher" {
		t.Errorf("defaults = %+v", c)
	}
	if c.Loader.Concurrency != 4 || c.Source.REST.Timeout != 10*time.Second {
		t.Errorf("loader/rest defaults wrong: %d %v", c.Loader.Concurrency, c.Source.REST.Timeout)
	}
	if c.Source.REST.Routes.ByID[model.Orders].Path == "" {
		t.Error("default routes missing")
	}
}

func TestFilesMergeAndEnvWins(t *testing.T) {
	common := write(t, "common.yml", `
http:
  addr: ":9000"
realtime:
  kind: kafka
  kafka:
    brokers: [a:9092, b:9092]
`)
	local := write(t, "local.yml", `
session:
  customer_id: "42"
source:
  kind: postgres
  postgres:
    port: 6543
`)
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("PG_USER", "shop")

	c, err := Load(common + ", " + local)
	if err != nil {
		t.Fatal(err)
	}
	if c.HTTP.Addr != ":7000" {
		t.Errorf("addr = %s, env should win", c.HTTP.Addr)
	}
	if c.Session.CustomerID != "42" || c.Source.Kind != "postgres" || c.Source.Postgres.Port != 6543 {
		t.Errorf("second file not applied: %+v", c.Source)
	}
	if c.Source.Postgres.User != "shop" || c.Source.Postgres.Host != "localhost" {
		t.Errorf("postgres = %+v", c.Source.Postgres)
	}
	if len(c.Realtime.Kafka.Brokers) != 2 || c.Realtime.Kafka.Topic != "motoshop-events" {
		t.Errorf("kafka = %+v", c.Realtime.Kafka)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("PUSHER_APP_KEY", "")
	t.Setenv("REALTIME", "")
	if _, err := Load(""); err == nil {
		t.Error("pusher without app key accepted")
	}
	t.Setenv("REALTIME", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Error("unknown realtime kind accepted")
	}
	t.Setenv("REALTIME", "memory")
	t.Setenv("LOADER_CONCURRENCY", "many")
	if _, err := Load(""); err == nil {
		t.Error("bad number accepted")
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("missing file accepted")
	}
}
