package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/duisenbekovayan/motoshop/internal/cache"
	"github.com/duisenbekovayan/motoshop/internal/config"
	"github.com/duisenbekovayan/motoshop/internal/feed"
	"github.com/duisenbekovayan/motoshop/internal/httpapi"
	"github.com/duisenbekovayan/motoshop/internal/kafka"
	"github.com/duisenbekovayan/motoshop/internal/loader"
	"github.com/duisenbekovayan/motoshop/internal/metrics"
	model "github.com/duisenbekovayan/motoshop/internal/models"
	"github.com/duisenbekovayan/motoshop/internal/notify"
	"github.com/duisenbekovayan/motoshop/internal/realtime"
	"github.com/duisenbekovayan/motoshop/internal/realtime/memory"
	"github.com/duisenbekovayan/motoshop/internal/realtime/pusherws"
	"github.com/duisenbekovayan/motoshop/internal/realtime/redisbus"
	"github.com/duisenbekovayan/motoshop/internal/source"
	"github.com/duisenbekovayan/motoshop/internal/source/rest"
	"github.com/duisenbekovayan/motoshop/internal/storage"
)

func main() {
	cfgPath := flag.String("c", os.Getenv("CONFIG"), "comma-separated config files")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	// Cache
	store := cache.New()

	// Source
	var src source.Source
	switch cfg.Source.Kind {
	case "postgres":
		pgc := cfg.Source.Postgres
		pg, err := storage.New(storage.DSN(pgc.Host, pgc.Port, pgc.User, pgc.Password, pgc.DB))
		if err != nil {
			log.Fatal("postgres", zap.Error(err))
		}
		defer pg.Close()

		// Warm-up cache
		last, err := pg.LastOrders(context.Background(), pgc.WarmUp)
		if err != nil {
			log.Warn("warm-up failed", zap.Error(err))
		} else if err := store.UpsertMany(model.Orders, last, ""); err != nil {
			log.Warn("warm-up rejected", zap.Error(err))
		}
		src = pg
	default:
		rc := cfg.Source.REST
		src = rest.New(rest.Config{
			CustomerURL: rc.CustomerURL,
			RepairURL:   rc.RepairURL,
			ResourceURL: rc.ResourceURL,
			Token:       rc.Token,
			Timeout:     rc.Timeout,
			Routes:      rc.Routes,
		}, log.Named("rest"))
	}

	// Notifications
	var persist notify.Persister
	if cfg.Notify.DBPath != "" {
		db, err := notify.OpenSQLite(cfg.Notify.DBPath)
		if err != nil {
			log.Fatal("notifications db", zap.Error(err))
		}
		defer db.Close()
		persist = db
	}
	inbox := notify.NewInbox(persist, log.Named("notify"))
	if err := inbox.Restore(context.Background()); err != nil {
		log.Warn("restoring notifications failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Realtime
	tr := newTransport(cfg, log)
	if err := tr.Connect(ctx); err != nil {
		log.Fatal("realtime connect", zap.String("kind", cfg.Realtime.Kind), zap.Error(err))
	}
	defer func() { _ = tr.Close() }()

	disp := realtime.NewDispatcher(tr, realtime.WithLogger(log.Named("realtime")))
	fd := feed.New(disp, store, inbox, log.Named("feed"))
	if err := fd.Start(ctx, cfg.Session.CustomerID, cfg.Session.StaffID); err != nil {
		log.Fatal("feed", zap.Error(err))
	}

	// Initial load
	ld := loader.New(src, store, loader.WithLogger(log.Named("loader")), loader.WithConcurrency(cfg.Loader.Concurrency))
	go func() {
		if _, err := ld.Load(ctx, cfg.Session.CustomerID); err != nil {
			log.Error("initial load", zap.Error(err))
		}
	}()

	// HTTP
	api := httpapi.New(cfg.HTTP.Addr, httpapi.Deps{
		Store:      store,
		Source:     src,
		Loader:     ld,
		Inbox:      inbox,
		CustomerID: cfg.Session.CustomerID,
		Gatherer:   reg,
		Log:        log.Named("http"),
	})
	go func() { _ = api.Start() }()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := fd.Stop(shutdownCtx); err != nil {
		log.Warn("feed stop", zap.Error(err))
	}
	cancel()
	_ = api.Shutdown(shutdownCtx)
}

func newTransport(cfg *config.Config, log *zap.Logger) realtime.Transport {
	rt := cfg.Realtime
	switch rt.Kind {
	case "redis":
		return redisbus.New(redisbus.Config{
			Addr:     rt.Redis.Addr,
			Password: rt.Redis.Password,
			Database: rt.Redis.Database,
		}, log.Named("redis"))
	case "kafka":
		return kafka.NewConsumer(kafka.Config{
			Brokers:  rt.Kafka.Brokers,
			Topic:    rt.Kafka.Topic,
			GroupID:  rt.Kafka.GroupID,
			DLQTopic: rt.Kafka.DLQTopic,
		}, log.Named("kafka"))
	case "memory":
		return memory.New()
	default:
		return pusherws.New(pusherws.Config{
			URL:              rt.Pusher.URL,
			AppKey:           rt.Pusher.AppKey,
			DialTimeout:      rt.Pusher.DialTimeout,
			ReconnectBackoff: rt.Pusher.ReconnectBackoff,
			MaxBackoff:       rt.Pusher.MaxBackoff,
		}, log.Named("pusher"))
	}
}
