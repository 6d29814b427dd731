// Package feed applies realtime events to the entity store and the
// notification inbox.
package feed

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/duisenbekovayan/motoshop/internal/cache"
	model "github.com/duisenbekovayan/motoshop/internal/models"
	"github.com/duisenbekovayan/motoshop/internal/notify"
	"github.com/duisenbekovayan/motoshop/internal/realtime"
)

const (
	EventNotification = "notification"
	BroadcastChannel  = "broadcast"
)

func UpdatedEvent(c model.Category) string { return string(c) + "-updated" }
func DeletedEvent(c model.Category) string { return string(c) + "-deleted" }

// Channels returns the channels a session listens on. Empty IDs are
// skipped; broadcast is always included.
func Channels(customerID, staffID string) []string {
	var out []string
	if customerID != "" {
		out = append(out, "customer-"+customerID)
	}
	if staffID != "" {
		out = append(out, "staff-"+staffID)
	}
	return append(out, BroadcastChannel)
}

type Feed struct {
	d     *realtime.Dispatcher
	store *cache.Store
	inbox *notify.Inbox
	log   *zap.Logger

	channels []string
}

func New(d *realtime.Dispatcher, store *cache.Store, inbox *notify.Inbox, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{d: d, store: store, inbox: inbox, log: log}
}

// Start registers notification and entity handlers on every session
// channel. Calling it again with the same IDs is harmless.
func (f *Feed) Start(ctx context.Context, customerID, staffID string) error {
	f.channels = Channels(customerID, staffID)
	for _, ch := range f.channels {
		if f.inbox != nil {
			if _, err := f.d.Register(ctx, ch, EventNotification, f.onNotification); err != nil {
				return err
			}
		}
		for _, c := range model.AllCategories() {
			if _, err := f.d.Register(ctx, ch, UpdatedEvent(c), f.onUpdated(c)); err != nil {
				return err
			}
			if _, err := f.d.Register(ctx, ch, DeletedEvent(c), f.onDeleted(c)); err != nil {
				return err
			}
		}
	}
	f.log.Info("feed started", zap.Strings("channels", f.channels))
	return nil
}

// Stop unregisters every channel Start registered.
func (f *Feed) Stop(ctx context.Context) error {
	var first error
	for _, ch := range f.channels {
		if err := f.d.UnregisterChannel(ctx, ch); err != nil && first == nil {
			first = err
		}
	}
	f.channels = nil
	return first
}

func (f *Feed) onNotification(ev realtime.Event) {
	n, err := notify.Parse(ev.Data)
	if err != nil {
		f.log.Warn("bad notification payload", zap.String("channel", ev.Channel), zap.Error(err))
		return
	}
	if f.inbox.Add(n) {
		f.log.Info("notification received", zap.String("channel", ev.Channel), zap.String("title", n.Title))
	}
}

func (f *Feed) onUpdated(c model.Category) realtime.Handler {
	return func(ev realtime.Event) {
		recs, err := model.DecodeRecords(ev.Data)
		if err != nil {
			f.log.Warn("bad record payload", zap.String("event", ev.Name), zap.Error(err))
			return
		}
		if err := f.store.UpsertMany(c, recs, ""); err != nil {
			f.log.Warn("record update rejected", zap.String("event", ev.Name), zap.Error(err))
			return
		}
		f.log.Debug("records updated", zap.String("category", string(c)), zap.Int("count", len(recs)))
	}
}

func (f *Feed) onDeleted(c model.Category) realtime.Handler {
	return func(ev realtime.Event) {
		id, err := deletedID(c, ev.Data)
		if err != nil {
			f.log.Warn("bad delete payload", zap.String("event", ev.Name), zap.Error(err))
			return
		}
		f.store.Delete(c, id)
		f.log.Debug("record deleted", zap.String("category", string(c)), zap.String("id", id))
	}
}

// deletedID accepts a bare ID or an object carrying the category's ID
// field (or "id").
func deletedID(c model.Category, data []byte) (string, error) {
	res := gjson.ParseBytes(data)
	switch {
	case res.IsObject():
		for _, field := range []string{c.IDField(), "id"} {
			if v := res.Get(field); v.Type == gjson.String || v.Type == gjson.Number {
				if s := v.String(); s != "" {
					return s, nil
				}
			}
		}
	case res.Type == gjson.String || res.Type == gjson.Number:
		if s := res.String(); s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("no %s id in %q", c, data)
}
