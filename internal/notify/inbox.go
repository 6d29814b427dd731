// Package notify keeps the notification inbox shown to the signed-in user.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/duisenbekovayan/motoshop/internal/metrics"
	model "github.com/duisenbekovayan/motoshop/internal/models"
	"github.com/duisenbekovayan/motoshop/internal/realtime"
)

// MaxItems is how many notifications the inbox keeps, newest first.
const MaxItems = 20

// Persister stores the inbox between runs.
type Persister interface {
	Load(ctx context.Context) ([]model.Notification, error)
	Save(ctx context.Context, items []model.Notification) error
}

type Inbox struct {
	mu    sync.Mutex
	items []model.Notification
	seen  *realtime.Window

	// saveMu is held from snapshot to Save so saves land in snapshot order.
	saveMu sync.Mutex
	store  Persister
	log    *zap.Logger
}

func NewInbox(p Persister, log *zap.Logger) *Inbox {
	if log == nil {
		log = zap.NewNop()
	}
	return &Inbox{seen: realtime.NewWindow(realtime.WindowSize), store: p, log: log}
}

// Restore loads persisted notifications. A missing persister is a no-op.
func (b *Inbox) Restore(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	items, err := b.store.Load(ctx)
	if err != nil {
		return err
	}
	if len(items) > MaxItems {
		items = items[:MaxItems]
	}
	b.mu.Lock()
	b.items = items
	for i := len(items) - 1; i >= 0; i-- {
		b.seen.Observe(items[i].Key())
	}
	b.mu.Unlock()
	b.changed()
	return nil
}

// Add puts n at the top of the inbox. It reports false when n was seen
// before or is already listed.
func (b *Inbox) Add(n model.Notification) bool {
	if n.ID == "" {
		n.ID = n.Key()
	}
	n.Read = false

	b.mu.Lock()
	if b.seen.Observe(n.Key()) || b.listedLocked(n) {
		b.mu.Unlock()
		b.log.Debug("skipping duplicate notification", zap.String("id", n.ID))
		return false
	}
	b.items = append([]model.Notification{n}, b.items...)
	if len(b.items) > MaxItems {
		b.items = b.items[:MaxItems]
	}
	b.mu.Unlock()
	b.changed()
	return true
}

func (b *Inbox) listedLocked(n model.Notification) bool {
	for _, it := range b.items {
		if it.ID == n.ID ||
			(it.Title == n.Title && it.Message == n.Message && it.Timestamp == n.Timestamp) {
			return true
		}
	}
	return false
}

func (b *Inbox) List() []model.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Notification(nil), b.items...)
}

func (b *Inbox) Unread() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unreadLocked()
}

func (b *Inbox) unreadLocked() int {
	n := 0
	for _, it := range b.items {
		if !it.Read {
			n++
		}
	}
	return n
}

func (b *Inbox) MarkRead(id string) bool {
	return b.update(func(items []model.Notification) ([]model.Notification, bool) {
		for i := range items {
			if items[i].ID == id {
				items[i].Read = true
				return items, true
			}
		}
		return items, false
	})
}

func (b *Inbox) MarkAllRead() {
	b.update(func(items []model.Notification) ([]model.Notification, bool) {
		for i := range items {
			items[i].Read = true
		}
		return items, true
	})
}

func (b *Inbox) Remove(id string) bool {
	return b.update(func(items []model.Notification) ([]model.Notification, bool) {
		for i := range items {
			if items[i].ID == id {
				return append(items[:i], items[i+1:]...), true
			}
		}
		return items, false
	})
}

// Clear empties the inbox. Seen identities are kept so a redelivery of
// a cleared notification does not bring it back.
func (b *Inbox) Clear() {
	b.update(func([]model.Notification) ([]model.Notification, bool) { return nil, true })
}

func (b *Inbox) update(fn func([]model.Notification) ([]model.Notification, bool)) bool {
	b.mu.Lock()
	items, ok := fn(b.items)
	b.items = items
	b.mu.Unlock()
	if ok {
		b.changed()
	}
	return ok
}

func (b *Inbox) changed() {
	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	b.mu.Lock()
	snapshot := append([]model.Notification(nil), b.items...)
	unread := b.unreadLocked()
	b.mu.Unlock()

	metrics.Notifications.Set(float64(unread))
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.Save(ctx, snapshot); err != nil {
		b.log.Warn("saving notifications failed", zap.Error(err))
	}
}

var errNotObject = errors.New("notification payload is not an object")

// Parse reads a notification payload. id may be a number or a string.
func Parse(data []byte) (model.Notification, error) {
	if !gjson.ValidBytes(data) {
		return model.Notification{}, errNotObject
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return model.Notification{}, errNotObject
	}
	n := model.Notification{
		Title:     res.Get("title").String(),
		Message:   res.Get("message").String(),
		Type:      res.Get("type").String(),
		Timestamp: res.Get("timestamp").String(),
		Read:      res.Get("read").Bool(),
	}
	if id := res.Get("id"); id.Exists() && id.Type != gjson.Null {
		n.ID = id.String()
	}
	if d := res.Get("data"); d.Exists() {
		n.Data = []byte(d.Raw)
	}
	if n.Type == "" {
		n.Type = "info"
	}
	return n, nil
}
