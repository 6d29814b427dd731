package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	model "github.com/duisenbekovayan/motoshop/internal/models"
)

func TestAddNewestFirstAndCapped(t *testing.T) {
	b := NewInbox(nil, nil)
	for i := 0; i < MaxItems+5; i++ {
		if !b.Add(model.Notification{ID: fmt.Sprint(i), Title: "t"}) {
			t.Fatalf("add %d rejected", i)
		}
	}
	items := b.List()
	if len(items) != MaxItems {
		t.Fatalf("len = %d", len(items))
	}
	if items[0].ID != fmt.Sprint(MaxItems+4) {
		t.Errorf("newest = %s", items[0].ID)
	}
}

func TestAddDeduplicates(t *testing.T) {
	b := NewInbox(nil, nil)
	b.Add(model.Notification{ID: "1", Title: "a"})
	if b.Add(model.Notification{ID: "1", Title: "a"}) {
		t.Error("same id added twice")
	}
	n := model.Notification{Title: "t", Message: "m", Timestamp: "2024-01-01T00:00:00Z"}
	b.Add(n)
	if b.Add(n) {
		t.Error("same content without id added twice")
	}
	if len(b.List()) != 2 {
		t.Errorf("len = %d", len(b.List()))
	}
}

func TestReadRemoveClear(t *testing.T) {
	b := NewInbox(nil, nil)
	b.Add(model.Notification{ID: "1"})
	b.Add(model.Notification{ID: "2"})
	if b.Unread() != 2 {
		t.Fatalf("unread = %d", b.Unread())
	}
	if !b.MarkRead("1") || b.MarkRead("nope") {
		t.Error("MarkRead results wrong")
	}
	if b.Unread() != 1 {
		t.Errorf("unread = %d", b.Unread())
	}
	b.MarkAllRead()
	if b.Unread() != 0 {
		t.Errorf("unread after MarkAllRead = %d", b.Unread())
	}
	if !b.Remove("2") || len(b.List()) != 1 {
		t.Error("remove failed")
	}
	b.Clear()
	if len(b.List()) != 0 {
		t.Error("clear left items")
	}
	if b.Add(model.Notification{ID: "1"}) {
		t.Error("cleared notification came back on redelivery")
	}
}

func TestParse(t *testing.T) {
	n, err := Parse([]byte(`{"id":7,"title":"Order updated","message":"#5 is repairing","data":{"orderId":5}}`))
	if err != nil {
		t.Fatal(err)
	}
	if n.ID != "7" || n.Title != "Order updated" || n.Type != "info" || string(n.Data) != `{"orderId":5}` {
		t.Errorf("parsed %+v", n)
	}
	if _, err := Parse([]byte(`[1,2]`)); err == nil {
		t.Error("array accepted")
	}
	if _, err := Parse([]byte(`nope`)); err == nil {
		t.Error("invalid json accepted")
	}
}

func TestSQLitePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b := NewInbox(db, nil)
	b.Add(model.Notification{ID: "a", Title: "first"})
	b.Add(model.Notification{ID: "b", Title: "second"})
	b.MarkRead("a")
	_ = db.Close()

	db, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	restored := NewInbox(db, nil)
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	items := restored.List()
	if len(items) != 2 || items[0].ID != "b" || !items[1].Read {
		t.Fatalf("restored %+v", items)
	}
	if restored.Add(model.Notification{ID: "a", Title: "first"}) {
		t.Error("restored notification re-added")
	}
}

func TestConcurrentChangesPersistFinalState(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "inbox.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	b := NewInbox(db, nil)
	b.Add(model.Notification{ID: "base", Title: "base"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			b.Add(model.Notification{ID: fmt.Sprint(i), Title: fmt.Sprint("n", i)})
		}(i)
		go func() {
			defer wg.Done()
			b.MarkRead("base")
		}()
	}
	wg.Wait()

	want := b.List()
	got, err := db.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) || len(got) != 11 {
		t.Fatalf("persisted %d items, inbox has %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Read != want[i].Read {
			t.Errorf("item %d: persisted %+v, inbox %+v", i, got[i], want[i])
		}
	}
}
