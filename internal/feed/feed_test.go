package feed

import (
	"context"
	"testing"

	"github.com/duisenbekovayan/motoshop/internal/cache"
	model "github.com/duisenbekovayan/motoshop/internal/models"
	"github.com/duisenbekovayan/motoshop/internal/notify"
	"github.com/duisenbekovayan/motoshop/internal/realtime"
	"github.com/duisenbekovayan/motoshop/internal/realtime/memory"
)

func start(t *testing.T) (*memory.Transport, *Feed, *cache.Store, *notify.Inbox) {
	t.Helper()
	tr := memory.New()
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := cache.New()
	inbox := notify.NewInbox(nil, nil)
	f := New(realtime.NewDispatcher(tr), st, inbox, nil)
	if err := f.Start(context.Background(), "7", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	return tr, f, st, inbox
}

func TestChannels(t *testing.T) {
	got := Channels("7", "3")
	if len(got) != 3 || got[0] != "customer-7" || got[1] != "staff-3" || got[2] != "broadcast" {
		t.Errorf("channels = %v", got)
	}
	if got := Channels("", ""); len(got) != 1 {
		t.Errorf("anonymous channels = %v", got)
	}
}

func TestNotificationReachesInboxOnce(t *testing.T) {
	tr, _, _, inbox := start(t)
	msg := `{"id":1,"title":"Order ready","message":"Pick up your bike"}`
	tr.Publish("customer-7", EventNotification, msg)
	tr.Publish("customer-7", EventNotification, msg)
	tr.Publish("broadcast", EventNotification, msg)

	items := inbox.List()
	if len(items) != 1 || items[0].Title != "Order ready" {
		t.Fatalf("inbox = %+v", items)
	}
	if inbox.Unread() != 1 {
		t.Errorf("unread = %d", inbox.Unread())
	}
}

func TestEntityUpdateAndDelete(t *testing.T) {
	tr, _, st, _ := start(t)
	tr.Publish("customer-7", UpdatedEvent(model.Orders), `{"order_id":5,"status":"repairing"}`)
	rec, ok := st.Get(model.Orders, "5")
	if !ok || rec["status"] != "repairing" {
		t.Fatalf("order 5 = %v, %v", rec, ok)
	}

	tr.Publish("customer-7", UpdatedEvent(model.Orders), `[{"order_id":5,"status":"done"},{"order_id":6}]`)
	if rec, _ := st.Get(model.Orders, "5"); rec["status"] != "done" || !st.Has(model.Orders, "6") {
		t.Errorf("batch update not applied: %v", st.GetCategory(model.Orders))
	}

	tr.Publish("customer-7", DeletedEvent(model.Orders), `{"order_id":5}`)
	tr.Publish("broadcast", DeletedEvent(model.Orders), `6`)
	if st.Len(model.Orders) != 0 {
		t.Errorf("orders left = %v", st.IDs(model.Orders))
	}
}

func TestUpdateWithoutIDIgnored(t *testing.T) {
	tr, _, st, _ := start(t)
	tr.Publish("customer-7", UpdatedEvent(model.Parts), `[{"part_id":1},{"name":"no id"}]`)
	if st.Len(model.Parts) != 0 {
		t.Errorf("partial batch written: %v", st.IDs(model.Parts))
	}
}

func TestStopUnsubscribes(t *testing.T) {
	tr, f, _, inbox := start(t)
	if err := f.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n, _ := tr.Publish("customer-7", EventNotification, `{"id":2}`); n != 0 {
		t.Errorf("delivered to %d handlers after stop", n)
	}
	if len(inbox.List()) != 0 {
		t.Error("inbox changed after stop")
	}
}

func TestDeletedID(t *testing.T) {
	cases := []struct {
		data string
		want string
		ok   bool
	}{
		{`{"staff_id":3}`, "3", true},
		{`{"id":"x"}`, "x", true},
		{`"9"`, "9", true},
		{`{}`, "", false},
		{`null`, "", false},
	}
	for _, tc := range cases {
		got, err := deletedID(model.Staffs, []byte(tc.data))
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("deletedID(%s) = %q, %v", tc.data, got, err)
		}
	}
}
