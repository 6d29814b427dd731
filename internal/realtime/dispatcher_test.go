package realtime_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/duisenbekovayan/motoshop/internal/realtime"
	"github.com/duisenbekovayan/motoshop/internal/realtime/memory"
)

func setup(t *testing.T) (*memory.Transport, *realtime.Dispatcher, *int) {
	t.Helper()
	tr := memory.New()
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d := realtime.NewDispatcher(tr)
	calls := 0
	if _, err := d.Register(context.Background(), "broadcast", "notification", func(realtime.Event) { calls++ }); err != nil {
		t.Fatalf("register: %v", err)
	}
	return tr, d, &calls
}

func TestDuplicateIDDeliveredOnce(t *testing.T) {
	tr, _, calls := setup(t)
	tr.Publish("broadcast", "notification", `{"id":"m1","title":"a"}`)
	tr.Publish("broadcast", "notification", `{"id":"m1","title":"a"}`)
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestDistinctIDsDeliveredTwice(t *testing.T) {
	tr, _, calls := setup(t)
	tr.Publish("broadcast", "notification", `{"id":"m1"}`)
	tr.Publish("broadcast", "notification", `{"id":"m2"}`)
	if *calls != 2 {
		t.Errorf("calls = %d, want 2", *calls)
	}
}

func TestWindowEviction(t *testing.T) {
	tr, _, calls := setup(t)
	for i := 1; i <= 101; i++ {
		tr.Publish("broadcast", "notification", fmt.Sprintf(`{"id":"m%d"}`, i))
	}
	if *calls != 101 {
		t.Fatalf("calls = %d, want 101", *calls)
	}
	tr.Publish("broadcast", "notification", `{"id":"m1"}`)
	if *calls != 102 {
		t.Errorf("evicted id not treated as new: calls = %d", *calls)
	}
	tr.Publish("broadcast", "notification", `{"id":"m101"}`)
	if *calls != 102 {
		t.Errorf("recent id delivered again: calls = %d", *calls)
	}
}

func TestPayloadIdentityFallback(t *testing.T) {
	tr, _, calls := setup(t)
	tr.Publish("broadcast", "notification", `{"title":"x","message":"y"}`)
	tr.Publish("broadcast", "notification", `{ "message": "y", "title": "x" }`)
	if *calls != 1 {
		t.Errorf("same payload without id: calls = %d, want 1", *calls)
	}
	tr.Publish("broadcast", "notification", `{"title":"x","message":"z"}`)
	if *calls != 2 {
		t.Errorf("different payload: calls = %d, want 2", *calls)
	}
}

func TestDuplicateRegistrationKeepsFirst(t *testing.T) {
	tr, d, calls := setup(t)
	second := 0
	ch1, _ := tr.Channel("broadcast")
	ch2, err := d.Register(context.Background(), "broadcast", "notification", func(realtime.Event) { second++ })
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if ch1 != ch2 {
		t.Error("duplicate registration returned a different channel")
	}
	tr.Publish("broadcast", "notification", `{"id":"m1"}`)
	if *calls != 1 || second != 0 {
		t.Errorf("calls = %d, second = %d", *calls, second)
	}
	if tr.Subscriptions("broadcast") != 1 {
		t.Errorf("subscribed %d times", tr.Subscriptions("broadcast"))
	}
}

func TestWindowIsPerRegistration(t *testing.T) {
	tr, d, calls := setup(t)
	other := 0
	if _, err := d.Register(context.Background(), "broadcast", "order-updated", func(realtime.Event) { other++ }); err != nil {
		t.Fatal(err)
	}
	tr.Publish("broadcast", "notification", `{"id":"m1"}`)
	tr.Publish("broadcast", "order-updated", `{"id":"m1"}`)
	if *calls != 1 || other != 1 {
		t.Errorf("calls = %d, other = %d", *calls, other)
	}
}

func TestUnregisterChannel(t *testing.T) {
	tr, d, calls := setup(t)
	if err := d.UnregisterChannel(context.Background(), "broadcast"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if d.Registered("broadcast", "notification") {
		t.Error("still registered")
	}
	if n, _ := tr.Publish("broadcast", "notification", `{"id":"m1"}`); n != 0 || *calls != 0 {
		t.Errorf("delivered after unregister: n=%d calls=%d", n, *calls)
	}

	// Re-registering starts with an empty window.
	again := 0
	if _, err := d.Register(context.Background(), "broadcast", "notification", func(realtime.Event) { again++ }); err != nil {
		t.Fatal(err)
	}
	tr.Publish("broadcast", "notification", `{"id":"m1"}`)
	if again != 1 {
		t.Errorf("again = %d, want 1", again)
	}
}

func TestRegisterOnClosedTransport(t *testing.T) {
	tr := memory.New()
	_ = tr.Close()
	d := realtime.NewDispatcher(tr)
	if _, err := d.Register(context.Background(), "c", "e", func(realtime.Event) {}); err == nil {
		t.Error("expected error on closed transport")
	}
	if d.Registered("c", "e") {
		t.Error("failed registration recorded")
	}
}
