package loader

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/duisenbekovayan/motoshop/internal/cache"
	model "github.com/duisenbekovayan/motoshop/internal/models"
	"github.com/duisenbekovayan/motoshop/internal/source"
)

// fakeSource serves canned records and counts calls.
type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: make(map[string]int), fail: make(map[string]error)}
}

func (f *fakeSource) hit(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.fail[name]
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSource) Motorcycles(_ context.Context, customerID string) ([]model.Record, error) {
	if err := f.hit("motorcycles"); err != nil {
		return nil, err
	}
	return []model.Record{{"motocycle_id": float64(1), "customer_id": customerID}, {"motocycle_id": float64(2)}}, nil
}

func (f *fakeSource) Receptions(_ context.Context, moto string) ([]model.Record, error) {
	if err := f.hit("receptions:" + moto); err != nil {
		return nil, err
	}
	return []model.Record{{"form_id": "r" + moto, "staff_id": float64(10)}}, nil
}

func (f *fakeSource) Orders(_ context.Context, moto string) ([]model.Record, error) {
	if err := f.hit("orders:" + moto); err != nil {
		return nil, err
	}
	return []model.Record{{"order_id": "o" + moto, "staff_id": float64(20), "status": "received"}}, nil
}

func (f *fakeSource) Appointments(context.Context, string) ([]model.Record, error) {
	if err := f.hit("appointments"); err != nil {
		return nil, err
	}
	return []model.Record{{"appointment_id": 1}}, nil
}

func (f *fakeSource) Parts(context.Context) ([]model.Record, error) {
	if err := f.hit("parts"); err != nil {
		return nil, err
	}
	return []model.Record{{"part_id": 1}, {"part_id": 2}}, nil
}

func (f *fakeSource) Services(context.Context) ([]model.Record, error) {
	if err := f.hit("services"); err != nil {
		return nil, err
	}
	return []model.Record{{"service_id": 1}}, nil
}

func (f *fakeSource) Diagnosis(_ context.Context, orderID string) (model.Record, error) {
	if err := f.hit("diagnosis:" + orderID); err != nil {
		return nil, err
	}
	if orderID == "o2" {
		return nil, source.ErrNotFound
	}
	return model.Record{"order_id": orderID, "estimated_cost": 100}, nil
}

func (f *fakeSource) Staff(_ context.Context, id string) (model.Record, error) {
	if err := f.hit("staff:" + id); err != nil {
		return nil, err
	}
	return model.Record{"staff_id": id}, nil
}

func (f *fakeSource) Record(_ context.Context, c model.Category, id string) (model.Record, error) {
	return nil, source.ErrNotFound
}

func sorted(ids []string) []string {
	sort.Strings(ids)
	return ids
}

func TestLoadCascade(t *testing.T) {
	src := newFakeSource()
	st := cache.New()
	rep, err := New(src, st).Load(context.Background(), "7")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := rep.Err(); err != nil {
		t.Fatalf("report: %v", err)
	}

	if got := sorted(st.IDs(model.Orders)); len(got) != 2 || got[0] != "o1" || got[1] != "o2" {
		t.Errorf("orders = %v", got)
	}
	if got := sorted(st.IDs(model.Receptions)); len(got) != 2 {
		t.Errorf("receptions = %v", got)
	}
	if got := st.IDs(model.Diagnosis); len(got) != 1 || got[0] != "o1" {
		t.Errorf("diagnosis = %v (o2 has none)", got)
	}
	if got := sorted(st.IDs(model.Staffs)); len(got) != 2 || got[0] != "10" || got[1] != "20" {
		t.Errorf("staffs = %v", got)
	}
	if st.Len(model.Parts) != 2 || st.Len(model.Services) != 1 || st.Len(model.Appointments) != 1 {
		t.Error("independent categories not loaded")
	}
	for c, v := range st.LoadingAll() {
		if v {
			t.Errorf("%s still loading", c)
		}
	}
	if src.count("staff:20") != 1 {
		t.Errorf("staff 20 fetched %d times", src.count("staff:20"))
	}
}

func TestFailureIsolation(t *testing.T) {
	src := newFakeSource()
	src.fail["motorcycles"] = errors.New("network down")
	st := cache.New()
	_ = st.UpsertMany(model.Motorcycles, []model.Record{{"motocycle_id": 99}}, "")

	rep, err := New(src, st).Load(context.Background(), "7")
	if err != nil {
		t.Fatal(err)
	}
	if rep["motorcycles"] == nil {
		t.Error("motorcycles should have failed")
	}
	for _, n := range []string{"receptions", "orders", "diagnosis", "staffs"} {
		if !errors.Is(rep[n], ErrSkipped) {
			t.Errorf("%s: %v, want skipped", n, rep[n])
		}
	}
	for _, n := range []string{"parts", "services", "appointments"} {
		if rep[n] != nil {
			t.Errorf("%s failed: %v", n, rep[n])
		}
	}
	if st.Errors()[model.Motorcycles] != "network down" {
		t.Errorf("errors = %v", st.Errors())
	}
	if !st.Has(model.Motorcycles, "99") {
		t.Error("last-known-good motorcycles were cleared")
	}
	if st.Loading(model.Motorcycles) {
		t.Error("loading flag left set")
	}
}

func TestPartialFanOutFailure(t *testing.T) {
	src := newFakeSource()
	src.fail["orders:1"] = errors.New("timeout")
	st := cache.New()
	rep, _ := New(src, st).Load(context.Background(), "7")

	if rep["orders"] == nil {
		t.Fatal("orders should report the failed motorcycle")
	}
	if !st.Has(model.Orders, "o2") {
		t.Error("sibling motorcycle orders not loaded")
	}
	if rep["receptions"] != nil {
		t.Errorf("receptions: %v", rep["receptions"])
	}
}

func TestDiagnosisSkipsCached(t *testing.T) {
	src := newFakeSource()
	st := cache.New()
	st.SetRecord(model.Diagnosis, "o1", model.Record{"order_id": "o1"})
	_, _ = New(src, st).Load(context.Background(), "7")
	if src.count("diagnosis:o1") != 0 {
		t.Error("cached diagnosis refetched")
	}
}

func TestRefreshRefetchesCached(t *testing.T) {
	src := newFakeSource()
	st := cache.New()
	st.SetRecord(model.Orders, "o1", model.Record{"order_id": "o1", "staff_id": float64(20)})
	st.SetRecord(model.Diagnosis, "o1", model.Record{"order_id": "o1", "estimated_cost": 1})
	st.SetRecord(model.Staffs, "20", model.Record{"staff_id": "20"})
	l := New(src, st)

	if err := l.Refresh(context.Background(), "7", model.Diagnosis); err != nil {
		t.Fatalf("refresh diagnosis: %v", err)
	}
	if src.count("diagnosis:o1") != 1 {
		t.Errorf("diagnosis o1 fetched %d times", src.count("diagnosis:o1"))
	}
	if rec, _ := st.Get(model.Diagnosis, "o1"); rec["estimated_cost"] != 100 {
		t.Errorf("diagnosis not replaced: %v", rec)
	}

	if err := l.Refresh(context.Background(), "7", model.Staffs); err != nil {
		t.Fatalf("refresh staffs: %v", err)
	}
	if src.count("staff:20") != 1 {
		t.Errorf("staff 20 fetched %d times", src.count("staff:20"))
	}
}

func TestRefreshClearsError(t *testing.T) {
	src := newFakeSource()
	st := cache.New()
	src.fail["parts"] = errors.New("boom")
	l := New(src, st)
	if err := l.Refresh(context.Background(), "", model.Parts); err == nil {
		t.Fatal("expected error")
	}
	if st.Errors()[model.Parts] == "" {
		t.Fatal("error not recorded")
	}
	delete(src.fail, "parts")
	if err := l.Refresh(context.Background(), "", model.Parts); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := st.Errors()[model.Parts]; ok {
		t.Error("error not cleared by successful fetch")
	}
	if err := l.Refresh(context.Background(), "", model.Category("x")); err == nil {
		t.Error("unknown category accepted")
	}
}

func TestShopWideGraph(t *testing.T) {
	names := New(newFakeSource(), cache.New()).Graph("").Names()
	if len(names) != 2 {
		t.Errorf("graph without customer = %v", names)
	}
}
