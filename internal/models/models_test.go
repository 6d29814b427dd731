package models

import (
	"encoding/json"
	"testing"
)

func TestRecordID(t *testing.T) {
	tests := []struct {
		name string
		r    Record
		want string
		ok   bool
	}{
		{"json number", Record{"order_id": float64(5)}, "5", true},
		{"large number", Record{"order_id": float64(1234567)}, "1234567", true},
		{"string", Record{"order_id": "abc"}, "abc", true},
		{"int", Record{"order_id": 7}, "7", true},
		{"json.Number", Record{"order_id": json.Number("9")}, "9", true},
		{"missing", Record{"status": "x"}, "", false},
		{"null", Record{"order_id": nil}, "", false},
		{"empty string", Record{"order_id": ""}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.r.ID("order_id")
			if got != tt.want || ok != tt.ok {
				t.Errorf("ID() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	r := Record{"a": map[string]any{"b": []any{1, 2}}}
	c := r.Clone()
	c["a"].(map[string]any)["b"].([]any)[0] = 99
	if r["a"].(map[string]any)["b"].([]any)[0] != 1 {
		t.Error("clone shares nested slice")
	}
}

func TestCloneCopiesTypedContainers(t *testing.T) {
	r := Record{
		"tags":  []string{"a", "b"},
		"attrs": map[string]string{"k": "v"},
		"items": []map[string]any{{"n": 1}},
		"nil":   []string(nil),
		"n":     3,
	}
	c := r.Clone()
	c["tags"].([]string)[0] = "x"
	c["attrs"].(map[string]string)["k"] = "x"
	c["items"].([]map[string]any)[0]["n"] = 2

	if r["tags"].([]string)[0] != "a" {
		t.Error("clone shares []string")
	}
	if r["attrs"].(map[string]string)["k"] != "v" {
		t.Error("clone shares map[string]string")
	}
	if r["items"].([]map[string]any)[0]["n"] != 1 {
		t.Error("clone shares []map[string]any")
	}
	if c["nil"].([]string) != nil || c["n"] != 3 {
		t.Errorf("scalars or nil slices changed: %v", c)
	}
}

func TestDecodeRecords(t *testing.T) {
	many, err := DecodeRecords([]byte(`[{"part_id":1},{"part_id":2}]`))
	if err != nil || len(many) != 2 {
		t.Fatalf("array: %v %v", many, err)
	}
	one, err := DecodeRecords([]byte(`{"staff_id":3}`))
	if err != nil || len(one) != 1 {
		t.Fatalf("object: %v %v", one, err)
	}
	if _, err := DecodeRecords([]byte(`"nope"`)); err == nil {
		t.Error("expected error for scalar")
	}
}

func TestCategoryIDField(t *testing.T) {
	if Motorcycles.IDField() != "motocycle_id" {
		t.Errorf("motorcycles id field = %s", Motorcycles.IDField())
	}
	if Category("x").IDField() != "id" {
		t.Error("unknown category should default to id")
	}
	if _, ok := ParseCategory("orders"); !ok {
		t.Error("orders not parsed")
	}
	if _, ok := ParseCategory("invoices"); ok {
		t.Error("invoices should be unknown")
	}
}
