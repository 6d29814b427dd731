package models

import (
	"encoding/json"
	"reflect"
	"strconv"
)

// Category is a named partition of the entity store.
type Category string

const (
	Orders       Category = "orders"
	Motorcycles  Category = "motorcycles"
	Receptions   Category = "receptions"
	Diagnosis    Category = "diagnosis"
	Staffs       Category = "staffs"
	Parts        Category = "parts"
	Services     Category = "services"
	Appointments Category = "appointments"
)

var idFields = map[Category]string{
	Orders:       "order_id",
	Motorcycles:  "motocycle_id",
	Receptions:   "form_id",
	Diagnosis:    "order_id", // diagnosis is looked up per order
	Staffs:       "staff_id",
	Parts:        "part_id",
	Services:     "service_id",
	Appointments: "appointment_id",
}

func AllCategories() []Category {
	return []Category{Orders, Motorcycles, Receptions, Diagnosis, Staffs, Parts, Services, Appointments}
}

// IDField returns the record field holding the ID, "id" for unknown categories.
func (c Category) IDField() string {
	if f, ok := idFields[c]; ok {
		return f
	}
	return "id"
}

func (c Category) Known() bool {
	_, ok := idFields[c]
	return ok
}

func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	return c, c.Known()
}

// Record is one server-sourced entity. Plain data only.
type Record map[string]any

// ID returns the value at field as a string.
func (r Record) ID(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	return FormatID(v)
}

// FormatID stringifies an ID value the way it appears as a JSON object key.
func FormatID(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case json.Number:
		return x.String(), x != ""
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

// Clone returns a deep copy; nested maps and slices are not shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Record:
		return x.Clone()
	case map[string]any:
		return map[string]any(Record(x).Clone())
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = cloneValue(e)
		}
		return s
	case []Record:
		s := make([]Record, len(x))
		for i, e := range x {
			s[i] = e.Clone()
		}
		return s
	case json.RawMessage:
		return append(json.RawMessage(nil), x...)
	case []byte:
		return append([]byte(nil), x...)
	case nil:
		return nil
	default:
		return cloneReflect(reflect.ValueOf(v)).Interface()
	}
}

// cloneReflect copies typed maps and slices ([]string, map[string]string,
// []map[string]any, ...). Other values are returned unchanged.
func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		it := v.MapRange()
		for it.Next() {
			out.SetMapIndex(it.Key(), cloneElem(it.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneElem(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneElem(v.Index(i)))
		}
		return out
	}
	return v
}

func cloneElem(e reflect.Value) reflect.Value {
	if e.Kind() == reflect.Interface {
		if e.IsNil() {
			return e
		}
		return reflect.ValueOf(cloneValue(e.Interface()))
	}
	return cloneReflect(e)
}

// DecodeRecords decodes a JSON array of objects. A single object is
// returned as a one-element slice.
func DecodeRecords(b []byte) ([]Record, error) {
	var many []Record
	if err := json.Unmarshal(b, &many); err == nil {
		return many, nil
	}
	var one Record
	if err := json.Unmarshal(b, &one); err != nil {
		return nil, err
	}
	if one == nil {
		return nil, nil
	}
	return []Record{one}, nil
}
