package realtime

import (
	"strings"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// WindowSize is how many message identities a registration remembers.
const WindowSize = 100

// Window is a bounded set of recently seen identities. When full the
// oldest inserted identity is evicted; lookups do not refresh position.
type Window struct {
	capacity int
	seen     *orderedmap.OrderedMap[string, struct{}]
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = WindowSize
	}
	return &Window{capacity: capacity, seen: orderedmap.NewOrderedMap[string, struct{}]()}
}

// Observe records id and reports whether it was already present.
func (w *Window) Observe(id string) (duplicate bool) {
	if w.seen.Has(id) {
		return true
	}
	if w.seen.Len() >= w.capacity {
		if oldest := w.seen.Front(); oldest != nil {
			w.seen.Delete(oldest.Key)
		}
	}
	w.seen.Set(id, struct{}{})
	return false
}

func (w *Window) Len() int { return w.seen.Len() }

// Identity is the dedup key of a payload: its "id" field when set,
// otherwise the payload itself in canonical form (sorted keys, no
// whitespace). Payloads without an id and with equal content collide.
func Identity(data []byte) string {
	if id := gjson.GetBytes(data, "id"); usableID(id) {
		return "id:" + id.String()
	}
	if !gjson.ValidBytes(data) {
		return "raw:" + string(data)
	}
	canon := pretty.Ugly(pretty.PrettyOptions(data, &pretty.Options{SortKeys: true}))
	return "body:" + strings.TrimSpace(string(canon))
}

// usableID mirrors a truthiness check: null, false, 0 and "" do not count.
func usableID(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return r.Exists()
	}
}
