package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Memory is a mutex-guarded in-process store for dev and tests. Documents
// are held as JSON so decoding behaves like the postgres backend.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]memDoc
	seq  uint64
	down error
}

type memDoc struct {
	body []byte
	seq  uint64
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]memDoc)}
}

// SetDown makes every call fail with err until called again with nil.
func (m *Memory) SetDown(err error) {
	m.mu.Lock()
	m.down = err
	m.mu.Unlock()
}

// Get decodes the document at key into dst.
func (m *Memory) Get(ctx context.Context, collection, key string, dst any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down != nil {
		return m.down
	}
	doc, ok := m.docs[collection][key]
	if !ok {
		return ErrNotFound
	}
	if dst == nil {
		return nil
	}
	return json.Unmarshal(doc.body, dst)
}

// Set creates or overwrites a document. Overwrites keep the original position.
func (m *Memory) Set(ctx context.Context, collection, key string, doc any) error {
	return m.write(collection, key, doc, true)
}

// Create writes only if the key is free.
func (m *Memory) Create(ctx context.Context, collection, key string, doc any) error {
	return m.write(collection, key, doc, false)
}

func (m *Memory) write(collection, key string, doc any, overwrite bool) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return m.down
	}
	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string]memDoc)
		m.docs[collection] = coll
	}
	existing, exists := coll[key]
	if exists && !overwrite {
		return ErrAlreadyExists
	}
	seq := existing.seq
	if !exists {
		m.seq++
		seq = m.seq
	}
	coll[key] = memDoc{body: body, seq: seq}
	return nil
}

// Query scans a collection applying filters, ordering and limit.
func (m *Memory) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	if m.down != nil {
		m.mu.RUnlock()
		return nil, m.down
	}
	type row struct {
		key    string
		doc    memDoc
		fields map[string]any
	}
	var rows []row
	for key, doc := range m.docs[q.Collection] {
		var fields map[string]any
		if err := json.Unmarshal(doc.body, &fields); err != nil {
			m.mu.RUnlock()
			return nil, fmt.Errorf("docstore: decode %s/%s: %w", q.Collection, key, err)
		}
		rows = append(rows, row{key: key, doc: doc, fields: fields})
	}
	m.mu.RUnlock()

	filtered := rows[:0]
	for _, r := range rows {
		ok, err := matches(r.fields, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].doc.seq < filtered[j].doc.seq })
	if q.OrderBy != "" {
		sort.SliceStable(filtered, func(i, j int) bool {
			c := compareValues(filtered[i].fields[q.OrderBy], filtered[j].fields[q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}

	out := make([]Snapshot, 0, len(filtered))
	for _, r := range filtered {
		out = append(out, jsonSnapshot{key: r.key, body: r.doc.body})
	}
	return out, nil
}

// Ping reports the injected outage, if any.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.down
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func matches(fields map[string]any, filters []Filter) (bool, error) {
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false, err
		}
		got := fields[f.Field]
		switch f.Op {
		case OpEqual:
			if !reflect.DeepEqual(got, want) {
				return false, nil
			}
		case OpArrayContains:
			arr, ok := got.([]any)
			if !ok {
				return false, nil
			}
			found := false
			for _, el := range arr {
				if reflect.DeepEqual(el, want) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
	}
	return true, nil
}

// normalize round-trips a filter value through JSON so it compares equal to
// decoded document fields (ints become float64 and so on).
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode filter value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// compareValues orders nil < bool < number < string.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

type jsonSnapshot struct {
	key  string
	body []byte
}

func (s jsonSnapshot) Key() string { return s.key }

func (s jsonSnapshot) DataTo(dst any) error { return json.Unmarshal(s.body, dst) }
