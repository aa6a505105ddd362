package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-process Gateway used by tests and local development. It
// mimics the store's merge semantics and lets tests simulate security-rule
// denials on selected paths.
type Memory struct {
	mu   sync.Mutex
	docs map[string]map[string]any

	// DenyWritePrefixes lists path prefixes whose writes fail with
	// PermissionDenied, simulating server-side security rules.
	DenyWritePrefixes []string

	// DenyQuery, when set, rejects matching queries with PermissionDenied.
	DenyQuery func(collection string, filters []Filter) bool

	// WriteLog records every applied write in order.
	WriteLog []Write
}

var _ Gateway = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]any)}
}

var errDenied = errors.New("insufficient permissions")
var errMissing = errors.New("document missing")

func (m *Memory) writeDenied(path string) bool {
	for _, p := range m.DenyWritePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Seed stores a document directly, bypassing denial rules. v may be a map or
// a struct with json tags.
func (m *Memory) Seed(path string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = toJSONMap(v)
}

// DocData returns a copy of the stored document's fields, or nil when absent.
func (m *Memory) DocData(path string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil
	}
	return toJSONMap(doc)
}

func (m *Memory) Get(ctx context.Context, path string) (Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return Doc{}, E(NotFound, "gateway.Get "+path, errMissing)
	}
	return Doc{ID: docID(path), Data: toJSONMap(doc)}, nil
}

func (m *Memory) SetMerge(ctx context.Context, path string, data map[string]any) error {
	return m.Batch(ctx, []Write{{Path: path, Merge: data}})
}

func (m *Memory) Batch(ctx context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Atomicity: check every write before applying any.
	for _, w := range writes {
		if m.writeDenied(w.Path) {
			return E(PermissionDenied, "gateway.Batch "+w.Path, errDenied)
		}
	}
	for _, w := range writes {
		switch {
		case w.Delete:
			delete(m.docs, w.Path)
		default:
			doc := m.docs[w.Path]
			if doc == nil {
				doc = make(map[string]any)
				m.docs[w.Path] = doc
			}
			if w.Merge != nil {
				mergeInto(doc, toJSONMap(w.Merge))
			}
			for _, f := range w.DeleteFields {
				deleteField(doc, f)
			}
		}
		m.WriteLog = append(m.WriteLog, w)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, collection string, filters []Filter) ([]Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DenyQuery != nil && m.DenyQuery(collection, filters) {
		return nil, E(PermissionDenied, "gateway.Query "+collection, errDenied)
	}
	prefix := collection + "/"
	docs := make([]Doc, 0)
	for path, doc := range m.docs {
		if !strings.HasPrefix(path, prefix) || strings.Contains(path[len(prefix):], "/") {
			continue
		}
		if matches(doc, filters) {
			docs = append(docs, Doc{ID: docID(path), Data: toJSONMap(doc)})
		}
	}
	return docs, nil
}

func matches(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		got, ok := doc[f.Path]
		if !ok {
			return false
		}
		want := toJSONValue(f.Value)
		switch f.Op {
		case "==":
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func docID(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

// mergeInto applies src onto dst, recursing into nested maps the way the
// store's merge-set does.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sv, svOK := v.(map[string]any)
		dv, dvOK := dst[k].(map[string]any)
		if svOK && dvOK {
			mergeInto(dv, sv)
			continue
		}
		dst[k] = v
	}
}

func deleteField(doc map[string]any, fieldPath string) {
	parts := strings.Split(fieldPath, ".")
	for len(parts) > 1 {
		next, ok := doc[parts[0]].(map[string]any)
		if !ok {
			return
		}
		doc = next
		parts = parts[1:]
	}
	delete(doc, parts[0])
}

// toJSONMap normalizes any value to plain JSON types so stored documents
// look the same whether they were seeded from structs or maps.
func toJSONMap(v any) map[string]any {
	out, _ := toJSONValue(v).(map[string]any)
	return out
}

func toJSONValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
