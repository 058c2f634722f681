package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/clickrelay/edge-dispatcher/internal/store"
)

type memKV struct {
	data map[string][]byte
}

func newMemKV(entries map[string]Bundle) *memKV {
	m := &memKV{data: make(map[string][]byte, len(entries))}
	for k, v := range entries {
		b, _ := json.Marshal(v)
		m.data[k] = b
	}
	return m
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func TestResolve_ExactMatch(t *testing.T) {
	kv := newMemKV(map[string]Bundle{
		"example.com/go": {ID: "exact"},
	})
	r := NewResolver(kv)
	bundle, key, err := r.Resolve(context.Background(), "example.com", "/go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.ID != "exact" {
		t.Fatalf("got bundle %+v", bundle)
	}
	if key != "example.com/go" {
		t.Fatalf("got key %q", key)
	}
}

func TestResolve_LongestPrefixWalk(t *testing.T) {
	kv := newMemKV(map[string]Bundle{
		"example.com":        {ID: "root"},
		"example.com/a":      {ID: "a"},
		"example.com/a/b":    {ID: "a-b"},
	})
	r := NewResolver(kv)

	bundle, _, err := r.Resolve(context.Background(), "example.com", "/a/b/c/d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.ID != "a-b" {
		t.Fatalf("expected longest prefix a/b to win, got %q", bundle.ID)
	}
}

func TestResolve_FallsBackToBareHostOnlyForRootPath(t *testing.T) {
	kv := newMemKV(map[string]Bundle{
		"example.com": {ID: "root"},
	})
	r := NewResolver(kv)

	bundle, _, err := r.Resolve(context.Background(), "example.com", "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.ID != "root" {
		t.Fatalf("got %+v", bundle)
	}

	_, _, err = r.Resolve(context.Background(), "example.com", "/unknown")
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for a non-root miss without a bare-host entry, got %v", err)
	}
}

func TestResolve_SlashToggleSibling(t *testing.T) {
	kv := newMemKV(map[string]Bundle{
		"example.com/go/": {ID: "trailing-slash"},
	})
	r := NewResolver(kv)

	bundle, _, err := r.Resolve(context.Background(), "example.com", "/go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.ID != "trailing-slash" {
		t.Fatalf("expected the trailing-slash sibling to resolve, got %+v", bundle)
	}
}

func TestResolve_Miss(t *testing.T) {
	kv := newMemKV(nil)
	r := NewResolver(kv)
	_, _, err := r.Resolve(context.Background(), "nowhere.com", "/x")
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
