package geo

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func writeFallbackDB(t *testing.T) string {
	t.Helper()
	entries := []map[string]any{
		{
			"net": "203.0.113.0/24",
			"record": Record{Country: "US", Region: "California", RegionCode: "CA", City: "San Francisco"},
		},
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "geo.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestInit_FallsBackToJSONWhenNotAValidMaxMindDB(t *testing.T) {
	path := writeFallbackDB(t)
	r, err := Init(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.db != nil {
		t.Fatalf("expected the fallback path to leave db nil")
	}
}

func TestLookup_MatchesFallbackCIDR(t *testing.T) {
	path := writeFallbackDB(t)
	r, err := Init(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := r.Lookup(net.ParseIP("203.0.113.42"))
	if rec.Country != "US" || rec.City != "San Francisco" {
		t.Fatalf("got %+v", rec)
	}
}

func TestLookup_NoMatchReturnsZeroRecord(t *testing.T) {
	path := writeFallbackDB(t)
	r, _ := Init(path)
	rec := r.Lookup(net.ParseIP("8.8.8.8"))
	if rec != (Record{}) {
		t.Fatalf("expected a zero Record for an unmatched IP, got %+v", rec)
	}
}

func TestLookup_NilResolverIsSafe(t *testing.T) {
	var r *Resolver
	if rec := r.Lookup(net.ParseIP("1.2.3.4")); rec != (Record{}) {
		t.Fatalf("expected a zero Record from a nil Resolver, got %+v", rec)
	}
}

func TestInit_BothFormsInvalidIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-json-or-mmdb.bin")
	if err := os.WriteFile(path, []byte("not json, not mmdb"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Init(path); err == nil {
		t.Fatalf("expected an error when neither form parses")
	}
}
