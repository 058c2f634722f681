package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clickrelay/edge-dispatcher/internal/store"
)

// Resolver performs the longest-prefix KV lookup described in §4.3.
type Resolver struct {
	kv store.KV
}

// NewResolver constructs a Resolver over the given KV collaborator.
func NewResolver(kv store.KV) *Resolver {
	return &Resolver{kv: kv}
}

// candidateKeys yields the ordered sequence of keys to probe for host+path,
// per the walk in §4.3: try exact, try the slash-toggled sibling, strip the
// last segment and repeat until "/", with a bare-host fallback only when the
// original path is exactly "/".
func candidateKeys(host, path string) []string {
	if path == "" {
		path = "/"
	}

	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	cur := path
	for {
		add(host + cur)

		if cur != "/" {
			if strings.HasSuffix(cur, "/") {
				add(host + strings.TrimSuffix(cur, "/"))
			} else {
				add(host + cur + "/")
			}
		}

		if cur == "/" {
			break
		}

		idx := strings.LastIndex(strings.TrimSuffix(cur, "/"), "/")
		if idx < 0 {
			cur = "/"
			continue
		}
		cur = cur[:idx]
		if cur == "" {
			cur = "/"
		}
	}

	if path == "/" {
		add(host)
	}

	return keys
}

// Resolve walks candidateKeys in order and returns the first bundle found,
// along with the key it matched under (useful for logging/debugging).
func (r *Resolver) Resolve(ctx context.Context, host, path string) (*Bundle, string, error) {
	for _, key := range candidateKeys(host, path) {
		raw, err := r.kv.Get(ctx, key)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("resolve %s%s: %w", host, path, err)
		}
		var bundle Bundle
		if err := json.Unmarshal(raw, &bundle); err != nil {
			return nil, "", fmt.Errorf("decode bundle at %q: %w", key, err)
		}
		return &bundle, key, nil
	}
	return nil, "", store.ErrNotFound
}
