// Package fingerprint derives the stable browser session ID and mints event
// IDs (C2). There is no direct teacher precedent for a cookieless fingerprint
// (openadserve identifies users by OpenRTB-supplied IDs); this is built in
// the teacher's small-pure-function style (see internal/logic/targeting.go)
// using hash/fnv from the standard library, since no third-party fingerprint
// library appears anywhere in the example pack.
package fingerprint

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// headerOrderLimit bounds the header-order fingerprint to the first ~15
// header names, per §4.2.
const headerOrderLimit = 15

var proxyHeaderPrefixes = []string{"cf-", "x-forwarded-for", "x-real-ip"}

func isProxyHeader(name string) bool {
	name = strings.ToLower(name)
	for _, p := range proxyHeaderPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// HeaderOrderFingerprint returns a comma-joined, lowercased list of the
// first headerOrderLimit header names in orderedNames, with proxy headers
// (cf-*, x-forwarded-for, x-real-ip) removed.
func HeaderOrderFingerprint(orderedNames []string) string {
	var kept []string
	for _, name := range orderedNames {
		if isProxyHeader(name) {
			continue
		}
		kept = append(kept, strings.ToLower(name))
		if len(kept) == headerOrderLimit {
			break
		}
	}
	return strings.Join(kept, ",")
}

// Input is the fixed-order concatenation source for SessionID (§4.2).
type Input struct {
	IP                      string
	TLSCipher               string
	HTTPProtocol            string
	UserAgent               string
	HeaderOrderNames        []string
	Accept                  string
	AcceptLanguage          string
	AcceptEncoding          string
	SecChUA                 string
	SecChUAPlatform         string
	SecChUAMobile           string
	Connection              string
	UpgradeInsecureRequests string
}

// SessionID computes the 8-character base36 FNV-1a digest of in's fields in
// the fixed order mandated by §4.2. It is a pure function of its input: the
// same Input always yields the same SessionID, across process restarts.
func SessionID(in Input) string {
	parts := []string{
		in.IP,
		in.TLSCipher,
		in.HTTPProtocol,
		in.UserAgent,
		HeaderOrderFingerprint(in.HeaderOrderNames),
		in.Accept,
		in.AcceptLanguage,
		in.AcceptEncoding,
		in.SecChUA,
		in.SecChUAPlatform,
		in.SecChUAMobile,
		in.Connection,
		in.UpgradeInsecureRequests,
	}
	joined := strings.Join(parts, "|")

	h := fnv.New64a()
	_, _ = h.Write([]byte(joined))
	sum := h.Sum64()

	return toBase36(sum)
}

func toBase36(n uint64) string {
	s := strconv.FormatUint(n, 36)
	if len(s) < 8 {
		s = strings.Repeat("0", 8-len(s)) + s
	}
	if len(s) > 8 {
		s = s[len(s)-8:]
	}
	return s
}

// NewEventID mints a fresh event ID, preferring a time-ordered UUIDv7 and
// falling back to a random UUIDv4 if V7 generation errors (§4.2).
func NewEventID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// SortHeaderNames is a small helper for callers that have an unordered
// header map but want a deterministic fallback ordering (used only when the
// transport layer cannot supply true wire order); production enrichment
// should prefer the net/http request's header insertion order where
// available.
func SortHeaderNames(names []string) []string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	return sorted
}
