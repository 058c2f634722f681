package match

import (
	"fmt"
	"strings"
	"time"

	"github.com/clickrelay/edge-dispatcher/internal/reqctx"
	"github.com/clickrelay/edge-dispatcher/internal/rules"
)

// Options tunes the matcher's handling of the one open question it exposes:
// whether a time.start > time.end window is treated as wrapping past
// midnight (§9 Open Question #1).
type Options struct {
	TimeWindowWrap bool
}

// Result is the matcher's verdict plus a human-readable trail of which
// predicates matched, used for logging and surfaced as Event.MatchedFlags.
type Result struct {
	Matched      bool
	MatchedFlags []string
}

// Evaluate returns whether rule matches ctx, trying groups (if present, OR
// across entries) or else the legacy single flags field. Per the invariant
// in §3, a non-empty Groups makes Flags ignored entirely.
func Evaluate(rule rules.Rule, ctx reqctx.Context, opts Options, now time.Time) Result {
	if len(rule.Groups) > 0 {
		for _, g := range rule.Groups {
			if res := evaluateFlagSet(g, ctx, opts, now); res.Matched {
				return res
			}
		}
		return Result{Matched: false}
	}
	if rule.Flags != nil {
		return evaluateFlagSet(*rule.Flags, ctx, opts, now)
	}
	// No condition at all matches unconditionally (don't-care bundle default rule).
	return Result{Matched: true}
}

// evaluateFlagSet ANDs every present predicate in fs against ctx.
func evaluateFlagSet(fs rules.FlagSet, ctx reqctx.Context, opts Options, now time.Time) Result {
	var trail []string

	check := func(ok bool, desc string) bool {
		if ok {
			trail = append(trail, desc)
		}
		return ok
	}

	if len(fs.Country) > 0 && !check(anyEquals(fs.Country, ctx.Geo.Country, true), "country") {
		return Result{Matched: false}
	}
	if len(fs.Region) > 0 && !check(anyEquals(fs.Region, ctx.Geo.Region, true), "region") {
		return Result{Matched: false}
	}
	if len(fs.City) > 0 && !check(anyEquals(fs.City, ctx.Geo.City, true), "city") {
		return Result{Matched: false}
	}
	if len(fs.Continent) > 0 && !check(anyEquals(fs.Continent, ctx.Geo.Continent, true), "continent") {
		return Result{Matched: false}
	}
	if len(fs.ASN) > 0 && !check(anyEquals(fs.ASN, ctx.CF.ASN, true), "asn") {
		return Result{Matched: false}
	}
	if len(fs.Colo) > 0 && !check(anyEquals(fs.Colo, ctx.CF.Colo, true), "colo") {
		return Result{Matched: false}
	}
	if len(fs.IP) > 0 && !check(anyMatch(fs.IP, ctx.IP, IP), "ip") {
		return Result{Matched: false}
	}
	if len(fs.Org) > 0 && !check(anyMatch(fs.Org, ctx.Org, Wildcard), "org") {
		return Result{Matched: false}
	}
	if len(fs.Language) > 0 {
		lang := languagePrimarySubtag(ctx.Header("accept-language"))
		if !check(anyEquals(fs.Language, lang, true), "language") {
			return Result{Matched: false}
		}
	}
	if fs.Time != nil && !check(withinWindow(*fs.Time, now, opts.TimeWindowWrap), "time") {
		return Result{Matched: false}
	}
	if len(fs.Device) > 0 && !check(anyEquals(fs.Device, ctx.UA.Device, true), "device") {
		return Result{Matched: false}
	}
	if len(fs.Browser) > 0 && !check(anyEquals(fs.Browser, ctx.UA.Browser, true), "browser") {
		return Result{Matched: false}
	}
	if len(fs.OS) > 0 && !check(anySubstring(fs.OS, ctx.UA.OS), "os") {
		return Result{Matched: false}
	}
	if len(fs.Brand) > 0 && !check(anyEquals(fs.Brand, ctx.UA.Brand, true), "brand") {
		return Result{Matched: false}
	}
	if len(fs.Params) > 0 {
		if IsAsset(ctx.Path) {
			// params never matches on an asset request (§4.5).
			return Result{Matched: false}
		}
		for k, v := range fs.Params {
			if ctx.Query[k] != v {
				return Result{Matched: false}
			}
		}
		trail = append(trail, "params")
	}

	return Result{Matched: true, MatchedFlags: trail}
}

func anyEquals(values []string, candidate string, caseInsensitive bool) bool {
	for _, v := range values {
		if caseInsensitive {
			if strings.EqualFold(v, candidate) {
				return true
			}
		} else if v == candidate {
			return true
		}
	}
	return false
}

func anySubstring(values []string, candidate string) bool {
	lc := strings.ToLower(candidate)
	for _, v := range values {
		if strings.Contains(lc, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

func anyMatch(values []string, candidate string, fn func(pattern, candidate string) bool) bool {
	for _, v := range values {
		if fn(v, candidate) {
			return true
		}
	}
	return false
}

// withinWindow evaluates a half-open interval on fractional UTC hours. When
// wrap is false (the current default source behavior) start must be <= end
// and the comparison never crosses midnight. When wrap is true, start > end
// is interpreted as spanning midnight.
func withinWindow(w rules.TimeWindow, now time.Time, wrap bool) bool {
	h := now.UTC().Hour()
	m := now.UTC().Minute()
	frac := float64(h) + float64(m)/60.0

	if !wrap || w.Start <= w.End {
		return frac >= w.Start && frac < w.End
	}
	return frac >= w.Start || frac < w.End
}

// String renders a Result for structured log fields.
func (r Result) String() string {
	if !r.Matched {
		return "no-match"
	}
	return fmt.Sprintf("matched[%s]", strings.Join(r.MatchedFlags, ","))
}
