// Package macro expands {{token}} placeholders in HTML/CSS/URLs (C7).
// Grounded on internal/macros/expander.go's registry-of-resolver-functions
// design and internal/macros/service.go's context-builder wrapper, adapted
// from the teacher's {TOKEN} grammar (no escaping) to this spec's
// {{token}}/{{!token}} grammar — there is no teacher precedent for the
// escape form. Expand makes one regexp pass over the input: an escaped
// token is emitted as its literal {{name}} text and is never rescanned, so
// no placeholder protect-and-restore step is needed.
package macro

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/clickrelay/edge-dispatcher/internal/reqctx"
)

// Mode selects how a resolved value is inserted into the output.
type Mode int

const (
	// ModeURL percent-encodes every substituted value.
	ModeURL Mode = iota
	// ModeHTML inserts the raw value (used for HTML/CSS bodies).
	ModeHTML
)

// Context carries every value a macro name can resolve to, materialized
// once per request into an immutable lookup table (§9 design note "Dynamic
// macro maps").
type Context struct {
	RequestCtx   reqctx.Context
	CampaignID   string
	CampaignName string
	SiteName     string
	ClickID      string
	ImpressionID string
	SessionID    string
	PlatformID   string
	PlatformName string
	PlatformClickID string
	Variables    map[string]string
}

var tokenPattern = regexp.MustCompile(`\{\{(!?)([^{}]+)\}\}`)

// Expand substitutes every {{name}} in s using ctx, in mode. {{!name}}
// yields the literal text "{{name}}" (the escape survives, not the
// resolved value). Unknown tokens are left verbatim. Macro names are
// matched case-insensitively.
func Expand(s string, ctx Context, mode Mode) string {
	lookup := buildLookup(ctx)

	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := tokenPattern.FindStringSubmatch(match)
		escape, name := groups[1], groups[2]
		if escape == "!" {
			return "{{" + name + "}}"
		}

		value, ok := lookup(strings.ToLower(name))
		if !ok {
			return match
		}
		if mode == ModeURL {
			return url.QueryEscape(value)
		}
		return value
	})
}

// buildLookup returns a case-insensitive, side-effect-free resolver closed
// over ctx. It never mutates ctx during expansion (§9 design note).
func buildLookup(ctx Context) func(name string) (string, bool) {
	rc := ctx.RequestCtx

	user := map[string]string{
		"user.ip":                rc.IP,
		"user.city":              rc.Geo.City,
		"user.country":           rc.Geo.Country,
		"user.continent":         rc.Geo.Continent,
		"user.region":            rc.Geo.Region,
		"user.regioncode":        rc.Geo.RegionCode,
		"user.postalcode":        rc.Geo.Postal,
		"user.lat":               strconv.FormatFloat(rc.Geo.Lat, 'f', -1, 64),
		"user.long":              strconv.FormatFloat(rc.Geo.Lon, 'f', -1, 64),
		"user.timezone":          rc.Geo.TZ,
		"user.device":            rc.UA.Device,
		"user.browser":           rc.UA.Browser,
		"user.browserversion":    rc.UA.BrowserVersion,
		"user.os":                rc.UA.OS,
		"user.osversion":         rc.UA.OSVersion,
		"user.brand":             rc.UA.Brand,
		"user.model":             rc.UA.Model,
		"user.arch":              rc.UA.Arch,
		"user.bot_score":         strconv.FormatFloat(rc.CF.BotScore, 'f', -1, 64),
		"user.threat_score":      strconv.FormatFloat(rc.CF.TrustScore, 'f', -1, 64),
		"user.is_verified_bot":   strconv.FormatBool(rc.CF.VerifiedBot),
		"user.organization":      rc.Org,
		"user.referrer":          rc.Referrer,
		"user.colo":              rc.CF.Colo,
		"user.colo.city":         rc.Geo.City,
		"user.colo.country":      rc.Geo.Country,
		"user.colo.region":       rc.Geo.Region,
		"user.colo.name":         rc.CF.Colo,
		"user.asn":               rc.CF.ASN,

		"request.domain": rc.Host,
		"request.path":   rc.Path,

		"campaign.id":   ctx.CampaignID,
		"campaign.name": ctx.CampaignName,
		"site.name":     ctx.SiteName,
		"click.id":      ctx.ClickID,
		"impression.id": ctx.ImpressionID,
		"session.id":    ctx.SessionID,

		"platform.id":       ctx.PlatformID,
		"platform.name":     ctx.PlatformName,
		"platform.click_id": ctx.PlatformClickID,
	}

	return func(name string) (string, bool) {
		if strings.HasPrefix(name, "query.") {
			key := sanitizeQueryKey(strings.TrimPrefix(name, "query."))
			for k, v := range rc.Query {
				if sanitizeQueryKey(k) == key {
					return v, true
				}
			}
			return "", false
		}
		if v, ok := user[name]; ok {
			return v, true
		}
		if v, ok := ctx.Variables[name]; ok {
			return v, true
		}
		return "", false
	}
}

// sanitizeQueryKey replaces non-alphanumeric/underscore characters with "_"
// so query.utm-source and query.utm_source both resolve, per §4.7.
func sanitizeQueryKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ExpandURL is a convenience wrapper validating the result parses as a URL
// after expansion, mirroring the teacher's ExpandURL validation step.
func ExpandURL(rawURL string, ctx Context) (string, error) {
	expanded := Expand(rawURL, ctx, ModeURL)
	if _, err := url.Parse(expanded); err != nil {
		return "", fmt.Errorf("expand url: %w", err)
	}
	return expanded, nil
}
