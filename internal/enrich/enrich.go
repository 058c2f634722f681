// Package enrich implements the Request Enricher (C1): it normalizes a raw
// *http.Request plus edge-transport metadata into the immutable
// reqctx.Context every downstream component reads from. Grounded on the
// teacher's internal/logic/targeting.go field-extraction style, generalized
// from OpenRTB bid-request fields to HTTP request fields.
package enrich

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/clickrelay/edge-dispatcher/internal/fingerprint"
	"github.com/clickrelay/edge-dispatcher/internal/geo"
	"github.com/clickrelay/edge-dispatcher/internal/reqctx"
)

// Enricher builds a reqctx.Context from an inbound HTTP request.
type Enricher struct {
	Transport Transport
	UA        UAParser
	Geo       *geo.Resolver
}

// New constructs an Enricher with the default header-based transport and
// uasurfer UA parser. geoResolver may be nil — geo enrichment then falls
// back entirely to whatever the Transport already supplied.
func New(geoResolver *geo.Resolver) *Enricher {
	return &Enricher{
		Transport: HeaderTransport{},
		UA:        SurferUAParser{},
		Geo:       geoResolver,
	}
}

// Prerender reports whether r carries a prefetch/prerender signal (Chrome's
// Speculation Rules API or the older Sec-Purpose/Purpose headers), per §4.1's
// "prefetch/prerender short-circuit (204)".
func Prerender(r *http.Request) bool {
	for _, h := range []string{"sec-purpose", "purpose"} {
		v := strings.ToLower(r.Header.Get(h))
		if strings.Contains(v, "prefetch") || strings.Contains(v, "prerender") {
			return true
		}
	}
	return false
}

// EmbedURL extracts the destination URL from an embed-mode request
// (GET /track.js?url=...), returning ("", false) when the request is not
// embed-mode shaped.
func EmbedURL(r *http.Request) (string, bool) {
	if !strings.HasSuffix(r.URL.Path, "/track.js") {
		return "", false
	}
	raw := r.URL.Query().Get("url")
	if raw == "" {
		return "", false
	}
	return raw, true
}

// Enrich builds the normalized reqctx.Context for r. isEmbed, embedPath, and
// embedQuery let the caller override Host/Path/Query with the track.js
// target URL's own host/path/query once it has already extracted and
// validated that URL (§4.1's "derive the effective host, path, and query").
func (e *Enricher) Enrich(r *http.Request, isEmbed bool, embedHost, embedPath string, embedQuery url.Values) reqctx.Context {
	meta := e.Transport.Metadata(r)

	host := r.Host
	path := r.URL.Path
	rawQuery := r.URL.Query()
	if isEmbed {
		host = embedHost
		path = embedPath
		rawQuery = embedQuery
	}

	query := make(map[string]string, len(rawQuery))
	for k, vs := range rawQuery {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}

	headers := make(map[string]string, len(r.Header))
	orderedNames := make([]string, 0, len(r.Header))
	for name, vs := range r.Header {
		lower := strings.ToLower(name)
		if len(vs) > 0 {
			headers[lower] = vs[0]
		}
		orderedNames = append(orderedNames, lower)
	}
	// r.Header iteration order is randomized per the map-iteration
	// guarantees of the runtime, so this must be sorted before it feeds
	// fingerprint.SessionID — otherwise the same request would mint a
	// different session ID on every call (§4.2, §8 invariant 1).
	sort.Strings(orderedNames)

	userAgent := r.Header.Get("user-agent")
	hints := ClientHints{
		UA:       r.Header.Get("sec-ch-ua"),
		Platform: r.Header.Get("sec-ch-ua-platform"),
		Mobile:   r.Header.Get("sec-ch-ua-mobile"),
	}
	ua := e.UA.Parse(userAgent, hints)

	geoRec := geo.Record{
		Country:    meta.Country,
		Region:     meta.Region,
		RegionCode: meta.RegionCode,
		City:       meta.City,
		Continent:  meta.Continent,
		Lat:        meta.Lat,
		Lon:        meta.Lon,
		TZ:         meta.TZ,
		Postal:     meta.Postal,
	}
	if geoRec.Country == "" && e.Geo != nil {
		if ip := net.ParseIP(meta.IP); ip != nil {
			rec := e.Geo.Lookup(ip)
			if rec.Country != "" {
				geoRec = rec
			}
		}
	}

	isBot := e.UA.IsBot(userAgent) || meta.BotScore < 30 || meta.TrustScore > 50 || meta.VerifiedBot

	sessionID := fingerprint.SessionID(fingerprint.Input{
		IP:                      meta.IP,
		TLSCipher:               meta.TLSCipher,
		HTTPProtocol:            meta.HTTPProto,
		UserAgent:               userAgent,
		HeaderOrderNames:        orderedNames,
		Accept:                  r.Header.Get("accept"),
		AcceptLanguage:          r.Header.Get("accept-language"),
		AcceptEncoding:          r.Header.Get("accept-encoding"),
		SecChUA:                 hints.UA,
		SecChUAPlatform:         hints.Platform,
		SecChUAMobile:           hints.Mobile,
		Connection:              r.Header.Get("connection"),
		UpgradeInsecureRequests: r.Header.Get("upgrade-insecure-requests"),
	})

	return reqctx.Context{
		Host:         host,
		Path:         path,
		Query:        query,
		Headers:      headers,
		IP:           meta.IP,
		Org:          meta.ASOrg,
		Referrer:     r.Header.Get("referer"),
		IsEmbed:      isEmbed,
		IsBot:        isBot,
		SessionID:    sessionID,
		ImpressionID: fingerprint.NewEventID(),
		UA:           ua,
		Geo: reqctx.Geo{
			Country:    geoRec.Country,
			Region:     geoRec.Region,
			RegionCode: geoRec.RegionCode,
			City:       geoRec.City,
			Continent:  geoRec.Continent,
			Lat:        geoRec.Lat,
			Lon:        geoRec.Lon,
			TZ:         geoRec.TZ,
			Postal:     geoRec.Postal,
		},
		CF: reqctx.CF{
			ASN:         meta.ASN,
			ASOrg:       meta.ASOrg,
			Colo:        meta.Colo,
			TrustScore:  meta.TrustScore,
			BotScore:    meta.BotScore,
			VerifiedBot: meta.VerifiedBot,
			HTTPProto:   meta.HTTPProto,
			TLSVersion:  meta.TLSVersion,
			TLSCipher:   meta.TLSCipher,
		},
	}
}

// EmbedTarget splits a raw embed-mode url= query value into host/path/query
// for Enrich's embedHost/embedPath/embedQuery parameters.
func EmbedTarget(raw string) (host, path string, query url.Values, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", nil, false
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return u.Host, p, u.Query(), true
}
