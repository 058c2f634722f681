package enrich

import (
	"crypto/tls"
	"net/http"
	"strconv"
	"strings"
)

// HeaderTransport implements Transport by reading a conventional set of
// edge-proxy headers (the "cf-*" family commonly set by CDN/WAF front
// ends). It is the concrete adapter used when no richer integration is
// wired, and the one exercised by this repo's tests.
type HeaderTransport struct{}

func (HeaderTransport) Metadata(r *http.Request) TransportMetadata {
	h := r.Header
	var tlsVersion, tlsCipher string
	if r.TLS != nil {
		tlsVersion = tls.VersionName(r.TLS.Version)
		tlsCipher = tls.CipherSuiteName(r.TLS.CipherSuite)
	}
	return TransportMetadata{
		IP:          firstIP(h.Get("x-forwarded-for"), r.RemoteAddr),
		ASN:         h.Get("cf-asn"),
		ASOrg:       h.Get("cf-as-org"),
		Colo:        h.Get("cf-ray-colo"),
		TLSVersion:  tlsVersion,
		TLSCipher:   tlsCipher,
		HTTPProto:   r.Proto,
		BotScore:    parseFloat(h.Get("cf-bot-score"), 100),
		VerifiedBot: h.Get("cf-verified-bot") == "true",
		TrustScore:  parseFloat(h.Get("cf-trust-score"), 0),

		Country:    h.Get("cf-ipcountry"),
		Region:     h.Get("cf-region"),
		RegionCode: h.Get("cf-region-code"),
		City:       h.Get("cf-ipcity"),
		Continent:  h.Get("cf-ipcontinent"),
		Lat:        parseFloat(h.Get("cf-iplatitude"), 0),
		Lon:        parseFloat(h.Get("cf-iplongitude"), 0),
		TZ:         h.Get("cf-timezone"),
		Postal:     h.Get("cf-postal-code"),
	}
}

func firstIP(xff, remoteAddr string) string {
	if xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := splitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, "", nil
	}
	return addr[:idx], addr[idx+1:], nil
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
