package enrich

import (
	"strings"

	"github.com/avct/uasurfer"

	"github.com/clickrelay/edge-dispatcher/internal/reqctx"
)

// UAParser is the named "user-agent parsing" collaborator (§1), overridden
// by Client Hints when present (§4.1). Grounded on the teacher's use of
// avct/uasurfer in internal/logic/targeting.go.
type UAParser interface {
	Parse(userAgent string, hints ClientHints) reqctx.UA
	IsBot(userAgent string) bool
}

// ClientHints carries the sec-ch-ua-* request headers.
type ClientHints struct {
	UA       string // sec-ch-ua
	Platform string // sec-ch-ua-platform
	Mobile   string // sec-ch-ua-mobile
}

// SurferUAParser implements UAParser using uasurfer.
type SurferUAParser struct{}

func (SurferUAParser) Parse(userAgent string, hints ClientHints) reqctx.UA {
	ua := uasurfer.Parse(userAgent)

	result := reqctx.UA{
		Browser:        ua.Browser.Name.String(),
		BrowserVersion: versionString(ua.Browser.Version),
		OS:             ua.OS.Name.String(),
		OSVersion:      versionString(ua.OS.Version),
		Device:         ua.DeviceType.String(),
		Arch:           "",
		Raw:            userAgent,
	}

	if hints.Platform != "" {
		result.OS = strings.Trim(hints.Platform, `"`)
	}
	if hints.UA != "" {
		if brand, model := parseBrandFromHints(hints.UA); brand != "" {
			result.Brand = brand
			result.Model = model
		}
	}
	if hints.Mobile == "?1" {
		result.Device = "mobile"
	}

	return result
}

func (SurferUAParser) IsBot(userAgent string) bool {
	ua := uasurfer.Parse(userAgent)
	return ua.IsBot()
}

func versionString(v uasurfer.Version) string {
	if v.Major == 0 && v.Minor == 0 && v.Patch == 0 {
		return ""
	}
	return itoa(v.Major) + "." + itoa(v.Minor) + "." + itoa(v.Patch)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// parseBrandFromHints extracts the first non-"Not A;Brand" brand/version
// pair out of a sec-ch-ua header value like
// `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`.
func parseBrandFromHints(header string) (brand, version string) {
	entries := strings.Split(header, ",")
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		parts := strings.SplitN(e, ";", 2)
		name := strings.Trim(parts[0], `"`)
		if strings.Contains(strings.ToLower(name), "not") {
			continue
		}
		v := ""
		if len(parts) == 2 {
			v = strings.TrimPrefix(strings.TrimSpace(parts[1]), "v=")
			v = strings.Trim(v, `"`)
		}
		return name, v
	}
	return "", ""
}
