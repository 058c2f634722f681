package rules

import (
	"strings"

	"github.com/clickrelay/edge-dispatcher/internal/match"
	"github.com/clickrelay/edge-dispatcher/internal/reqctx"
)

// Blocked evaluates a bundle's BlockSet against ctx (C4). It is checked
// before matching; a match on any one entry, or a detected bot, routes the
// request to the bundle's default in its configured mode (§4.4).
func Blocked(blocks *BlockSet, ctx reqctx.Context) bool {
	if ctx.IsBot {
		return true
	}
	if blocks == nil {
		return false
	}
	for _, ip := range blocks.IPs {
		if match.IP(ip, ctx.IP) {
			return true
		}
	}
	for _, org := range blocks.Orgs {
		if match.Wildcard(org, ctx.Org) {
			return true
		}
	}
	for _, host := range blocks.Hostnames {
		if match.Wildcard(host, ctx.Host) {
			return true
		}
	}
	for _, city := range blocks.Cities {
		if match.Wildcard(city, ctx.Geo.City) {
			return true
		}
	}
	for _, country := range blocks.Countries {
		if strings.EqualFold(country, ctx.Geo.Country) {
			return true
		}
	}
	for _, device := range blocks.Devices {
		if strings.EqualFold(device, ctx.UA.Device) {
			return true
		}
	}
	for _, browser := range blocks.Browsers {
		if match.Wildcard(browser, ctx.UA.Browser) {
			return true
		}
	}
	for _, os := range blocks.OSes {
		if match.Wildcard(os, ctx.UA.OS) {
			return true
		}
	}
	return false
}
