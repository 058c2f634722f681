package rules

import (
	"testing"

	"github.com/clickrelay/edge-dispatcher/internal/reqctx"
)

func TestBlocked_BotAlwaysBlocked(t *testing.T) {
	ctx := reqctx.Context{IsBot: true}
	if !Blocked(nil, ctx) {
		t.Fatalf("a detected bot must be blocked regardless of BlockSet")
	}
}

func TestBlocked_NilBlockSetAllowsNonBot(t *testing.T) {
	ctx := reqctx.Context{IsBot: false}
	if Blocked(nil, ctx) {
		t.Fatalf("nil BlockSet should never block a non-bot request")
	}
}

func TestBlocked_EachPredicate(t *testing.T) {
	cases := []struct {
		name    string
		blocks  *BlockSet
		ctx     reqctx.Context
		blocked bool
	}{
		{
			name:    "ip CIDR match",
			blocks:  &BlockSet{IPs: []string{"10.0.0.0/8"}},
			ctx:     reqctx.Context{IP: "10.1.2.3"},
			blocked: true,
		},
		{
			name:    "ip CIDR no match",
			blocks:  &BlockSet{IPs: []string{"10.0.0.0/8"}},
			ctx:     reqctx.Context{IP: "11.1.2.3"},
			blocked: false,
		},
		{
			name:    "org wildcard",
			blocks:  &BlockSet{Orgs: []string{"*bot*"}},
			ctx:     reqctx.Context{Org: "evilbotnet"},
			blocked: true,
		},
		{
			name:    "hostname wildcard",
			blocks:  &BlockSet{Hostnames: []string{"*.blocked.com"}},
			ctx:     reqctx.Context{Host: "sub.blocked.com"},
			blocked: true,
		},
		{
			name:    "city wildcard",
			blocks:  &BlockSet{Cities: []string{"Moscow"}},
			ctx:     reqctx.Context{Geo: reqctx.Geo{City: "Moscow"}},
			blocked: true,
		},
		{
			name:    "country case insensitive",
			blocks:  &BlockSet{Countries: []string{"ru"}},
			ctx:     reqctx.Context{Geo: reqctx.Geo{Country: "RU"}},
			blocked: true,
		},
		{
			name:    "device case insensitive",
			blocks:  &BlockSet{Devices: []string{"Tablet"}},
			ctx:     reqctx.Context{UA: reqctx.UA{Device: "tablet"}},
			blocked: true,
		},
		{
			name:    "browser wildcard",
			blocks:  &BlockSet{Browsers: []string{"*bot*"}},
			ctx:     reqctx.Context{UA: reqctx.UA{Browser: "Googlebot"}},
			blocked: true,
		},
		{
			name:    "os wildcard",
			blocks:  &BlockSet{OSes: []string{"Windows*"}},
			ctx:     reqctx.Context{UA: reqctx.UA{OS: "Windows 7"}},
			blocked: true,
		},
		{
			name:    "nothing matches",
			blocks:  &BlockSet{Countries: []string{"RU"}, Devices: []string{"tablet"}},
			ctx:     reqctx.Context{Geo: reqctx.Geo{Country: "US"}, UA: reqctx.UA{Device: "mobile"}},
			blocked: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Blocked(tc.blocks, tc.ctx); got != tc.blocked {
				t.Fatalf("got blocked=%v, want %v", got, tc.blocked)
			}
		})
	}
}
