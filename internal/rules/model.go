// Package rules defines the campaign/targeting data model decoded from KV
// values and the longest-prefix resolver and block filter (C3/C4) that
// operate over it.
package rules

import "encoding/json"

// StringList decodes a JSON field that may be a bare scalar or a list of
// scalars into a normalized []string, per the "field-or-list flags" design
// note: matching code only ever deals in lists.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*s = nil
		return nil
	}
	*s = []string{single}
	return nil
}

// TimeWindow is a half-open interval on fractional UTC hours, e.g.
// {Start: 22, End: 2} for 22:00–02:00. Whether this is permitted to wrap
// past midnight is configurable; see config.TimeWindowWrapEnabled and
// match.Options.
type TimeWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// FlagSet is a conjunction of predicates over a reqctx.Context: every
// present field must match, a list-valued field matches on any element
// (OR-within-field), a missing field is "don't care".
type FlagSet struct {
	Country    StringList        `json:"country,omitempty"`
	Region     StringList        `json:"region,omitempty"`
	City       StringList        `json:"city,omitempty"`
	Continent  StringList        `json:"continent,omitempty"`
	ASN        StringList        `json:"asn,omitempty"`
	Colo       StringList        `json:"colo,omitempty"`
	IP         StringList        `json:"ip,omitempty"`
	Org        StringList        `json:"org,omitempty"`
	Language   StringList        `json:"language,omitempty"`
	Time       *TimeWindow       `json:"time,omitempty"`
	Device     StringList        `json:"device,omitempty"`
	Browser    StringList        `json:"browser,omitempty"`
	OS         StringList        `json:"os,omitempty"`
	Brand      StringList        `json:"brand,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// Empty reports whether a FlagSet carries no predicates at all (matches
// everything).
func (f FlagSet) Empty() bool {
	return len(f.Country) == 0 && len(f.Region) == 0 && len(f.City) == 0 &&
		len(f.Continent) == 0 && len(f.ASN) == 0 && len(f.Colo) == 0 &&
		len(f.IP) == 0 && len(f.Org) == 0 && len(f.Language) == 0 &&
		f.Time == nil && len(f.Device) == 0 && len(f.Browser) == 0 &&
		len(f.OS) == 0 && len(f.Brand) == 0 && len(f.Params) == 0
}

// WithoutParams returns a copy of f with Params cleared, used by the
// asset-inheritance fallback (§4.5).
func (f FlagSet) WithoutParams() FlagSet {
	f.Params = nil
	return f
}

// DOMEdit is one entry in a Modifications action's edit list (C10).
type DOMEdit struct {
	Selector string `json:"selector"`
	Action   string `json:"action"` // setText | setHtml | setCss | setAttribute | remove
	Value    any    `json:"value,omitempty"`
}

// AttributeValue is the shape of Value when Action == "setAttribute".
type AttributeValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Weighted is satisfied by every weighted-selection candidate so
// internal/selector can operate generically.
type Weighted interface {
	Weight() int
}

// WeightedDest is one entry of a Rule's destinations list.
type WeightedDest struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
}

func (w WeightedDest) Weight() int {
	if w.Weight <= 0 {
		return 1
	}
	return w.Weight
}

// WeightedClickDest is one entry of a Rule's clickDestinations list.
type WeightedClickDest struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
}

func (w WeightedClickDest) Weight() int {
	if w.Weight <= 0 {
		return 1
	}
	return w.Weight
}

// WeightedLP is one entry of a bundle's defaultDestinations array: a
// landing-page folder with an associated delivery mode.
type WeightedLP struct {
	Folder string `json:"folder"`
	Mode   string `json:"mode"`
	Weight int    `json:"weight"`
}

func (w WeightedLP) Weight() int {
	if w.Weight <= 0 {
		return 1
	}
	return w.Weight
}

// WeightedOffer is one entry of a bundle's defaultOffers array: a bare
// destination ID resolved later via the destination cache (C14).
type WeightedOffer struct {
	DestinationID string `json:"destinationId"`
	Mode          string `json:"mode"`
	Weight        int    `json:"weight"`
}

func (w WeightedOffer) Weight() int {
	if w.Weight <= 0 {
		return 1
	}
	return w.Weight
}

// Rule is one branch of a campaign's targeting table. Exactly one of
// {Folder, ProxyURL, RedirectURL, Modifications, Destinations} is the
// primary action; ClickURL/ClickDestinations are orthogonal and only
// consulted on click-out paths.
type Rule struct {
	Flags     *FlagSet   `json:"flags,omitempty"`
	Groups    []FlagSet  `json:"groups,omitempty"`
	RawWeight int        `json:"weight,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`

	Folder        string         `json:"folder,omitempty"`
	ProxyURL      string         `json:"proxyUrl,omitempty"`
	RedirectURL   string         `json:"redirectUrl,omitempty"`
	Modifications []DOMEdit      `json:"modifications,omitempty"`
	Destinations  []WeightedDest `json:"destinations,omitempty"`

	ClickURL          string              `json:"clickUrl,omitempty"`
	ClickDestinations []WeightedClickDest `json:"clickDestinations,omitempty"`
}

// Weight returns the rule's configured weight defaulted to 100 per §4.6,
// satisfying the Weighted interface so rules.Rule can be sampled directly
// by internal/selector.
func (r Rule) Weight() int {
	if r.RawWeight <= 0 {
		return 100
	}
	return r.RawWeight
}

// HasClickAction reports whether the rule carries clickUrl or
// clickDestinations, making it eligible for click-out resolution (§4.11 step 1).
func (r Rule) HasClickAction() bool {
	return r.ClickURL != "" || len(r.ClickDestinations) > 0
}

// PrimaryActionKind names which of the mutually-exclusive primary action
// fields is set, or "" if none.
func (r Rule) PrimaryActionKind() string {
	switch {
	case r.Folder != "":
		return "hosted"
	case r.ProxyURL != "":
		return "proxy"
	case r.RedirectURL != "":
		return "redirect"
	case len(r.Modifications) > 0:
		return "modifications"
	case len(r.Destinations) > 0:
		return "destinations"
	default:
		return ""
	}
}

// BlockSet is the deny-list evaluated before matching (C4). A match on any
// one entry short-circuits to the bundle's default in its configured mode.
type BlockSet struct {
	IPs       []string `json:"ips,omitempty"`
	Orgs      []string `json:"orgs,omitempty"`
	Hostnames []string `json:"hostnames,omitempty"`
	Cities    []string `json:"cities,omitempty"`
	Countries []string `json:"countries,omitempty"`
	Devices   []string `json:"devices,omitempty"`
	Browsers  []string `json:"browsers,omitempty"`
	OSes      []string `json:"oses,omitempty"`
}

// Bundle is the KV value keyed by {host}{path} (canonical form per §4.3).
type Bundle struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SiteName string `json:"siteName"`
	Rules    []Rule `json:"rules"`

	DefaultFolder       string          `json:"defaultFolder,omitempty"`
	DestinationID       string          `json:"destinationId,omitempty"`
	DefaultFolderMode   string          `json:"defaultFolderMode,omitempty"` // hosted | proxy | redirect
	DefaultDestinations []WeightedLP    `json:"defaultDestinations,omitempty"`
	DefaultOffers       []WeightedOffer `json:"defaultOffers,omitempty"`
	Variables           map[string]string `json:"variables,omitempty"`
	Blocks              *BlockSet       `json:"blocks,omitempty"`

	// UserID is the owning user, used to resolve the per-user blob drive
	// namespace fallback in the hosted server (§4.9).
	UserID string `json:"userId,omitempty"`
}
