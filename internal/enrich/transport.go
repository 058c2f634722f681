package enrich

import "net/http"

// TransportMetadata is everything the TLS-terminating edge collaborator
// annotates onto a request (§6 "Required transport metadata"). Producing it
// is out of scope for this engine — Transport is the named interface a
// concrete edge integration implements; HeaderTransport (headertransport.go)
// derives it from plain headers for environments without a managed edge
// terminator.
type TransportMetadata struct {
	IP          string
	ASN         string
	ASOrg       string
	Colo        string
	TLSVersion  string
	TLSCipher   string
	HTTPProto   string
	BotScore    float64
	VerifiedBot bool
	TrustScore  float64

	Country    string
	Region     string
	RegionCode string
	City       string
	Continent  string
	Lat        float64
	Lon        float64
	TZ         string
	Postal     string
}

// Transport is the collaborator interface described in §1/§6.
type Transport interface {
	Metadata(r *http.Request) TransportMetadata
}
