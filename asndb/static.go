package asndb

import _ "embed"

var (
	//go:embed data/asns.yaml.zst
	staticASNs []byte
	//go:embed data/ipv4.yaml.zst
	staticIPv4 []byte
	//go:embed data/ipv6.yaml.zst
	staticIPv6 []byte
)

// LoadStatic builds the database shipped inside the binary. Regenerate the
// tables with `hellotrace convert-asn`.
func LoadStatic() (*DB, error) {
	return Load(staticASNs, staticIPv4, staticIPv6)
}
