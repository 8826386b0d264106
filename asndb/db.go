// Package asndb maps IP addresses to the autonomous system that announces
// them. The database is built once from three compressed tables and is
// read-only afterwards, so lookups need no locking.
package asndb

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"
)

var (
	ErrEmptyTable = errors.New("asndb: empty table")
	ErrUnknownASN = errors.New("asndb: prefix refers to an unknown ASN")
	ErrFamily     = errors.New("asndb: prefix does not belong to this address family")
	ErrDuplicate  = errors.New("asndb: duplicate ASN record")
)

// Record describes one autonomous system. Records are shared by every prefix
// the system announces and must not be modified.
type Record struct {
	ASN         uint32 `yaml:"asn" json:"asn"`
	Handle      string `yaml:"handle,omitempty" json:"handle,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Prefix assigns a network to an ASN.
type Prefix struct {
	Prefix netip.Prefix `yaml:"prefix"`
	ASN    uint32       `yaml:"asn"`
}

type Stats struct {
	Records   int
	Prefixes4 int
	Prefixes6 int
}

type DB struct {
	v4    *bart.Table[*Record]
	v6    *bart.Table[*Record]
	stats Stats
}

// Load builds a database from the three compressed tables. The tables are
// decoded in parallel and then joined per address family in parallel. Any
// failure discards everything built so far.
func Load(asns, ipv4, ipv6 []byte) (*DB, error) {
	var (
		wg      sync.WaitGroup
		records map[uint32]*Record
		v4, v6  []Prefix
		errs    [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		records, errs[0] = decodeRecords(asns)
	}()
	go func() {
		defer wg.Done()
		errs[1] = decodeBlob("ipv4", ipv4, &v4)
	}()
	go func() {
		defer wg.Done()
		errs[2] = decodeBlob("ipv6", ipv6, &v6)
	}()
	wg.Wait()
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}

	db := &DB{stats: Stats{Records: len(records), Prefixes4: len(v4), Prefixes6: len(v6)}}
	var joinErrs [2]error
	wg.Add(2)
	go func() {
		defer wg.Done()
		db.v4, joinErrs[0] = join("ipv4", v4, records, true)
	}()
	go func() {
		defer wg.Done()
		db.v6, joinErrs[1] = join("ipv6", v6, records, false)
	}()
	wg.Wait()
	if err := errors.Join(joinErrs[:]...); err != nil {
		return nil, err
	}
	return db, nil
}

func decodeRecords(blob []byte) (map[uint32]*Record, error) {
	var list []Record
	if err := decodeBlob("asns", blob, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: asns", ErrEmptyTable)
	}
	records := make(map[uint32]*Record, len(list))
	for i := range list {
		r := &list[i]
		if _, ok := records[r.ASN]; ok {
			return nil, fmt.Errorf("%w: AS%d", ErrDuplicate, r.ASN)
		}
		records[r.ASN] = r
	}
	return records, nil
}

func join(family string, prefixes []Prefix, records map[uint32]*Record, is4 bool) (*bart.Table[*Record], error) {
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTable, family)
	}
	t := new(bart.Table[*Record])
	for _, p := range prefixes {
		if !p.Prefix.IsValid() {
			return nil, fmt.Errorf("asndb: %s: invalid prefix for AS%d", family, p.ASN)
		}
		if p.Prefix.Addr().Is4() != is4 || p.Prefix.Addr().Is4In6() {
			return nil, fmt.Errorf("%w: %s in %s table", ErrFamily, p.Prefix, family)
		}
		rec, ok := records[p.ASN]
		if !ok {
			return nil, fmt.Errorf("%w: %s -> AS%d", ErrUnknownASN, p.Prefix, p.ASN)
		}
		t.Insert(p.Prefix.Masked(), rec)
	}
	return t, nil
}

// Lookup returns the record of the most specific prefix covering addr.
// IPv4-mapped IPv6 addresses are looked up as IPv4.
func (db *DB) Lookup(addr netip.Addr) (*Record, bool) {
	addr = addr.Unmap().WithZone("")
	switch {
	case addr.Is4():
		return db.v4.Lookup(addr)
	case addr.Is6():
		return db.v6.Lookup(addr)
	default:
		return nil, false
	}
}

// Enrich is Lookup with a zero Record (ASN 0, empty strings) for addresses
// no prefix covers.
func (db *DB) Enrich(addr netip.Addr) Record {
	if r, ok := db.Lookup(addr); ok {
		return *r
	}
	return Record{}
}

func (db *DB) Stats() Stats { return db.stats }
