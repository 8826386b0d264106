package asndb

import (
	"archive/zip"
	"bufio"
	"cmp"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/klauspost/compress/zstd"
	"go4.org/netipx"
)

// Table file names, as embedded in the binary.
const (
	ASNsFile = "asns.yaml.zst"
	IPv4File = "ipv4.yaml.zst"
	IPv6File = "ipv6.yaml.zst"
)

// Dataset is the uncompressed form of the three tables.
type Dataset struct {
	Records []Record
	IPv4    []Prefix
	IPv6    []Prefix
}

// Builder merges records and prefixes from any number of sources. A prefix
// seen twice keeps the ASN it was given last.
type Builder struct {
	records map[uint32]Record
	v4      map[netip.Prefix]uint32
	v6      map[netip.Prefix]uint32
}

func NewBuilder() *Builder {
	return &Builder{
		records: make(map[uint32]Record),
		v4:      make(map[netip.Prefix]uint32),
		v6:      make(map[netip.Prefix]uint32),
	}
}

// Add registers rec and assigns every prefix to it. Empty handle or
// description fields do not overwrite values added earlier.
func (b *Builder) Add(rec Record, prefixes ...netip.Prefix) {
	if old, ok := b.records[rec.ASN]; ok {
		if rec.Handle == "" {
			rec.Handle = old.Handle
		}
		if rec.Description == "" {
			rec.Description = old.Description
		}
	}
	b.records[rec.ASN] = rec
	for _, p := range prefixes {
		p = p.Masked()
		if p.Addr().Is4() {
			b.v4[p] = rec.ASN
		} else {
			b.v6[p] = rec.ASN
		}
	}
}

// Dataset returns the merged tables in a stable order.
func (b *Builder) Dataset() *Dataset {
	ds := &Dataset{
		Records: make([]Record, 0, len(b.records)),
		IPv4:    prefixList(b.v4),
		IPv6:    prefixList(b.v6),
	}
	for _, r := range b.records {
		ds.Records = append(ds.Records, r)
	}
	slices.SortFunc(ds.Records, func(a, b Record) int { return cmp.Compare(a.ASN, b.ASN) })
	return ds
}

func prefixList(m map[netip.Prefix]uint32) []Prefix {
	out := make([]Prefix, 0, len(m))
	for p, asn := range m {
		out = append(out, Prefix{Prefix: p, ASN: asn})
	}
	slices.SortFunc(out, func(a, b Prefix) int {
		if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
			return c
		}
		return cmp.Compare(a.Prefix.Bits(), b.Prefix.Bits())
	})
	return out
}

// Blobs compresses the three tables in the format Load reads.
func (ds *Dataset) Blobs(level zstd.EncoderLevel) (asns, ipv4, ipv6 []byte, err error) {
	if asns, err = encodeBlob("asns", level, ds.Records); err != nil {
		return nil, nil, nil, err
	}
	if ipv4, err = encodeBlob("ipv4", level, ds.IPv4); err != nil {
		return nil, nil, nil, err
	}
	if ipv6, err = encodeBlob("ipv6", level, ds.IPv6); err != nil {
		return nil, nil, nil, err
	}
	return asns, ipv4, ipv6, nil
}

// WriteBlobs writes the three tables into dir. Nothing is written unless
// Load accepts the result, so a dataset missing a family is refused.
func (ds *Dataset) WriteBlobs(dir string, level zstd.EncoderLevel) error {
	asns, ipv4, ipv6, err := ds.Blobs(level)
	if err != nil {
		return err
	}
	if _, err := Load(asns, ipv4, ipv6); err != nil {
		return fmt.Errorf("asndb: converted tables do not load: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, blob := range map[string][]byte{ASNsFile: asns, IPv4File: ipv4, IPv6File: ipv6} {
		if err := os.WriteFile(filepath.Join(dir, name), blob, 0o644); err != nil {
			return fmt.Errorf("asndb: write %s: %w", name, err)
		}
	}
	log.Infof("asndb: wrote %d records, %d ipv4 and %d ipv6 prefixes to %s",
		len(ds.Records), len(ds.IPv4), len(ds.IPv6), dir)
	return nil
}

type ipverseFile struct {
	ASN         uint32 `json:"asn"`
	Handle      string `json:"handle"`
	Description string `json:"description"`
	Subnets     struct {
		IPv4 []string `json:"ipv4"`
		IPv6 []string `json:"ipv6"`
	} `json:"subnets"`
}

// ReadIpverse adds every as/<asn>/aggregated.json file of an ipverse asn-ip
// archive to b.
func (b *Builder) ReadIpverse(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("asndb: open %s: %w", path, err)
	}
	defer zr.Close()

	files := 0
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".json") {
			continue
		}
		if err := b.readIpverseFile(f); err != nil {
			return fmt.Errorf("asndb: %s: %s: %w", path, f.Name, err)
		}
		files++
	}
	if files == 0 {
		return fmt.Errorf("asndb: %s: no json files in archive", path)
	}
	log.Infof("asndb: read %d ipverse files from %s", files, path)
	return nil
}

func (b *Builder) readIpverseFile(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	var in ipverseFile
	if err := json.NewDecoder(rc).Decode(&in); err != nil {
		return err
	}
	prefixes := make([]netip.Prefix, 0, len(in.Subnets.IPv4)+len(in.Subnets.IPv6))
	for _, s := range append(in.Subnets.IPv4, in.Subnets.IPv6...) {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return err
		}
		prefixes = append(prefixes, p)
	}
	b.Add(Record{ASN: in.ASN, Handle: in.Handle, Description: in.Description}, prefixes...)
	return nil
}

// ReadIPToASN adds an iptoasn.com ip2asn-v4 or ip2asn-v6 table to b. The file
// may be plain, .gz or .zst. Ranges announced by AS0 (not routed) are skipped.
func (b *Builder) ReadIPToASN(path string) error {
	r, closeFn, err := openTable(path)
	if err != nil {
		return err
	}
	defer closeFn()

	sc := bufio.NewScanner(r)
	lines, ranges := 0, 0
	for sc.Scan() {
		lines++
		line := sc.Text()
		if line == "" {
			continue
		}
		s := strings.Split(line, "\t")
		if len(s) != 5 {
			log.Debugf("asndb: %s:%d: skipping malformed line", path, lines)
			continue
		}
		asn, err := strconv.ParseUint(s[2], 10, 32)
		if err != nil {
			return fmt.Errorf("asndb: %s:%d: asn %q: %w", path, lines, s[2], err)
		}
		if asn == 0 {
			continue
		}
		from, err1 := netip.ParseAddr(s[0])
		to, err2 := netip.ParseAddr(s[1])
		rng := netipx.IPRangeFrom(from, to)
		if err := errors.Join(err1, err2); err != nil || !rng.IsValid() {
			return fmt.Errorf("asndb: %s:%d: bad range %s-%s", path, lines, s[0], s[1])
		}
		b.Add(splitOwner(uint32(asn), s[4]), rng.Prefixes()...)
		ranges++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("asndb: %s: %w", path, err)
	}
	log.Infof("asndb: read %d routed ranges from %s", ranges, path)
	return nil
}

// splitOwner turns "HANDLE - Long Name" into its two parts.
func splitOwner(asn uint32, owner string) Record {
	handle, desc, _ := strings.Cut(owner, " - ")
	return Record{ASN: asn, Handle: strings.TrimSpace(handle), Description: strings.TrimSpace(desc)}
}

func openTable(name string) (io.Reader, func() error, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("asndb: open %s: %w", name, err)
	}
	switch filepath.Ext(name) {
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("asndb: %s: %w", name, err)
		}
		return zr, func() error { zr.Close(); return f.Close() }, nil
	case ".gz":
		gr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("asndb: %s: %w", name, err)
		}
		return gr, func() error { gr.Close(); return f.Close() }, nil
	case ".tsv", ".txt":
		return f, f.Close, nil
	default:
		f.Close()
		return nil, nil, fmt.Errorf("asndb: %s: unsupported format", name)
	}
}
