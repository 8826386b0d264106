package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/daniellavrushin/hellotrace/model"
	"github.com/google/uuid"
)

func testRecord(port uint16) model.Record {
	return model.Record{
		ID:                uuid.MustParse("018bcfe5-6800-7abc-8def-0123456789ab"),
		SrcIP:             netip.MustParseAddr("::ffff:192.0.2.10"),
		SrcASN:            64496,
		DstIP:             netip.MustParseAddr("::ffff:8.8.8.8"),
		DstASN:            15169,
		DstASNHandle:      "GOOGLE",
		DstASNDescription: "Google LLC",
		SrcPort:           port,
		DstPort:           443,
		OuterVersion:      0x0301,
		InnerVersion:      0x0303,
		Ciphers:           []uint16{4865, 4866},
		Extensions:        []uint16{0, 10, 11},
		SNI:               "example.com",
		ECCurves:          []uint16{29, 23},
		ECPointFormats:    model.Uint8List{0},
		JA3:               "5ffaf288d4c7ad6ee41de7d402c7ebf8",
	}
}

func TestJSONLAppends(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := Open(KindJSONL, path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		if err := s.Write(ctx, []model.Record{testRecord(uint16(1000 + 2*i)), testRecord(uint16(1001 + 2*i))}); err != nil {
			t.Fatalf("write #%d: %v", i, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close #%d: %v", i, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		var r model.Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %d: %v", n, err)
		}
		if r.SrcPort != uint16(1000+n) || r.DstASNHandle != "GOOGLE" {
			t.Fatalf("line %d: %+v", n, r)
		}
		n++
	}
	if n != 4 {
		t.Fatalf("lines=%d", n)
	}
}

func TestCSVWritesHeaderOnce(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.csv")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := Open(KindCSV, path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		if err := s.Write(ctx, []model.Record{testRecord(uint16(i))}); err != nil {
			t.Fatalf("write #%d: %v", i, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close #%d: %v", i, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d\n%s", len(rows), data)
	}
	if rows[0][0] != "uuid" || len(rows[0]) != len(csvHeader) {
		t.Fatalf("header=%v", rows[0])
	}
	row := rows[1]
	if row[1] != "::ffff:192.0.2.10" || row[6] != "15169" || row[8] != "Google LLC" {
		t.Fatalf("row=%v", row)
	}
	if row[13] != "4865-4866" || row[14] != "0-10-11" || row[16] != "29-23" || row[17] != "0" {
		t.Fatalf("lists=%v", row[13:18])
	}
}

func TestLogSinkIgnoresLogLevel(t *testing.T) {
	var logged bytes.Buffer
	log.Init(&logged, log.LevelError, true)
	defer log.Init(&bytes.Buffer{}, log.LevelInfo, true)

	path := filepath.Join(t.TempDir(), "records.log")
	s, err := Open(KindLog, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Write(context.Background(), []model.Record{testRecord(51000), testRecord(51001)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], "192.0.2.10:51000 AS64496") || !strings.Contains(lines[0], `sni="example.com"`) {
		t.Fatalf("line=%q", lines[0])
	}
	if !strings.HasPrefix(lines[0], "2023-11-") {
		t.Fatalf("capture time missing: %q", lines[0])
	}
	if logged.Len() != 0 {
		t.Fatalf("records went to the process log: %q", logged.String())
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	if _, err := Open("kafka", "x"); err == nil {
		t.Fatalf("unknown kind accepted")
	}
	if _, err := Open(KindJSONL, ""); err == nil {
		t.Fatalf("empty path accepted")
	}
	if _, err := Open(KindCSV, filepath.Join(t.TempDir(), "missing", "out.csv")); err == nil {
		t.Fatalf("missing directory accepted")
	}
}
