package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindLogFlags(fs)
	BindCaptureFlags(fs)
	BindOutputFlags(fs)
	fs.String("samples", "", "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return fs
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("", newFlags(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Output.Kind != "log" || cfg.Batch.Size != 1000 || cfg.Batch.Period != time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Capture.SnapLen != 96*1024 || cfg.Logging.Level != log.LevelInfo {
		t.Fatalf("capture=%+v logging=%+v", cfg.Capture, cfg.Logging)
	}
}

func TestLoadFlags(t *testing.T) {
	t.Parallel()
	cfg, err := Load("", newFlags(t, "--pcap", "in.pcap", "--output", "csv", "--output-path", "out.csv",
		"--batch-size", "5", "--batch-period", "250ms", "--verbose", "trace", "--log-syslog"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Capture.Pcap != "in.pcap" || cfg.Output.Kind != "csv" || cfg.Output.Path != "out.csv" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Batch.Size != 5 || cfg.Batch.Period != 250*time.Millisecond {
		t.Fatalf("batch=%+v", cfg.Batch)
	}
	if cfg.Logging.Level != log.LevelTrace || !cfg.Logging.Syslog {
		t.Fatalf("logging=%+v", cfg.Logging)
	}
	if err := cfg.ValidateCollect(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

// Not parallel: uses t.Setenv.
func TestLoadFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hellotrace.yaml")
	data := `capture:
  interface: eth0
output:
  kind: jsonl
  path: /var/lib/hellotrace/records.jsonl
batch:
  size: 200
  period: 5s
metrics:
  listen: ":9100"
logging:
  verbose: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HELLOTRACE_BATCH_SIZE", "300")
	t.Setenv("HELLOTRACE_METRICS_LISTEN", ":9200")

	cfg, err := Load(path, newFlags(t, "--metrics-listen", ":9300"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Capture.Interface != "eth0" || cfg.Output.Kind != "jsonl" || cfg.Batch.Period != 5*time.Second {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Batch.Size != 300 {
		t.Fatalf("env override: size=%d", cfg.Batch.Size)
	}
	if cfg.Metrics.Listen != ":9300" {
		t.Fatalf("flag override: listen=%q", cfg.Metrics.Listen)
	}
	if cfg.Logging.Level != log.LevelDebug {
		t.Fatalf("level=%d", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestValidateCollect(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"no source", func(c *Config) {}, "exactly one"},
		{"two sources", func(c *Config) { c.Capture.Pcap, c.Capture.Samples = "a", "b" }, "got 2"},
		{"file output without path", func(c *Config) { c.Capture.Pcap, c.Output.Kind = "a", "jsonl" }, "--output-path"},
		{"unknown output", func(c *Config) { c.Capture.Pcap, c.Output.Kind = "a", "kafka" }, "unknown output"},
		{"zero batch", func(c *Config) { c.Capture.Pcap, c.Batch.Size = "a", 0 }, "batch size"},
		{"negative period", func(c *Config) { c.Capture.Pcap, c.Batch.Period = "a", -time.Second }, "batch period"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig
			tc.mod(&cfg)
			err := cfg.ValidateCollect()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want %q", err, tc.want)
			}
		})
	}
}

func TestValidateIngest(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig
	cfg.Capture.Interface = "eth0"
	if err := cfg.ValidateIngest(); err == nil || !strings.Contains(err.Error(), "--samples") {
		t.Fatalf("err=%v", err)
	}
	cfg.Capture.Samples = "out.jsonl"
	if err := cfg.ValidateIngest(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.Capture.Pcap = "in.pcap"
	if err := cfg.ValidateIngest(); err == nil {
		t.Fatalf("two frame sources accepted")
	}
}

func TestApplyLogLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]log.Level{
		"error": log.LevelError, "warn": log.LevelWarn, "info": log.LevelInfo,
		"debug": log.LevelDebug, "trace": log.LevelTrace, "silent": -1, "bogus": log.LevelInfo,
	} {
		var cfg Config
		cfg.ApplyLogLevel(in)
		if cfg.Logging.Level != want {
			t.Fatalf("%s: level=%d want=%d", in, cfg.Logging.Level, want)
		}
	}
}
