package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/daniellavrushin/hellotrace/sink"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "HELLOTRACE"

type Config struct {
	Capture Capture `mapstructure:"capture" json:"capture"`
	Output  Output  `mapstructure:"output" json:"output"`
	Batch   Batch   `mapstructure:"batch" json:"batch"`
	Metrics Metrics `mapstructure:"metrics" json:"metrics"`
	Logging Logging `mapstructure:"logging" json:"logging"`
}

type Capture struct {
	Interface string `mapstructure:"interface" json:"interface"`
	Pcap      string `mapstructure:"pcap" json:"pcap"`
	Samples   string `mapstructure:"samples" json:"samples"`
	SnapLen   int    `mapstructure:"snaplen" json:"snaplen"`
	Promisc   bool   `mapstructure:"promisc" json:"promisc"`
}

type Output struct {
	Kind string `mapstructure:"kind" json:"kind"`
	Path string `mapstructure:"path" json:"path"`
}

type Batch struct {
	Size   int           `mapstructure:"size" json:"size"`
	Period time.Duration `mapstructure:"period" json:"period"`
}

type Metrics struct {
	Listen string `mapstructure:"listen" json:"listen"`
}

type Logging struct {
	Verbose    string    `mapstructure:"verbose" json:"verbose"`
	Level      log.Level `mapstructure:"-" json:"level"`
	Instaflush bool      `mapstructure:"instaflush" json:"instaflush"`
	Syslog     bool      `mapstructure:"syslog" json:"syslog"`
}

var DefaultConfig = Config{
	Capture: Capture{
		SnapLen: 96 * 1024,
	},
	Output: Output{
		Kind: sink.KindLog,
	},
	Batch: Batch{
		Size:   1000,
		Period: time.Second,
	},
	Logging: Logging{
		Verbose: "info",
		Level:   log.LevelInfo,
	},
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"interface":      "capture.interface",
	"pcap":           "capture.pcap",
	"samples":        "capture.samples",
	"snaplen":        "capture.snaplen",
	"promisc":        "capture.promisc",
	"output":         "output.kind",
	"output-path":    "output.path",
	"batch-size":     "batch.size",
	"batch-period":   "batch.period",
	"metrics-listen": "metrics.listen",
	"verbose":        "logging.verbose",
	"log-instaflush": "logging.instaflush",
	"log-syslog":     "logging.syslog",
}

// BindLogFlags registers the logging flags shared by every command.
func BindLogFlags(fs *pflag.FlagSet) {
	d := DefaultConfig.Logging
	fs.String("verbose", d.Verbose, "Set verbosity level (error, warn, info, debug, trace, silent)")
	fs.Bool("log-instaflush", d.Instaflush, "Enable instant flushing of log messages")
	fs.Bool("log-syslog", d.Syslog, "Enable logging to syslog")
}

// BindCaptureFlags registers the sample source flags.
func BindCaptureFlags(fs *pflag.FlagSet) {
	d := DefaultConfig.Capture
	fs.String("pcap", d.Pcap, "Read frames from a pcap or pcapng file")
	fs.String("interface", d.Interface, "Capture live on a network interface (e.g., eth0, all)")
	fs.Int("snaplen", d.SnapLen, "Maximum bytes captured per live frame")
	fs.Bool("promisc", d.Promisc, "Put the capture interface in promiscuous mode")
}

// BindOutputFlags registers the record output, batching and metrics flags.
func BindOutputFlags(fs *pflag.FlagSet) {
	d := DefaultConfig
	fs.String("output", d.Output.Kind, "Record output (log, jsonl, csv)")
	fs.String("output-path", d.Output.Path, "File the jsonl or csv output appends to, - for stdout")
	fs.Int("batch-size", d.Batch.Size, "Records per batch")
	fs.Duration("batch-period", d.Batch.Period, "Flush an open batch after this long, 0 disables")
	fs.String("metrics-listen", d.Metrics.Listen, "Serve Prometheus metrics on this address (e.g., :9100)")
}

// Load builds the configuration from defaults, the optional YAML file at path,
// HELLOTRACE_* environment variables and the flags set on the command line,
// in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("config: bind --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyLogLevel(cfg.Logging.Verbose)
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("capture.interface", d.Capture.Interface)
	v.SetDefault("capture.pcap", d.Capture.Pcap)
	v.SetDefault("capture.samples", d.Capture.Samples)
	v.SetDefault("capture.snaplen", d.Capture.SnapLen)
	v.SetDefault("capture.promisc", d.Capture.Promisc)
	v.SetDefault("output.kind", d.Output.Kind)
	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("batch.size", d.Batch.Size)
	v.SetDefault("batch.period", d.Batch.Period)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("logging.verbose", d.Logging.Verbose)
	v.SetDefault("logging.instaflush", d.Logging.Instaflush)
	v.SetDefault("logging.syslog", d.Logging.Syslog)
}

func (cfg *Config) ApplyLogLevel(level string) {
	switch level {
	case "debug":
		cfg.Logging.Level = log.LevelDebug
	case "trace":
		cfg.Logging.Level = log.LevelTrace
	case "info":
		cfg.Logging.Level = log.LevelInfo
	case "warn":
		cfg.Logging.Level = log.LevelWarn
	case "error":
		cfg.Logging.Level = log.LevelError
	case "silent":
		cfg.Logging.Level = -1
	default:
		cfg.Logging.Level = log.LevelInfo
	}
}

// ValidateCollect checks the settings used by the collect command. Exactly one
// sample source must be selected.
func (cfg *Config) ValidateCollect() error {
	var errs []error
	if n := cfg.Capture.sources(); n != 1 {
		errs = append(errs, fmt.Errorf("exactly one of --pcap, --interface or --samples is required, got %d", n))
	}
	switch cfg.Output.Kind {
	case sink.KindLog:
	case sink.KindJSONL, sink.KindCSV:
		if cfg.Output.Path == "" {
			errs = append(errs, fmt.Errorf("output %s needs --output-path", cfg.Output.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown output %q", cfg.Output.Kind))
	}
	if cfg.Batch.Size <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", cfg.Batch.Size))
	}
	if cfg.Batch.Period < 0 {
		errs = append(errs, fmt.Errorf("batch period must not be negative, got %s", cfg.Batch.Period))
	}
	if cfg.Capture.SnapLen < 0 {
		errs = append(errs, fmt.Errorf("snaplen must not be negative, got %d", cfg.Capture.SnapLen))
	}
	return wrap(errors.Join(errs...))
}

// ValidateIngest checks the settings used by the ingest command: one frame
// source and a sample file to write.
func (cfg *Config) ValidateIngest() error {
	var errs []error
	if (cfg.Capture.Pcap == "") == (cfg.Capture.Interface == "") {
		errs = append(errs, errors.New("exactly one of --pcap or --interface is required"))
	}
	if cfg.Capture.Samples == "" {
		errs = append(errs, errors.New("--samples is required"))
	}
	if cfg.Capture.SnapLen < 0 {
		errs = append(errs, fmt.Errorf("snaplen must not be negative, got %d", cfg.Capture.SnapLen))
	}
	return wrap(errors.Join(errs...))
}

func (c *Capture) sources() int {
	n := 0
	for _, s := range []string{c.Pcap, c.Interface, c.Samples} {
		if s != "" {
			n++
		}
	}
	return n
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("config: %w", err)
}
