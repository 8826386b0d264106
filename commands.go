package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/daniellavrushin/hellotrace/asndb"
	"github.com/daniellavrushin/hellotrace/capture"
	"github.com/daniellavrushin/hellotrace/config"
	"github.com/daniellavrushin/hellotrace/log"
	"github.com/daniellavrushin/hellotrace/metrics"
	"github.com/daniellavrushin/hellotrace/pipeline"
	"github.com/daniellavrushin/hellotrace/sample"
	"github.com/daniellavrushin/hellotrace/sink"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
)

const sampleQueue = 1024

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Capture handshake samples into a JSON lines file",
	Args:  cobra.NoArgs,
	RunE:  runIngest,
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Fingerprint ClientHellos, enrich them with ASN data and write records",
	Args:  cobra.NoArgs,
	RunE:  runCollect,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup IP...",
	Short: "Resolve addresses against the embedded ASN tables",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLookup,
}

var convertCmd = &cobra.Command{
	Use:   "convert-asn",
	Short: "Build the compressed ASN tables from ipverse or iptoasn data",
	Args:  cobra.NoArgs,
	RunE:  runConvert,
}

var convertOpts struct {
	ipverse string
	ip2asn4 string
	ip2asn6 string
	out     string
	level   string
}

func init() {
	config.BindCaptureFlags(ingestCmd.Flags())
	ingestCmd.Flags().String("samples", "", "JSON lines file samples are appended to, - for stdout")

	config.BindCaptureFlags(collectCmd.Flags())
	collectCmd.Flags().String("samples", "", "Replay a JSON lines sample file written by ingest, - for stdin")
	config.BindOutputFlags(collectCmd.Flags())

	f := convertCmd.Flags()
	f.StringVar(&convertOpts.ipverse, "ipverse", "", "ipverse as-ip-blocks zip archive")
	f.StringVar(&convertOpts.ip2asn4, "ip2asn-v4", "", "iptoasn ip2asn-v4 TSV (.tsv, .gz or .zst)")
	f.StringVar(&convertOpts.ip2asn6, "ip2asn-v6", "", "iptoasn ip2asn-v6 TSV (.tsv, .gz or .zst)")
	f.StringVar(&convertOpts.out, "out", "asndb/data", "Directory the three tables are written to")
	f.StringVar(&convertOpts.level, "level", "best", "zstd level (fastest, default, better, best)")
}

// frameSource opens the pcap file or live interface selected by c.
func frameSource(c config.Capture) (capture.Source, func() error, error) {
	if c.Pcap != "" {
		return capture.NewFile(c.Pcap), func() error { return nil }, nil
	}
	live, err := capture.NewLive(capture.LiveConfig{Iface: c.Interface, SnapLen: c.SnapLen, Promisc: c.Promisc})
	if err != nil {
		return nil, nil, err
	}
	return live, live.Close, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateIngest(); err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	src, closeSrc, err := frameSource(cfg.Capture)
	if err != nil {
		return err
	}
	defer closeSrc()

	var w io.Writer = os.Stdout
	if cfg.Capture.Samples != "-" {
		f, err := os.OpenFile(cfg.Capture.Samples, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := sample.NewEncoder(w)

	ch := make(chan sample.Sample, sampleQueue)
	errc := make(chan error, 1)
	go func() { errc <- capture.Feed(ctx, src, metrics.New(), ch) }()

	var encErr error
	for s := range ch {
		if encErr != nil {
			continue
		}
		if encErr = enc.Encode(s); encErr != nil {
			stop()
		}
	}
	return errors.Join(<-errc, encErr, enc.Flush())
}

func runCollect(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateCollect(); err != nil {
		return err
	}
	db, err := asndb.LoadStatic()
	if err != nil {
		return fmt.Errorf("load ASN tables: %w", err)
	}
	st := db.Stats()
	log.Infof("Loaded ASN tables: %d records, %d IPv4 and %d IPv6 prefixes", st.Records, st.Prefixes4, st.Prefixes6)

	ctx, stop := signalContext()
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen); err != nil {
				log.Errorf("metrics: %v", err)
			}
		}()
	}

	out, err := sink.Open(cfg.Output.Kind, cfg.Output.Path)
	if err != nil {
		return err
	}
	defer out.Close()

	batcher := pipeline.NewBatcher(out, cfg.Batch.Size, cfg.Batch.Period, m)
	p := pipeline.New(db, batcher, m)

	ch := make(chan sample.Sample, sampleQueue)
	errc := make(chan error, 1)
	if cfg.Capture.Samples != "" {
		go func() { errc <- capture.FeedSamples(ctx, cfg.Capture.Samples, ch) }()
	} else {
		src, closeSrc, err := frameSource(cfg.Capture)
		if err != nil {
			batcher.Close(context.Background())
			return err
		}
		defer closeSrc()
		go func() { errc <- capture.Feed(ctx, src, m, ch) }()
	}

	log.Infof("Starting hellotrace %s: output=%s batch=%d/%s", Version, cfg.Output.Kind, cfg.Batch.Size, cfg.Batch.Period)
	runErr := p.Run(ctx, ch)
	// Stop the source if the pipeline gave up first.
	stop()
	srcErr := <-errc
	closeErr := batcher.Close(context.Background())
	if ctx.Err() != nil && runErr == nil {
		log.Infof("Shutting down...")
	}
	return errors.Join(runErr, srcErr, closeErr)
}

func runLookup(cmd *cobra.Command, args []string) error {
	db, err := asndb.LoadStatic()
	if err != nil {
		return fmt.Errorf("load ASN tables: %w", err)
	}
	w := cmd.OutOrStdout()
	for _, arg := range args {
		addr, err := netip.ParseAddr(arg)
		if err != nil {
			return err
		}
		rec, ok := db.Lookup(addr)
		if !ok {
			fmt.Fprintf(w, "%s\tnot found\n", addr)
			continue
		}
		fmt.Fprintf(w, "%s\tAS%d\t%s\t%s\n", addr, rec.ASN, rec.Handle, rec.Description)
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	o := convertOpts
	if o.ipverse == "" && o.ip2asn4 == "" && o.ip2asn6 == "" {
		return errors.New("one of --ipverse, --ip2asn-v4 or --ip2asn-v6 is required")
	}
	ok, level := zstd.EncoderLevelFromString(o.level)
	if !ok {
		return fmt.Errorf("unknown zstd level %q", o.level)
	}

	b := asndb.NewBuilder()
	if o.ipverse != "" {
		if err := b.ReadIpverse(o.ipverse); err != nil {
			return err
		}
	}
	for _, path := range []string{o.ip2asn4, o.ip2asn6} {
		if path == "" {
			continue
		}
		if err := b.ReadIPToASN(path); err != nil {
			return err
		}
	}
	ds := b.Dataset()
	if err := ds.WriteBlobs(o.out, level); err != nil {
		return err
	}
	log.Infof("Wrote %d records, %d IPv4 and %d IPv6 prefixes to %s", len(ds.Records), len(ds.IPv4), len(ds.IPv6), o.out)
	return nil
}
