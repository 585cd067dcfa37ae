// Command mysqlpcap reconstructs MySQL protocol streams from a packet
// capture (or a previously recorded MCAP file), collects slow-query,
// query-pattern and table statistics, and can optionally replay the
// captured queries against a live MySQL server.
//
// Grounded on cmd/main.go's cobra.Command{Use, Short, RunE} +
// root.Flags().*Var style (teacher repository).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/spf13/cobra"

	"github.com/spachev/mysqlpcap/internal/capmanager"
	"github.com/spachev/mysqlpcap/internal/pcapconfig"
	"github.com/spachev/mysqlpcap/internal/qpattern"
	"github.com/spachev/mysqlpcap/internal/recording"
	"github.com/spachev/mysqlpcap/internal/replay"
	"github.com/spachev/mysqlpcap/internal/reportcsv"
)

const version = "1.0.0"

func main() {
	var flags pcapconfig.Config
	var configFile string
	var patternArgs []string

	root := &cobra.Command{
		Use:           "mysqlpcap",
		Short:         "Reconstruct MySQL protocol traffic from a packet capture",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Patterns = patternArgs

			cfg, err := resolveConfig(configFile, &flags, cmd)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	root.Flags().StringVarP(&configFile, "config", "c", "", "optional TOML config file")

	root.Flags().StringVarP(&flags.InputFile, "input", "i", "", "input file (pcap or recording)")
	root.Flags().IntVarP(&flags.ServerPort, "port", "p", 3306, "MySQL server port filter")
	root.Flags().StringVarP(&flags.ServerHost, "host", "h", "", "MySQL server IPv4 filter")
	root.Flags().IntVarP(&flags.SlowQueryCount, "n", "n", 10, "size of the top-N slow-query set")
	root.Flags().IntVarP(&flags.LinkLayerSize, "link-layer-size", "e", 0, "override link-layer header size; else auto-detect")
	root.Flags().BoolVarP(&flags.DoExplain, "explain", "E", false, "print EXPLAIN for each slow query against the replay endpoint")
	root.Flags().BoolVarP(&flags.DoAnalyze, "analyze", "A", false, "print ANALYZE (json) for each slow query")
	root.Flags().BoolVarP(&flags.DoReplay, "replay", "R", false, "replay the captured queries live")
	root.Flags().StringArrayVarP(&patternArgs, "query-pattern", "q", nil, "add a s/search/replace/ normalizer pattern (order significant)")

	root.Flags().StringVar(&flags.ReplayHost, "replay-host", "", "replay target host")
	root.Flags().IntVar(&flags.ReplayPort, "replay-port", 0, "replay target port (defaults to --port)")
	root.Flags().StringVar(&flags.ReplayUser, "replay-user", "", "replay target user")
	root.Flags().StringVar(&flags.ReplayPW, "replay-pw", "", "replay target password")
	root.Flags().StringVar(&flags.ReplayDB, "replay-db", "", "replay target database")
	root.Flags().StringVar(&flags.ReplaySSLCA, "replay-ssl-ca", "", "replay TLS CA file")
	root.Flags().StringVar(&flags.ReplaySSLCert, "replay-ssl-cert", "", "replay TLS client cert file")
	root.Flags().StringVar(&flags.ReplaySSLKey, "replay-ssl-key", "", "replay TLS client key file")
	root.Flags().Float64Var(&flags.ReplaySpeed, "replay-speed", 1.0, "pacing multiplier, 0 disables pacing")

	root.Flags().StringVar(&flags.RecordForReplay, "record-for-replay", "", "write a recording file for later replay")
	root.Flags().StringVar(&flags.CSVFile, "csv", "", "write pattern stats as CSV")
	root.Flags().StringVar(&flags.TableStatsFile, "table-stats", "", "write table stats as CSV")
	root.Flags().BoolVar(&flags.Progress, "progress", false, "periodic progress to stderr")
	root.Flags().BoolVar(&flags.AssertOnQueryError, "assert-on-query-error", false, "fail fast on replay errors")
	root.Flags().BoolVar(&flags.IgnoreDupKeyErrors, "ignore-dup-key-errors", false, "treat duplicate-key errors as non-fatal")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagNameByField maps pcapconfig.Config's toml tags to the cobra flag name
// that sets them, for Changed() lookups in MergeFlags.
var flagNameByField = map[string]string{
	"input_file":            "input",
	"server_port":           "port",
	"server_host":           "host",
	"slow_query_count":      "n",
	"link_layer_size":       "link-layer-size",
	"do_explain":            "explain",
	"do_analyze":            "analyze",
	"do_replay":             "replay",
	"patterns":              "query-pattern",
	"replay_host":           "replay-host",
	"replay_port":           "replay-port",
	"replay_user":           "replay-user",
	"replay_pw":             "replay-pw",
	"replay_db":             "replay-db",
	"replay_ssl_ca":         "replay-ssl-ca",
	"replay_ssl_cert":       "replay-ssl-cert",
	"replay_ssl_key":        "replay-ssl-key",
	"replay_speed":          "replay-speed",
	"record_for_replay":     "record-for-replay",
	"csv_file":              "csv",
	"table_stats_file":      "table-stats",
	"progress":              "progress",
	"assert_on_query_error": "assert-on-query-error",
	"ignore_dup_key_errors": "ignore-dup-key-errors",
}

func resolveConfig(configFile string, flags *pcapconfig.Config, cmd *cobra.Command) (*pcapconfig.Config, error) {
	cfg := &pcapconfig.Config{}
	if configFile != "" {
		fileCfg, err := pcapconfig.LoadFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.MergeFlags(flags, func(name string) bool {
		flagName, ok := flagNameByField[name]
		return ok && cmd.Flags().Changed(flagName)
	})

	cfg.SetDefaults()
	// SetDefaults cannot tell an explicit --replay-speed 0 (pacing disabled)
	// from an unset speed, so an explicitly given value is restored here.
	if cmd.Flags().Changed("replay-speed") {
		cfg.ReplaySpeed = flags.ReplaySpeed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *pcapconfig.Config) error {
	patterns := qpattern.NewList()
	for _, raw := range cfg.Patterns {
		search, replaceStr, err := qpattern.ParseRegexReplace(raw)
		if err != nil {
			return err
		}
		pat, err := qpattern.Compile(search, replaceStr)
		if err != nil {
			return err
		}
		patterns.Add(pat)
	}

	var recorder *recording.Writer
	if cfg.RecordForReplay != "" {
		f, err := os.Create(cfg.RecordForReplay)
		if err != nil {
			return fmt.Errorf("mysqlpcap: creating recording file: %w", err)
		}
		defer f.Close()
		recorder = recording.NewWriter(f)
		defer recorder.Flush()
	}

	replayEndpoint := replay.Endpoint{
		Host:     cfg.ReplayHost,
		Port:     cfg.ReplayPort,
		User:     cfg.ReplayUser,
		Password: cfg.ReplayPW,
		DB:       cfg.ReplayDB,
		SSLCA:    cfg.ReplaySSLCA,
		SSLCert:  cfg.ReplaySSLCert,
		SSLKey:   cfg.ReplaySSLKey,
	}

	var serverIP net.IP
	if cfg.ServerHost != "" {
		serverIP = net.ParseIP(cfg.ServerHost)
	}

	logger := log.New(os.Stderr, "mysqlpcap: ", log.LstdFlags)

	mgr := capmanager.New(capmanager.Options{
		ServerIP:           serverIP,
		ServerPort:         uint16(cfg.ServerPort),
		LinkLayerSize:      cfg.LinkLayerSize,
		SlowQueryCapacity:  cfg.SlowQueryCount,
		Patterns:           patterns,
		Recorder:           recorder,
		Replay:             cfg.DoReplay,
		ReplayEndpoint:     replayEndpoint,
		ReplaySpeed:        cfg.ReplaySpeed,
		AssertOnQueryError: cfg.AssertOnQueryError,
		IgnoreDupKeyErrors: cfg.IgnoreDupKeyErrors,
		Logger:             logger,
	})

	if cfg.Progress {
		reporter := capmanager.NewProgressReporter(mgr, 2*time.Second)
		reporter.Start()
		defer reporter.Stop()
	}

	if err := ingest(cfg, mgr); err != nil {
		return err
	}

	mgr.Finish()

	return report(cfg, mgr)
}

// isMCAPFile reports whether path begins with the recording format's magic.
func isMCAPFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false, nil
	}
	return magic == recording.Magic, nil
}

func ingest(cfg *pcapconfig.Config, mgr *capmanager.Manager) error {
	isRecording, err := isMCAPFile(cfg.InputFile)
	if err != nil {
		return fmt.Errorf("mysqlpcap: opening input file: %w", err)
	}

	if isRecording {
		return ingestRecording(cfg.InputFile, mgr)
	}
	return ingestPcap(cfg, mgr)
}

func ingestRecording(path string, mgr *capmanager.Manager) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mysqlpcap: opening recording file: %w", err)
	}
	defer f.Close()

	reader := recording.NewReader(f)
	for {
		rec, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("mysqlpcap: reading recording file: %w", err)
		}
		mgr.IngestRecord(rec)
	}
}

func ingestPcap(cfg *pcapconfig.Config, mgr *capmanager.Manager) error {
	handle, err := pcap.OpenOffline(cfg.InputFile)
	if err != nil {
		return fmt.Errorf("mysqlpcap: opening pcap file: %w", err)
	}
	defer handle.Close()

	for {
		data, ci, err := handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Malformed frame: per §7, silently skipped, not fatal.
			continue
		}

		mgr.ProcessFrame(data, ci.Timestamp)
	}

	return nil
}

func report(cfg *pcapconfig.Config, mgr *capmanager.Manager) error {
	slow := mgr.SlowQueries().Snapshot()
	if err := reportcsv.PrintSlowQueries(os.Stdout, slow); err != nil {
		return fmt.Errorf("mysqlpcap: printing slow queries: %w", err)
	}

	if cfg.DoExplain || cfg.DoAnalyze {
		if err := explainSlowQueries(cfg, slow); err != nil {
			// Matches the original's "we can still print the queries" policy:
			// a failed EXPLAIN/ANALYZE connection does not fail the whole run.
			fmt.Fprintf(os.Stderr, "mysqlpcap: EXPLAIN/ANALYZE unavailable: %v\n", err)
		}
	}

	if cfg.CSVFile != "" {
		f, err := os.Create(cfg.CSVFile)
		if err != nil {
			return fmt.Errorf("mysqlpcap: creating CSV file: %w", err)
		}
		defer f.Close()
		if err := reportcsv.WritePatternStatsCSV(f, mgr.PatternStats().Snapshot()); err != nil {
			return fmt.Errorf("mysqlpcap: writing pattern stats CSV: %w", err)
		}
	}

	if cfg.TableStatsFile != "" {
		f, err := os.Create(cfg.TableStatsFile)
		if err != nil {
			return fmt.Errorf("mysqlpcap: creating table stats file: %w", err)
		}
		defer f.Close()
		if err := reportcsv.WriteTableStatsCSV(f, mgr.TableStats().Snapshot(), time.Now()); err != nil {
			return fmt.Errorf("mysqlpcap: writing table stats: %w", err)
		}
	}

	return nil
}

func explainSlowQueries(cfg *pcapconfig.Config, slow []capmanager.SlowQuery) error {
	endpoint := replay.Endpoint{
		Host:     cfg.ReplayHost,
		Port:     cfg.ReplayPort,
		User:     cfg.ReplayUser,
		Password: cfg.ReplayPW,
		DB:       cfg.ReplayDB,
		SSLCA:    cfg.ReplaySSLCA,
		SSLCert:  cfg.ReplaySSLCert,
		SSLKey:   cfg.ReplaySSLKey,
	}

	ex := reportcsv.NewExplainer(endpoint)
	ctx := context.Background()
	if err := ex.Connect(ctx); err != nil {
		return err
	}
	defer ex.Close()

	for _, q := range slow {
		if cfg.DoExplain {
			if err := ex.ExplainQuery(ctx, os.Stdout, q.Text); err != nil {
				fmt.Fprintf(os.Stderr, "mysqlpcap: EXPLAIN failed for %q: %v\n", q.Text, err)
				continue
			}
		}
		if cfg.DoAnalyze {
			if err := ex.AnalyzeQuery(ctx, os.Stdout, q.Text); err != nil {
				fmt.Fprintf(os.Stderr, "mysqlpcap: ANALYZE failed for %q: %v\n", q.Text, err)
			}
		}
	}
	return nil
}
