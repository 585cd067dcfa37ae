// Package pcapconfig holds the CLI-flag-shaped configuration for the
// mysqlpcap command: every option in spec.md §6, optional loading from a
// TOML file, and a file-then-flag merge that lets command-line flags
// override whatever the file set.
//
// Grounded on middle/config/config.go's Config/TOMLConfig/
// MergeWithCmdLineArgs shape (teacher repository), adapted to return errors
// from Validate rather than calling log.Fatal from a library package.
package pcapconfig

import (
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
)

// Config mirrors the CLI surface from spec.md §6.
type Config struct {
	InputFile string `toml:"input_file"` // -i: pcap or recording file

	ServerPort int    `toml:"server_port"` // -p
	ServerHost string `toml:"server_host"` // -h

	SlowQueryCount int `toml:"slow_query_count"` // -n
	LinkLayerSize  int `toml:"link_layer_size"`  // -e, 0 means auto-detect

	DoExplain bool `toml:"do_explain"` // -E
	DoAnalyze bool `toml:"do_analyze"` // -A
	DoReplay  bool `toml:"do_replay"`  // -R

	Patterns []string `toml:"patterns"` // -q, repeatable, order significant

	ReplayHost string `toml:"replay_host"`
	ReplayPort int    `toml:"replay_port"`
	ReplayUser string `toml:"replay_user"`
	ReplayPW   string `toml:"replay_pw"`
	ReplayDB   string `toml:"replay_db"`

	ReplaySSLCA   string `toml:"replay_ssl_ca"`
	ReplaySSLCert string `toml:"replay_ssl_cert"`
	ReplaySSLKey  string `toml:"replay_ssl_key"`

	ReplaySpeed float64 `toml:"replay_speed"`

	RecordForReplay string `toml:"record_for_replay"` // --record-for-replay
	CSVFile         string `toml:"csv_file"`           // --csv
	TableStatsFile  string `toml:"table_stats_file"`   // --table-stats

	Progress bool `toml:"progress"`

	AssertOnQueryError bool `toml:"assert_on_query_error"`
	IgnoreDupKeyErrors bool `toml:"ignore_dup_key_errors"`
}

// SetDefaults fills in zero-valued fields with the process's defaults.
func (c *Config) SetDefaults() {
	if c.ServerPort == 0 {
		c.ServerPort = 3306
	}
	if c.SlowQueryCount == 0 {
		c.SlowQueryCount = 10
	}
	if c.ReplayPort == 0 {
		c.ReplayPort = c.ServerPort
	}
	if c.ReplaySpeed == 0 {
		c.ReplaySpeed = 1.0
	}
}

// Validate reports the first configuration error found. It never terminates
// the process — the caller decides how to surface the error.
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("pcapconfig: -i input file is required")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("pcapconfig: invalid server port %d", c.ServerPort)
	}
	if c.ServerHost != "" && net.ParseIP(c.ServerHost) == nil {
		return fmt.Errorf("pcapconfig: invalid server host %q", c.ServerHost)
	}
	if c.SlowQueryCount < 0 {
		return fmt.Errorf("pcapconfig: slow query count must be non-negative")
	}
	if c.LinkLayerSize != 0 && (c.LinkLayerSize < 14 || c.LinkLayerSize > 22) {
		return fmt.Errorf("pcapconfig: link-layer size %d out of the 14..22 probe range", c.LinkLayerSize)
	}
	if c.ReplaySpeed < 0 {
		return fmt.Errorf("pcapconfig: replay speed must be non-negative")
	}
	if c.DoReplay && c.ReplayHost == "" {
		return fmt.Errorf("pcapconfig: --replay-host is required with -R")
	}
	if (c.DoExplain || c.DoAnalyze) && c.ReplayHost == "" {
		return fmt.Errorf("pcapconfig: -E/-A require a replay endpoint (--replay-host)")
	}
	return nil
}

// LoadFile reads and decodes a TOML configuration file. A missing file is
// reported as an error — callers that want "file optional" semantics should
// check os.Stat themselves before calling LoadFile.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("pcapconfig: reading config file: %w", err)
	}

	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("pcapconfig: parsing config file %s: %w", path, err)
	}
	return &c, nil
}

// MergeFlags overlays onto c every field in flags that changed is true for,
// per the CLI-flags-override-file-config policy. changed maps a flag's
// canonical name (matching the toml tag, e.g. "server_port") to whether the
// user actually set it on the command line — callers typically derive this
// from cobra's cmd.Flags().Changed(name).
func (c *Config) MergeFlags(flags *Config, changed func(name string) bool) {
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}

	set("input_file", func() { c.InputFile = flags.InputFile })
	set("server_port", func() { c.ServerPort = flags.ServerPort })
	set("server_host", func() { c.ServerHost = flags.ServerHost })
	set("slow_query_count", func() { c.SlowQueryCount = flags.SlowQueryCount })
	set("link_layer_size", func() { c.LinkLayerSize = flags.LinkLayerSize })
	set("do_explain", func() { c.DoExplain = flags.DoExplain })
	set("do_analyze", func() { c.DoAnalyze = flags.DoAnalyze })
	set("do_replay", func() { c.DoReplay = flags.DoReplay })
	set("patterns", func() { c.Patterns = flags.Patterns })
	set("replay_host", func() { c.ReplayHost = flags.ReplayHost })
	set("replay_port", func() { c.ReplayPort = flags.ReplayPort })
	set("replay_user", func() { c.ReplayUser = flags.ReplayUser })
	set("replay_pw", func() { c.ReplayPW = flags.ReplayPW })
	set("replay_db", func() { c.ReplayDB = flags.ReplayDB })
	set("replay_ssl_ca", func() { c.ReplaySSLCA = flags.ReplaySSLCA })
	set("replay_ssl_cert", func() { c.ReplaySSLCert = flags.ReplaySSLCert })
	set("replay_ssl_key", func() { c.ReplaySSLKey = flags.ReplaySSLKey })
	set("replay_speed", func() { c.ReplaySpeed = flags.ReplaySpeed })
	set("record_for_replay", func() { c.RecordForReplay = flags.RecordForReplay })
	set("csv_file", func() { c.CSVFile = flags.CSVFile })
	set("table_stats_file", func() { c.TableStatsFile = flags.TableStatsFile })
	set("progress", func() { c.Progress = flags.Progress })
	set("assert_on_query_error", func() { c.AssertOnQueryError = flags.AssertOnQueryError })
	set("ignore_dup_key_errors", func() { c.IgnoreDupKeyErrors = flags.IgnoreDupKeyErrors })
}
