package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cesnet/ipfixprobe-go/pkg/config"
	"github.com/cesnet/ipfixprobe-go/pkg/logging"
	"github.com/cesnet/ipfixprobe-go/pkg/version"
)

// cliArgs holds the destination of every flag registerFlags binds,
// grouped the way cmd/goQuery/cmd/root.go groups its query.Args rather
// than one flag per package-level var.
type cliArgs struct {
	Interfaces   []string
	File         string
	Count        int
	SnapshotLen  int
	Promiscuous  bool
	Timeout      string
	CacheSize    int
	CacheStats   string
	LinkBitField uint8
	DirBitField  uint8
	Filter       string
	ODID         bool
	IPFIX        string
	UDP          bool
	IQueue       int
	OQueue       int
	FPS          int
	MTU          int
	Plugins      string

	ConfigFile   string
	APIAddr      string
	FramedOutput string
}

// runFunc is the root command's body, separated from newRootCmd so
// tests can substitute a stub and assert on the parsed cliArgs/Config
// without starting the real pipeline.
type runFunc func(ctx context.Context, cfg *config.Config, args *cliArgs) error

// Execute builds and runs the root command, returning any error instead
// of exiting directly so main.go controls the process exit code: 0 on
// a clean run, 1 on initialization or capture error.
func Execute() error {
	root, err := newRootCmd(run)
	if err != nil {
		return err
	}
	root.AddCommand(newVersionCmd())
	return root.Execute()
}

func newRootCmd(runE runFunc) (*cobra.Command, error) {
	args := &cliArgs{}

	cmd := &cobra.Command{
		Use:           "ipfixprobe",
		Short:         "Passive, line-rate network flow exporter (IPFIX)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(cmd, args)
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgContextKey{}, cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _ := cmd.Context().Value(cfgContextKey{}).(*config.Config)
			return runE(cmd.Context(), cfg, args)
		},
	}

	if err := registerFlags(cmd, args); err != nil {
		return nil, err
	}
	return cmd, nil
}

type cfgContextKey struct{}

// registerFlags binds every command-line flag onto args, following
// cmd/goQuery/cmd/root.go's direct pflag-to-struct-field idiom, then
// mirrors its viper.BindPFlags call so a future config-precedence
// change (env vars, a config-watching reload) has somewhere to hook in.
func registerFlags(cmd *cobra.Command, args *cliArgs) error {
	f := cmd.Flags()

	f.StringArrayVarP(&args.Interfaces, "interface", "I", nil, "Interface(s) to capture on (repeatable)\n")
	f.StringVarP(&args.File, "file", "r", "", "Read packets from a pcap file instead of a live interface\n")
	f.IntVarP(&args.Count, "count", "c", 0, "Stop after this many packets (0 = unlimited)\n")
	f.IntVarP(&args.SnapshotLen, "snapshot_len", "l", 65535, "Capture snapshot length in bytes\n")
	f.BoolVar(&args.Promiscuous, "promiscuous", false, "Put the interface into promiscuous mode\n")
	f.StringVarP(&args.Timeout, "timeout", "t", "default", "Flow active:inactive timeouts in seconds, e.g. \"300:30\"\n")
	f.IntVarP(&args.CacheSize, "cache_size", "s", 17, "Flow cache size as a power of two\n")
	f.StringVarP(&args.CacheStats, "cache-statistics", "S", "", "Cache statistics interval, e.g. \"10s\" (stored in the configuration; no periodic report is printed)\n")
	f.Uint8VarP(&args.LinkBitField, "link_bit_field", "L", 0, "Link bit field value, exported as the IPFIX observationDomainId\n")
	f.Uint8VarP(&args.DirBitField, "dir_bit_field", "D", 0, "Direction bit field value (stored in the configuration; not written to exported records)\n")
	f.StringVarP(&args.Filter, "filter", "F", "", "BPF filter expression applied to captured packets\n")
	f.BoolVarP(&args.ODID, "odid", "O", false, "Observation domain ID toggle (stored in the configuration; has no effect on IPFIX or framed output)\n")
	f.StringVarP(&args.IPFIX, "ipfix", "x", "", "IPFIX collector address as host:port (required)\n")
	f.BoolVarP(&args.UDP, "udp", "u", false, "Use UDP instead of TCP to reach the collector\n")
	f.IntVarP(&args.IQueue, "iqueue", "q", 64, "Per-interface packet queue depth\n")
	f.IntVarP(&args.OQueue, "oqueue", "Q", 16536, "Export queue depth\n")
	f.IntVarP(&args.FPS, "fps", "e", 0, "Export rate limit in flows per second (0 = unlimited)\n")
	f.IntVarP(&args.MTU, "mtu", "m", 1458, "Maximum IPFIX message size in bytes\n")
	f.StringVarP(&args.Plugins, "plugins", "p", "", "Comma-separated plugin list, e.g. \"pstats:skipdup=true,bstats\"\n")

	f.StringVar(&args.ConfigFile, "config", "", "Load defaults from a JSON configuration file, overlaid by any flags given\n")
	f.StringVar(&args.APIAddr, "api-addr", "", "Serve /status and /cache/stats on this host:port\n")
	f.StringVar(&args.FramedOutput, "framed-output", "", "Also write framed records to PATH.v4/PATH.v6 alongside IPFIX\n")

	return viper.BindPFlags(f)
}

// buildConfig loads a base Config (from --config if given, else
// defaults) and overlays only the flags the user actually set, mirroring
// the package doc comment on pkg/config.Config: "flags taking
// precedence".
func buildConfig(cmd *cobra.Command, args *cliArgs) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigFile != "" {
		cfg, err = config.ParseFile(args.ConfigFile)
	} else {
		cfg = config.New()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	changed := cmd.Flags().Changed

	if changed("interface") {
		cfg.Capture.Interfaces = args.Interfaces
	}
	if changed("file") {
		cfg.Capture.File = args.File
	}
	if changed("count") {
		cfg.Capture.Count = args.Count
	}
	if changed("snapshot_len") {
		cfg.Capture.SnapshotLength = args.SnapshotLen
	}
	if changed("promiscuous") {
		cfg.Capture.Promiscuous = args.Promiscuous
	}
	if changed("filter") {
		cfg.Capture.Filter = args.Filter
	}
	if changed("iqueue") {
		cfg.Capture.QueueDepth = args.IQueue
	}

	if changed("timeout") {
		active, inactive, err := parseTimeout(args.Timeout)
		if err != nil {
			return nil, err
		}
		cfg.Cache.ActiveTimeout = active
		cfg.Cache.InactiveTimeout = inactive
	}
	if changed("cache_size") {
		cfg.Cache.SizeExponent = args.CacheSize
	}
	if changed("cache-statistics") {
		d, err := parseDurationOrSeconds(args.CacheStats)
		if err != nil {
			return nil, err
		}
		cfg.Cache.StatisticsInterval = d
	}

	if changed("ipfix") {
		host, port, err := parseCollectorAddr(args.IPFIX)
		if err != nil {
			return nil, err
		}
		cfg.Exporter.Host = host
		cfg.Exporter.Port = port
	}
	if changed("udp") {
		cfg.Exporter.UDP = args.UDP
	}
	if changed("mtu") {
		cfg.Exporter.MTU = args.MTU
	}
	if changed("fps") {
		cfg.Exporter.FPS = args.FPS
	}
	if changed("link_bit_field") {
		cfg.Exporter.LinkBitField = args.LinkBitField
	}
	if changed("dir_bit_field") {
		cfg.Exporter.DirBitField = args.DirBitField
	}
	if changed("odid") {
		cfg.Exporter.ODID = args.ODID
	}
	if changed("oqueue") {
		cfg.Exporter.QueueDepth = args.OQueue
	}

	if changed("plugins") {
		plugins, err := parsePluginList(args.Plugins)
		if err != nil {
			return nil, err
		}
		cfg.Plugins = plugins
	}

	if changed("api-addr") {
		host, port, err := net.SplitHostPort(args.APIAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid --api-addr %q: %w", args.APIAddr, err)
		}
		cfg.API = &config.APIConfig{Host: host, Port: port}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) error {
	return logging.Init(
		logging.LevelFromString(cfg.Logging.Level),
		logging.Encoding(cfg.Logging.Encoding),
		logging.WithVersion(version.Short()),
	)
}
