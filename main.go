package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fabricionaweb/pico-swarm/internal/piece"
	"github.com/spf13/cobra"
)

var version = "dev"

//nolint:govet // Field alignment is acceptable
type config struct {
	whitelistPath string
	outDir        string
	announceURL   string
	port          int
	interval      int
	pieceSize     int
	rateLimit     int
	safeInts      bool
	debug         bool
}

// envPositiveInt reads a positive integer from the environment, or returns def.
func envPositiveInt(name string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(name)); err == nil && v > 0 {
		return v
	}
	return def
}

// defaultConfig returns flag defaults. Each is read from an environment variable:
//   - PICO_SWARM__PORT: default port (must be > 0)
//   - PICO_SWARM__INTERVAL: announce interval in seconds (must be > 0)
//   - PICO_SWARM__PIECE_SIZE: piece size in bytes (must be > 0)
//   - PICO_SWARM__RATE_LIMIT: announces per IP per window (must be > 0)
//   - PICO_SWARM__WHITELIST: path to the info_hash whitelist
//   - PICO_SWARM__SAFE_INTS: limits response integers to ±(2^53-1) if set
//   - DEBUG: enables debug mode if set
func defaultConfig() config {
	return config{
		port:          envPositiveInt("PICO_SWARM__PORT", 6969),
		interval:      envPositiveInt("PICO_SWARM__INTERVAL", defaultInterval),
		pieceSize:     envPositiveInt("PICO_SWARM__PIECE_SIZE", piece.DefaultSize),
		rateLimit:     envPositiveInt("PICO_SWARM__RATE_LIMIT", rateLimitBurst),
		whitelistPath: os.Getenv("PICO_SWARM__WHITELIST"),
		safeInts:      os.Getenv("PICO_SWARM__SAFE_INTS") != "",
		debug:         os.Getenv("DEBUG") != "",
		outDir:        ".",
	}
}

func newRootCmd() *cobra.Command {
	cfg := defaultConfig()

	root := &cobra.Command{
		Use:           "pico-swarm",
		Short:         "Piece splitter and HTTP BitTorrent tracker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setDebug(cfg.debug)
		},
	}
	root.PersistentFlags().BoolVarP(&cfg.debug, "debug", "d", cfg.debug, "enable debug logs [env DEBUG]")

	root.AddCommand(newServeCmd(&cfg), newSplitCmd(&cfg), newVerifyCmd())
	return root
}

func newServeCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP tracker",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := validateServeConfig(*cfg); err != nil {
				return err
			}

			ctx, stop := setupSignalHandling()
			defer stop()

			return NewServer(*cfg).Run(ctx)
		},
	}
	fs := cmd.Flags()
	fs.IntVarP(&cfg.port, "port", "p", cfg.port, "port to listen on [env PICO_SWARM__PORT]")
	fs.IntVarP(&cfg.interval, "interval", "i", cfg.interval, "announce interval in seconds [env PICO_SWARM__INTERVAL]")
	fs.StringVarP(&cfg.whitelistPath, "whitelist", "w", cfg.whitelistPath,
		"path to whitelist file for private tracker mode [env PICO_SWARM__WHITELIST]")
	fs.IntVar(&cfg.rateLimit, "rate-limit", cfg.rateLimit,
		fmt.Sprintf("announces per IP every %s, 0 disables [env PICO_SWARM__RATE_LIMIT]", rateLimitWindow))
	fs.BoolVar(&cfg.safeInts, "safe-ints", cfg.safeInts,
		"fail responses holding integers beyond ±(2^53-1) [env PICO_SWARM__SAFE_INTS]")
	return cmd
}

func validateServeConfig(cfg config) error {
	if cfg.port <= 0 || cfg.port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.port)
	}
	if cfg.interval <= 0 {
		return fmt.Errorf("invalid interval %d: must be positive", cfg.interval)
	}
	if cfg.rateLimit < 0 {
		return fmt.Errorf("invalid rate limit %d", cfg.rateLimit)
	}
	return nil
}

func newSplitCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split <file>",
		Short: "Split a file into <DIGEST>.piece files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := splitFile(args[0], cfg.outDir, cfg.pieceSize, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			info("split %s into %d pieces (%d bytes) in %s", args[0], len(res.digests), res.total, cfg.outDir)

			if cfg.announceURL == "" {
				return nil
			}
			path, hash, err := writeTorrent(res, cfg.announceURL, cfg.outDir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "torrent %s info_hash %s\n", path, hash)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&cfg.pieceSize, "piece-size", cfg.pieceSize, "piece size in bytes [env PICO_SWARM__PIECE_SIZE]")
	fs.StringVarP(&cfg.outDir, "out", "o", cfg.outDir, "directory for piece files")
	fs.StringVar(&cfg.announceURL, "announce", "", "also write a .torrent announcing to this tracker URL")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <dir>",
		Short: "Re-hash every piece file and report mismatches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifyStore(args[0], cmd.OutOrStdout())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errorLog("%v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}
