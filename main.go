package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"sponsorcoin/pkg/codec"
	"sponsorcoin/pkg/config"
	"sponsorcoin/pkg/hydrate"
	"sponsorcoin/pkg/persist"
	"sponsorcoin/pkg/rpc"
	"sponsorcoin/pkg/server"
	"sponsorcoin/pkg/store"
	"sponsorcoin/pkg/tui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version should be set during build
var Version = "dev"

// probeAddress is looked up by `check` to see whether the metadata endpoint answers.
const probeAddress = "0x0000000000000000000000000000000000000000"

type options struct {
	configPath string
	verbose    bool
	logFile    string
	logger     *zap.Logger
}

func (o *options) initLogger(quiet bool) error {
	if quiet && o.logFile == "" {
		// The terminal UI owns the screen.
		o.logger = zap.NewNop()
		return nil
	}
	cfg := zap.NewProductionConfig()
	if o.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if o.logFile != "" {
		cfg.OutputPaths = []string{o.logFile}
		cfg.ErrorOutputPaths = []string{o.logFile}
	}
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	o.logger = logger
	return nil
}

func (o *options) loadConfig() (config.Config, string, error) {
	path, err := config.GetConfigPath(o.configPath)
	if err != nil {
		return config.Config{}, "", fmt.Errorf("error determining config path: %w", err)
	}
	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		return config.Config{}, path, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{logger: zap.NewNop()}
	var (
		serverMode bool
		port       int
	)

	root := &cobra.Command{
		Use:   "sponsorcoin",
		Short: "SponsorCoin exchange context: wallet, network and panel state",
		Long: `sponsorcoin keeps the exchange context of a SponsorCoin session in sync with
the connected wallet: the application network, the role accounts and the
panel layout. The state is persisted between runs.

Run without arguments to start the terminal interface. The HTTP API runs
alongside it, or on its own with --server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initLogger(cmd == cmd.Root() && !serverMode)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = opts.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = cfg.ServerPort
			}
			return runApp(cmd.Context(), cmd.OutOrStdout(), cfg, opts.logger, serverMode, port)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file (default $HOME/"+config.ConfigFileName+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "write logs to this file")
	root.Flags().BoolVar(&serverMode, "server", false, "run in headless server mode")
	root.Flags().IntVarP(&port, "port", "p", 8080, "port for the API server (0 disables it alongside the terminal UI)")

	root.AddCommand(
		newCheckCmd(opts),
		newStateCmd(opts),
		newResetCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

func runApp(ctx context.Context, out io.Writer, cfg config.Config, logger *zap.Logger, headless bool, port int) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		a.close()
	}()
	a.start(ctx)

	srv := server.NewServer(a.store, a.controller, logger)
	if headless {
		_, _ = fmt.Fprintf(out, "Running in server mode on port %d...\n", port)
		return srv.Start(ctx, port)
	}
	if port > 0 {
		go func() {
			if err := srv.Start(ctx, port); err != nil {
				logger.Error("Server error", zap.Error(err))
			}
		}()
	}
	return tui.Start(a.store, a.controller, Version)
}

// --- check ---

type probeReport struct {
	URL       string `json:"url"`
	Status    string `json:"status"`
	ChainID   int64  `json:"chain_id,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
	Supported bool   `json:"supported"`
}

type checkReport struct {
	ConfigPath string        `json:"config_path"`
	Wallet     probeReport   `json:"wallet"`
	Balance    *probeReport  `json:"balance,omitempty"`
	Metadata   metadataCheck `json:"metadata"`
	OK         bool          `json:"ok"`
}

type metadataCheck struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func newCheckCmd(opts *options) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the wallet RPC, balance RPC and metadata endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			report := runChecks(cmd.Context(), cfg, path)

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(out, report)
			}
			if !report.OK {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
	return cmd
}

func probe(ctx context.Context, url string, cfg config.Config) probeReport {
	res := rpc.Probe(ctx, url)
	r := probeReport{
		URL:       res.URL,
		ChainID:   res.ChainID,
		LatencyMS: res.Latency.Milliseconds(),
		Status:    "ok",
	}
	if res.Err != nil {
		r.Status = "error"
		r.Error = res.Err.Error()
		return r
	}
	r.Supported = tableFor(cfg).Supported(res.ChainID)
	return r
}

func runChecks(ctx context.Context, cfg config.Config, path string) checkReport {
	report := checkReport{ConfigPath: path, OK: true}

	report.Wallet = probe(ctx, cfg.WalletRPCURL, cfg)
	if report.Wallet.Status != "ok" {
		report.OK = false
	}
	if url := cfg.BalanceURL(); url != cfg.WalletRPCURL {
		b := probe(ctx, url, cfg)
		report.Balance = &b
		if b.Status != "ok" {
			report.OK = false
		}
	}

	client := rpc.NewMetadataClient(cfg.MetadataURL)
	report.Metadata.URL = client.URL(probeAddress)
	mctx, cancel := context.WithTimeout(ctx, cfg.HydrationTimeoutDuration())
	defer cancel()
	_, err := client.FetchMetadata(mctx, probeAddress)
	switch {
	case err == nil:
		report.Metadata.Status = "ok"
	case errors.Is(err, hydrate.ErrNotFound):
		// The endpoint answered; there is just no document for the probe address.
		report.Metadata.Status = "reachable"
	default:
		report.Metadata.Status = "error"
		report.Metadata.Error = err.Error()
		report.OK = false
	}
	return report
}

func printReport(out io.Writer, r checkReport) {
	_, _ = fmt.Fprintf(out, "Testing configuration at: %s\n", r.ConfigPath)
	line := func(label string, p probeReport) {
		if p.Status != "ok" {
			_, _ = fmt.Fprintf(out, "  %s RPC: %s ... Failed: %s\n", label, p.URL, p.Error)
			return
		}
		note := ""
		if !p.Supported {
			note = " - UNSUPPORTED NETWORK"
		}
		_, _ = fmt.Fprintf(out, "  %s RPC: %s ... OK (ChainID: %d, %dms)%s\n", label, p.URL, p.ChainID, p.LatencyMS, note)
	}
	line("Wallet", r.Wallet)
	if r.Balance != nil {
		line("Balance", *r.Balance)
	}
	if r.Metadata.Error != "" {
		_, _ = fmt.Fprintf(out, "  Metadata: %s ... Failed: %s\n", r.Metadata.URL, r.Metadata.Error)
	} else {
		_, _ = fmt.Fprintf(out, "  Metadata: %s ... %s\n", r.Metadata.URL, r.Metadata.Status)
	}
}

// --- state / reset ---

func newStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the sanitized persisted exchange state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			p, err := openPersister(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			st := store.New(tableFor(cfg), readOnly{p}, store.WithLogger(opts.logger))
			defer func() { _ = st.Close(context.Background()) }()
			st.Load(cmd.Context())

			data, err := codec.Serialize(st.GetState())
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, data, "", "  "); err != nil {
				return err
			}
			buf.WriteByte('\n')
			_, err = buf.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
}

// readOnly loads through the wrapped store and drops writes.
type readOnly struct{ persist.Persister }

func (readOnly) Save(context.Context, []byte) error { return nil }

func newResetCmd(opts *options) *cobra.Command {
	var restore bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the persisted exchange state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			p, err := openPersister(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			if restore {
				fs, ok := p.(*persist.FileStore)
				if !ok {
					return fmt.Errorf("--restore needs the %q store backend", config.BackendFile)
				}
				if err := fs.RestoreBackup(); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Previous state restored.")
				return nil
			}
			if err := p.Clear(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Persisted state cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "restore the previous state snapshot instead of clearing")
	return cmd
}

// --- config ---

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write the effective configuration, creating a backup of any existing file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, path, err := opts.loadConfig()
				if err != nil {
					return err
				}
				if err := config.SaveConfig(cfg, path); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "restore",
			Short: "Restore the most recent configuration backup",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := config.GetConfigPath(opts.configPath)
				if err != nil {
					return err
				}
				if err := config.RestoreLastBackup(path); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration restored at %s\n", path)
				return nil
			},
		},
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sponsorcoin version %s\n", Version)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
