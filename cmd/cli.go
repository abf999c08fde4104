package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/httpclient_benchmark/pkg/benchmark"
	"github.com/httpclient_benchmark/pkg/config"
	"github.com/httpclient_benchmark/pkg/logger"
	"github.com/httpclient_benchmark/pkg/output"
	"github.com/httpclient_benchmark/pkg/server"
	"github.com/httpclient_benchmark/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

// cliFlags holds the values bound to command line flags
type cliFlags struct {
	ConfigFile string
	Target     string

	Concurrency          int
	Requests             int
	Port                 int
	ContentBytesSize     int
	KeepAlive            bool
	ServerKeepAlive      int
	SocketTimeout        int
	ConnectTimeout       int
	Host                 string
	Client               string
	ServerMaxConnections int
	MetricsAddr          string
	LogLevel             string
	Quiet                bool
	Histogram            bool
	OutputFormat         string
	OutputFile           string
}

type cli struct {
	stdout io.Writer
	stderr io.Writer
	lookup config.LookupFunc
	flags  cliFlags
}

// newRootCmd builds the command tree. lookup is os.LookupEnv outside tests.
func newRootCmd(stdout, stderr io.Writer, lookup config.LookupFunc) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr, lookup: lookup}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "httpbench",
		Short:         "httpbench measures HTTP client throughput against a controlled server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(c.stdout)
	rootCmd.SetErr(c.stderr)

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the benchmark server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.resolveConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return c.runServer(cmd.Context(), cfg)
		},
	}
	c.addServerFlags(serverCmd.Flags())

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark, against an embedded server unless --target is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.resolveConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return c.runBenchmark(cmd.Context(), cfg)
		},
	}
	c.addServerFlags(runCmd.Flags())
	c.addClientFlags(runCmd.Flags())

	clientsCmd := &cobra.Command{
		Use:   "clients",
		Short: "List the available client transports",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range transport.Names() {
				fmt.Fprintln(c.stdout, name)
			}
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "httpbench version %s\n", version)
		},
	}

	rootCmd.AddCommand(serverCmd, runCmd, clientsCmd, versionCmd)
	return rootCmd
}

func (c *cli) addServerFlags(fs *pflag.FlagSet) {
	d := config.Defaults()
	fs.StringVar(&c.flags.ConfigFile, "config", "", "Path to a JSON or YAML configuration file")
	fs.IntVarP(&c.flags.Port, "port", "p", d.Port, "Server port (0 picks a free port)")
	fs.StringVar(&c.flags.Host, "host", d.Host, "Server bind host")
	fs.IntVarP(&c.flags.ContentBytesSize, "content-bytes-size", "s", d.ContentBytesSize, "Payload size in bytes")
	fs.IntVar(&c.flags.ServerKeepAlive, "server-keep-alive-millis", d.ServerKeepAliveMillis, "Server idle connection timeout in milliseconds")
	fs.IntVar(&c.flags.ServerMaxConnections, "max-connections", 0, "Cap on concurrent server connections (0 = unlimited)")
	fs.StringVar(&c.flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&c.flags.LogLevel, "log-level", d.LogLevel, "Log level: debug, info, warn or error")
}

func (c *cli) addClientFlags(fs *pflag.FlagSet) {
	d := config.Defaults()
	fs.StringVar(&c.flags.Target, "target", "", "Base URL of an already running server")
	fs.IntVarP(&c.flags.Concurrency, "concurrency", "c", d.Concurrency, "Number of concurrent requests")
	fs.IntVarP(&c.flags.Requests, "requests", "n", d.Requests, "Requests per timed phase")
	fs.BoolVar(&c.flags.KeepAlive, "keep-alive", d.KeepAliveScenario, "Reuse connections (false sends Connection: close)")
	fs.IntVar(&c.flags.SocketTimeout, "socket-timeout-millis", d.ClientSocketTimeoutMillis, "Client socket timeout in milliseconds")
	fs.IntVar(&c.flags.ConnectTimeout, "connect-timeout-millis", d.ClientConnectTimeoutMillis, "Client connect timeout in milliseconds")
	fs.StringVar(&c.flags.Client, "client", d.Client, "Client transport: "+strings.Join(transport.Names(), ", "))
	fs.StringVarP(&c.flags.OutputFormat, "output", "o", "", "Output format: console, json or csv")
	fs.StringVar(&c.flags.OutputFile, "output-file", "", "Output file path (default: stdout)")
	fs.BoolVarP(&c.flags.Quiet, "quiet", "q", false, "Only show the final summary")
	fs.BoolVar(&c.flags.Histogram, "histogram", false, "Show latency histograms in console output")
}

// resolveConfig layers defaults, the config file, BENCHMARK_* variables and
// explicitly set flags, in that order
func (c *cli) resolveConfig(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Defaults()

	if c.flags.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFile(c.flags.ConfigFile, cfg); err != nil {
			return cfg, err
		}
	}

	cfg, err := config.ApplyEnv(cfg, c.lookup)
	if err != nil {
		return cfg, err
	}

	f := c.flags
	overrides := map[string]func(){
		"concurrency":              func() { cfg.Concurrency = f.Concurrency },
		"requests":                 func() { cfg.Requests = f.Requests },
		"port":                     func() { cfg.Port = f.Port },
		"host":                     func() { cfg.Host = f.Host },
		"content-bytes-size":       func() { cfg.ContentBytesSize = f.ContentBytesSize },
		"keep-alive":               func() { cfg.KeepAliveScenario = f.KeepAlive },
		"server-keep-alive-millis": func() { cfg.ServerKeepAliveMillis = f.ServerKeepAlive },
		"socket-timeout-millis":    func() { cfg.ClientSocketTimeoutMillis = f.SocketTimeout },
		"connect-timeout-millis":   func() { cfg.ClientConnectTimeoutMillis = f.ConnectTimeout },
		"client":                   func() { cfg.Client = f.Client },
		"max-connections":          func() { cfg.ServerMaxConnections = f.ServerMaxConnections },
		"metrics-addr":             func() { cfg.MetricsAddr = f.MetricsAddr },
		"log-level":                func() { cfg.LogLevel = f.LogLevel },
		"quiet":                    func() { cfg.Quiet = f.Quiet },
		"histogram":                func() { cfg.Histogram = f.Histogram },
		"output":                   func() { cfg.Output.Format = f.OutputFormat },
		"output-file":              func() { cfg.Output.File = f.OutputFile },
	}
	fs.Visit(func(fl *pflag.Flag) {
		if apply, ok := overrides[fl.Name]; ok {
			apply()
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *cli) newLogger(cfg config.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logger.New(c.stderr, level), nil
}

func (c *cli) runServer(ctx context.Context, cfg config.Config) error {
	log, err := c.newLogger(cfg)
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.WithLogger(log))
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Benchmark server listening on %s\n", srv.URL())
	if addr := srv.MetricsAddr(); addr != "" {
		fmt.Fprintf(c.stdout, "Metrics on http://%s/metrics\n", addr)
	}

	select {
	case <-ctx.Done():
	case <-waitChan(srv):
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return srv.Wait()
}

func waitChan(srv *server.Server) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		_ = srv.Wait()
		close(done)
	}()
	return done
}

func (c *cli) runBenchmark(ctx context.Context, cfg config.Config) error {
	log, err := c.newLogger(cfg)
	if err != nil {
		return err
	}

	client, err := transport.New(cfg.Client, cfg)
	if err != nil {
		return err
	}
	if closer, ok := client.(io.Closer); ok {
		defer closer.Close()
	}

	baseURL := strings.TrimRight(c.flags.Target, "/")
	if baseURL == "" {
		srv := server.New(cfg, server.WithLogger(log))
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("cli", "%v", err)
			}
		}()
		baseURL = srv.URL()
	}

	quiet := cfg.IsQuietOutput()
	progressOut := io.Discard
	if !quiet {
		progressOut = c.stdout
		fmt.Fprintf(c.stdout, "Benchmarking %s with client %s (concurrency %d, requests %d, payload %d bytes, keep-alive %t)\n",
			baseURL, cfg.Client, cfg.Concurrency, cfg.Requests, cfg.ContentBytesSize, cfg.KeepAliveScenario)
	}

	runner := benchmark.NewRunner(cfg, client, baseURL,
		benchmark.WithLogger(log),
		benchmark.WithOutput(progressOut),
		benchmark.WithProgress(!quiet),
	)
	report, runErr := runner.Run(ctx)
	if report == nil {
		return runErr
	}

	if err := output.Write(report, cfg, c.stdout); err != nil {
		return err
	}
	return runErr
}
