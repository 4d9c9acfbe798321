package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tanq16/parafetch/internal/config"
	"github.com/tanq16/parafetch/internal/output"
	"github.com/tanq16/parafetch/internal/scheduler"
	"github.com/tanq16/parafetch/internal/utils"
)

var (
	configPath    string
	dir           string
	filename      string
	connections   int
	noRedirects   bool
	chunkSize     string
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	headers       []string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	bearerToken   string
	awsProfile    string
	progress      string
	logFile       string
	debug         bool
)

var ParafetchVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "parafetch [URL...]",
	Short: "parafetch downloads files over several HTTP range requests at once",
	Long: `parafetch splits each download into up to 8 byte ranges fetched in parallel.

Examples:
  parafetch https://example.com/ubuntu.iso
  parafetch -c 4 -d isos https://example.com/a.iso https://example.com/b.iso
  parafetch s3://mybucket/path/to/file.zip --aws-profile work`,
	Version: ParafetchVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			os.Exit(1)
		}
		if filename != "" && len(args) > 1 {
			output.PrintError("--filename can only be used with a single URL")
			os.Exit(1)
		}
		jobs := make([]config.Entry, 0, len(args))
		for _, link := range args {
			jobs = append(jobs, config.Entry{Link: link, Filename: filename})
		}
		runJobs(cmd, jobs)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.StringVarP(&dir, "dir", "d", ".", "Directory to download into")
	flags.IntVarP(&connections, "connections", "c", config.Default().Connections, "Connections per download (1-8)")
	flags.BoolVar(&noRedirects, "no-redirects", false, "Do not follow HTTP redirects")
	flags.StringVar(&chunkSize, "chunk-size", "64KB", "Read size per part (eg. 64KB, 1MB)")
	flags.DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Connect timeout (eg. 5s, 1m)")
	flags.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for idle connections")
	flags.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom header like 'Authorization: Basic dXNlcjpwYXNz'; can be repeated")
	flags.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringVar(&bearerToken, "bearer-token", "", "Send an OAuth2 bearer token with every request")
	flags.StringVar(&awsProfile, "aws-profile", "default", "AWS profile for s3:// links")
	flags.StringVar(&progress, "progress", config.ProgressStatus, "Progress output: status, bar or none")
	flags.StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.Flags().StringVarP(&filename, "filename", "f", "", "Output file name (single URL only)")

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newPlanCmd())
}

// loadConfig layers defaults, the config file, PARAFETCH_* variables and the
// flags the user actually set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Dir = dir
	}
	if flags.Changed("connections") {
		cfg.Connections = connections
	}
	if flags.Changed("no-redirects") {
		cfg.FollowRedirects = !noRedirects
	}
	if flags.Changed("chunk-size") {
		size, err := utils.ParseBytes(chunkSize)
		if err != nil {
			return cfg, fmt.Errorf("--chunk-size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if flags.Changed("timeout") {
		cfg.ConnectTimeout = timeout
	}
	if flags.Changed("keep-alive-timeout") {
		cfg.KeepAliveTimeout = kaTimeout
	}
	if flags.Changed("user-agent") {
		cfg.UserAgent = userAgent
	}
	if len(headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		for k, v := range utils.ParseHeaderArgs(headers) {
			cfg.Headers[k] = v
		}
	}
	if flags.Changed("proxy") {
		cfg.Proxy = proxyURL
	}
	if flags.Changed("proxy-username") {
		cfg.ProxyUsername = proxyUsername
	}
	if flags.Changed("proxy-password") {
		cfg.ProxyPassword = proxyPassword
	}
	if flags.Changed("bearer-token") {
		cfg.BearerToken = bearerToken
	}
	if flags.Changed("aws-profile") {
		cfg.AWSProfile = awsProfile
	}
	if flags.Changed("progress") {
		cfg.Progress = progress
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if flags.Changed("debug") {
		cfg.Debug = debug
	}
	return cfg, cfg.Validate()
}

// setupLogging keeps log lines off a live display: they go to the log file
// when there is one, are silenced under the status view and reduced to
// errors next to plain bars.
func setupLogging(cfg config.Config) (func(), error) {
	utils.InitLogger(cfg.Debug)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		utils.SetLogOutput(f)
		return func() { f.Close() }, nil
	}
	if cfg.Debug {
		return func() {}, nil
	}
	switch cfg.Progress {
	case config.ProgressStatus:
		// failures are listed in the display's summary
		zerolog.SetGlobalLevel(zerolog.Disabled)
	case config.ProgressBar:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
	return func() {}, nil
}

func runJobs(cmd *cobra.Command, jobs []config.Entry) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	if cfg.Progress == config.ProgressStatus && !output.IsTerminal() {
		cfg.Progress = config.ProgressBar
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	outcomes, err := scheduler.Run(ctx, cfg, jobs, scheduler.Options{})
	if cfg.Progress == config.ProgressNone {
		for _, o := range outcomes {
			if o.Err == nil {
				output.PrintSuccess(fmt.Sprintf("Downloaded %s", o.Result.Path))
			}
		}
	}
	if err != nil {
		fmt.Println()
		output.PrintError(fmt.Sprintf("Encountered failed operation(s): %v", err))
		closeLog()
		stop()
		os.Exit(1)
	}
}
