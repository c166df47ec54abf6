package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Load the embedded tz database for hosts without zoneinfo.
	_ "time/tzdata"

	"github.com/hrygo/intentgate/ai/observability/logging"
	"github.com/hrygo/intentgate/internal/profile"
	"github.com/hrygo/intentgate/internal/version"
	"github.com/hrygo/intentgate/server"
)

var (
	rootCmd = &cobra.Command{
		Use:   "intentgate",
		Short: `A cost-bounded classification gateway in front of LLM intent backends.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units provide their environment through EnvironmentFile.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.StringFull())
		},
	}
)

// loadProfile builds the profile from flags, then the environment.
func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:         viper.GetString("mode"),
		Addr:         viper.GetString("addr"),
		Port:         viper.GetInt("port"),
		Data:         viper.GetString("data"),
		Driver:       viper.GetString("driver"),
		DSN:          viper.GetString("dsn"),
		BackendsFile: viper.GetString("backends"),
		LogLevel:     viper.GetString("log-level"),
		Version:      version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func runServe() {
	instanceProfile, err := loadProfile()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(instanceProfile.Mode, instanceProfile.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := newGateway(ctx, instanceProfile, logger)
	if err != nil {
		logger.Error("failed to create gateway", "error", err)
		os.Exit(1)
	}

	s, err := server.NewServer(ctx, instanceProfile, g.store, server.Deps{
		Classifier: g.ensemble,
		Usage:      g.limiter,
		Metrics:    g.exporter.Handler(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	signal.Notify(c, terminationSignals...)

	if err := s.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	if g.telegram != nil && instanceProfile.TelegramWebhookURL != "" {
		if err := g.telegram.SetWebhook(telegramWebhookURL(instanceProfile), false); err != nil {
			logger.Warn("failed to register telegram webhook", "error", err)
		}
	}

	printGreetings(instanceProfile, g.ensemble.Backends())

	go func() {
		<-c
		s.Shutdown(ctx)
		cancel()
	}()

	// Wait for CTRL-C.
	<-ctx.Done()
}

// telegramWebhookURL appends the webhook secret the server checks.
func telegramWebhookURL(p *profile.Profile) string {
	if p.TelegramWebhookSecret == "" {
		return p.TelegramWebhookURL
	}
	sep := "?"
	if strings.Contains(p.TelegramWebhookURL, "?") {
		sep = "&"
	}
	return p.TelegramWebhookURL + sep + "secret=" + p.TelegramWebhookSecret
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)
	viper.SetDefault("log-level", "info")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "store driver (memory, sqlite, postgres, dynamodb)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("backends", "", "YAML file declaring the classification backends")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn", "backends", "log-level"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("intentgate")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(serveCmd, classifyCmd, versionCmd)
}

func printGreetings(profile *profile.Profile, backends []string) {
	fmt.Printf("IntentGate %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Store driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	fmt.Printf("Backends: %s\n", strings.Join(backends, ", "))

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError prints a hint for common store connection failures.
func printDatabaseError(err error, profile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nStore connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintf(os.Stderr, "\n   The %s store is not reachable. For a single node run:\n", profile.Driver)
		fmt.Fprintf(os.Stderr, "   intentgate --driver=sqlite --data=./data\n")
	case strings.Contains(errMsg, "sslmode"):
		fmt.Fprintf(os.Stderr, "\n   Add ?sslmode=disable to your DSN.\n")
	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintf(os.Stderr, "\n   Check your credentials in the DSN or .env file.\n")
	case strings.Contains(errMsg, "ResourceNotFoundException"):
		fmt.Fprintf(os.Stderr, "\n   DynamoDB table %q does not exist in region %q.\n", profile.DynamoTable, profile.AWSRegion)
	default:
		fmt.Fprintf(os.Stderr, "\n   %s\n", errMsg)
	}
	fmt.Fprintln(os.Stderr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
