// Package commands implements the pushtalk command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/pushtalk/internal/app"
	"github.com/MrWong99/pushtalk/internal/config"
	"github.com/MrWong99/pushtalk/internal/observe"
)

// Version is reported in telemetry. Set with -ldflags at build time.
var Version = "dev"

var (
	configPath string
	envFile    string
	channel    string
)

var rootCmd = &cobra.Command{
	Use:   "pushtalk",
	Short: "Push-to-talk channel client",
	Long: `Push-to-talk channel client.

Logs on to one channel over WebSocket and either listens, sends a text
message or streams audio into it.

Credentials are read from the environment:
  ZELLO_USERNAME, ZELLO_PASSWORD, ZELLO_TOKEN, ZELLO_CHANNEL

A .env file in the working directory is loaded first when present.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with credentials")
	rootCmd.PersistentFlags().StringVar(&channel, "channel", "", "channel to join (overrides ZELLO_CHANNEL)")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(talkCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// builder returns the task for a subcommand plus the options it needs, such
// as its sink or the closer of an opened file.
type builder func(cfg *config.Config) (app.Task, []app.Option, error)

// run loads configuration and credentials, sets up logging and telemetry,
// then runs the task built by b until it finishes or a signal arrives.
func run(cmd *cobra.Command, b builder) error {
	if err := config.LoadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	creds, err := config.LoadCredentials(lookupEnv)
	if err != nil {
		return err
	}

	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(os.Stderr, &level))

	providers, err := observe.InitProvider(observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	task, opts, err := b(cfg)
	if err != nil {
		_ = providers.Shutdown(context.Background())
		return err
	}
	opts = append(opts,
		app.WithGatherer(providers.Registry),
		app.WithCloser(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return providers.Shutdown(ctx)
		}),
	)
	if _, err := os.Stat(configPath); err == nil {
		opts = append(opts, app.WithConfigWatch(configPath, &level))
	}

	application, err := app.New(cfg, creds, opts...)
	if err != nil {
		_ = providers.Shutdown(context.Background())
		return err
	}

	slog.Info("pushtalk starting",
		"command", cmd.Name(),
		"url", cfg.Server.URL,
		"channel", creds.Channel,
		"telemetry", cfg.Telemetry.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runErr := application.Run(ctx, task)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// lookupEnv reads credentials from the environment, with --channel taking
// precedence over ZELLO_CHANNEL.
func lookupEnv(key string) (string, bool) {
	if key == config.EnvChannel && channel != "" {
		return channel, true
	}
	return os.LookupEnv(key)
}

// newLogger writes text logs to w. Logs go to stderr so stdout can carry
// audio.
func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openInput returns stdin for "-" and the opened file otherwise.
func openInput(path string) (io.Reader, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdin, nop, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, f.Close, nil
}

// openOutput returns stdout for "-" and a created file otherwise.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, nop, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

func nop() error { return nil }
