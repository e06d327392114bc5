// Package main runs the mesh gateway: it opens the radio link, starts the
// file transfer and messaging managers and serves the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opd-ai/meshgate/api"
	"github.com/opd-ai/meshgate/archive"
	"github.com/opd-ai/meshgate/config"
	"github.com/opd-ai/meshgate/factory"
	"github.com/opd-ai/meshgate/file"
	"github.com/opd-ai/meshgate/messaging"
	"github.com/sirupsen/logrus"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take on exit.
const shutdownTimeout = 5 * time.Second

// CLIConfig holds command-line flags.
type CLIConfig struct {
	configDir string
	logLevel  string
	httpAddr  string
	help      bool
}

func parseCLIFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.configDir, "config", ".", "Directory containing meshgate.yaml and .env")
	flag.StringVar(&cli.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	flag.StringVar(&cli.httpAddr, "http", "", "Override HTTP listen address")
	flag.BoolVar(&cli.help, "help", false, "Show help message")

	flag.Parse()
	return cli
}

func printUsage() {
	fmt.Println("meshgate - mesh radio gateway")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Every config key can also be set from the environment, e.g.")
	fmt.Println("  MESHGATE_LINK_TYPE=serial MESHGATE_LINK_SERIAL_PORT=/dev/ttyACM0")
}

// applyOverrides copies non-empty flags over the loaded configuration.
func applyOverrides(cfg *config.Config, cli *CLIConfig) {
	if cli.logLevel != "" {
		cfg.Log.Level = cli.logLevel
	}
	if cli.httpAddr != "" {
		cfg.HTTP.Addr = cli.httpAddr
	}
}

func validateConfig(cfg *config.Config) error {
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr cannot be empty")
	}
	if cfg.Transfer.PacingInterval < 0 {
		return fmt.Errorf("transfer.pacing_interval cannot be negative")
	}
	if cfg.Transfer.StallTimeout < 0 {
		return fmt.Errorf("transfer.stall_timeout cannot be negative")
	}
	if cfg.Archive.Enabled && cfg.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when the archive is enabled")
	}
	return nil
}

// setupLogging configures the global logrus logger: a text formatter with
// full timestamps at debug level or when asked for, JSON otherwise.
func setupLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if level == logrus.DebugLevel || strings.EqualFold(cfg.Format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	logrus.SetOutput(os.Stdout)
	return nil
}

// setupSignalHandling cancels ctx on SIGINT or SIGTERM.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig.String()).Info("Received signal, shutting down")
		cancel()
	}()
}

// archiveOnComplete stores each assembled inbound file in store.
func archiveOnComplete(store *archive.Archive) file.CompleteFunc {
	return func(done *file.CompletedTransfer) {
		if _, err := store.Put(done); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "archiveOnComplete",
				"transfer_id": done.TransferID,
				"error":       err.Error(),
			}).Error("Failed to archive completed transfer")
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	link, err := factory.NewLinkFactory(cfg.Link).CreateTransport()
	if err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	defer link.Close()

	files := file.NewManager(link,
		file.WithPacingInterval(cfg.Transfer.PacingInterval),
		file.WithStallTimeout(cfg.Transfer.StallTimeout),
	)
	defer files.Close()

	files.OnProgress(func(id, count, total uint32, dir file.Direction) {
		logrus.WithFields(logrus.Fields{
			"transfer_id": id,
			"direction":   dir.String(),
			"count":       count,
			"total":       total,
		}).Debug("Transfer progress")
	})

	messages := messaging.NewManager(link, messaging.NewStore(messaging.DefaultCapacity))

	var store *archive.Archive
	if cfg.Archive.Enabled {
		store, err = archive.Open(cfg.Archive.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		files.OnComplete(archiveOnComplete(store))
	}

	server := api.New(api.Deps{
		Files:    files,
		Messages: messages,
		Link:     link,
		Archive:  store,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe(cfg.HTTP.Addr) }()

	logrus.WithFields(logrus.Fields{
		"function":  "run",
		"http_addr": cfg.HTTP.Addr,
		"link":      cfg.Link.Type,
		"node_id":   link.LocalAddr().String(),
	}).Info("Gateway running")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	cli := parseCLIFlags()
	if cli.help {
		printUsage()
		os.Exit(0)
	}

	cfg, err := config.Load(cli.configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, cli)

	if err := validateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}
	if err := setupLogging(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q: %v\n", cfg.Log.Level, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Error("Gateway stopped with error")
		os.Exit(1)
	}
	logrus.Info("Gateway stopped")
}
