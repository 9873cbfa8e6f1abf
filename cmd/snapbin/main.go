// snapbin is an anonymous image and paste upload server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/snapbin/snapbin/internal/config"
	"github.com/snapbin/snapbin/internal/listen"
	"github.com/snapbin/snapbin/internal/metrics"
	"github.com/snapbin/snapbin/internal/ratelimit"
	"github.com/snapbin/snapbin/internal/server"
	"github.com/snapbin/snapbin/internal/store"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

// shutdownTimeout bounds how long in-flight requests may finish after a
// termination signal.
const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "snapbin",
		Short: "snapbin - anonymous image and paste hosting",
		Long: `snapbin accepts anonymous image, video, and text uploads over HTTP and
serves them back under short generated links. Old uploads are deleted to
make room once a configured cap is reached.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload server",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("snapbin %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	exampleConfigCmd := &cobra.Command{
		Use:   "example-config",
		Short: "Print a commented example configuration",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(config.Example())
		},
	}
	rootCmd.AddCommand(exampleConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// nolint:revive // args required by cobra.Command RunE signature
func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	m := metrics.New()

	images, err := store.New(store.Config{
		Dir:       cfg.Images.Dir,
		MaxSize:   cfg.Images.MaxSize.Bytes(),
		MaxCount:  cfg.Images.MaxCount,
		Evictions: m.EvictionsTotal.WithLabelValues("image"),
	})
	if err != nil {
		return fmt.Errorf("open image store: %w", err)
	}
	defer images.Close()

	pastes, err := store.New(store.Config{
		Dir:       cfg.Pastes.Dir,
		MaxSize:   cfg.Pastes.MaxSize.Bytes(),
		MaxCount:  cfg.Pastes.MaxCount,
		Evictions: m.EvictionsTotal.WithLabelValues("paste"),
	})
	if err != nil {
		return fmt.Errorf("open paste store: %w", err)
	}
	defer pastes.Close()

	var gate *ratelimit.Gate
	trustHeaders := false
	if cfg.RateLimit != nil {
		gate, err = ratelimit.New(cfg.RateLimit.Period(), cfg.RateLimit.Burst, cfg.RateLimit.Buckets)
		if err != nil {
			return fmt.Errorf("build rate limiter: %w", err)
		}
		trustHeaders = cfg.RateLimit.TrustProxyHeaders()
	}

	srv := server.New(server.Config{
		Images:       images,
		Pastes:       pastes,
		Gate:         gate,
		TrustHeaders: trustHeaders,
		LinkPrefix:   strings.TrimSuffix(cfg.LinkPrefix, "/"),
		Metrics:      m,
	})

	ln, err := listen.Listen(cfg.Listen)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.Info().Str("version", Version).Str("listen", cfg.Listen).Msg("snapbin started")

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown did not complete cleanly")
	}
	return nil
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
