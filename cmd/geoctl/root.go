package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/geoposition-service/internal/config"
	"github.com/couchcryptid/geoposition-service/internal/geo"
	"github.com/couchcryptid/geoposition-service/internal/locate"
	"github.com/couchcryptid/geoposition-service/internal/observability"
	"github.com/couchcryptid/geoposition-service/internal/provider"
	"github.com/couchcryptid/geoposition-service/internal/transport"
)

var (
	envFile          string
	locationProvider string
	timeout          time.Duration
	verbose          bool
)

var rootCmd = &cobra.Command{
	Use:   "geoctl",
	Short: "resolve positions, IP addresses and places",
	Long: `
geoctl drives the geolocation and geocoding provider chains configured for the
geoposition service. Provider credentials and overrides are read from the
environment, optionally seeded from an env file.
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file to load before reading configuration")
	rootCmd.PersistentFlags().StringVar(&locationProvider, "location-provider", "", "preferred location provider (default from LOCATION_PROVIDER)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the command")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log provider selection and requests to stderr")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newGeo builds the facade from configuration. Logs go to stderr so stdout
// stays machine readable.
func newGeo() (*geo.Geo, *config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.DiscardLogger()
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	metrics := observability.NewMetrics()

	t := transport.NewHTTP(geo.TransportConfig(cfg, logger), logger, metrics)
	g := geo.Build(cfg, t, logger, metrics)

	name := cfg.LocationProvider
	if locationProvider != "" {
		name = locationProvider
	}
	if err := g.Init(provider.Named[locate.Provider](name)); err != nil {
		return nil, nil, err
	}
	return g, cfg, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
