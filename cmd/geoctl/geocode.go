package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
)

var geocodeFlags struct {
	address  string
	lat, lon float64
	ip       string
	provider string
}

// resolution is what geocode and batch print for each position.
type resolution struct {
	Position *domain.Position  `json:"position"`
	Role     domain.GeocodeRole `json:"role,omitempty"`
	Result   any                `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Resolve an address, coordinates or an IP address",
	Long: `Builds a position from the flags and geocodes it once. Coordinates are
reverse geocoded, an address is forward geocoded and an IP address is located.
When several are given coordinates win over the address, and the address wins
over the IP.`,
	Example: `  geoctl geocode --lat 40.7128 --lon -74.0060
  geoctl geocode --address "Congress Avenue, Austin" --provider nominatim
  geoctl geocode --ip 8.8.8.8`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		payload := domain.Payload{}
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
				return errors.New("--lat and --lon must be given together")
			}
			payload["latitude"] = geocodeFlags.lat
			payload["longitude"] = geocodeFlags.lon
		}
		if geocodeFlags.address != "" {
			payload["formatted"] = geocodeFlags.address
		}
		if geocodeFlags.ip != "" {
			payload["ip"] = geocodeFlags.ip
		}
		if len(payload) == 0 {
			return errors.New("one of --address, --lat/--lon or --ip is required")
		}

		g, _, err := newGeo()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		var opts []geocode.Option
		if geocodeFlags.provider != "" {
			opts = append(opts, geocode.WithProvider(geocodeFlags.provider))
		}

		pos := domain.NewPosition(payload)
		res, err := g.Resolve(ctx, pos, opts...)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resolution{Position: pos, Role: res.Role, Result: res.Data})
	},
}

func init() {
	f := geocodeCmd.Flags()
	f.StringVar(&geocodeFlags.address, "address", "", "free-form address to forward geocode")
	f.Float64Var(&geocodeFlags.lat, "lat", 0, "latitude to reverse geocode")
	f.Float64Var(&geocodeFlags.lon, "lon", 0, "longitude to reverse geocode")
	f.StringVar(&geocodeFlags.ip, "ip", "", "IP address to locate")
	f.StringVar(&geocodeFlags.provider, "provider", "", "preferred geocoding provider for the role")

	rootCmd.AddCommand(geocodeCmd)
}
