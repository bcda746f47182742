package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/geoposition-service/internal/domain"
)

var (
	highAccuracy bool
	watchCount   int
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Print one position fix from the selected location provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		g, _, err := newGeo()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		pos, err := g.Locate(ctx, &domain.PositionOptions{EnableHighAccuracy: highAccuracy, Timeout: timeout})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), pos)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print position changes until interrupted",
	Long: `Polls the selected location provider and prints each position that differs
from the previous one. Stops on SIGINT, or after --count fixes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		g, _, err := newGeo()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		fixes := make(chan *domain.Position)
		id := g.WatchPosition(ctx,
			func(pos *domain.Position) {
				select {
				case fixes <- pos:
				case <-ctx.Done():
				}
			},
			func(err *domain.PositionError) { cancel(err) },
			&domain.PositionOptions{EnableHighAccuracy: highAccuracy, Timeout: timeout})
		if id == "" {
			<-ctx.Done()
			return context.Cause(ctx)
		}
		defer g.ClearWatch(id)

		for n := 0; watchCount <= 0 || n < watchCount; n++ {
			select {
			case pos := <-fixes:
				if err := printJSON(cmd.OutOrStdout(), pos); err != nil {
					return err
				}
			case <-ctx.Done():
				if cause := context.Cause(ctx); cause != ctx.Err() {
					return cause
				}
				return nil
			}
		}
		return nil
	},
}

var ipCmd = &cobra.Command{
	Use:   "ip",
	Short: "Print this host's public IP address",
	RunE: func(cmd *cobra.Command, _ []string) error {
		g, _, err := newGeo()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		ip, err := g.LookupIP(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), ip)
		return err
	},
}

func init() {
	locateCmd.Flags().BoolVar(&highAccuracy, "high-accuracy", false, "request a high accuracy fix")
	watchCmd.Flags().BoolVar(&highAccuracy, "high-accuracy", false, "request high accuracy fixes")
	watchCmd.Flags().IntVarP(&watchCount, "count", "n", 0, "stop after this many fixes (0 means no limit)")

	rootCmd.AddCommand(locateCmd, watchCmd, ipCmd)
}
