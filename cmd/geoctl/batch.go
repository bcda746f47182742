package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
	"github.com/couchcryptid/geoposition-service/internal/pipeline"
)

var (
	batchConcurrency int
	batchProvider    string
)

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Geocode one address or JSON position per line",
	Long: `Reads one position per line from file, or stdin when no file is given,
geocodes each once and writes one JSON result per line to stdout in input
order. A line is either a JSON position payload or a free-form address. Lines
that fail to decode or resolve are reported in the result's error field.

$ printf '%s\n' 'Congress Avenue, Austin' '{"latitude":30.2672,"longitude":-97.7431}' | geoctl batch`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		lines, err := readLines(in)
		if err != nil {
			return err
		}

		g, _, err := newGeo()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		var bar *progressbar.ProgressBar
		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar = progressbar.NewOptions(len(lines),
				progressbar.OptionSetDescription("Geocoding"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}

		var opts []geocode.Option
		if batchProvider != "" {
			opts = append(opts, geocode.WithProvider(batchProvider))
		}
		results := resolveAll(ctx, g, lines, batchConcurrency, bar, opts...)

		enc := json.NewEncoder(cmd.OutOrStdout())
		failed := 0
		for _, r := range results {
			if r.Error != "" {
				failed++
			}
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		if failed > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d positions failed\n", failed, len(results))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 4, "positions resolved in parallel")
	batchCmd.Flags().StringVar(&batchProvider, "provider", "", "preferred geocoding provider for every role")

	rootCmd.AddCommand(batchCmd)
}

// readLines returns the non-blank lines of r.
func readLines(r io.Reader) ([][]byte, error) {
	var lines [][]byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}

// resolveAll geocodes every line with at most concurrency in flight. The
// results keep the order of lines.
func resolveAll(ctx context.Context, r pipeline.Resolver, lines [][]byte, concurrency int, bar *progressbar.ProgressBar, opts ...geocode.Option) []resolution {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]resolution, len(lines))
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, line := range lines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			results[i] = resolveLine(ctx, r, line, opts...)
			if bar != nil {
				_ = bar.Add(1)
			}
		}()
	}
	wg.Wait()
	return results
}

// resolveLine treats a line starting with '{' as a position payload and
// anything else as an address.
func resolveLine(ctx context.Context, r pipeline.Resolver, line []byte, opts ...geocode.Option) resolution {
	payload := domain.Payload{"formatted": string(line)}
	if line[0] == '{' {
		payload = nil
		if err := json.Unmarshal(line, &payload); err != nil {
			return resolution{Error: fmt.Sprintf("decode position: %v", err)}
		}
	}
	pos := domain.NewPosition(payload)

	res, err := r.Resolve(ctx, pos, opts...)
	out := resolution{Position: pos, Role: res.Role, Result: res.Data}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
