package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/traderscore/internal/loadgen"
)

var (
	loadURL       string
	loadTraders   int
	loadBatchSize int
	loadWorkers   int
	loadTimeout   time.Duration
	loadSeed      uint64
)

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Drive a running server with synthetic traders",
	Long: `Generate steady, gambling and pump-style traders, submit them in
concurrent batches to a running server, then check that rankings are densely
ranked by descending score and that every pump-style trader is flagged.

Examples:
  traderscore loadgen --traders 1000 --workers 8
  traderscore loadgen --url http://scores.internal:9080 --seed 7`,
	RunE: runLoadgen,
}

func init() {
	loadgenCmd.Flags().StringVar(&loadURL, "url", "", "Server base URL; defaults to the configured listen address on localhost")
	loadgenCmd.Flags().IntVar(&loadTraders, "traders", 200, "Number of traders to generate")
	loadgenCmd.Flags().IntVar(&loadBatchSize, "batch-size", 25, "Traders per batch request")
	loadgenCmd.Flags().IntVar(&loadWorkers, "workers", 4, "Concurrent batch submitters")
	loadgenCmd.Flags().DurationVar(&loadTimeout, "timeout", 30*time.Second, "Per-request timeout")
	loadgenCmd.Flags().Uint64Var(&loadSeed, "seed", 1, "Generator seed")
}

func runLoadgen(cmd *cobra.Command, _ []string) error {
	stats, err := loadgen.Run(cmd.Context(), loadgen.Config{
		BaseURL:   loadBaseURL(loadURL, cfg.Addr),
		Traders:   loadTraders,
		BatchSize: loadBatchSize,
		Workers:   loadWorkers,
		Timeout:   loadTimeout,
		Seed:      loadSeed,
	})
	if stats != nil {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "generated\t%d\n", stats.TradersGenerated)
		fmt.Fprintf(tw, "batches\t%d (%d failed)\n", stats.BatchesSubmitted, stats.BatchesFailed)
		fmt.Fprintf(tw, "validated\t%d\n", stats.TradersValidated)
		fmt.Fprintf(tw, "trader errors\t%d\n", stats.TraderErrors)
		fmt.Fprintf(tw, "dropped\t%d\n", stats.TradersDropped)
		fmt.Fprintf(tw, "checked\t%d\n", stats.TradersChecked)
		if stats.Duration > 0 {
			fmt.Fprintf(tw, "duration\t%s\n", stats.Duration.Round(time.Millisecond))
		}
		if ferr := tw.Flush(); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

// loadBaseURL turns a listen address such as ":9080" into a dialable URL.
func loadBaseURL(flag, addr string) string {
	if flag != "" {
		return flag
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
