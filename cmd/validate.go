package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	app "github.com/okian/traderscore/internal/app"
	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/pkg/logger"
)

var (
	validateInput  string
	validateFormat string
	rankPlatform   string
	rankLimit      int
	rankFormat     string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate traders from a JSON file",
	Long: `Run the validation pipeline over the traders in a JSON file and print
the results. The file holds either a list of traders or an object with a
"traders" list, each entry shaped like the POST /v1/validate body.

Examples:
  traderscore validate --input traders.json
  cat traders.json | traderscore validate --input - --format table`,
	RunE: runValidate,
}

var rankingsCmd = &cobra.Command{
	Use:   "rankings",
	Short: "Print stored rankings",
	Long: `Print ranked traders from the configured repository. Only useful with
persistent storage, since the in-memory store starts empty.`,
	RunE: runRankings,
}

func init() {
	validateCmd.Flags().StringVar(&validateInput, "input", "", "Path to the traders JSON file, or - for stdin")
	validateCmd.Flags().StringVar(&validateFormat, "format", "json", "Output format: json or table")
	_ = validateCmd.MarkFlagRequired("input")

	rankingsCmd.Flags().StringVar(&rankPlatform, "platform", "", "Restrict to one platform")
	rankingsCmd.Flags().IntVar(&rankLimit, "limit", 0, "Maximum rows; 0 uses max_rankings_limit")
	rankingsCmd.Flags().StringVar(&rankFormat, "format", "table", "Output format: json or table")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(validateFormat); err != nil {
		return err
	}
	inputs, err := readInputs(cmd.InOrStdin(), validateInput)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, cleanup, err := buildService(ctx, cfg, logger.Get())
	if err != nil {
		return err
	}
	defer cleanup()
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	res, err := svc.ValidateBatch(ctx, inputs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if validateFormat == "json" {
		return writeIndented(out, res)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRADER\tPLATFORM\tOVERALL\tFRAUD\tVERIFIED\tTRADES\tREASONS")
	for _, r := range res.Results {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.2f\t%.2f\t%d\t%s\n",
			r.Username, r.Platform, r.OverallScore, r.FraudScore, r.VerificationScore,
			r.Performance.TotalTrades, strings.Join(reasonCodes(r.FraudReasons), ","))
	}
	for _, e := range res.Errors {
		fmt.Fprintf(tw, "%s\t%s\terror\t\t\t\t%s\n", e.Username, e.Platform, e.Error)
	}
	return tw.Flush()
}

func runRankings(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(rankFormat); err != nil {
		return err
	}
	var platform model.Platform
	if rankPlatform != "" {
		p, err := model.ParsePlatform(rankPlatform)
		if err != nil {
			return err
		}
		platform = p
	}

	ctx := cmd.Context()
	svc, cleanup, err := buildService(ctx, cfg, logger.Get())
	if err != nil {
		return err
	}
	defer cleanup()
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	rows, err := svc.GetRankings(ctx, platform, rankLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rankFormat == "json" {
		return writeIndented(out, rows)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTRADER\tPLATFORM\tOVERALL\tFRAUD\tVERIFIED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.3f\t%.2f\t%.2f\n",
			r.Rank, r.TraderUsername, r.Platform, r.OverallScore, r.FraudScore, r.VerificationScore)
	}
	return tw.Flush()
}

func checkFormat(format string) error {
	if format != "json" && format != "table" {
		return fmt.Errorf("unknown format %q: use json or table", format)
	}
	return nil
}

// readInputs accepts a JSON list of traders or an object with a traders list.
func readInputs(stdin io.Reader, path string) ([]app.ValidationInput, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	var inputs []app.ValidationInput
	switch {
	case bytes.HasPrefix(raw, []byte("[")):
		err = json.Unmarshal(raw, &inputs)
	case bytes.HasPrefix(raw, []byte("{")):
		var wrapped struct {
			Traders []app.ValidationInput `json:"traders"`
		}
		err = json.Unmarshal(raw, &wrapped)
		inputs = wrapped.Traders
	default:
		return nil, errors.New("input must be a JSON list or object")
	}
	if err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if len(inputs) == 0 {
		return nil, errors.New("input holds no traders")
	}
	return inputs, nil
}

func reasonCodes(reasons []string) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if i := strings.IndexByte(r, ':'); i >= 0 {
			r = r[:i]
		}
		out = append(out, r)
	}
	return out
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
