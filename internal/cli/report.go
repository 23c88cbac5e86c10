package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/patrykstefanski/async-bench/internal/jsonpath"
	"github.com/patrykstefanski/async-bench/internal/model"
	"github.com/patrykstefanski/async-bench/internal/output"
	"github.com/patrykstefanski/async-bench/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report [RESULTS-FILE...]",
	Short: "Show stored benchmark results",
	Long: `Show results from an SQLite database or from results files.

With --field only the given values of every result are printed. Fields are
JSONPath expressions over the JSON form of a result.

Examples:
  async-bench report --db results.db --suite nightly --limit 20
  async-bench report results.json --field $.rate --field $.latency.q0_99`,
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	suite, _ := cmd.Flags().GetString("suite")
	limit, _ := cmd.Flags().GetInt("limit")
	fields, _ := cmd.Flags().GetStringArray("field")
	formatName, _ := cmd.Flags().GetString("format")

	if dbPath == "" && len(args) == 0 {
		return errors.New("either --db or at least one results file is required")
	}
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}

	var results []*model.Result
	if dbPath != "" {
		st, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return err
		}
		defer st.Close()

		results, err = st.ListResults(cmd.Context(), suite, limit)
		if err != nil {
			return err
		}
	}

	for _, path := range args {
		f, err := store.ReadJSON(path)
		if err != nil {
			return err
		}
		for _, r := range f.Results {
			if suite == "" || r.Suite == suite {
				results = append(results, r)
			}
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	if len(fields) > 0 {
		return printFields(cmd.OutOrStdout(), results, fields)
	}
	return output.WriteResults(cmd.OutOrStdout(), format, results, stdoutColors(cmd))
}

// printFields prints the values at paths for every result. Missing values
// are printed as "-".
func printFields(w io.Writer, results []*model.Result, paths []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SERVER\tBENCHMARK\t%s\n", strings.Join(paths, "\t"))

	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode result %s: %w", r.ID, err)
		}

		values := make([]string, len(paths))
		for i, path := range paths {
			v, err := jsonpath.Extract(string(data), path)
			switch {
			case errors.Is(err, jsonpath.ErrNotFound):
				v = "-"
			case err != nil:
				return err
			}
			values[i] = v
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Server, r.Benchmark, strings.Join(values, "\t"))
	}
	return tw.Flush()
}

func init() {
	reportCmd.Flags().String("db", "", "SQLite database to read results from")
	reportCmd.Flags().String("suite", "", "only show results of this suite")
	reportCmd.Flags().Int("limit", 0, "show at most this many results, 0 shows all")
	reportCmd.Flags().StringArray("field", nil, "JSONPath of a value to print, repeatable")
	reportCmd.Flags().String("format", string(output.FormatText), "output format (text, json, yaml, html)")
}
