// Package cli renders command output for the vaultsearch binary.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperjump/vaultsearch/internal/models"
	"github.com/hyperjump/vaultsearch/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is an aligned human-readable table (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one tab-separated line per item, for piping into other tools.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is indented JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// maxPathWidth caps the path column in text output.
const maxPathWidth = 80

// ParseOutputFormat validates a --format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, compact or json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes ranked search hits.
func WriteSearchResults(w io.Writer, results []models.SearchResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if results == nil {
			results = []models.SearchResult{}
		}
		return writeJSON(w, models.SearchResponse{Results: results})
	case OutputCompact:
		for _, r := range results {
			if _, err := fmt.Fprintf(w, "%.4f\t%s\n", r.Score, r.Path); err != nil {
				return err
			}
		}
		return nil
	default:
		if len(results) == 0 {
			_, err := fmt.Fprintln(w, "No results.")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tSCORE\tPATH")
		for i, r := range results {
			fmt.Fprintf(tw, "%d.\t%.4f\t%s\n", i+1, r.Score, utils.Truncate(r.Path, maxPathWidth))
		}
		return tw.Flush()
	}
}

// WriteVector writes an embedding.
func WriteVector(w io.Writer, vec []float32, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, models.EmbedResponse{Vector: vec})
	case OutputCompact:
		parts := make([]string, len(vec))
		for i, v := range vec {
			parts[i] = fmt.Sprintf("%g", v)
		}
		_, err := fmt.Fprintln(w, strings.Join(parts, " "))
		return err
	default:
		head := vec
		if len(head) > 8 {
			head = head[:8]
		}
		parts := make([]string, len(head))
		for i, v := range head {
			parts[i] = fmt.Sprintf("%.4f", v)
		}
		more := ""
		if len(vec) > len(head) {
			more = ", ..."
		}
		_, err := fmt.Fprintf(w, "dimensions: %d\nvector: [%s%s]\n", len(vec), strings.Join(parts, ", "), more)
		return err
	}
}

// WriteModels writes the model names offered by the provider, marking the selected one.
func WriteModels(w io.Writer, names []string, selected string, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if names == nil {
			names = []string{}
		}
		return writeJSON(w, map[string]interface{}{"models": names, "selected": selected})
	case OutputCompact:
		for _, n := range names {
			if _, err := fmt.Fprintln(w, n); err != nil {
				return err
			}
		}
		return nil
	default:
		if len(names) == 0 {
			_, err := fmt.Fprintln(w, "No models installed.")
			return err
		}
		for _, n := range names {
			mark := " "
			if n == selected {
				mark = "*"
			}
			if _, err := fmt.Fprintf(w, "%s %s\n", mark, n); err != nil {
				return err
			}
		}
		return nil
	}
}

// WriteRun writes the summary of a reconcile or rebuild.
func WriteRun(w io.Writer, run *models.RunResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, run)
	case OutputCompact:
		_, err := fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n", run.ID, run.Kind,
			run.Total, run.Stale, run.Indexed, run.Skipped, run.Failed, run.Pruned)
		return err
	default:
		_, err := fmt.Fprintf(w, "%s %s in %s: %d documents, %d stale, %d indexed, %d skipped, %d failed, %d pruned\n",
			run.Kind, shortID(run.ID), run.Duration().Round(time.Millisecond),
			run.Total, run.Stale, run.Indexed, run.Skipped, run.Failed, run.Pruned)
		return err
	}
}

// WriteStatus writes index status, plus the documents whose last embed failed and
// the most recent sync runs, newest first.
func WriteStatus(w io.Writer, status *models.StatusResponse, failures []*models.SyncFailure, runs []*models.RunResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if failures == nil {
			failures = []*models.SyncFailure{}
		}
		if runs == nil {
			runs = []*models.RunResult{}
		}
		return writeJSON(w, struct {
			*models.StatusResponse
			Failures   []*models.SyncFailure `json:"failures"`
			RecentRuns []*models.RunResult   `json:"recent_runs"`
		}{status, failures, runs})
	case OutputCompact:
		_, err := fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", status.Entries, status.Dimensions,
			status.SizeBytes, status.Model, status.ProviderURL)
		return err
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		model := status.Model
		if model == "" {
			model = "(none selected)"
		}
		fmt.Fprintf(tw, "Entries:\t%d\n", status.Entries)
		fmt.Fprintf(tw, "Dimensions:\t%d\n", status.Dimensions)
		fmt.Fprintf(tw, "Index size:\t%s\n", formatBytes(int64(status.SizeBytes)))
		if status.DiskUsageBytes > 0 {
			fmt.Fprintf(tw, "Disk usage:\t%s\n", formatBytes(status.DiskUsageBytes))
		}
		fmt.Fprintf(tw, "Model:\t%s\n", model)
		fmt.Fprintf(tw, "Provider:\t%s\n", status.ProviderURL)
		if run := status.LastRun; run != nil {
			fmt.Fprintf(tw, "Last run:\t%s %s, %d indexed, %d failed (%s)\n", run.Kind,
				run.Finished.Local().Format(time.RFC3339), run.Indexed, run.Failed, shortID(run.ID))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if len(failures) > 0 {
			fmt.Fprintf(w, "\nFailed documents (%d):\n", len(failures))
			tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			for _, f := range failures {
				fmt.Fprintf(tw, "  %s\t%d attempt(s)\t%s\n", utils.Truncate(f.Path, maxPathWidth), f.Attempts, utils.Truncate(f.Error, 120))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}
		if len(runs) > 0 {
			fmt.Fprintln(w, "\nRecent runs:")
			tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "  STARTED\tKIND\tINDEXED\tFAILED\tPRUNED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%d\t%s\n", r.Started.Local().Format(time.RFC3339),
					r.Kind, r.Indexed, r.Failed, r.Pruned, r.Duration().Round(time.Millisecond))
			}
			return tw.Flush()
		}
		return nil
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
