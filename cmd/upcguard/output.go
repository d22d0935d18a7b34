package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/schema"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, r fileResult) {
	fmt.Fprintf(w, "== %s\n", r.Path)
	if r.err != nil {
		msg := r.err.Error()
		if core.IsUserFacing(r.err) {
			msg = core.FormatUserError(r.err)
		}
		fmt.Fprintf(w, "error: %s\n\n", msg)
		return
	}
	run := r.Run

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "analysis\t%s\n", run.ID)
	fmt.Fprintf(tw, "status\t%s\n", run.Status)
	if run.Format != "" {
		fmt.Fprintf(tw, "format\t%s\n", run.Format)
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(tw, "error\t%s\n", run.ErrorMessage)
	}
	if len(run.ColumnMapping) > 0 {
		fmt.Fprintf(tw, "mapping\t%s\n", formatMapping(run.ColumnMapping))
	}
	if run.Status == core.StatusCompleted {
		fmt.Fprintf(tw, "records\t%d (%d unique UPCs, %d products)\n", run.TotalRecords, run.UniqueUPCs, run.UniqueProducts)
		fmt.Fprintf(tw, "conflicts\t%d duplicate UPCs, %d multi-UPC products\n", run.DuplicateUPCs, run.MultiUPCProducts)
		if n := dropped(run); n > 0 || run.ParseErrors > 0 {
			fmt.Fprintf(tw, "skipped\t%d invalid records, %d unreadable rows\n", n, run.ParseErrors)
		}
	}
	tw.Flush()

	if run.Status == core.StatusNeedsMapping && run.Inference != nil {
		fmt.Fprintf(w, "columns could not be identified (confidence %.0f):\n", run.Inference.Confidence)
		for _, warn := range run.Inference.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn)
		}
		fmt.Fprintf(w, "header: %s\n", strings.Join(run.Header, ", "))
		fmt.Fprintf(w, "resume with: upcguard resume %s --mapping upc=<column>,sku=<column>\n", run.ID)
	}
	if r.Conflicts != nil && len(r.Conflicts.Conflicts) > 0 {
		fmt.Fprintln(w)
		printConflicts(w, r.Conflicts, false)
	}
	fmt.Fprintln(w)
}

func printConflicts(w io.Writer, page *core.ConflictPage, withSuggestions bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSEVERITY\tTYPE\tKEY\tCOST\tSTATUS\tDESCRIPTION")
	for _, c := range page.Conflicts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			c.Rank, c.Severity, c.Kind, c.Key, c.CostImpact, c.Status, c.Description)
	}
	tw.Flush()

	if withSuggestions {
		for _, c := range page.Conflicts {
			fmt.Fprintf(w, "\n%s (%s):\n", c.ID, c.Key)
			for _, s := range c.Suggestions {
				fmt.Fprintf(w, "  - %s\n", s)
			}
		}
	}
	if shown := page.Offset + len(page.Conflicts); shown < page.Total {
		fmt.Fprintf(w, "... %d of %d conflicts shown\n", shown, page.Total)
	}
}

func printRuns(w io.Writer, runs []*core.AnalysisRun) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tRECORDS\tCONFLICTS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.FileName, r.Status, r.TotalRecords, r.DuplicateUPCs+r.MultiUPCProducts,
			r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func formatMapping(m schema.Mapping) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[schema.Field(k)]
	}
	return strings.Join(parts, ",")
}

func dropped(run *core.AnalysisRun) int {
	n := 0
	for _, c := range run.DroppedRecords {
		n += c
	}
	return n
}
