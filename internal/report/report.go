// Package report renders the end-of-run summary for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/genoflow/genoflow/pkg/domain"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// Render writes a per-instance table followed by run totals.
func Render(w io.Writer, summary *domain.RunSummary) {
	fmt.Fprintf(w, "\n%s %s\n\n", bold("Run"), summary.RunID)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", bold("STAGE"), bold("SAMPLE"), bold("STATE"), bold("DURATION"), bold("DETAIL"))
	for _, rec := range summary.Instances {
		sample := rec.SampleID
		if sample == "" {
			sample = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.Node, sample, stateLabel(rec), durationLabel(rec), rec.Error)
	}
	tw.Flush()

	fmt.Fprintln(w)
	for _, sv := range sortedStarved(summary.StarvedJoins) {
		fmt.Fprintf(w, "%s join %s never completed for samples %v\n", yellow("warning:"), sv.node, sv.keys)
	}
	for _, f := range summary.Failures {
		fmt.Fprintf(w, "%s %s/%s: %s\n", red("failed:"), f.Node, f.SampleID, f.Reason)
	}

	fmt.Fprintf(w, "\n%s %s  %s %d samples, %d dispatched, %d from cache, %s elapsed\n",
		bold("Result:"), statusLabel(summary.Status),
		cyan("totals:"), summary.SampleCount, summary.Dispatched, summary.CacheHits,
		humanize.RelTime(summary.StartedAt, summary.StartedAt.Add(summary.Duration), "", ""))
}

func stateLabel(rec domain.InstanceRecord) string {
	switch rec.State {
	case domain.InstanceSucceeded:
		if rec.FromCache {
			return green("cached")
		}
		return green("succeeded")
	case domain.InstanceFailed:
		return red("failed")
	case domain.InstanceSkipped:
		return yellow("skipped")
	default:
		return string(rec.State)
	}
}

func durationLabel(rec domain.InstanceRecord) string {
	if rec.Duration <= 0 {
		return "-"
	}
	return rec.Duration.Round(time.Millisecond).String()
}

func statusLabel(status domain.RunStatus) string {
	if status == domain.RunSucceeded {
		return green(string(status))
	}
	return red(string(status))
}

type starved struct {
	node string
	keys []string
}

func sortedStarved(m map[string][]string) []starved {
	out := make([]starved, 0, len(m))
	for node, keys := range m {
		out = append(out, starved{node: node, keys: keys})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].node < out[j].node })
	return out
}
