// Package report renders the outcome of a search for humans. It only formats
// what the search returns and never changes it.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/HatiCode/oceanquake/pkg/preprocess"
	"github.com/HatiCode/oceanquake/pkg/tuner"
)

// Write prints the best configuration, the rebuilt model summary, every
// trial and the completed/failed counts. scalers may be nil.
func Write(w io.Writer, res *tuner.Result, scalers preprocess.ChannelScalers) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Search session %s: %d trials, stopped on %s after %s\n\n",
		res.Session, len(res.Trials), res.StopReason, res.Elapsed.Round(time.Millisecond))

	if len(scalers) > 0 {
		b.WriteString("Channel scalers (fit on training partition)\n")
		tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "channel\tmin\tmax\t")
		for c, s := range scalers {
			note := ""
			if s.Degenerate() {
				note = "degenerate"
			}
			fmt.Fprintf(tw, "%d\t%.6g\t%.6g\t%s\n", c, s.Min, s.Max, note)
		}
		tw.Flush()
		b.WriteString("\n")
	}

	if res.Best == nil {
		b.WriteString("No trial completed.\n\n")
	} else {
		fmt.Fprintf(&b, "Best trial %s: val_accuracy %.4f (epoch %d)\n", res.Best.ID, res.Best.Score, res.Best.BestEpoch)
		tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		for _, p := range res.Best.Config.Params() {
			fmt.Fprintf(tw, "  %s\t%v\n", p.Name, p.Value)
		}
		tw.Flush()
		b.WriteString("\n")

		if res.Model != nil {
			b.WriteString(res.Model.Summary())
			b.WriteString("\n")
		}
	}

	b.WriteString("Trials\n")
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "id\tconfiguration\tresult\tduration\tsource")
	for _, t := range res.Trials {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Config.Key(), result(t), t.Duration.Round(time.Millisecond), source(t))
	}
	tw.Flush()

	fmt.Fprintf(&b, "\nCompleted: %d  Failed: %d\n", res.Completed, res.Failed)

	_, err := io.WriteString(w, b.String())
	return err
}

func result(t tuner.Trial) string {
	if t.Completed() {
		return fmt.Sprintf("%.4f", t.Score)
	}
	if t.Message == "" {
		return fmt.Sprintf("failed (%s)", t.Reason)
	}
	return fmt.Sprintf("failed (%s): %s", t.Reason, firstLine(t.Message))
}

func source(t tuner.Trial) string {
	if t.Guided {
		return "guided"
	}
	return "random"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
