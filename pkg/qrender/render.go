// Package qrender turns a finished run into the text shown to the operator.
package qrender

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qstage"
)

// ErrNotTerminal is returned when asked to render a run that has not finished.
var ErrNotTerminal = errors.New("run has not reached a terminal status")

// Risk bands applied to the probability.
const (
	RiskLow        = "Low"
	RiskBorderline = "Borderline"
	RiskHigh       = "High"
)

// RiskBand classifies p: below 0.3 Low, below 0.6 Borderline, otherwise High.
func RiskBand(p float64) string {
	switch {
	case p < 0.3:
		return RiskLow
	case p < 0.6:
		return RiskBorderline
	default:
		return RiskHigh
	}
}

// Percent formats a probability with one decimal, 0.42 → "42.0%".
func Percent(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}

type options struct {
	transportErr error
	maxFactors   int
}

// Option tunes Render.
type Option func(*options)

// WithTransportError reports a client-side polling failure for a FAILED run.
func WithTransportError(err error) Option {
	return func(o *options) { o.transportErr = err }
}

// WithMaxFactors limits how many ranked factors are printed; 0 prints all.
func WithMaxFactors(n int) Option {
	return func(o *options) { o.maxFactors = n }
}

// Render produces the final report for a terminal run. The output depends
// only on its inputs and run is never modified.
func Render(run *qrun.Run, c *qstage.Catalog, opts ...Option) ([]byte, error) {
	if run == nil || !run.Status.IsTerminal() {
		return nil, ErrNotTerminal
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Run %s %s\n", run.RunID, run.Status)

	switch run.Status {
	case qrun.StatusDataMissing:
		renderMissing(&buf, run)
	case qrun.StatusFailed:
		renderFailed(&buf, run, c, o)
	case qrun.StatusCompleted:
		renderCompleted(&buf, run, c, o)
	}
	return buf.Bytes(), nil
}

func renderMissing(buf *bytes.Buffer, run *qrun.Run) {
	buf.WriteString("\nMissing required fields\n")
	if len(run.MissingRequired) == 0 {
		buf.WriteString("  (none reported)\n")
		return
	}
	for _, name := range run.MissingRequired {
		fmt.Fprintf(buf, "  - %s\n", name)
	}
}

func renderFailed(buf *bytes.Buffer, run *qrun.Run, c *qstage.Catalog, o options) {
	w := tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w)
	if c != nil {
		for _, ss := range qstage.Ordered(qstage.DeriveStageStates(run, c), c) {
			if ss.State == qstage.Failed {
				fmt.Fprintf(w, "Failed stage\t%s\n", ss.Stage.Label)
				break
			}
		}
	}
	switch {
	case o.transportErr != nil:
		fmt.Fprintf(w, "Error\tlost contact with the service: %v\n", o.transportErr)
	case run.Error != "":
		fmt.Fprintf(w, "Error\t%s\n", run.Error)
	default:
		fmt.Fprintf(w, "Error\tthe service reported a failure without details\n")
	}
	w.Flush()
}

func renderCompleted(buf *bytes.Buffer, run *qrun.Run, c *qstage.Catalog, o options) {
	w := tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w)
	if run.Result == nil {
		fmt.Fprintln(w, "Result\tnot provided")
		w.Flush()
		return
	}
	res := run.Result
	fmt.Fprintf(w, "Probability\t%s\n", Percent(res.Probability))
	band := RiskBand(res.Probability)
	if res.Label != "" && !strings.EqualFold(res.Label, band) {
		band = fmt.Sprintf("%s (service: %s)", band, res.Label)
	}
	fmt.Fprintf(w, "Risk\t%s\n", band)
	if res.GeneratedAt != "" {
		fmt.Fprintf(w, "Generated\t%s\n", res.GeneratedAt)
	}
	w.Flush()

	if len(res.Submodels) > 0 {
		names := make([]string, 0, len(res.Submodels))
		for name := range res.Submodels {
			names = append(names, name)
		}
		sort.Strings(names)
		buf.WriteString("\nSub-models\n")
		w = tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
		for _, name := range names {
			fmt.Fprintf(w, "  %s\t%s\n", name, Percent(res.Submodels[name]))
		}
		w.Flush()
	}

	factors := Factors(run, c)
	if o.maxFactors > 0 && len(factors) > o.maxFactors {
		factors = factors[:o.maxFactors]
	}
	if len(factors) > 0 {
		buf.WriteString("\nFactors by impact\n")
		w = tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
		for i, f := range factors {
			fmt.Fprintf(w, "  %d.\t%s\tbase %s\tperturbed %s\t%+.1f pp\t\n",
				i+1, f.Feature, literal(f.Base), literal(f.Perturbed), f.Delta*100)
		}
		w.Flush()
	}

	if overlays := Overlays(run, c); len(overlays) > 0 {
		buf.WriteString("\nOverlays\n")
		w = tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
		for _, ov := range overlays {
			fmt.Fprintf(w, "  %s/%s\t%s\t%dx%d\t%s\n",
				ov.Stage, ov.Name, ov.Format, ov.Width, ov.Height, humanize.Bytes(uint64(len(ov.Data))))
		}
		w.Flush()
	}
}

func literal(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "null"
	}
	return s
}
