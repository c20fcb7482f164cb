package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/cache"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/executor"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/history"
	"github.com/charmbracelet/lipgloss"
)

var (
	accent  = lipgloss.Color("#8BC34A")
	danger  = lipgloss.Color("#E53935")
	warning = lipgloss.Color("#FFC107")
	subtle  = lipgloss.Color("#7A8699")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle   = lipgloss.NewStyle().Foreground(subtle)
	okStyle      = lipgloss.NewStyle().Foreground(accent)
	failStyle    = lipgloss.NewStyle().Foreground(danger).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	commandStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle).
			Padding(0, 1)
)

func field(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label+":"), value)
}

func renderExtraction(w io.Writer, query string, r dragonscale.ExtractionResult) {
	fmt.Fprintln(w, titleStyle.Render(query))
	field(w, "kind", string(r.Kind))
	field(w, "source", string(r.Source))

	switch r.Kind {
	case dragonscale.KindAction:
		fmt.Fprintln(w, commandStyle.Render(r.Action.Command))
		field(w, "explanation", r.Action.Explanation)
		for _, alt := range r.Action.Alternatives {
			field(w, "alternative", alt)
		}
	case dragonscale.KindFileOperation:
		fo := r.FileOperation
		field(w, "operation", fo.Operation)
		if fo.Command != "" {
			fmt.Fprintln(w, commandStyle.Render(fo.Command))
		}
		if len(fo.Params) > 0 {
			field(w, "params", strings.ReplaceAll(executor.Format(fo.Params), "\n", ", "))
		}
		field(w, "explanation", fo.Explanation)
	case dragonscale.KindInfo:
		field(w, "topic", r.Info.Topic)
		fmt.Fprintln(w, r.Info.ResponseText)
		if r.Info.RelatedCommand != "" {
			fmt.Fprintln(w, commandStyle.Render(r.Info.RelatedCommand))
		}
	case dragonscale.KindError:
		fmt.Fprintln(w, failStyle.Render("error: "+r.Error.Message))
		field(w, "suggested approach", r.Error.SuggestedApproach)
		if r.Error.RequiresFollowup {
			fmt.Fprintln(w, warnStyle.Render("needs a follow-up request"))
		}
	}
}

func renderPlan(w io.Writer, plan dragonscale.Plan) {
	name := "plan"
	if mp, ok := plan.(*dragonscale.MultiStepPlan); ok && mp.Name() != "" {
		name = mp.Name()
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (%d steps)", name, plan.Len())))
	for _, line := range dragonscale.DescribePlan(plan) {
		fmt.Fprintln(w, "  "+line)
	}
}

func renderResult(w io.Writer, res *dragonscale.AggregateResult, runErr error) {
	if res == nil {
		return
	}
	for _, entry := range res.Trace {
		fmt.Fprintf(w, "%s %s %s %s\n",
			okStyle.Render("✓"),
			entry.StepID,
			labelStyle.Render(fmt.Sprintf("%s:%s", entry.Target, entry.Action)),
			labelStyle.Render(entry.Duration.Round(time.Millisecond).String()))
	}
	for _, id := range res.Skipped {
		fmt.Fprintf(w, "%s %s %s\n", labelStyle.Render("-"), id, labelStyle.Render("skipped"))
	}
	if stepErr, ok := dragonscale.AsStepError(runErr); ok {
		fmt.Fprintf(w, "%s %s %s\n", failStyle.Render("✗"), stepErr.StepID, failStyle.Render(stepErr.Err.Error()))
		return
	}
	if res.Output != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, res.Output)
	}
}

func renderRecords(w io.Writer, records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, labelStyle.Render("no history"))
		return
	}
	for _, rec := range records {
		status := okStyle.Render("ok")
		if !rec.Success {
			status = failStyle.Render("failed")
		}
		cached := ""
		if rec.Cached {
			cached = labelStyle.Render(" (cached)")
		}
		fmt.Fprintf(w, "%s  %-14s %s %s%s\n",
			labelStyle.Render(rec.Timestamp.Local().Format("2006-01-02 15:04:05")),
			rec.Kind, status, rec.Subject, cached)
		if rec.Command != "" {
			fmt.Fprintf(w, "    %s\n", rec.Command)
		}
		if rec.Error != "" {
			fmt.Fprintf(w, "    %s\n", failStyle.Render(rec.Error))
		}
	}
}

func renderStats(w io.Writer, s cache.Stats, path string) {
	fmt.Fprintln(w, titleStyle.Render("cache"))
	field(w, "entries", fmt.Sprintf("%d/%d", s.Size, s.MaxSize))
	field(w, "ttl", s.TTL.String())
	field(w, "error ttl", s.ErrorTTL.String())
	field(w, "snapshot", path)
}
