package display

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"reportsync/internal/manifest"
	"reportsync/internal/packager"
	"reportsync/internal/pipeline"
	"reportsync/internal/scoring"
	"reportsync/internal/store"
)

// Pack renders a packager result in one line.
func Pack(res *packager.Result) string {
	return fmt.Sprintf("packed %s: %s in %s -> %s\n",
		res.Job, plural(res.Files, "file"), Size(res.Bytes), res.PayloadPath)
}

// Run renders everything a pipeline invocation did: merged, rejected with
// reasons, pending.
func Run(sum *pipeline.RunSummary, mode Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] run %s finished in %s\n", Stage(sum.Stage), sum.RunID,
		Duration(sum.FinishedAt.Sub(sum.StartedAt)))

	if u := sum.Unpack; u != nil {
		t := NewTable(mode)
		t.Header("Job", "Written", "Rejected", "Pending", "Done")
		for _, j := range u.Jobs {
			t.Row(j.Job, len(j.Written), len(j.Rejected), len(j.Pending), BoolMark(j.Completed))
		}
		for _, f := range u.Failed {
			t.Row(f.Job, "-", "-", "-", BoolMark(false))
		}
		t.AlignRight(2, 3, 4)
		if t.Len() > 0 {
			b.WriteString("\nDelivery\n")
			b.WriteString(t.String())
			b.WriteString("\n")
		}
		for _, f := range u.Failed {
			fmt.Fprintf(&b, "  failed %s: %v\n", f.Trigger, f.Err)
		}
	}
	if s := sum.Sweep; s != nil && len(s.Deleted) > 0 {
		fmt.Fprintf(&b, "swept %s past retention\n", plural(len(s.Deleted), "payload"))
	}

	if m := sum.Merge; m != nil {
		fmt.Fprintf(&b, "\nmerged %s, rejected %s, pending %s",
			humanize.Comma(int64(len(m.Merged))), humanize.Comma(int64(len(m.Rejected))),
			humanize.Comma(int64(len(m.Pending))))
		if m.Superseded > 0 {
			fmt.Fprintf(&b, ", superseded %d", m.Superseded)
		}
		if m.Ignored > 0 {
			fmt.Fprintf(&b, ", ignored %d", m.Ignored)
		}
		b.WriteString("\n")

		if len(m.Rejected) > 0 {
			counts := m.RejectionsByReason()
			t := NewTable(mode)
			t.Header("Reason", "Files")
			for _, r := range m.Reasons() {
				t.Row(ReasonWithCode(r), counts[r])
			}
			t.AlignRight(2)
			b.WriteString(t.String())
			b.WriteString("\n")
			for _, r := range m.Rejected {
				fmt.Fprintf(&b, "  %s/%s: %s\n", r.Package, r.Path, Reason(r.Reason))
			}
		}
		for _, p := range m.Pending {
			fmt.Fprintf(&b, "  pending %s/%s: %s\n", p.Package, p.Path, p.Error)
		}
		if len(m.Retained) > 0 {
			fmt.Fprintf(&b, "retained in staging: %s\n", strings.Join(m.Retained, ", "))
		}
	}
	if mt := sum.Manifest; mt != nil {
		fmt.Fprintf(&b, "manifest: %s, %s, %s\n",
			plural(mt.Hubs, "hub"), plural(mt.Projects, "project"), plural(mt.Files, "file"))
	}
	if sc := sum.Scores; sc != nil {
		fmt.Fprintf(&b, "scores: %d updated, %d pruned\n", len(sc.Scored), len(sc.Pruned))
	}
	if sum.ScoreErr != nil {
		fmt.Fprintf(&b, "scoring errors: %v\n", sum.ScoreErr)
	}
	return b.String()
}

// Runs renders ledger runs, most recent first.
func Runs(runs []store.Run, now time.Time, mode Mode) string {
	t := NewTable(mode)
	t.Header("Run", "Stage", "Started", "Merged", "Rejected", "Pending", "Error")
	for _, r := range runs {
		errCol := r.Error
		if r.FinishedAt.IsZero() && errCol == "" {
			errCol = "(unfinished)"
		}
		t.Row(shortID(r.ID), Stage(r.Stage), Ago(r.StartedAt, now), r.Merged, r.Rejected, r.Pending, truncate(errCol, 60))
	}
	t.AlignRight(4, 5, 6)
	return t.String() + "\n"
}

// Rejections renders one run's rejected files.
func Rejections(rej []store.Rejection, mode Mode) string {
	t := NewTable(mode)
	t.Header("Package", "Path", "Reason", "Detail")
	for _, r := range rej {
		t.Row(r.Package, r.Path, Reason(r.Reason), truncate(r.Detail, 60))
	}
	return t.String() + "\n"
}

// Deliveries renders the jobs one run unpacked.
func Deliveries(ds []store.Delivery, mode Mode) string {
	t := NewTable(mode)
	t.Header("Job", "Files", "Failed")
	for _, d := range ds {
		t.Row(d.Job, d.Files, BoolMark(d.Failed))
	}
	t.AlignRight(2)
	return t.String() + "\n"
}

// Scores renders scorer verdicts keyed by path, sorted by path.
func Scores(records map[string]*scoring.Record, mode Mode) string {
	paths := make([]string, 0, len(records))
	for p := range records {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	t := NewTable(mode)
	t.Header("File", "Grade", "Score")
	for _, p := range paths {
		r := records[p]
		t.Row(p, r.Grade, fmt.Sprintf("%.2f", r.TotalScore))
	}
	t.AlignRight(3)
	return t.String() + "\n"
}

// Manifest renders per-hub totals of a manifest.
func Manifest(m *manifest.Manifest, now time.Time, mode Mode) string {
	t := NewTable(mode)
	t.Header("Hub", "Projects", "Weeks", "Files", "Size")
	hubs := append([]manifest.Hub(nil), m.Hubs...)
	sort.Slice(hubs, func(i, j int) bool { return hubs[i].Name < hubs[j].Name })
	var total int64
	for _, h := range hubs {
		weeks, files := 0, 0
		var size int64
		for _, p := range h.Projects {
			weeks += len(p.Dates)
			for _, d := range p.Dates {
				files += len(d.Models)
				for _, mod := range d.Models {
					size += mod.Filesize
				}
			}
		}
		total += size
		t.Row(h.Name, len(h.Projects), weeks, files, Size(size))
	}
	t.Footer("Total", m.Totals.Projects, "", m.Totals.Files, Size(total))
	t.AlignRight(2, 3, 4, 5)
	return fmt.Sprintf("manifest v%d, generated %s\n%s\n", m.Version, Ago(m.GeneratedAt, now), t.String())
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
