package merge

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"reportsync/internal/config"
)

func stage(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, "staging", filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// archiveTree maps archive-relative paths to contents.
func archiveTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	dir := filepath.Join(root, "archive")
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		b, err := os.ReadFile(p)
		out[filepath.ToSlash(rel)] = string(b)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func newEngine(root string) *Engine {
	cfg := config.Default()
	cfg.Merge.DefaultOrganization = "Default Org"
	return New(cfg, root)
}

func TestRun_MixedConventions(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{
		"job1/task_output/2025-10-11_Acme_North Tower_Phase 2_Arch.json": `{"v":1}`,
		"job1/task_output/12 South Wing/2025-10-06_Acme_x_Struct.json":   `{"v":2}`,
		"job1/task_output/12 South Wing/2025-10-13_MEP.json":             `{"v":3}`,
		"job1/logs/run.log": "noise",
	})

	sum, err := newEngine(root).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := map[string]string{
		"Acme/North Tower_Phase 2/2025-10-06/Arch.json": `{"v":1}`,
		"Acme/12 South Wing/2025-10-06/Struct.json":     `{"v":2}`,
		"Default Org/12 South Wing/2025-10-13/MEP.json": `{"v":3}`,
	}
	if diff := cmp.Diff(want, archiveTree(t, root)); diff != "" {
		t.Errorf("archive (-want +got):\n%s", diff)
	}
	if len(sum.Merged) != 3 || sum.Ignored != 1 {
		t.Errorf("merged=%d ignored=%d", len(sum.Merged), sum.Ignored)
	}
	if diff := cmp.Diff([]string{"job1"}, sum.Cleaned); diff != "" {
		t.Errorf("cleaned (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(root, "staging", "job1")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("job1 should be removed from staging")
	}
}

func TestRun_LastWriteWins(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{
		"job_a/task_output/2025-10-06_Acme_Tower_M1.json": `{"from":"a"}`,
		"job_b/task_output/2025-10-09_Acme_Tower_M1.json": `{"from":"b"}`,
	})
	sum, err := newEngine(root).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := archiveTree(t, root)
	if diff := cmp.Diff(map[string]string{"Acme/Tower/2025-10-06/M1.json": `{"from":"b"}`}, got); diff != "" {
		t.Errorf("archive (-want +got):\n%s", diff)
	}
	if sum.Superseded != 1 {
		t.Errorf("Superseded = %d, want 1", sum.Superseded)
	}
	if diff := cmp.Diff([]string{"job_a", "job_b"}, sum.Cleaned); diff != "" {
		t.Errorf("cleaned (-want +got):\n%s", diff)
	}
}

func TestRun_RejectionInSummary(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{
		"job1/task_output/2025-10-06_Acme_Tower_M1.json": `{"status":"failed"}`,
		"job1/task_output/2025-10-06_Acme_Tower_M2.json": `{"status":"ok"}`,
		"job1/task_output/notes.txt":                     "x",
		"job1/task_output/badname.json":                  `{}`,
	})
	sum, err := newEngine(root).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int{ReasonFailedStatus: 1, ReasonUnsupported: 1, ReasonBadName: 1}
	if diff := cmp.Diff(want, sum.RejectionsByReason()); diff != "" {
		t.Errorf("reasons (-want +got):\n%s", diff)
	}
	if _, ok := archiveTree(t, root)["Acme/Tower/2025-10-06/M1.json"]; ok {
		t.Error("failed report reached the archive")
	}
	if len(sum.Cleaned) != 1 {
		t.Errorf("rejections are terminal, package should be cleaned: %+v", sum)
	}
}

func TestRun_PendingRetainsPackage(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{
		"job1/task_output/2025-10-06_Blocked_Tower_M1.json": `{}`,
		"job2/task_output/2025-10-06_Acme_Tower_M1.json":    `{}`,
	})
	// A file where the organization directory should go makes the copy fail.
	if err := os.MkdirAll(filepath.Join(root, "archive"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "archive", "Blocked"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	sum, err := newEngine(root).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Pending) != 1 || sum.Pending[0].Package != "job1" {
		t.Fatalf("pending = %+v", sum.Pending)
	}
	if diff := cmp.Diff([]string{"job1"}, sum.Retained); diff != "" {
		t.Errorf("retained (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(root, "staging", "job1", "task_output")); err != nil {
		t.Errorf("retained package must stay intact: %v", err)
	}
}

func TestRun_MissingDefaultOrgFailsBeforeWriting(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{
		"job1/task_output/2025-10-06_Acme_Tower_M1.json": `{}`,
		"job2/task_output/Tower/2025-10-06_M2.json":      `{}`,
	})
	e := newEngine(root)
	e.cfg.Merge.DefaultOrganization = ""
	_, err := e.Run(context.Background())
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("want *config.Error, got %v", err)
	}
	if got := archiveTree(t, root); len(got) != 0 {
		t.Errorf("archive written before failing: %v", got)
	}
	if _, err := os.Stat(filepath.Join(root, "staging", "job1")); err != nil {
		t.Errorf("staging must be untouched: %v", err)
	}
}

func TestRun_PackageWithoutReportDir(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{"job1/other/file.json": `{}`})
	if err := os.WriteFile(filepath.Join(root, "staging", "job1", ".gitkeep"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	sum, err := newEngine(root).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ignored != 1 || len(sum.Cleaned) != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_JobPrefixFilter(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{
		"report_batch_1/task_output/2025-10-06_Acme_Tower_M1.json": `{}`,
		"other_1/task_output/2025-10-06_Acme_Tower_M2.json":        `{}`,
	})
	e := newEngine(root)
	e.cfg.Merge.JobPrefix = "report_batch"
	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Packages != 1 || len(sum.Merged) != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if _, err := os.Stat(filepath.Join(root, "staging", "other_1")); err != nil {
		t.Errorf("unmatched package must stay: %v", err)
	}
}

func TestRun_PreservesSourceMtime(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{"job1/task_output/2025-10-06_Acme_Tower_M1.json": `{}`})
	src := filepath.Join(root, "staging", "job1", "task_output", "2025-10-06_Acme_Tower_M1.json")
	mtime := time.Date(2025, 10, 6, 8, 0, 0, 0, time.UTC)
	if err := os.Chtimes(src, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	if _, err := newEngine(root).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(root, "archive", "Acme", "Tower", "2025-10-06", "M1.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), mtime)
	}
}

func TestRun_Idempotent(t *testing.T) {
	input := map[string]string{
		"job1/task_output/2025-10-06_Acme_Tower_M1.json": `{"v":1}`,
		"job1/task_output/Wing/2025-10-07_Acme_x_M2.json": `{"v":2}`,
		"job2/task_output/2025-10-08_Acme_Tower_M1.json": `{"v":3}`,
		"job2/task_output/bad.json":                      `{"mock":true}`,
	}

	// Two identical starting states give identical results.
	a, b := t.TempDir(), t.TempDir()
	stage(t, a, input)
	stage(t, b, input)
	sumA, err := newEngine(a).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sumB, err := newEngine(b).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sumA, sumB); diff != "" {
		t.Errorf("summaries differ (-a +b):\n%s", diff)
	}
	first := archiveTree(t, a)

	// Re-applying the same input over the result changes nothing.
	stage(t, a, input)
	sumAgain, err := newEngine(a).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, archiveTree(t, a)); diff != "" {
		t.Errorf("archive changed on re-run (-first +again):\n%s", diff)
	}
	for _, m := range sumAgain.Merged {
		if !m.Unchanged {
			t.Errorf("%s rewritten on identical re-run", m.Destination)
		}
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{"job1/task_output/2025-10-06_Acme_Tower_M1.json": `{}`})
	e := newEngine(root)
	e.DryRun = true
	sum, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Merged) != 1 || len(archiveTree(t, root)) != 0 {
		t.Errorf("dry run: merged=%d archive=%v", len(sum.Merged), archiveTree(t, root))
	}
}

func TestRun_NestedReportIsRejected(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{
		"job1/task_output/2025-10-11_Acme_Tower_M1.json":         `{"v":1}`,
		"job1/task_output/ProjA/sub/2025-10-11_Acme_Model.json": `{"v":2}`,
	})
	sum, err := newEngine(root).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Merged) != 1 {
		t.Errorf("merged = %+v", sum.Merged)
	}
	want := []Rejection{{Package: "job1", Path: "task_output/ProjA/sub/2025-10-11_Acme_Model.json", Reason: ReasonDepth}}
	if diff := cmp.Diff(want, sum.Rejected, cmpopts.IgnoreFields(Rejection{}, "Detail")); diff != "" {
		t.Errorf("rejected (-want +got):\n%s", diff)
	}
	if sum.Ignored != 0 {
		t.Errorf("Ignored = %d, want 0", sum.Ignored)
	}
}

func TestRun_HiddenIdentityNeverReachesArchive(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{
		"job1/task_output/2025-10-11_Acme_.cfg_Model.json": `{"v":1}`,
		"job1/task_output/2025-10-11_Acme_P_.M.json":       `{"v":2}`,
	})
	sum, err := newEngine(root).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := sum.RejectionsByReason()[ReasonBadName]; got != 2 {
		t.Errorf("bad-name rejections = %d, want 2", got)
	}
	if got := archiveTree(t, root); len(got) != 0 {
		t.Errorf("archive = %v, want empty", got)
	}
}

func TestRun_ExtensionCaseCollapses(t *testing.T) {
	root := t.TempDir()
	stage(t, root, map[string]string{
		"job_a/task_output/2025-10-06_Acme_Tower_M.JSON": `{"from":"a"}`,
		"job_b/task_output/2025-10-07_Acme_Tower_M.json": `{"from":"b"}`,
	})
	sum, err := newEngine(root).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"Acme/Tower/2025-10-06/M.json": `{"from":"b"}`}, archiveTree(t, root)); diff != "" {
		t.Errorf("archive (-want +got):\n%s", diff)
	}
	if sum.Superseded != 1 {
		t.Errorf("Superseded = %d, want 1", sum.Superseded)
	}
}
