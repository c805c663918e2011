package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"reportsync/internal/config"
	"reportsync/internal/mailbox"
	"reportsync/internal/manifest"
	"reportsync/internal/metrics"
	"reportsync/internal/scoring"
	"reportsync/internal/store"
)

type gradeA struct{}

func (gradeA) Score(context.Context, string) (*scoring.Record, error) {
	return &scoring.Record{TotalScore: 95, Grade: "A"}, nil
}

type fixture struct {
	cfg     *config.Config
	store   *mailbox.DirStore
	ledger  *store.MemStore
	metrics *metrics.Metrics
	p       *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := mailbox.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Store.Backend = config.BackendDir
	cfg.Merge.DefaultOrganization = "Studio"
	f := &fixture{cfg: cfg, store: st, ledger: store.NewMemStore(), metrics: metrics.New()}
	f.p = New(cfg, st, f.ledger, f.metrics)
	f.p.Now = func() time.Time { return time.Date(2025, 10, 14, 7, 0, 0, 0, time.UTC) }
	return f
}

func writeSource(t *testing.T, files map[string]string) string {
	t.Helper()
	src := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return src
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.p.Scorer = gradeA{}
	src := writeSource(t, map[string]string{
		"task_output/2025-10-11_Acme_North Tower_Arch.json": `{"status":"ok"}`,
		"task_output/2025-10-06_Acme_North Tower_MEP.json":  `{"status":"failed"}`,
		"task_output/Wing B/2025-10-13_Struct.json":         `{"status":"ok"}`,
	})
	if _, err := f.p.Pack(context.Background(), src, "report_batch_1"); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	sum, err := f.p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sum.Unpack.Jobs) != 1 || !sum.Unpack.Jobs[0].Completed {
		t.Errorf("unpack = %+v", sum.Unpack)
	}
	if len(sum.Merge.Merged) != 2 || len(sum.Merge.Rejected) != 1 {
		t.Errorf("merge = %+v", sum.Merge)
	}
	if diff := cmp.Diff(&manifest.Totals{Hubs: 2, Projects: 2, Files: 2}, sum.Manifest); diff != "" {
		t.Errorf("manifest totals (-want +got):\n%s", diff)
	}

	m, err := manifest.Read(filepath.Join(f.store.Root(), "manifest.json"))
	if err != nil {
		t.Fatalf("manifest.Read: %v", err)
	}
	if m.Totals.Files != 2 {
		t.Errorf("manifest files = %d", m.Totals.Files)
	}
	side, err := scoring.ReadSidecar(filepath.Join(f.store.Root(), "scores.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := side.Scores["Acme/North Tower/2025-10-06/Arch.json"]; !ok {
		t.Errorf("scores = %v", side.Scores)
	}
	if _, err := os.Stat(filepath.Join(f.store.Root(), "staging", "report_batch_1")); !errors.Is(err, os.ErrNotExist) {
		t.Error("staged package should be cleaned")
	}

	runs, _ := f.ledger.ListRuns(0)
	if len(runs) != 2 {
		t.Fatalf("runs = %+v", runs)
	}
	var runRec store.Run
	for _, r := range runs {
		if r.Stage == store.StageRun {
			runRec = r
		}
	}
	if runRec.Merged != 2 || runRec.Rejected != 1 || runRec.Error != "" {
		t.Errorf("ledger run = %+v", runRec)
	}
	rej, _ := f.ledger.ListRejections(runRec.ID)
	if len(rej) != 1 || rej[0].Reason != "failed-status" {
		t.Errorf("ledger rejections = %+v", rej)
	}
	if got := testutil.ToFloat64(f.metrics.FilesMerged); got != 2 {
		t.Errorf("files merged metric = %v", got)
	}
}

func TestMerge_ConflictReappliesPass(t *testing.T) {
	f := newFixture(t)
	src := writeSource(t, map[string]string{"task_output/2025-10-06_Acme_Tower_M1.json": `{}`})
	if _, err := f.p.Pack(context.Background(), src, "job1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.p.Deliver(context.Background()); err != nil {
		t.Fatal(err)
	}

	rejected := false
	f.store.ConflictHook = func(paths []string) bool {
		for _, p := range paths {
			if p == "manifest.json" && !rejected {
				rejected = true
				return true
			}
		}
		return false
	}
	sum, err := f.p.Merge(context.Background())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.StoreConflicts); got != 1 {
		t.Errorf("conflicts = %v, want 1", got)
	}
	// A DirStore has nothing to reset to, so the retry sees the first
	// attempt's effects: staging already drained.
	if sum.Merge.Packages != 0 {
		t.Errorf("retry summary = %+v", sum.Merge)
	}
	if _, err := os.Stat(filepath.Join(f.store.Root(), "archive", "Acme", "Tower", "2025-10-06", "M1.json")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
}

func TestMerge_ExhaustionIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.ConflictHook = func([]string) bool { return true }
	_, err := f.p.Merge(context.Background())
	var ex *mailbox.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("want *mailbox.ExhaustedError, got %v", err)
	}
	runs, _ := f.ledger.ListRuns(1)
	if len(runs) != 1 || !strings.Contains(runs[0].Error, "gave up") {
		t.Errorf("ledger should record the failure: %+v", runs)
	}
}

func TestMerge_MissingDefaultOrgIsConfigError(t *testing.T) {
	f := newFixture(t)
	f.cfg.Merge.DefaultOrganization = ""
	src := writeSource(t, map[string]string{"task_output/Tower/2025-10-06_M1.json": `{}`})
	if _, err := f.p.Pack(context.Background(), src, "job1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.p.Deliver(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := f.p.Merge(context.Background())
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("want *config.Error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.store.Root(), "manifest.json")); !errors.Is(err, os.ErrNotExist) {
		t.Error("nothing should be written on a configuration error")
	}
}

func TestRebuildManifest(t *testing.T) {
	f := newFixture(t)
	p := filepath.Join(f.store.Root(), "archive", "Acme", "Tower", "2025-10-06", "M1.json")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := f.p.RebuildManifest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if m.Totals.Files != 1 {
		t.Errorf("files = %d", m.Totals.Files)
	}
	if diff := cmp.Diff([][]string{{"manifest.json"}}, f.store.Published()); diff != "" {
		t.Errorf("published (-want +got):\n%s", diff)
	}
}
