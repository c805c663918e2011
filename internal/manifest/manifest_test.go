package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var mtime = time.Date(2025, 10, 7, 9, 30, 0, 0, time.UTC)

func writeArchive(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, root, map[string]string{
		"Acme/Tower/2025-10-06/M2.json":  "22",
		"Acme/Tower/2025-10-06/M1.json":  "1",
		"Acme/Tower/2025-10-13/M1.json":  "333",
		"Beta/Wing A/2025-10-06/X.json":  "4444",
		"Beta/.hidden/2025-10-06/Y.json": "hidden dir",
		"Beta/Wing A/2025-10-06/.DS_Store": "hidden file",
	})
	now := time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)
	got, err := Build(root, now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	model := func(rel string, size int64) Model {
		return Model{Filename: filepath.Base(rel), RelativePath: rel, Filesize: size, LastModified: mtime}
	}
	want := &Manifest{
		Version:     CurrentVersion,
		GeneratedAt: now,
		Totals:      Totals{Hubs: 2, Projects: 2, Files: 4},
		Hubs: []Hub{
			{Name: "Acme", Projects: []Project{{Name: "Tower", Dates: []Date{
				{Date: "2025-10-06", Models: []Model{
					model("Acme/Tower/2025-10-06/M1.json", 1),
					model("Acme/Tower/2025-10-06/M2.json", 2),
				}},
				{Date: "2025-10-13", Models: []Model{model("Acme/Tower/2025-10-13/M1.json", 3)}},
			}}}},
			{Name: "Beta", Projects: []Project{{Name: "Wing A", Dates: []Date{
				{Date: "2025-10-06", Models: []Model{model("Beta/Wing A/2025-10-06/X.json", 4)}},
			}}}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("manifest (-want +got):\n%s", diff)
	}
}

func TestBuild_UnexpectedDepthIndexedOnce(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, root, map[string]string{
		"stray.json":                       "a",
		"Acme/loose.json":                  "b",
		"Acme/Tower/2025-10-06/deep/x.json": "c",
	})
	m, err := Build(root, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, h := range m.Hubs {
		for _, p := range h.Projects {
			for _, d := range p.Dates {
				for _, mod := range d.Models {
					paths = append(paths, mod.RelativePath)
				}
			}
		}
	}
	want := []string{"stray.json", "Acme/loose.json", "Acme/Tower/2025-10-06/deep/x.json"}
	if diff := cmp.Diff(want, paths, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("indexed paths (-want +got):\n%s", diff)
	}
	if m.Totals.Files != 3 {
		t.Errorf("Totals.Files = %d, want 3", m.Totals.Files)
	}
}

func TestBuild_MissingArchive(t *testing.T) {
	m, err := Build(filepath.Join(t.TempDir(), "archive"), time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Totals != (Totals{}) || len(m.Hubs) != 0 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestWriteRead_RebuildIsStable(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, root, map[string]string{"Acme/Tower/2025-10-06/M1.json": "1"})
	first, err := Build(root, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := Write(path, first); err != nil {
		t.Fatal(err)
	}
	read, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Build(root, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(read, second, cmpopts.IgnoreFields(Manifest{}, "GeneratedAt")); diff != "" {
		t.Errorf("rebuild differs (-read +rebuilt):\n%s", diff)
	}
}

func TestRead_UnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(`{"version":2,"hubs":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("want ErrUnsupportedVersion, got %v", err)
	}
}
