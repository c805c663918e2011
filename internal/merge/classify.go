package merge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Convention tells how a candidate's identity is derived.
type Convention int

const (
	// Legacy files sit directly in the report dir and carry their whole
	// identity in the filename.
	Legacy Convention = iota
	// ProjectFolder files sit in a per-project folder under the report dir.
	ProjectFolder
)

func (c Convention) String() string {
	if c == ProjectFolder {
		return "project-folder"
	}
	return "legacy"
}

// Candidate is one staged file eligible for merging.
type Candidate struct {
	Package    string
	Path       string // slash-separated, relative to the package dir
	Abs        string
	Folder     string // project folder, ProjectFolder only
	Convention Convention
}

// Name is the candidate's base filename.
func (c Candidate) Name() string { return filepath.Base(c.Abs) }

// Package is one staged job directory.
type Package struct {
	Name         string
	Dir          string
	HasReportDir bool
	Candidates   []Candidate
	// Misplaced files sit under the report dir deeper than a project
	// folder. They are rejected, never dropped silently.
	Misplaced []Candidate
	Ignored   []string
}

func hidden(name string) bool { return strings.HasPrefix(name, ".") }

// Classify lists staged packages under stagingDir in lexical order and
// sorts their files into candidates and ignored files.
func Classify(stagingDir, jobPrefix, reportDir string) ([]Package, error) {
	entries, err := os.ReadDir(stagingDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list staging: %w", err)
	}
	var pkgs []Package
	for _, e := range entries {
		if !e.IsDir() || hidden(e.Name()) || !strings.HasPrefix(e.Name(), jobPrefix) {
			continue
		}
		pkg, err := classifyPackage(filepath.Join(stagingDir, e.Name()), e.Name(), reportDir)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

func classifyPackage(dir, name, reportDir string) (Package, error) {
	pkg := Package{Name: name, Dir: dir}
	reportAbs := filepath.Join(dir, reportDir)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		if hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if p == reportAbs && d.IsDir() {
			pkg.HasReportDir = true
			return nil
		}
		if d.IsDir() {
			return nil
		}

		parent := filepath.Dir(p)
		switch {
		case parent == reportAbs:
			pkg.Candidates = append(pkg.Candidates, Candidate{
				Package: name, Path: rel, Abs: p, Convention: Legacy,
			})
		case filepath.Dir(parent) == reportAbs:
			pkg.Candidates = append(pkg.Candidates, Candidate{
				Package: name, Path: rel, Abs: p, Convention: ProjectFolder,
				Folder: filepath.Base(parent),
			})
		case strings.HasPrefix(p, reportAbs+string(filepath.Separator)):
			pkg.Misplaced = append(pkg.Misplaced, Candidate{Package: name, Path: rel, Abs: p})
		default:
			pkg.Ignored = append(pkg.Ignored, rel)
		}
		return nil
	})
	if err != nil {
		return Package{}, fmt.Errorf("walk package %s: %w", name, err)
	}
	return pkg, nil
}
