// Package merge classifies staged packages, validates their reports, and
// reorganizes accepted reports into the archive hierarchy
// organization/project/week.
package merge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"reportsync/internal/config"
	"reportsync/internal/logging"
)

// Engine runs merge passes over one store root.
type Engine struct {
	cfg  *config.Config
	root string
	log  *slog.Logger

	// DryRun plans the pass and reports it without touching the archive
	// or staging.
	DryRun bool
}

// New returns an Engine operating on the store view at root.
func New(cfg *config.Config, root string) *Engine {
	return &Engine{cfg: cfg, root: root, log: logging.New("merge")}
}

func (e *Engine) stagingDir() string {
	return filepath.Join(e.root, filepath.FromSlash(e.cfg.Layout.StagingDir))
}

func (e *Engine) archiveDir() string {
	return filepath.Join(e.root, filepath.FromSlash(e.cfg.Layout.ArchiveDir))
}

// Run performs one merge pass. The result depends only on the staged input
// and the archive state, so re-running it after a store conflict is safe.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	pkgs, err := Classify(e.stagingDir(), e.cfg.Merge.JobPrefix, e.cfg.Merge.ReportDir)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Packages: len(pkgs)}
	for _, pkg := range pkgs {
		sum.Ignored += len(pkg.Ignored)
		if !pkg.HasReportDir {
			e.log.Warn("package has no report dir", "package", pkg.Name, "report_dir", e.cfg.Merge.ReportDir)
		}
	}

	p, pending, err := e.plan(pkgs)
	if err != nil {
		return nil, err
	}
	sum.Rejected = p.rejected
	sum.Superseded = p.superseded
	sum.Pending = pending

	if e.DryRun {
		for _, m := range p.moves {
			sum.Merged = append(sum.Merged, Merged{Package: m.cand.Package, Source: m.cand.Path, Destination: m.dest})
		}
		return sum, nil
	}

	for _, m := range p.moves {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(e.archiveDir(), filepath.FromSlash(m.dest))
		wrote, err := copyFile(m.cand.Abs, dst)
		if err != nil {
			e.log.Warn("copy failed, package retained", "package", m.cand.Package, "path", m.cand.Path, "error", err)
			sum.Pending = append(sum.Pending, Pending{Package: m.cand.Package, Path: m.cand.Path, Error: err.Error()})
			continue
		}
		if wrote {
			e.log.Info("archived", "source", m.cand.Package+"/"+m.cand.Path, "destination", m.dest)
		}
		sum.Merged = append(sum.Merged, Merged{
			Package:     m.cand.Package,
			Source:      m.cand.Path,
			Destination: m.dest,
			Unchanged:   !wrote,
		})
	}

	blocked := make(map[string]bool)
	for _, pd := range sum.Pending {
		blocked[pd.Package] = true
	}
	for _, pkg := range pkgs {
		if blocked[pkg.Name] {
			sum.Retained = append(sum.Retained, pkg.Name)
			continue
		}
		if err := e.cleanup(pkg); err != nil {
			return nil, err
		}
		sum.Cleaned = append(sum.Cleaned, pkg.Name)
	}

	e.log.Info("merge pass complete",
		"packages", sum.Packages, "merged", len(sum.Merged), "rejected", len(sum.Rejected),
		"pending", len(sum.Pending), "superseded", sum.Superseded, "ignored", sum.Ignored)
	return sum, nil
}

// plan decides every candidate of the pass before anything is written.
// Later candidates win over earlier ones with the same destination.
func (e *Engine) plan(pkgs []Package) (*plan, []Pending, error) {
	p := &plan{}
	var pending []Pending
	var needsOrg []string
	byDest := make(map[string]int)

	for _, pkg := range pkgs {
		for _, c := range pkg.Misplaced {
			p.reject(c, ReasonDepth, "deeper than "+e.cfg.Merge.ReportDir+"/<project>/")
		}
		for _, c := range pkg.Candidates {
			data, err := os.ReadFile(c.Abs)
			if err != nil {
				pending = append(pending, Pending{Package: c.Package, Path: c.Path, Error: err.Error()})
				continue
			}
			v := Validate(c.Name(), data, e.cfg.Merge.ReportExtensions)
			if !v.Accepted() {
				p.reject(c, v.Reason, v.Detail)
				continue
			}

			var id Identity
			if c.Convention == Legacy {
				id, err = ParseLegacy(c.Name())
			} else {
				id, err = ParseProjectFile(c.Name(), c.Folder, e.cfg.Merge.DefaultOrganization, v.Doc)
			}
			switch {
			case errors.Is(err, errNeedsDefaultOrg):
				needsOrg = append(needsOrg, c.Package+"/"+c.Path)
				continue
			case err != nil:
				p.reject(c, ReasonBadName, err.Error())
				continue
			}

			dest := id.Destination()
			if i, ok := byDest[dest]; ok {
				prev := p.moves[i].cand
				e.log.Info("superseded", "destination", dest,
					"loser", prev.Package+"/"+prev.Path, "winner", c.Package+"/"+c.Path)
				p.superseded++
				p.moves[i] = move{cand: c, id: id, dest: dest}
				continue
			}
			byDest[dest] = len(p.moves)
			p.moves = append(p.moves, move{cand: c, id: id, dest: dest})
		}
	}

	if len(needsOrg) > 0 {
		return nil, nil, config.Errorf("merge.default_organization is required for %d file(s), first %s",
			len(needsOrg), needsOrg[0])
	}
	return p, pending, nil
}

func (p *plan) reject(c Candidate, reason, detail string) {
	p.rejected = append(p.rejected, Rejection{Package: c.Package, Path: c.Path, Reason: reason, Detail: detail})
}

