// Package packager bundles a directory of report files into one payload and
// publishes it, together with its trigger, as a single store change.
package packager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"reportsync/internal/config"
	"reportsync/internal/logging"
	"reportsync/internal/mailbox"
	"reportsync/internal/payload"
)

// ErrNoFiles means the source held no eligible file; nothing is written.
var ErrNoFiles = errors.New("no eligible files to package")

// Result describes one published payload.
type Result struct {
	Job         string
	PayloadPath string
	TriggerPath string
	Files       int
	Bytes       int64
}

// Packager is the producer side of the pipeline.
type Packager struct {
	cfg   *config.Config
	store mailbox.Store
	log   *slog.Logger

	// Now and Host feed job naming; tests pin them.
	Now  func() time.Time
	Host string

	// OnConflict is forwarded to every Commit.
	OnConflict func(attempt int)
}

// New returns a Packager publishing into store.
func New(cfg *config.Config, store mailbox.Store) *Packager {
	host, _ := os.Hostname()
	return &Packager{
		cfg:   cfg,
		store: store,
		log:   logging.New("packager"),
		Now:   time.Now,
		Host:  host,
	}
}

type source struct {
	abs string
	rel string
}

// Pack packages src (a directory walked recursively, or a single file) as
// job. An empty job name is derived from the configured kind, the clock and
// the host.
func (p *Packager) Pack(ctx context.Context, src, job string) (*Result, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, config.Errorf("source %s: %v", src, err)
	}

	var files []source
	if info.IsDir() {
		err = filepath.WalkDir(src, func(fp string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !p.eligible(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(src, fp)
			if err != nil {
				return err
			}
			files = append(files, source{abs: fp, rel: filepath.ToSlash(rel)})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", src, err)
		}
	} else if p.eligible(info.Name()) {
		files = append(files, source{abs: src, rel: info.Name()})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", src, ErrNoFiles)
	}
	slices.SortFunc(files, func(a, b source) int { return strings.Compare(a.rel, b.rel) })

	contents := make([][]byte, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Packager.Workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := os.ReadFile(f.abs)
			if err != nil {
				return fmt.Errorf("read %s: %w", f.rel, err)
			}
			contents[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := p.Now().UTC()
	if job == "" {
		job = payload.JobName(p.cfg.Packager.JobKind, p.Host, now)
	}
	absSrc, _ := filepath.Abs(src)
	bp := &payload.BatchPayload{Metadata: payload.Metadata{Timestamp: now, Source: absSrc}}
	var total int64
	for i, f := range files {
		bp.Add(f.rel, contents[i])
		total += int64(len(contents[i]))
	}
	data, err := payload.Encode(bp)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Job:         job,
		PayloadPath: path.Join(p.cfg.Layout.PayloadDir, job+".json"),
		TriggerPath: path.Join(p.cfg.Layout.TriggerDir, job+".json"),
		Files:       len(files),
		Bytes:       total,
	}
	trigger, err := payload.EncodeTrigger(&payload.Trigger{
		RawPath:       res.PayloadPath,
		JobName:       job,
		Source:        absSrc,
		CreatedAt:     now,
		SchemaVersion: payload.TriggerSchemaVersion,
	})
	if err != nil {
		return nil, err
	}

	var opts []mailbox.CommitOption
	if p.OnConflict != nil {
		opts = append(opts, mailbox.OnConflict(p.OnConflict))
	}
	err = mailbox.Commit(ctx, p.store, p.cfg.Store.Attempts, "pack "+job,
		func(context.Context) ([]string, error) {
			root := p.store.Root()
			if err := mailbox.WriteFileAtomic(filepath.Join(root, filepath.FromSlash(res.PayloadPath)), data); err != nil {
				return nil, err
			}
			if err := mailbox.WriteFileAtomic(filepath.Join(root, filepath.FromSlash(res.TriggerPath)), trigger); err != nil {
				return nil, err
			}
			return []string{res.PayloadPath, res.TriggerPath}, nil
		}, opts...)
	if err != nil {
		return nil, err
	}
	p.log.Info("packed", "job", job, "files", res.Files, "bytes", res.Bytes)
	return res, nil
}

func (p *Packager) eligible(name string) bool {
	exts := p.cfg.Packager.Extensions
	if len(exts) == 0 {
		return true
	}
	return slices.Contains(exts, payload.Extension(name))
}
