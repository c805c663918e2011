// Package manifest indexes the archive into a versioned JSON document
// grouped hub, project, date, model. The index is always rebuilt in full.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"reportsync/internal/mailbox"
)

// CurrentVersion is the schema version written by Build.
const CurrentVersion = 1

// ErrUnsupportedVersion is returned by Read for any other version.
var ErrUnsupportedVersion = errors.New("unsupported manifest version")

type Manifest struct {
	Version     int       `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Totals      Totals    `json:"totals"`
	Hubs        []Hub     `json:"hubs"`
}

type Totals struct {
	Hubs     int `json:"hubs"`
	Projects int `json:"projects"`
	Files    int `json:"files"`
}

// Hub is one organization.
type Hub struct {
	Name     string    `json:"name"`
	Projects []Project `json:"projects"`
}

type Project struct {
	Name  string `json:"name"`
	Dates []Date `json:"dates"`
}

// Date is one week bucket.
type Date struct {
	Date   string  `json:"date"`
	Models []Model `json:"models"`
}

type Model struct {
	Filename     string    `json:"filename"`
	RelativePath string    `json:"relativePath"`
	Filesize     int64     `json:"filesize"`
	LastModified time.Time `json:"lastModified"`
}

// Build walks archiveRoot and indexes every non-hidden file exactly once.
// Files at an unexpected depth are placed under whatever levels their
// directories provide; missing levels have empty names.
func Build(archiveRoot string, now time.Time) (*Manifest, error) {
	tree := make(map[string]map[string]map[string][]Model)

	err := filepath.WalkDir(archiveRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == archiveRoot && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if p != archiveRoot && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(archiveRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		// hub/project/date/file; deeper files fold their extra directories
		// into the date level.
		dirs := strings.Split(rel, "/")
		dirs = dirs[:len(dirs)-1]
		var levels [3]string
		switch {
		case len(dirs) <= 3:
			copy(levels[:], dirs)
		default:
			levels[0], levels[1] = dirs[0], dirs[1]
			levels[2] = strings.Join(dirs[2:], "/")
		}

		hub := tree[levels[0]]
		if hub == nil {
			hub = make(map[string]map[string][]Model)
			tree[levels[0]] = hub
		}
		proj := hub[levels[1]]
		if proj == nil {
			proj = make(map[string][]Model)
			hub[levels[1]] = proj
		}
		proj[levels[2]] = append(proj[levels[2]], Model{
			Filename:     d.Name(),
			RelativePath: rel,
			Filesize:     info.Size(),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk archive: %w", err)
	}

	m := &Manifest{Version: CurrentVersion, GeneratedAt: now.UTC(), Hubs: []Hub{}}
	for _, hubName := range sortedKeys(tree) {
		hub := Hub{Name: hubName}
		for _, projName := range sortedKeys(tree[hubName]) {
			proj := Project{Name: projName}
			for _, date := range sortedKeys(tree[hubName][projName]) {
				models := tree[hubName][projName][date]
				sort.Slice(models, func(i, j int) bool { return models[i].RelativePath < models[j].RelativePath })
				proj.Dates = append(proj.Dates, Date{Date: date, Models: models})
				m.Totals.Files += len(models)
			}
			hub.Projects = append(hub.Projects, proj)
			m.Totals.Projects++
		}
		m.Hubs = append(m.Hubs, hub)
		m.Totals.Hubs++
	}
	return m, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Write stores m at path atomically.
func Write(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return mailbox.WriteFileAtomic(path, append(data, '\n'))
}

// Read loads a manifest and rejects versions it does not understand.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.Version)
	}
	return &m, nil
}
