package merge

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrBadName means a filename does not follow either naming convention.
var ErrBadName = errors.New("unparseable report name")

// errNeedsDefaultOrg marks a name that parsed but carries no organization.
var errNeedsDefaultOrg = errors.New("organization not in name and no default configured")

// Identity is the canonical identity of a report.
type Identity struct {
	Date         time.Time
	Organization string
	Project      string
	Model        string
	Ext          string
}

// Destination is the archive-relative path for the identity:
// <org>/<project>/<week start>/<model><ext>.
func (id Identity) Destination() string {
	return path.Join(id.Organization, id.Project, WeekStart(id.Date).Format(DateLayout), id.Model+id.Ext)
}

// ParseLegacy parses "<date>_<org>_<project>_<model>.<ext>". The first token
// after the date is the organization, the last is the model, and everything
// between is the project, underscores and spaces included.
func ParseLegacy(name string) (Identity, error) {
	stem, ext := splitExt(name)
	tokens := strings.Split(stem, "_")
	if len(tokens) < 4 {
		return Identity{}, fmt.Errorf("%w: %q needs date, organization, project and model", ErrBadName, name)
	}
	date, err := time.Parse(DateLayout, tokens[0])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %q has no leading date", ErrBadName, name)
	}
	id := Identity{
		Date:         date,
		Organization: tokens[1],
		Project:      strings.Join(tokens[2:len(tokens)-1], "_"),
		Model:        tokens[len(tokens)-1],
		Ext:          ext,
	}
	return id, checkIdentity(id, name)
}

// ParseProjectFile parses a file living in a project folder. The folder
// name is the project verbatim. A date-prefixed name yields the
// organization (first token) and model (last token); a single token after
// the date is the model under defaultOrg. Without a date prefix the model
// is the whole stem and the date comes from the report's "timestamp" or
// "date" field.
func ParseProjectFile(name, folder, defaultOrg string, doc map[string]any) (Identity, error) {
	stem, ext := splitExt(name)
	id := Identity{Project: folder, Ext: ext}
	tokens := strings.Split(stem, "_")

	if date, err := time.Parse(DateLayout, tokens[0]); err == nil {
		id.Date = date
		rest := tokens[1:]
		switch len(rest) {
		case 0:
			return Identity{}, fmt.Errorf("%w: %q has no model after the date", ErrBadName, name)
		case 1:
			id.Model = rest[0]
		default:
			id.Organization = rest[0]
			id.Model = rest[len(rest)-1]
		}
	} else {
		date, ok := reportDate(doc)
		if !ok {
			return Identity{}, fmt.Errorf("%w: %q has no date in name or content", ErrBadName, name)
		}
		id.Date = date
		id.Model = stem
	}

	if id.Organization == "" {
		if defaultOrg == "" {
			return id, errNeedsDefaultOrg
		}
		id.Organization = defaultOrg
	}
	return id, checkIdentity(id, name)
}

// reportDate reads a YYYY-MM-DD or RFC 3339 value from the report.
func reportDate(doc map[string]any) (time.Time, bool) {
	for _, key := range []string{"timestamp", "date"} {
		s, ok := doc[key].(string)
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		if len(s) >= len(DateLayout) {
			if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// checkIdentity rejects components that would not form a single safe,
// visible path segment. Hidden segments would never reach the manifest.
func checkIdentity(id Identity, name string) error {
	for _, c := range []string{id.Organization, id.Project, id.Model} {
		if strings.TrimSpace(c) == "" || strings.HasPrefix(c, ".") || strings.ContainsAny(c, `/\`) {
			return fmt.Errorf("%w: %q yields invalid path component %q", ErrBadName, name, c)
		}
	}
	return nil
}

// splitExt lower-cases the extension so that M.JSON and M.json share an
// identity.
func splitExt(name string) (stem, ext string) {
	ext = extOf(name)
	return name[:len(name)-len(ext)], strings.ToLower(ext)
}

func extOf(name string) string {
	return path.Ext(name)
}
