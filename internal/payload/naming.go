package payload

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// JobName builds "<kind>_<YYYYMMDD_HHMMSS_micro>_<host>". The timestamp keeps
// lexical order equal to creation order; the host keeps concurrent producers apart.
func JobName(kind, host string, t time.Time) string {
	t = t.UTC()
	ts := fmt.Sprintf("%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/1000)
	name := kind + "_" + ts
	if h := sanitizeHost(host); h != "" {
		name += "_" + h
	}
	return name
}

func sanitizeHost(host string) string {
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// SanitizeRelPath normalizes separators and drops empty, "." and ".."
// components so a payload can never write outside its job directory.
// Returns "" when nothing remains.
func SanitizeRelPath(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	var parts []string
	for _, part := range strings.Split(rel, "/") {
		if part == "" || part == "." || part == ".." {
			continue
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "/")
}

// Extension returns the lower-cased extension including the dot.
func Extension(name string) string {
	return strings.ToLower(path.Ext(name))
}

func baseName(rel string) string {
	return path.Base(strings.ReplaceAll(rel, "\\", "/"))
}
