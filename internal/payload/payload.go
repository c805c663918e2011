// Package payload defines the wire records exchanged through the durable
// store: the self-describing batch payload and the trigger that announces it.
package payload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TriggerSchemaVersion is written into every trigger.
const TriggerSchemaVersion = "1.0.0"

// ErrMalformed marks structurally invalid payloads and triggers.
var ErrMalformed = errors.New("malformed record")

// BatchPayload is one serialized bundle of files plus descriptive metadata.
// It is immutable once written.
type BatchPayload struct {
	Metadata Metadata             `json:"batch_metadata"`
	Files    map[string]FileEntry `json:"files"`
}

// Metadata describes a payload without its content.
type Metadata struct {
	Timestamp  time.Time     `json:"timestamp"`
	Source     string        `json:"source"`
	TotalFiles int           `json:"total_files"`
	Files      []FileSummary `json:"files"`
}

// FileSummary lists one file in the metadata block.
type FileSummary struct {
	Filename     string `json:"filename"`
	RelativePath string `json:"relative_path"`
	Size         int64  `json:"size"`
	Extension    string `json:"extension"`
}

// FileEntry carries one file's content, base64-encoded.
type FileEntry struct {
	Filename     string `json:"filename"`
	RelativePath string `json:"relative_path"`
	Size         int64  `json:"size"`
	Extension    string `json:"extension"`
	ContentType  string `json:"content_type"`
	Content      string `json:"content"`
}

// Bytes decodes the entry content.
func (e FileEntry) Bytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(e.Content)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.RelativePath, err)
	}
	return b, nil
}

// Trigger marks a payload as ready to unpack. Its absence after processing
// means the job is done.
type Trigger struct {
	RawPath       string    `json:"raw_path"`
	JobName       string    `json:"job_name"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion string    `json:"schema_version"`
}

// Add appends a file to the payload, keeping metadata in step.
func (p *BatchPayload) Add(rel string, content []byte) {
	if p.Files == nil {
		p.Files = make(map[string]FileEntry)
	}
	name := baseName(rel)
	ext := Extension(name)
	p.Files[rel] = FileEntry{
		Filename:     name,
		RelativePath: rel,
		Size:         int64(len(content)),
		Extension:    ext,
		ContentType:  ContentType(ext),
		Content:      base64.StdEncoding.EncodeToString(content),
	}
	p.Metadata.Files = append(p.Metadata.Files, FileSummary{
		Filename:     name,
		RelativePath: rel,
		Size:         int64(len(content)),
		Extension:    ext,
	})
	p.Metadata.TotalFiles = len(p.Files)
}

// Encode serializes the payload.
func Encode(p *BatchPayload) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Decode parses a payload and fails on structural problems instead of
// defaulting missing fields.
func Decode(data []byte) (*BatchPayload, error) {
	var raw struct {
		Metadata *Metadata            `json:"batch_metadata"`
		Files    map[string]FileEntry `json:"files"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	if raw.Metadata == nil {
		return nil, fmt.Errorf("%w: payload has no batch_metadata", ErrMalformed)
	}
	if raw.Files == nil {
		return nil, fmt.Errorf("%w: payload has no files", ErrMalformed)
	}
	if raw.Metadata.TotalFiles != len(raw.Files) {
		return nil, fmt.Errorf("%w: payload declares %d files, carries %d",
			ErrMalformed, raw.Metadata.TotalFiles, len(raw.Files))
	}
	for key, f := range raw.Files {
		if f.Content == "" && f.Size > 0 {
			return nil, fmt.Errorf("%w: entry %s has no content", ErrMalformed, key)
		}
		if f.RelativePath == "" {
			f.RelativePath = key
			raw.Files[key] = f
		}
	}
	return &BatchPayload{Metadata: *raw.Metadata, Files: raw.Files}, nil
}

// EncodeTrigger serializes a trigger.
func EncodeTrigger(t *Trigger) ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode trigger: %w", err)
	}
	return data, nil
}

// DecodeTrigger parses a trigger; raw_path and job_name are required.
func DecodeTrigger(data []byte) (*Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: trigger: %v", ErrMalformed, err)
	}
	if t.RawPath == "" {
		return nil, fmt.Errorf("%w: trigger has no raw_path", ErrMalformed)
	}
	if t.JobName == "" {
		return nil, fmt.Errorf("%w: trigger has no job_name", ErrMalformed)
	}
	return &t, nil
}
